package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_EncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{StreamID: 42, Type: MsgRequestBody, Flags: FlagEndStream, Payload: []byte("hello body")}

	buf := f.Encode()
	require.Len(t, buf, HeaderSize+len("hello body"))

	decoded, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, f.StreamID, decoded.StreamID)
	assert.Equal(t, f.Type, decoded.Type)
	assert.Equal(t, f.Flags, decoded.Flags)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestFrame_EncodeDecodeRoundTrip_EmptyPayload(t *testing.T) {
	f := Frame{StreamID: 2, Type: MsgPing}

	decoded, err := DecodeFrame(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), decoded.StreamID)
	assert.Equal(t, MsgPing, decoded.Type)
	assert.Empty(t, decoded.Payload)
}

func TestDecodeFrame_TruncatedHeader(t *testing.T) {
	_, err := DecodeFrame([]byte{0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecodeFrame_TruncatedPayload(t *testing.T) {
	f := Frame{StreamID: 4, Type: MsgResponseBody, Payload: []byte("full payload")}
	buf := f.Encode()

	_, err := DecodeFrame(buf[:HeaderSize+4])
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecodeFrame_IgnoresTrailingBytes(t *testing.T) {
	f := Frame{StreamID: 6, Type: MsgStreamEnd, Payload: []byte("ab")}
	buf := append(f.Encode(), 0xDE, 0xAD, 0xBE, 0xEF)

	decoded, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), decoded.Payload)
}

func TestMsgType_String(t *testing.T) {
	assert.Equal(t, "REQUEST_HEADERS", MsgRequestHeaders.String())
	assert.Equal(t, "RESPONSE_BODY", MsgResponseBody.String())
	assert.Equal(t, "HEARTBEAT_ACK", MsgHeartbeatAck.String())
	assert.Equal(t, "MsgType(0xff)", MsgType(0xFF).String())
}

func TestFrameFlags_Has(t *testing.T) {
	f := FlagEndStream | FlagGzipCompressed
	assert.True(t, f.Has(FlagEndStream))
	assert.True(t, f.Has(FlagGzipCompressed))
	assert.False(t, FrameFlags(0).Has(FlagEndStream))
}

func TestStreamIDAllocator_SequentialEvenIDs(t *testing.T) {
	a := NewStreamIDAllocator()
	assert.Equal(t, uint32(2), a.Next())
	assert.Equal(t, uint32(4), a.Next())
	assert.Equal(t, uint32(6), a.Next())
}

func TestStreamIDAllocator_WrapsBeforeOverflow(t *testing.T) {
	a := &StreamIDAllocator{next: streamIDWrap - 2}
	assert.Equal(t, streamIDWrap-2, a.Next())
	// next is now streamIDWrap, which the wrap check resets to streamIDStart.
	assert.Equal(t, uint32(streamIDStart), a.Next())
}

// Package tunnel implements the WebSocket tunnel multiplexer (C7-C10):
// binary frame protocol, per-node connection pool, and an HTTP transport
// that proxies requests over it, grounded on original_source's
// services/proxy_node/tunnel_protocol.py, tunnel_manager.py and
// proxy_tunnel.py.
package tunnel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed binary frame header: stream_id(u32) | msg_type(u8)
// | flags(u8) | payload_len(u32), big-endian — the exact layout
// tunnel_protocol.py packs with struct.pack("!IBBI", ...).
const HeaderSize = 10

// MsgType is the closed set of tunnel frame message types.
type MsgType uint8

const (
	MsgRequestHeaders  MsgType = 0x01
	MsgRequestBody     MsgType = 0x02
	MsgResponseHeaders MsgType = 0x03
	MsgResponseBody    MsgType = 0x04
	MsgStreamEnd       MsgType = 0x05
	MsgStreamError     MsgType = 0x06
	MsgPing            MsgType = 0x10
	MsgPong            MsgType = 0x11
	MsgGoAway          MsgType = 0x12
	MsgHeartbeatData   MsgType = 0x13
	MsgHeartbeatAck    MsgType = 0x14
)

func (t MsgType) String() string {
	switch t {
	case MsgRequestHeaders:
		return "REQUEST_HEADERS"
	case MsgRequestBody:
		return "REQUEST_BODY"
	case MsgResponseHeaders:
		return "RESPONSE_HEADERS"
	case MsgResponseBody:
		return "RESPONSE_BODY"
	case MsgStreamEnd:
		return "STREAM_END"
	case MsgStreamError:
		return "STREAM_ERROR"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgGoAway:
		return "GOAWAY"
	case MsgHeartbeatData:
		return "HEARTBEAT_DATA"
	case MsgHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return fmt.Sprintf("MsgType(0x%02x)", uint8(t))
	}
}

// FrameFlags are bit flags carried in a frame header.
type FrameFlags uint8

const (
	FlagEndStream      FrameFlags = 0x01
	FlagGzipCompressed FrameFlags = 0x02
)

func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag != 0 }

var ErrFrameTooShort = errors.New("tunnel: frame shorter than header size")

// Frame is one decoded tunnel protocol frame.
type Frame struct {
	StreamID uint32
	Type     MsgType
	Flags    FrameFlags
	Payload  []byte
}

// Encode serializes f into the wire layout: 10-byte header followed by the
// payload, matching tunnel_protocol.py's Frame.encode byte-for-byte.
func (f Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.StreamID)
	buf[4] = byte(f.Type)
	buf[5] = byte(f.Flags)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// DecodeFrame parses one frame from buf, which must contain at least a full
// header plus its declared payload length. Extra trailing bytes are ignored
// (the caller is expected to have already sliced exactly one frame).
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	streamID := binary.BigEndian.Uint32(buf[0:4])
	msgType := MsgType(buf[4])
	flags := FrameFlags(buf[5])
	payloadLen := binary.BigEndian.Uint32(buf[6:10])
	if uint32(len(buf)-HeaderSize) < payloadLen {
		return Frame{}, ErrFrameTooShort
	}
	payload := buf[HeaderSize : HeaderSize+int(payloadLen)]
	return Frame{StreamID: streamID, Type: msgType, Flags: flags, Payload: payload}, nil
}

// streamIDStart and streamIDWrap mirror tunnel_manager.py's even-only stream
// ID allocator: client-initiated streams start at 2 (0 and 1 are reserved
// for control-plane use) and wrap before overflowing uint32.
const (
	streamIDStart = 2
	streamIDWrap  = 0xFFFFFFFE
)

// StreamIDAllocator hands out even stream IDs per connection, wrapping
// safely back to streamIDStart before it would overflow.
type StreamIDAllocator struct {
	next uint32
}

func NewStreamIDAllocator() *StreamIDAllocator {
	return &StreamIDAllocator{next: streamIDStart}
}

func (a *StreamIDAllocator) Next() uint32 {
	id := a.next
	a.next += 2
	if a.next >= streamIDWrap {
		a.next = streamIDStart
	}
	return id
}

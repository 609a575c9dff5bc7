package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	minMaxStreams     = 64
	maxMaxStreams     = 2048
	defaultMaxStreams = 256

	// idleTimeout and pingInterval match the WS endpoint's control knobs
	// (spec §6.1): the server closes a connection with no frames in
	// idleTimeout, and proactively pings every pingInterval to keep NATs and
	// load balancers from reaping it first.
	idleTimeout  = 90 * time.Second
	pingInterval = 15 * time.Second

	// maxFrameSize is the single-frame payload cap (spec §4.6); a connection
	// that repeatedly exceeds it is closed rather than merely dropping the
	// offending frames forever.
	maxFrameSize = 64 * 1024 * 1024

	// oversizedFrameBudget lets a connection send at most this many oversized
	// frames per oversizedFrameWindow before it is treated as abusive and
	// closed with CloseTooManyOversized — a rate limit rather than a hard
	// one-strike rule, since a single client-side retry with a larger batch
	// shouldn't take the whole node's connection down.
	oversizedFrameBudget = 3
	oversizedFrameWindow = time.Minute
)

// closeCode is a WebSocket close status used on the proxy-tunnel endpoint
// (spec §6.1).
type closeCode int

const (
	CloseUnauthorized     closeCode = 4001
	CloseAuthTimeout      closeCode = 4002
	CloseTooManyOversized closeCode = 4003
	CloseIdleTimeout      closeCode = 4004
)

// clampMaxStreams enforces the [64, 2048] bound original_source's
// tunnel_manager.py applies to an operator-configured max_streams value.
func clampMaxStreams(v int) int {
	if v <= 0 {
		return defaultMaxStreams
	}
	if v < minMaxStreams {
		return minMaxStreams
	}
	if v > maxMaxStreams {
		return maxMaxStreams
	}
	return v
}

// StreamState tracks one in-flight HTTP exchange multiplexed over a tunnel
// connection. HeadersReceived distinguishes a pre-header failure (no
// RESPONSE_HEADERS frame ever arrived — treat as a connection-level error)
// from a post-header failure (the response started successfully and failed
// mid-body — a partial response must still be handled as one, per
// original_source's distinction between the two failure points).
type StreamState struct {
	ID               uint32
	HeadersReceived  bool
	StatusCode       int
	ResponseHeaders  map[string][]string
	Body             chan []byte
	Err              chan error
	done             chan struct{}
	closeOnce        sync.Once
}

func newStreamState(id uint32) *StreamState {
	return &StreamState{
		ID:   id,
		Body: make(chan []byte, 8),
		Err:  make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (s *StreamState) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.Body)
	})
}

// Connection is one multiplexed WebSocket connection to a proxy node.
// Grounded on original_source's proxy_tunnel.py TunnelConnection: a single
// writer mutex serializes frame writes (gorilla/websocket connections are
// not safe for concurrent writers), a read pump demultiplexes incoming
// frames by stream ID, and a stream-ID allocator hands out IDs for new
// requests.
type Connection struct {
	NodeID string
	ws     *websocket.Conn

	writeMu sync.Mutex
	ids     *StreamIDAllocator

	mu      sync.Mutex
	streams map[uint32]*StreamState
	load    int // count of currently-open streams, for least-loaded selection

	maxStreams int
	lastActive time.Time

	oversizedLimiter *rate.Limiter

	closed   chan struct{}
	closeErr error
}

func NewConnection(nodeID string, ws *websocket.Conn, maxStreams int) *Connection {
	c := &Connection{
		NodeID:           nodeID,
		ws:               ws,
		ids:              NewStreamIDAllocator(),
		streams:          make(map[uint32]*StreamState),
		maxStreams:       clampMaxStreams(maxStreams),
		lastActive:       time.Now(),
		oversizedLimiter: rate.NewLimiter(rate.Every(oversizedFrameWindow/oversizedFrameBudget), oversizedFrameBudget),
		closed:           make(chan struct{}),
	}
	return c
}

// Load reports the number of currently open streams, used by Manager's
// least-loaded connection selection.
func (c *Connection) Load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load
}

func (c *Connection) HasCapacity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load < c.maxStreams
}

// writeFrame serializes one frame write under the connection's write mutex.
func (c *Connection) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, f.Encode())
}

// AllocStreamID returns the next unused even stream id for this connection
// (spec §4.5/§8 "Stream id allocation"): ids are handed out in order
// starting at 2, but an id still occupied by an in-flight stream (possible
// once the allocator has wrapped past 0xFFFFFFFE) is skipped. Returns an
// error only if a full lap of the id space finds nothing free.
func (c *Connection) AllocStreamID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.ids.next
	for {
		id := c.ids.Next()
		if _, used := c.streams[id]; !used {
			return id, nil
		}
		if c.ids.next == start {
			return 0, fmt.Errorf("tunnel: stream id space exhausted on connection to node %s", c.NodeID)
		}
	}
}

// OpenStream allocates a stream ID and registers its state, then sends
// REQUEST_HEADERS with headerPayload as the frame body.
func (c *Connection) OpenStream(headerPayload []byte) (*StreamState, error) {
	c.mu.Lock()
	if c.load >= c.maxStreams {
		c.mu.Unlock()
		return nil, fmt.Errorf("tunnel: connection to node %s at capacity (%d streams)", c.NodeID, c.maxStreams)
	}
	c.mu.Unlock()

	id, err := c.AllocStreamID()
	if err != nil {
		return nil, err
	}
	state := newStreamState(id)

	c.mu.Lock()
	c.streams[id] = state
	c.load++
	c.mu.Unlock()

	if err := c.writeFrame(Frame{StreamID: id, Type: MsgRequestHeaders, Payload: headerPayload}); err != nil {
		c.releaseStream(id)
		return nil, err
	}
	return state, nil
}

func (c *Connection) SendBody(streamID uint32, chunk []byte, endStream bool) error {
	var flags FrameFlags
	if endStream {
		flags = FlagEndStream
	}
	return c.writeFrame(Frame{StreamID: streamID, Type: MsgRequestBody, Flags: flags, Payload: chunk})
}

func (c *Connection) SendStreamEnd(streamID uint32) error {
	return c.writeFrame(Frame{StreamID: streamID, Type: MsgStreamEnd})
}

func (c *Connection) releaseStream(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[id]; ok {
		s.close()
		delete(c.streams, id)
		c.load--
	}
}

// closeWithCode sends a WebSocket close frame carrying code and reason, then
// tears the connection down locally. Best-effort: a write failure here just
// means the peer beat us to closing the socket.
func (c *Connection) closeWithCode(code closeCode, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason),
		time.Now().Add(2*time.Second))
	c.shutdown(fmt.Errorf("tunnel: %s (close %d)", reason, code))
}

// ReadPump runs the demultiplexing read loop until the connection closes.
// Must run in its own goroutine for the lifetime of the connection. Enforces
// the idle-read timeout and the oversized-frame close (spec §4.6, close
// codes 4003/4004).
func (c *Connection) ReadPump(ctx context.Context, onHeartbeat func()) {
	defer c.shutdown(nil)
	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx.Err())
			return
		default:
		}

		c.ws.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.closeWithCode(CloseIdleTimeout, "idle timeout")
				return
			}
			c.shutdown(err)
			return
		}
		c.lastActive = time.Now()

		if len(raw) > maxFrameSize {
			if !c.oversizedLimiter.Allow() {
				c.closeWithCode(CloseTooManyOversized, "too many oversized frames")
				return
			}
			continue
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			continue
		}
		c.dispatch(frame, onHeartbeat)
	}
}

func (c *Connection) dispatch(f Frame, onHeartbeat func()) {
	switch f.Type {
	case MsgHeartbeatData:
		if onHeartbeat != nil {
			onHeartbeat()
		}
		_ = c.writeFrame(Frame{StreamID: f.StreamID, Type: MsgHeartbeatAck})
		return
	case MsgPing:
		_ = c.writeFrame(Frame{StreamID: f.StreamID, Type: MsgPong})
		return
	case MsgGoAway:
		c.shutdown(fmt.Errorf("tunnel: node %s sent GOAWAY", c.NodeID))
		return
	}

	c.mu.Lock()
	state, ok := c.streams[f.StreamID]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch f.Type {
	case MsgResponseHeaders:
		state.HeadersReceived = true
		select {
		case <-state.done:
		default:
			state.Body <- f.Payload // headers payload carried as first logical frame for simplicity of the channel contract
		}
	case MsgResponseBody:
		select {
		case state.Body <- f.Payload:
		case <-state.done:
		}
		if f.Flags.Has(FlagEndStream) {
			c.releaseStream(f.StreamID)
		}
	case MsgStreamEnd:
		c.releaseStream(f.StreamID)
	case MsgStreamError:
		select {
		case state.Err <- fmt.Errorf("tunnel: stream %d error: %s", f.StreamID, string(f.Payload)):
		default:
		}
		c.releaseStream(f.StreamID)
	}
}

func (c *Connection) shutdown(err error) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return
	default:
	}
	c.closeErr = err
	for id, s := range c.streams {
		select {
		case s.Err <- fmt.Errorf("tunnel: connection to node %s closed: %w", c.NodeID, err):
		default:
		}
		s.close()
		delete(c.streams, id)
	}
	close(c.closed)
	c.mu.Unlock()
	c.ws.Close()
}

func (c *Connection) Closed() <-chan struct{} { return c.closed }

func (c *Connection) IdleFor() time.Duration { return time.Since(c.lastActive) }

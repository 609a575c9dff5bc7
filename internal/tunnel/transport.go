package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// hopByHopHeaders are stripped before forwarding a request/response across
// the tunnel, the standard RFC 7230 §6.1 set plus Content-Length, since the
// tunnel re-frames the body itself. Content-Encoding is forwarded unchanged.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
}

func filterHopByHop(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

type requestHeaderFrame struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Headers http.Header `json:"headers"`
}

type responseHeaderFrame struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
}

// bodyReadTimeout bounds how long Transport waits for the next body chunk
// before giving up on a stalled upstream.
const bodyReadTimeout = 30 * time.Second

// Transport implements http.RoundTripper by proxying requests over a tunnel
// Manager's pooled connections instead of dialing the origin directly
// (C10), grounded on original_source's proxy_tunnel.py request/response
// framing.
type Transport struct {
	manager *Manager
}

func NewTransport(manager *Manager) *Transport {
	return &Transport{manager: manager}
}

// RoundTrip expects req.Context() to carry the target node ID; callers
// attach it via WithNodeID. A request with no node ID is not a tunnel
// candidate, so RoundTrip rejects it rather than guessing.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	nodeID, ok := nodeIDFromContext(req.Context())
	if !ok {
		return nil, fmt.Errorf("tunnel: request has no target node ID")
	}

	conn, err := t.manager.LeastLoaded(nodeID)
	if err != nil {
		return nil, err
	}

	headerFrame := requestHeaderFrame{
		Method:  req.Method,
		Path:    req.URL.RequestURI(),
		Headers: filterHopByHop(req.Header),
	}
	headerPayload, err := json.Marshal(headerFrame)
	if err != nil {
		return nil, err
	}

	state, err := conn.OpenStream(headerPayload)
	if err != nil {
		return nil, err
	}

	if err := t.streamRequestBody(conn, state.ID, req); err != nil {
		return nil, err
	}

	return t.awaitResponse(req.Context(), state)
}

func (t *Transport) streamRequestBody(conn *Connection, streamID uint32, req *http.Request) error {
	if req.Body == nil {
		return conn.SendStreamEnd(streamID)
	}
	defer req.Body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := req.Body.Read(buf)
		if n > 0 {
			if werr := conn.SendBody(streamID, append([]byte(nil), buf[:n]...), false); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return conn.SendStreamEnd(streamID)
		}
		if err != nil {
			return err
		}
	}
}

func (t *Transport) awaitResponse(ctx context.Context, state *StreamState) (*http.Response, error) {
	var headerFrame responseHeaderFrame
	var headerPayload []byte

	select {
	case headerPayload = <-state.Body:
	case err := <-state.Err:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(bodyReadTimeout):
		return nil, fmt.Errorf("tunnel: timed out waiting for response headers")
	}
	if !state.HeadersReceived {
		return nil, fmt.Errorf("tunnel: stream closed before response headers arrived")
	}
	if err := json.Unmarshal(headerPayload, &headerFrame); err != nil {
		return nil, fmt.Errorf("tunnel: malformed response headers: %w", err)
	}

	pr, pw := io.Pipe()
	go t.pumpResponseBody(ctx, state, pw)

	resp := &http.Response{
		StatusCode: headerFrame.Status,
		Status:     strconv.Itoa(headerFrame.Status),
		Header:     headerFrame.Headers,
		Body:       pr,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	return resp, nil
}

func (t *Transport) pumpResponseBody(ctx context.Context, state *StreamState, pw *io.PipeWriter) {
	for {
		select {
		case chunk, ok := <-state.Body:
			if !ok {
				pw.Close()
				return
			}
			if _, err := pw.Write(chunk); err != nil {
				pw.CloseWithError(err)
				return
			}
		case err := <-state.Err:
			pw.CloseWithError(err)
			return
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return
		case <-time.After(bodyReadTimeout):
			pw.CloseWithError(fmt.Errorf("tunnel: timed out waiting for response body chunk"))
			return
		}
	}
}

// RoutingTransport dispatches a request to the tunnel when its context
// carries a node ID (via WithNodeID) and to direct otherwise, so a single
// http.Client can serve both tunneled and directly-reachable candidates.
type RoutingTransport struct {
	Tunnel *Transport
	Direct http.RoundTripper
}

func NewRoutingTransport(manager *Manager) *RoutingTransport {
	return &RoutingTransport{Tunnel: NewTransport(manager), Direct: http.DefaultTransport}
}

func (t *RoutingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := nodeIDFromContext(req.Context()); ok {
		return t.Tunnel.RoundTrip(req)
	}
	direct := t.Direct
	if direct == nil {
		direct = http.DefaultTransport
	}
	return direct.RoundTrip(req)
}

type nodeIDKey struct{}

func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, nodeID)
}

func nodeIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(nodeIDKey{}).(string)
	return v, ok
}

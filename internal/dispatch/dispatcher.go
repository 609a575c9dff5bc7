package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nullform/llmgateway/internal/convert"
	"github.com/nullform/llmgateway/internal/ir"
	"github.com/nullform/llmgateway/internal/normalize"
	"github.com/nullform/llmgateway/internal/streambridge"
)

// ClientDisconnectStatus is the status the dispatcher reports to callers
// when the client connection drops mid-response (spec §7), analogous to
// nginx's convention for the same condition.
const ClientDisconnectStatus = 499

// Dispatcher drives one client request against an ordered candidate list,
// converting between the client's format and each candidate's format
// through the conversion registry, and retrying on retryable failures
// (spec §4.2 "Dispatcher", C6). Grounded on the teacher's
// internal/handlers/proxy.go ServeHTTP/handleStreamingResponse/handleResponse,
// generalized from "one hardcoded Anthropic-to-provider transform" to
// "convert through the registry for any client/candidate format pair".
type Dispatcher struct {
	resolver Resolver
	scheduler Scheduler
	envelope ProviderEnvelope
	auth     Auth
	registry *convert.Registry
	client   *http.Client
	logger   *slog.Logger
	policy   StreamPolicy

	ttfbTimeout time.Duration
}

func NewDispatcher(resolver Resolver, scheduler Scheduler, envelope ProviderEnvelope, auth Auth, registry *convert.Registry, client *http.Client, logger *slog.Logger, policy StreamPolicy) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{
		resolver: resolver, scheduler: scheduler, envelope: envelope, auth: auth,
		registry: registry, client: client, logger: logger, policy: policy,
		ttfbTimeout: DefaultTTFBTimeout,
	}
}

// SetTTFBTimeout overrides the default connect+first-byte deadline for
// streaming attempts (spec §9's per-endpoint stream_first_byte_timeout
// config key). A non-positive value disables the guard.
func (d *Dispatcher) SetTTFBTimeout(timeout time.Duration) { d.ttfbTimeout = timeout }

// RenderError renders a failed Dispatch call's error in clientFormat's own
// error shape, so a client requesting Gemini format sees a Gemini-shaped
// error body even when the failing candidate spoke OpenAI. Falls back to a
// generic envelope in clientFormat when err carries no upstream body to
// convert (e.g. a connection failure) or the conversion itself fails.
func (d *Dispatcher) RenderError(err error, clientFormat string) (statusCode int, body []byte) {
	var ae *AttemptError
	if !asAttemptError(err, &ae) {
		return http.StatusBadGateway, d.genericErrorBody(err)
	}
	statusCode = ae.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}

	var native normalize.Chunk
	if len(ae.UpstreamBody) == 0 || json.Unmarshal(ae.UpstreamBody, &native) != nil {
		return statusCode, d.genericErrorBody(err)
	}
	if !d.registry.CanConvertError(ae.Format, clientFormat) {
		return statusCode, d.genericErrorBody(err)
	}
	converted, convErr := d.registry.ConvertErrorResponse(native, ae.Format, clientFormat)
	if convErr != nil {
		return statusCode, d.genericErrorBody(err)
	}
	out, marshalErr := json.Marshal(converted)
	if marshalErr != nil {
		return statusCode, d.genericErrorBody(err)
	}
	return statusCode, out
}

func (d *Dispatcher) genericErrorBody(err error) []byte {
	out, marshalErr := json.Marshal(map[string]any{"error": map[string]string{"message": err.Error()}})
	if marshalErr != nil {
		return []byte(`{"error":{"message":"dispatch: internal error"}}`)
	}
	return out
}

// Result is what one successful Dispatch call produces for the caller to
// write to the client: a fully rendered body plus the status/headers to use,
// or a channel of rendered SSE frames when the client gets a stream.
type Result struct {
	StatusCode int
	Body       []byte
	Stream     <-chan []byte
	Format     string
}

// Dispatch resolves candidates for requestedModel, converts the client body
// from clientFormat into each candidate's format in turn, and returns the
// first success — retrying only on retryable upstream errors (spec §3.1's
// ErrorType.Retryable).
func (d *Dispatcher) Dispatch(ctx context.Context, clientFormat, requestedModel string, clientBody normalize.Chunk, clientWantsStream bool) (*Result, error) {
	candidates, err := d.resolver.ResolveCandidates(ctx, requestedModel)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve candidates: %w", err)
	}
	candidates = d.scheduler.Order(candidates)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("dispatch: no candidates available for model %q", requestedModel)
	}

	var lastErr error
	for _, c := range candidates {
		result, err := d.attempt(ctx, c, clientFormat, requestedModel, clientBody, clientWantsStream)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		d.logger.Warn("dispatch attempt failed, trying next candidate", "candidate", c.Name, "error", err)
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var ae *AttemptError
	if !asAttemptError(err, &ae) {
		return false
	}
	switch ae.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func asAttemptError(err error, target **AttemptError) bool {
	for err != nil {
		if ae, ok := err.(*AttemptError); ok {
			*target = ae
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (d *Dispatcher) attempt(ctx context.Context, c Candidate, clientFormat, requestedModel string, clientBody normalize.Chunk, clientWantsStream bool) (*Result, error) {
	upstreamStream := ResolveUpstreamStream(clientWantsStream, d.policy)

	var upstreamBody normalize.Chunk
	var err error
	if c.CodexCLI {
		upstreamBody, err = d.registry.ConvertRequestWithRenderer(clientBody, clientFormat, normalize.NewCodexNormalizer())
	} else {
		upstreamBody, err = d.registry.ConvertRequest(clientBody, clientFormat, c.Format)
	}
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, fmt.Errorf("%w: %v", ErrConversion, err), nil)
	}

	payload, err := json.Marshal(upstreamBody)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}
	payload, err = RewriteStreamField(payload, c.Format, upstreamStream)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, fmt.Errorf("dispatch: rewrite stream field: %w", err), nil)
	}

	req, err := d.envelope.BuildRequest(ctx, c, requestedModel, payload, upstreamStream)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}
	if err := d.auth.Apply(req, c); err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewAttemptError(c.Name, c.Format, ClientDisconnectStatus, ErrClientDisconnect, nil)
		}
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}

	if resp.StatusCode == http.StatusUnauthorized && d.auth.SupportsRefresh(c) {
		resp.Body.Close()
		if refreshErr := d.auth.ForceRefresh(ctx, c); refreshErr == nil {
			req, err = d.envelope.BuildRequest(ctx, c, requestedModel, payload, upstreamStream)
			if err == nil {
				if authErr := d.auth.Apply(req, c); authErr == nil {
					resp, err = d.client.Do(req)
				}
			}
			if err != nil {
				return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
			}
		}
	}
	streamHandedOff := false
	defer func() {
		if !streamHandedOff {
			resp.Body.Close()
		}
	}()

	var rawBody io.Reader = resp.Body
	if upstreamStream {
		// Guard only the time-to-first-byte; decompressBody's gzip header
		// read would otherwise block past the deadline undetected.
		rawBody = newTTFBReader(rawBody, d.ttfbTimeout)
	}
	bodyReader, err := decompressBody(rawBody, resp.Header.Get("Content-Encoding"))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewAttemptError(c.Name, c.Format, http.StatusGatewayTimeout, fmt.Errorf("%w: %v", ErrTimeout, err), nil)
		}
		return nil, NewAttemptError(c.Name, c.Format, resp.StatusCode, err, nil)
	}

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(bodyReader)
		return nil, NewAttemptError(c.Name, c.Format, resp.StatusCode, ErrHTTPStatus, raw)
	}

	if upstreamStream {
		result, err := d.handleStream(ctx, c, clientFormat, requestedModel, bodyReader, clientWantsStream)
		if err == nil && result.Stream != nil {
			// pumpStream keeps reading the body after this returns; close it
			// once the stream channel has been drained.
			streamHandedOff = true
			in, out := result.Stream, make(chan []byte)
			go func() {
				defer resp.Body.Close()
				defer close(out)
				for b := range in {
					select {
					case out <- b:
					case <-ctx.Done():
						return
					}
				}
			}()
			result.Stream = out
		}
		return result, err
	}
	return d.handleSync(ctx, c, clientFormat, requestedModel, bodyReader, clientWantsStream)
}

func (d *Dispatcher) handleSync(ctx context.Context, c Candidate, clientFormat, requestedModel string, bodyReader io.Reader, clientWantsStream bool) (*Result, error) {
	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}

	var native normalize.Chunk
	if err := json.Unmarshal(raw, &native); err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, fmt.Errorf("dispatch: malformed upstream body: %w", err), raw)
	}

	candNormalizer, err := d.registry.GetNormalizer(c.Format)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, raw)
	}
	// Embedded-error-in-200: some providers report failures inside a 200 body.
	if candNormalizer.IsErrorResponse(native) {
		return nil, NewAttemptError(c.Name, c.Format, http.StatusOK, ErrEmbeddedError, raw)
	}

	if !d.registry.CanConvertResponse(c.Format, clientFormat) {
		return nil, NewAttemptError(c.Name, c.Format, 0, fmt.Errorf("%w: no response conversion from %s to %s", ErrConversion, c.Format, clientFormat), raw)
	}
	converted, err := d.registry.ConvertResponse(native, c.Format, clientFormat, requestedModel)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, fmt.Errorf("%w: %v", ErrConversion, err), raw)
	}

	if !clientWantsStream {
		out, _ := json.Marshal(converted)
		return &Result{StatusCode: http.StatusOK, Body: out, Format: clientFormat}, nil
	}

	// Client wants a stream but we dispatched non-streaming: expand.
	clientNormalizer, err := d.registry.GetNormalizer(clientFormat)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, raw)
	}
	internalResp, err := candNormalizer.ResponseToInternal(native)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, raw)
	}
	events := streambridge.Expand(internalResp, streambridge.ExpandOptions{})
	state := ir.NewStreamState(internalResp.ID, requestedModel)

	ch := make(chan []byte, len(events)+1)
	for _, ev := range events {
		rendered, err := clientNormalizer.StreamEventFromInternal(ev, state)
		if err != nil {
			continue
		}
		for _, chunk := range rendered {
			ch <- clientNormalizer.FormatSSE(chunk)
		}
	}
	if c.Format != clientFormat && emitsDoneSentinel(clientFormat) {
		ch <- []byte("data: [DONE]\n\n")
	}
	close(ch)
	return &Result{StatusCode: http.StatusOK, Stream: ch, Format: clientFormat}, nil
}

func (d *Dispatcher) handleStream(ctx context.Context, c Candidate, clientFormat, requestedModel string, bodyReader io.Reader, clientWantsStream bool) (*Result, error) {
	clientNormalizer, err := d.registry.GetNormalizer(clientFormat)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}
	candNormalizer, err := d.registry.GetNormalizer(c.Format)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}

	// Prefetch: some providers answer a streaming request with a single JSON
	// error object instead of an event-stream body. An SSE record always
	// starts with "event: ", "data: ", or ": " (a comment); a bare "{" is the
	// signal to treat the whole body as a synchronous embedded error instead
	// (spec §4.4 step 11's "prefetch a small prefix... detect embedded error").
	bufReader := bufio.NewReader(bodyReader)
	first, peekErr := bufReader.Peek(1)
	if errors.Is(peekErr, context.DeadlineExceeded) {
		return nil, NewAttemptError(c.Name, c.Format, http.StatusGatewayTimeout, fmt.Errorf("%w: %v", ErrTimeout, peekErr), nil)
	}
	if peekErr == nil && len(first) == 1 && first[0] == '{' {
		raw, _ := io.ReadAll(bufReader)
		var native normalize.Chunk
		if json.Unmarshal(raw, &native) == nil && candNormalizer.IsErrorResponse(native) {
			return nil, NewAttemptError(c.Name, c.Format, http.StatusOK, ErrEmbeddedError, raw)
		}
		// Not a recognized error shape; treat the whole buffered body as a
		// single synthetic SSE data line so the rest of the pipeline doesn't
		// special-case this path.
		bodyReader = io.MultiReader(strings.NewReader("data: "+string(raw)+"\n\n"), strings.NewReader(""))
	} else {
		bodyReader = bufReader
	}

	state := ir.NewStreamState("", requestedModel)
	reader := NewSSEReader(bodyReader)

	if clientWantsStream {
		ch := make(chan []byte, 16)
		go d.pumpStream(ctx, reader, candNormalizer, clientNormalizer, clientFormat, state, ch)
		return &Result{StatusCode: http.StatusOK, Stream: ch, Format: clientFormat}, nil
	}

	// Client wants a single response but we dispatched streaming: aggregate.
	agg := streambridge.NewAggregator()
	for {
		line, err := reader.Next(ctx)
		if err == io.EOF || line.Done {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewAttemptError(c.Name, c.Format, ClientDisconnectStatus, ErrClientDisconnect, nil)
			}
			return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
		}
		if line.Blank || line.Data == "" {
			continue
		}
		var chunk normalize.Chunk
		if err := json.Unmarshal([]byte(line.Data), &chunk); err != nil {
			continue
		}
		events, err := candNormalizer.StreamChunkToInternal(chunk, state)
		if err != nil {
			continue
		}
		for _, ev := range events {
			agg.Feed(ev)
		}
	}
	resp := agg.Build()
	rendered, err := clientNormalizer.ResponseFromInternal(resp, requestedModel)
	if err != nil {
		return nil, NewAttemptError(c.Name, c.Format, 0, err, nil)
	}
	out, _ := json.Marshal(rendered)
	return &Result{StatusCode: http.StatusOK, Body: out, Format: clientFormat}, nil
}

// emitsDoneSentinel reports whether clientFormat expects the literal
// "data: [DONE]\n\n" terminator OpenAI Chat clients rely on (spec scenario 6);
// Claude and Gemini clients simply see the connection close.
func emitsDoneSentinel(clientFormat string) bool {
	return clientFormat == normalize.FormatOpenAIChat
}

func (d *Dispatcher) pumpStream(ctx context.Context, reader *SSEReader, candNormalizer, clientNormalizer normalize.Normalizer, clientFormat string, state *ir.StreamState, out chan<- []byte) {
	defer close(out)
	for {
		line, err := reader.Next(ctx)
		if err != nil {
			if err != io.EOF {
				d.logger.Warn("stream read error", "error", err)
			} else if candNormalizer.FormatID() != clientFormat && emitsDoneSentinel(clientFormat) {
				// A converted upstream (Claude, Gemini, ...) never sends its own [DONE].
				out <- []byte("data: [DONE]\n\n")
			}
			return
		}
		if line.Done {
			if emitsDoneSentinel(clientFormat) {
				out <- []byte("data: [DONE]\n\n")
			}
			return
		}
		if line.Blank || line.Data == "" {
			continue
		}
		var chunk normalize.Chunk
		if err := json.Unmarshal([]byte(line.Data), &chunk); err != nil {
			continue
		}
		events, err := candNormalizer.StreamChunkToInternal(chunk, state)
		if err != nil {
			d.logger.Warn("stream chunk conversion error", "error", err)
			continue
		}
		for _, ev := range events {
			rendered, err := clientNormalizer.StreamEventFromInternal(ev, state)
			if err != nil {
				continue
			}
			for _, c := range rendered {
				select {
				case out <- clientNormalizer.FormatSSE(c):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

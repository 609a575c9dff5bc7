package convert

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nullform/llmgateway/internal/ir"
	"github.com/nullform/llmgateway/internal/normalize"
)

// Registry is the hub that looks up a Normalizer by format ID and drives
// request/response/stream/error conversion through the internal
// representation, grounded on original_source's
// conversion/registry.py:FormatConversionRegistry.
type Registry struct {
	mu         sync.RWMutex
	normalizers map[string]normalize.Normalizer
	metrics     *Metrics
}

func NewRegistry() *Registry {
	return &Registry{
		normalizers: make(map[string]normalize.Normalizer),
		metrics:     NewMetrics(),
	}
}

// Metrics exposes the registry's conversion counters for a health/metrics
// surface to report.
func (r *Registry) Metrics() *Metrics { return r.metrics }

func (r *Registry) Register(n normalize.Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.FormatID()] = n
}

// RegisterDefaultNormalizers wires every built-in format. Safe to call more
// than once; subsequent calls are no-ops once all six are present, mirroring
// the teacher's double-checked-locking init pattern in registry.py.
func (r *Registry) RegisterDefaultNormalizers() {
	r.mu.RLock()
	complete := len(r.normalizers) >= 6
	r.mu.RUnlock()
	if complete {
		return
	}

	r.Register(normalize.NewClaudeNormalizer())
	r.Register(normalize.NewClaudeCLINormalizer())
	r.Register(normalize.NewOpenAINormalizer())
	r.Register(normalize.NewOpenAICLINormalizer())
	r.Register(normalize.NewGeminiNormalizer())
	r.Register(normalize.NewGeminiCLINormalizer())
}

func (r *Registry) HasNormalizer(formatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.normalizers[formatID]
	return ok
}

func (r *Registry) GetNormalizer(formatID string) (normalize.Normalizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[formatID]
	if !ok {
		return nil, fmt.Errorf("convert: no normalizer registered for format %q", formatID)
	}
	return n, nil
}

func (r *Registry) SupportsStream(formatID string) bool {
	n, err := r.GetNormalizer(formatID)
	if err != nil {
		return false
	}
	return n.Capabilities().SupportsStream
}

func (r *Registry) CanConvertRequest(from, to string) bool {
	return r.HasNormalizer(from) && r.HasNormalizer(to)
}

func (r *Registry) CanConvertResponse(from, to string) bool {
	return r.HasNormalizer(from) && r.HasNormalizer(to)
}

func (r *Registry) CanConvertStream(from, to string) bool {
	return r.SupportsStream(from) && r.SupportsStream(to)
}

func (r *Registry) CanConvertError(from, to string) bool {
	fromN, err1 := r.GetNormalizer(from)
	toN, err2 := r.GetNormalizer(to)
	if err1 != nil || err2 != nil {
		return false
	}
	return fromN.Capabilities().SupportsErrorConversion && toN.Capabilities().SupportsErrorConversion
}

// ConvertRequestWithRenderer converts like ConvertRequest but renders through
// a caller-supplied normalizer instead of the one registered under to's
// format ID. This is the seam a candidate-specific request quirk (e.g. the
// Codex CLI's fixed stream/store/reasoning shape, which shares openai:cli's
// wire format but isn't a distinct entry in the closed format set) hooks
// into without forcing a second registry slot for what is otherwise the same
// format.
func (r *Registry) ConvertRequestWithRenderer(body normalize.Chunk, from string, renderer normalize.Normalizer) (normalize.Chunk, error) {
	to := renderer.FormatID()
	defer r.metrics.Track("request", from, to)()

	fromN, err := r.GetNormalizer(from)
	if err != nil {
		return nil, err
	}
	internalReq, err := fromN.RequestToInternal(body)
	if err != nil {
		return nil, fmt.Errorf("convert: %s request to internal: %w", from, err)
	}
	out, err := renderer.RequestFromInternal(internalReq, to)
	if err != nil {
		return nil, fmt.Errorf("convert: internal to %s request: %w", to, err)
	}
	return out, nil
}

// ConvertRequest converts a wire-format request body from one format to
// another, passing through unmodified when both formats share a data family.
func (r *Registry) ConvertRequest(body normalize.Chunk, from, to string) (normalize.Chunk, error) {
	defer r.metrics.Track("request", from, to)()

	if normalize.DataFamily(from) == normalize.DataFamily(to) {
		return body, nil
	}
	fromN, err := r.GetNormalizer(from)
	if err != nil {
		return nil, err
	}
	toN, err := r.GetNormalizer(to)
	if err != nil {
		return nil, err
	}
	internalReq, err := fromN.RequestToInternal(body)
	if err != nil {
		return nil, fmt.Errorf("convert: %s request to internal: %w", from, err)
	}
	RepairInternalToolCallIDs(internalReq)
	out, err := toN.RequestFromInternal(internalReq, to)
	if err != nil {
		return nil, fmt.Errorf("convert: internal to %s request: %w", to, err)
	}
	return out, nil
}

// ConvertResponse converts a non-streaming response body.
func (r *Registry) ConvertResponse(body normalize.Chunk, from, to, requestedModel string) (normalize.Chunk, error) {
	defer r.metrics.Track("response", from, to)()

	if normalize.DataFamily(from) == normalize.DataFamily(to) {
		return body, nil
	}
	fromN, err := r.GetNormalizer(from)
	if err != nil {
		return nil, err
	}
	toN, err := r.GetNormalizer(to)
	if err != nil {
		return nil, err
	}
	internalResp, err := fromN.ResponseToInternal(body)
	if err != nil {
		return nil, fmt.Errorf("convert: %s response to internal: %w", from, err)
	}
	out, err := toN.ResponseFromInternal(internalResp, requestedModel)
	if err != nil {
		return nil, fmt.Errorf("convert: internal to %s response: %w", to, err)
	}
	return out, nil
}

func (r *Registry) ConvertErrorResponse(body normalize.Chunk, from, to string) (normalize.Chunk, error) {
	defer r.metrics.Track("error", from, to)()

	if normalize.DataFamily(from) == normalize.DataFamily(to) {
		return body, nil
	}
	fromN, err := r.GetNormalizer(from)
	if err != nil {
		return nil, err
	}
	toN, err := r.GetNormalizer(to)
	if err != nil {
		return nil, err
	}
	internalErr, err := fromN.ErrorToInternal(body)
	if err != nil {
		return nil, fmt.Errorf("convert: %s error to internal: %w", from, err)
	}
	out, err := toN.ErrorFromInternal(internalErr)
	if err != nil {
		return nil, fmt.Errorf("convert: internal to %s error: %w", to, err)
	}
	return out, nil
}

// ConvertStreamChunk converts one already-parsed stream chunk into zero or
// more internal stream events. The caller (streambridge/dispatch) is
// responsible for rendering those events back into the target format.
func (r *Registry) ConvertStreamChunk(chunk normalize.Chunk, from string, state *ir.StreamState) ([]ir.StreamEvent, error) {
	fromN, err := r.GetNormalizer(from)
	if err != nil {
		return nil, err
	}
	events, err := fromN.StreamChunkToInternal(chunk, state)
	if err != nil {
		return nil, fmt.Errorf("convert: %s stream chunk to internal: %w", from, err)
	}
	return events, nil
}

// RenderStreamEvents renders internal stream events into wire chunks for the
// target format.
func (r *Registry) RenderStreamEvents(events []ir.StreamEvent, to string, state *ir.StreamState) ([]normalize.Chunk, error) {
	toN, err := r.GetNormalizer(to)
	if err != nil {
		return nil, err
	}
	var out []normalize.Chunk
	for _, e := range events {
		rendered, err := toN.StreamEventFromInternal(e, state)
		if err != nil {
			return nil, fmt.Errorf("convert: internal to %s stream event: %w", to, err)
		}
		out = append(out, rendered...)
	}
	return out, nil
}

// RepairInternalToolCallIDs re-pairs tool_use/tool_result IDs on the request
// path when a format boundary dropped or never carried stable IDs. Grounded
// on registry.py:_repair_internal_tool_call_ids: walk every message's blocks
// in order, assigning "call_auto_N" to any ToolUseBlock missing an ID and
// queuing that ID FIFO; a ToolResultBlock with no ToolUseID claims the
// oldest still-unclaimed queued ID (or mints a fresh one if the queue is
// empty), while a ToolResultBlock that already names an ID just dequeues
// that ID if it's pending.
func RepairInternalToolCallIDs(req *ir.InternalRequest) {
	if req == nil {
		return
	}
	var pending []string
	autoCounter := 0
	nextToolID := func() string {
		autoCounter++
		return fmt.Sprintf("call_auto_%d", autoCounter)
	}

	for _, msg := range req.Messages {
		for i, block := range msg.Content {
			switch b := block.(type) {
			case ir.ToolUseBlock:
				if b.ToolID == "" {
					b.ToolID = nextToolID()
					msg.Content[i] = b
				}
				pending = append(pending, b.ToolID)
			case ir.ToolResultBlock:
				if b.ToolUseID != "" {
					for j, id := range pending {
						if id == b.ToolUseID {
							pending = append(pending[:j], pending[j+1:]...)
							break
						}
					}
					continue
				}
				if len(pending) > 0 {
					b.ToolUseID = pending[0]
					pending = pending[1:]
				} else {
					b.ToolUseID = nextToolID()
				}
				msg.Content[i] = b
			}
		}
	}
}

// RegisteredFormats returns every format ID currently registered, sorted for
// deterministic output (used by the health/metrics surface).
func (r *Registry) RegisteredFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.normalizers))
	for k := range r.normalizers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

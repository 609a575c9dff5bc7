// Package streambridge converts between a stream of internal stream events
// and a single aggregated internal response, in both directions (C4),
// grounded on original_source's conversion/stream_bridge.py.
package streambridge

import "github.com/nullform/llmgateway/internal/ir"

// blockBuilder accumulates one content block's deltas across a stream,
// grounded on stream_bridge.py's _BlockBuilder dataclass.
type blockBuilder struct {
	blockType ir.ContentType
	text      string
	toolID    string
	toolName  string
	toolInput string // raw accumulated JSON fragments
	thinking  string
}

func (b *blockBuilder) finalize() ir.ContentBlock {
	switch b.blockType {
	case ir.ContentToolUse:
		input := parseToolInput(b.toolInput)
		return ir.ToolUseBlock{ToolID: b.toolID, ToolName: b.toolName, ToolInput: input}
	case ir.ContentThinking:
		return ir.ThinkingBlock{Thinking: b.thinking}
	default:
		return ir.TextBlock{Text: b.text}
	}
}

func parseToolInput(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	m, err := unmarshalJSONObject(raw)
	if err != nil {
		return map[string]any{}
	}
	return m
}

// Aggregator collects a sequence of internal stream events for one response
// into a single InternalResponse, grounded on stream_bridge.py's
// InternalStreamAggregator. Used when a streaming upstream call must be
// exposed to a client that only understands the non-streaming response
// shape (spec §4.3's "downgrade" direction).
type Aggregator struct {
	messageID string
	model     string
	blocks    map[int]*blockBuilder
	order     []int
	closed    map[int]struct{}
	stopReason ir.StopReason
	usage      *ir.UsageInfo
}

func NewAggregator() *Aggregator {
	return &Aggregator{blocks: make(map[int]*blockBuilder), closed: make(map[int]struct{})}
}

// Feed applies one internal stream event to the aggregator's running state.
func (a *Aggregator) Feed(event ir.StreamEvent) {
	switch e := event.(type) {
	case ir.MessageStartEvent:
		a.messageID = e.MessageID
		a.model = e.Model
		if e.Usage != nil {
			a.usage = e.Usage
		}
	case ir.ContentBlockStartEvent:
		b := &blockBuilder{blockType: e.BlockType, toolID: e.ToolID, toolName: e.ToolName}
		a.blocks[e.BlockIndex] = b
		a.order = append(a.order, e.BlockIndex)
	case ir.ContentDeltaEvent:
		b := a.ensureBlock(e.BlockIndex, ir.ContentText)
		if b.blockType == ir.ContentThinking {
			b.thinking += e.TextDelta
		} else {
			b.text += e.TextDelta
		}
	case ir.ToolCallDeltaEvent:
		b := a.ensureBlock(e.BlockIndex, ir.ContentToolUse)
		if e.ToolID != "" {
			b.toolID = e.ToolID
		}
		b.toolInput += e.InputDelta
	case ir.ContentBlockStopEvent:
		if _, ok := a.blocks[e.BlockIndex]; ok {
			a.closed[e.BlockIndex] = struct{}{}
		}
	case ir.UsageEvent:
		if e.Usage != nil {
			a.usage = e.Usage
		}
	case ir.MessageStopEvent:
		if e.StopReason != "" {
			a.stopReason = e.StopReason
		}
		if e.Usage != nil {
			a.usage = e.Usage
		}
	}
}

func (a *Aggregator) ensureBlock(idx int, fallbackType ir.ContentType) *blockBuilder {
	b, ok := a.blocks[idx]
	if !ok {
		b = &blockBuilder{blockType: fallbackType}
		a.blocks[idx] = b
		a.order = append(a.order, idx)
	}
	return b
}

// OpenCount reports how many blocks have been started but not finalized,
// mirroring stream_bridge.py's open_count property — used by callers that
// need to know whether a stream ended mid-block (spec §8 invariant I-5).
func (a *Aggregator) OpenCount() int { return len(a.blocks) - len(a.closed) }

// Build produces the final InternalResponse from everything fed so far.
func (a *Aggregator) Build() *ir.InternalResponse {
	resp := &ir.InternalResponse{ID: a.messageID, Model: a.model, StopReason: a.stopReason, Usage: a.usage}
	for _, idx := range dedupOrder(a.order) {
		if b, ok := a.blocks[idx]; ok {
			resp.Content = append(resp.Content, b.finalize())
		}
	}
	return resp
}

func dedupOrder(order []int) []int {
	seen := make(map[int]struct{}, len(order))
	out := make([]int, 0, len(order))
	for _, idx := range order {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

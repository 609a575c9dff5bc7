package streambridge

import (
	"encoding/json"

	"github.com/nullform/llmgateway/internal/ir"
)

// ExpandOptions controls how a non-streaming InternalResponse is replayed as
// a synthetic event stream, grounded on stream_bridge.py's
// iter_internal_response_as_stream_events chunk_text/text_chunk_size knobs.
// Used when a client requested streaming but the endpoint was dispatched
// non-streaming (spec §4.3's "upgrade" direction, e.g. Stream Policy
// FORCE_NON_STREAM against a streaming client).
type ExpandOptions struct {
	ChunkText     bool
	TextChunkSize int
}

// Expand replays resp as the ordered sequence of internal stream events that
// would have produced it, so the existing normalizer StreamEventFromInternal
// path can render it for the client exactly as if it had streamed natively.
func Expand(resp *ir.InternalResponse, opts ExpandOptions) []ir.StreamEvent {
	var events []ir.StreamEvent
	events = append(events, ir.MessageStartEvent{MessageID: resp.ID, Model: resp.Model, Usage: resp.Usage})

	for idx, block := range resp.Content {
		events = append(events, ir.ContentBlockStartEvent{BlockIndex: idx, BlockType: block.Type(), ToolID: toolID(block), ToolName: toolName(block)})
		events = append(events, expandBlockDeltas(idx, block, opts)...)
		events = append(events, ir.ContentBlockStopEvent{BlockIndex: idx})
	}

	events = append(events, ir.MessageStopEvent{StopReason: resp.StopReason, Usage: resp.Usage})
	return events
}

func toolID(b ir.ContentBlock) string {
	if tu, ok := b.(ir.ToolUseBlock); ok {
		return tu.ToolID
	}
	return ""
}

func toolName(b ir.ContentBlock) string {
	if tu, ok := b.(ir.ToolUseBlock); ok {
		return tu.ToolName
	}
	return ""
}

func expandBlockDeltas(idx int, block ir.ContentBlock, opts ExpandOptions) []ir.StreamEvent {
	switch v := block.(type) {
	case ir.TextBlock:
		return chunkText(idx, v.Text, opts)
	case ir.ThinkingBlock:
		return chunkText(idx, v.Thinking, opts)
	case ir.ToolUseBlock:
		data, _ := json.Marshal(v.ToolInput)
		return []ir.StreamEvent{ir.ToolCallDeltaEvent{BlockIndex: idx, ToolID: v.ToolID, InputDelta: string(data)}}
	default:
		return nil
	}
}

func chunkText(idx int, text string, opts ExpandOptions) []ir.StreamEvent {
	if !opts.ChunkText || opts.TextChunkSize <= 0 || len(text) <= opts.TextChunkSize {
		if text == "" {
			return nil
		}
		return []ir.StreamEvent{ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: text}}
	}
	var events []ir.StreamEvent
	runes := []rune(text)
	for i := 0; i < len(runes); i += opts.TextChunkSize {
		end := i + opts.TextChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		events = append(events, ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: string(runes[i:end])})
	}
	return events
}

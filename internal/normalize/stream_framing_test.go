package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/ir"
)

// eventTypeCounts tallies events by concrete type for shape assertions
// without caring about field-level detail.
func eventTypeCounts(events []ir.StreamEvent) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		switch e.(type) {
		case ir.MessageStartEvent:
			counts["MessageStart"]++
		case ir.ContentBlockStartEvent:
			counts["ContentBlockStart"]++
		case ir.ContentDeltaEvent:
			counts["ContentDelta"]++
		case ir.ToolCallDeltaEvent:
			counts["ToolCallDelta"]++
		case ir.ContentBlockStopEvent:
			counts["ContentBlockStop"]++
		case ir.UsageEvent:
			counts["Usage"]++
		case ir.MessageStopEvent:
			counts["MessageStop"]++
		}
	}
	return counts
}

// TestOpenAINormalizer_ToolCallStream_FramingEvents reproduces spec.md §8
// scenario 2 verbatim: an OpenAI tool-call stream must yield exactly one
// ContentBlockStart, two ToolCallDelta, one ContentBlockStop, then
// MessageStop — with a MessageStart at the very beginning.
func TestOpenAINormalizer_ToolCallStream_FramingEvents(t *testing.T) {
	n := NewOpenAINormalizer()
	state := ir.NewStreamState("", "gpt-4o")

	chunks := []Chunk{
		{
			"id": "chatcmpl-1", "model": "gpt-4o",
			"choices": []any{Chunk{"index": 0.0, "delta": Chunk{
				"tool_calls": []any{Chunk{"index": 0.0, "id": "call_1", "function": Chunk{"name": "get_weather", "arguments": ""}}},
			}}},
		},
		{
			"choices": []any{Chunk{"index": 0.0, "delta": Chunk{
				"tool_calls": []any{Chunk{"index": 0.0, "function": Chunk{"arguments": `{"city":`}}},
			}}},
		},
		{
			"choices": []any{Chunk{"index": 0.0, "delta": Chunk{
				"tool_calls": []any{Chunk{"index": 0.0, "function": Chunk{"arguments": `"SF"}`}}},
			}}},
		},
		{
			"choices": []any{Chunk{"index": 0.0, "delta": Chunk{}, "finish_reason": "tool_calls"}},
		},
	}

	var all []ir.StreamEvent
	for _, c := range chunks {
		events, err := n.StreamChunkToInternal(c, state)
		require.NoError(t, err)
		all = append(all, events...)
	}

	counts := eventTypeCounts(all)
	assert.Equal(t, 1, counts["MessageStart"])
	assert.Equal(t, 1, counts["ContentBlockStart"])
	assert.Equal(t, 2, counts["ToolCallDelta"])
	assert.Equal(t, 1, counts["ContentBlockStop"])
	assert.Equal(t, 1, counts["MessageStop"])

	require.IsType(t, ir.MessageStartEvent{}, all[0])

	lastIdx := len(all) - 1
	require.IsType(t, ir.MessageStopEvent{}, all[lastIdx])
	require.IsType(t, ir.ContentBlockStopEvent{}, all[lastIdx-1])
}

func TestGeminiNormalizer_TextStream_FramingEvents(t *testing.T) {
	n := NewGeminiNormalizer()
	state := ir.NewStreamState("", "gemini-2.0-flash")

	chunks := []Chunk{
		{"candidates": []any{Chunk{"content": Chunk{"parts": []any{Chunk{"text": "hel"}}}}}},
		{"candidates": []any{Chunk{"content": Chunk{"parts": []any{Chunk{"text": "lo"}}}, "finishReason": "STOP"}}},
	}

	var all []ir.StreamEvent
	for _, c := range chunks {
		events, err := n.StreamChunkToInternal(c, state)
		require.NoError(t, err)
		all = append(all, events...)
	}

	counts := eventTypeCounts(all)
	assert.Equal(t, 1, counts["MessageStart"])
	assert.Equal(t, 1, counts["ContentBlockStart"])
	assert.Equal(t, 2, counts["ContentDelta"])
	assert.Equal(t, 1, counts["ContentBlockStop"])
	assert.Equal(t, 1, counts["MessageStop"])

	require.IsType(t, ir.MessageStartEvent{}, all[0])
	lastIdx := len(all) - 1
	require.IsType(t, ir.MessageStopEvent{}, all[lastIdx])
	require.IsType(t, ir.ContentBlockStopEvent{}, all[lastIdx-1])
}

// TestGeminiNormalizer_FunctionCallStream_SelfClosingBlock confirms a
// function-call part's ContentBlockStart/ToolCallDelta/ContentBlockStop
// triple from a single chunk doesn't get a second stop synthesized when
// finishReason arrives in a later chunk.
func TestGeminiNormalizer_FunctionCallStream_SelfClosingBlock(t *testing.T) {
	n := NewGeminiNormalizer()
	state := ir.NewStreamState("", "gemini-2.0-flash")

	chunks := []Chunk{
		{"candidates": []any{Chunk{"content": Chunk{"parts": []any{Chunk{"functionCall": Chunk{"name": "get_weather", "args": Chunk{"city": "SF"}}}}}}}},
		{"candidates": []any{Chunk{"content": Chunk{"parts": []any{}}, "finishReason": "STOP"}}},
	}

	var all []ir.StreamEvent
	for _, c := range chunks {
		events, err := n.StreamChunkToInternal(c, state)
		require.NoError(t, err)
		all = append(all, events...)
	}

	counts := eventTypeCounts(all)
	assert.Equal(t, 1, counts["ContentBlockStart"])
	assert.Equal(t, 1, counts["ToolCallDelta"])
	assert.Equal(t, 1, counts["ContentBlockStop"])
	assert.Equal(t, 1, counts["MessageStop"])
}

package streambridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/ir"
)

func TestAggregator_TextStream(t *testing.T) {
	a := NewAggregator()
	a.Feed(ir.MessageStartEvent{MessageID: "msg_1", Model: "claude-3-5-sonnet-20241022"})
	a.Feed(ir.ContentBlockStartEvent{BlockIndex: 0, BlockType: ir.ContentText})
	a.Feed(ir.ContentDeltaEvent{BlockIndex: 0, TextDelta: "hel"})
	a.Feed(ir.ContentDeltaEvent{BlockIndex: 0, TextDelta: "lo"})
	a.Feed(ir.ContentBlockStopEvent{BlockIndex: 0})
	a.Feed(ir.MessageStopEvent{StopReason: ir.StopEndTurn})

	resp := a.Build()
	require.Equal(t, "msg_1", resp.ID)
	require.Len(t, resp.Content, 1)
	text, ok := resp.Content[0].(ir.TextBlock)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, ir.StopEndTurn, resp.StopReason)
}

func TestAggregator_ToolCallStream(t *testing.T) {
	a := NewAggregator()
	a.Feed(ir.MessageStartEvent{MessageID: "msg_2", Model: "gpt-4o"})
	a.Feed(ir.ContentBlockStartEvent{BlockIndex: 0, BlockType: ir.ContentToolUse, ToolID: "call_1", ToolName: "get_weather"})
	a.Feed(ir.ToolCallDeltaEvent{BlockIndex: 0, ToolID: "call_1", InputDelta: `{"city":`})
	a.Feed(ir.ToolCallDeltaEvent{BlockIndex: 0, ToolID: "call_1", InputDelta: `"SF"}`})
	a.Feed(ir.ContentBlockStopEvent{BlockIndex: 0})
	a.Feed(ir.MessageStopEvent{StopReason: ir.StopToolUse})

	resp := a.Build()
	require.Len(t, resp.Content, 1)
	tu, ok := resp.Content[0].(ir.ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "call_1", tu.ToolID)
	assert.Equal(t, "get_weather", tu.ToolName)
	assert.Equal(t, "SF", tu.ToolInput["city"])
	assert.Equal(t, ir.StopToolUse, resp.StopReason)
}

func TestAggregator_OpenCountTracksUnclosedBlocks(t *testing.T) {
	a := NewAggregator()
	a.Feed(ir.ContentBlockStartEvent{BlockIndex: 0, BlockType: ir.ContentText})
	assert.Equal(t, 1, a.OpenCount())
}

// TestExpand_RoundTripsThroughAggregator confirms Expand produces an event
// sequence that, fed back into an Aggregator, reconstructs the original
// InternalResponse. Expand is the "upgrade" a client requesting a stream
// against a non-streaming dispatch gets; aggregating its output back
// ("downgrade") must lose nothing.
func TestExpand_RoundTripsThroughAggregator(t *testing.T) {
	original := &ir.InternalResponse{
		ID:         "msg_3",
		Model:      "claude-3-5-sonnet-20241022",
		StopReason: ir.StopToolUse,
		Usage:      &ir.UsageInfo{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Content: []ir.ContentBlock{
			ir.TextBlock{Text: "let me check that"},
			ir.ToolUseBlock{ToolID: "call_7", ToolName: "get_weather", ToolInput: map[string]any{"city": "SF"}},
		},
	}

	events := Expand(original, ExpandOptions{})

	require.IsType(t, ir.MessageStartEvent{}, events[0])
	require.IsType(t, ir.MessageStopEvent{}, events[len(events)-1])

	stopCount := 0
	for _, e := range events {
		if _, ok := e.(ir.ContentBlockStopEvent); ok {
			stopCount++
		}
	}
	assert.Equal(t, len(original.Content), stopCount)

	a := NewAggregator()
	for _, e := range events {
		a.Feed(e)
	}
	rebuilt := a.Build()

	assert.Equal(t, original.ID, rebuilt.ID)
	assert.Equal(t, original.StopReason, rebuilt.StopReason)
	require.Len(t, rebuilt.Content, 2)

	text, ok := rebuilt.Content[0].(ir.TextBlock)
	require.True(t, ok)
	assert.Equal(t, "let me check that", text.Text)

	tu, ok := rebuilt.Content[1].(ir.ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "call_7", tu.ToolID)
	assert.Equal(t, "SF", tu.ToolInput["city"])
}

func TestExpand_ChunksTextWhenConfigured(t *testing.T) {
	resp := &ir.InternalResponse{Content: []ir.ContentBlock{ir.TextBlock{Text: "abcdef"}}}

	events := Expand(resp, ExpandOptions{ChunkText: true, TextChunkSize: 2})

	var deltas []string
	for _, e := range events {
		if d, ok := e.(ir.ContentDeltaEvent); ok {
			deltas = append(deltas, d.TextDelta)
		}
	}
	assert.Equal(t, []string{"ab", "cd", "ef"}, deltas)
}

package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullform/llmgateway/internal/ir"
)

func TestRepairInternalToolCallIDs_FillsEmptyToolUseID(t *testing.T) {
	req := &ir.InternalRequest{
		Messages: []ir.InternalMessage{
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{
				ir.ToolUseBlock{ToolName: "get_weather", ToolInput: map[string]any{}},
			}},
		},
	}

	RepairInternalToolCallIDs(req)

	tu := req.Messages[0].Content[0].(ir.ToolUseBlock)
	assert.NotEmpty(t, tu.ToolID)
}

// TestRepairInternalToolCallIDs_FIFOPairing mirrors
// registry.py:_repair_internal_tool_call_ids: a ToolResultBlock with no
// ToolUseID claims the oldest still-pending ToolUseBlock id, in order.
func TestRepairInternalToolCallIDs_FIFOPairing(t *testing.T) {
	req := &ir.InternalRequest{
		Messages: []ir.InternalMessage{
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{
				ir.ToolUseBlock{ToolName: "first"},
				ir.ToolUseBlock{ToolName: "second"},
			}},
			{Role: ir.RoleTool, Content: []ir.ContentBlock{
				ir.ToolResultBlock{ContentText: "result for first"},
				ir.ToolResultBlock{ContentText: "result for second"},
			}},
		},
	}

	RepairInternalToolCallIDs(req)

	firstUse := req.Messages[0].Content[0].(ir.ToolUseBlock)
	secondUse := req.Messages[0].Content[1].(ir.ToolUseBlock)
	firstResult := req.Messages[1].Content[0].(ir.ToolResultBlock)
	secondResult := req.Messages[1].Content[1].(ir.ToolResultBlock)

	require.NotEmpty(t, firstUse.ToolID)
	require.NotEmpty(t, secondUse.ToolID)
	assert.NotEqual(t, firstUse.ToolID, secondUse.ToolID)
	assert.Equal(t, firstUse.ToolID, firstResult.ToolUseID)
	assert.Equal(t, secondUse.ToolID, secondResult.ToolUseID)
}

// TestRepairInternalToolCallIDs_PreservesExplicitPairing confirms a
// ToolResultBlock that already names a ToolUseID is left alone (just
// dequeued), rather than being reassigned to whatever is at the front of the
// pending queue.
func TestRepairInternalToolCallIDs_PreservesExplicitPairing(t *testing.T) {
	req := &ir.InternalRequest{
		Messages: []ir.InternalMessage{
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{
				ir.ToolUseBlock{ToolID: "call_a", ToolName: "a"},
				ir.ToolUseBlock{ToolID: "call_b", ToolName: "b"},
			}},
			{Role: ir.RoleTool, Content: []ir.ContentBlock{
				ir.ToolResultBlock{ToolUseID: "call_b", ContentText: "result for b"},
				ir.ToolResultBlock{ContentText: "result for a"},
			}},
		},
	}

	RepairInternalToolCallIDs(req)

	firstResult := req.Messages[1].Content[0].(ir.ToolResultBlock)
	secondResult := req.Messages[1].Content[1].(ir.ToolResultBlock)

	assert.Equal(t, "call_b", firstResult.ToolUseID)
	assert.Equal(t, "call_a", secondResult.ToolUseID)
}

// TestRepairInternalToolCallIDs_Idempotent matches spec.md's testable
// property: running repair twice over an already-repaired request changes
// nothing further — every ToolUse.ToolID and ToolResult.ToolUseID stays
// non-empty and stable.
func TestRepairInternalToolCallIDs_Idempotent(t *testing.T) {
	req := &ir.InternalRequest{
		Messages: []ir.InternalMessage{
			{Role: ir.RoleAssistant, Content: []ir.ContentBlock{
				ir.ToolUseBlock{ToolName: "first"},
			}},
			{Role: ir.RoleTool, Content: []ir.ContentBlock{
				ir.ToolResultBlock{ContentText: "result"},
			}},
		},
	}

	RepairInternalToolCallIDs(req)
	firstPass := req.Messages[0].Content[0].(ir.ToolUseBlock).ToolID
	firstResultPass := req.Messages[1].Content[0].(ir.ToolResultBlock).ToolUseID
	require.NotEmpty(t, firstPass)
	require.Equal(t, firstPass, firstResultPass)

	RepairInternalToolCallIDs(req)
	secondPass := req.Messages[0].Content[0].(ir.ToolUseBlock).ToolID
	secondResultPass := req.Messages[1].Content[0].(ir.ToolResultBlock).ToolUseID

	assert.Equal(t, firstPass, secondPass)
	assert.Equal(t, firstResultPass, secondResultPass)
}

func TestRepairInternalToolCallIDs_NilRequestNoPanic(t *testing.T) {
	assert.NotPanics(t, func() { RepairInternalToolCallIDs(nil) })
}

func TestConvertRequest_RepairsToolIDsAcrossFormatBoundary(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterDefaultNormalizers()

	// An OpenAI-shaped request whose tool message carries an empty
	// tool_call_id next to a tool_call with a real id — the shape a lossy
	// upstream client might send, which request-side repair must fix before
	// the Claude renderer runs.
	body := map[string]any{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "assistant", "content": nil, "tool_calls": []any{
				map[string]any{"id": "call_1", "type": "function", "function": map[string]any{"name": "get_weather", "arguments": "{}"}},
			}},
			map[string]any{"role": "tool", "tool_call_id": "", "content": "72F"},
		},
	}

	out, err := reg.ConvertRequest(body, "openai:chat", "claude:chat")
	require.NoError(t, err)

	messages, ok := out["messages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, messages, 3)

	toolMsg := messages[len(messages)-1]
	content, ok := toolMsg["content"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	assert.Equal(t, "call_1", content[0]["tool_use_id"])
}

package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/nullform/llmgateway/internal/ir"
	"github.com/tidwall/gjson"
)

// OpenAINormalizerCLI implements the OpenAI Responses API wire format used by
// the Codex CLI and other "openai:cli" clients (spec §4.1 "OpenAI CLI").
// Unlike Chat Completions, Responses uses a single heterogeneous `input`/
// `output` item list (message / function_call / function_call_output /
// reasoning) and event-typed streaming, so this normalizer does real
// conversion work rather than sharing a family with OpenAINormalizer. Items
// are read with the same map helpers as the other normalizers; gjson is used
// only to check that a streamed tool call's accumulated argument JSON is
// valid (validArgumentFragment).
type OpenAINormalizerCLI struct {
	// codex forces stream=true, store=false and maps system->developer on
	// render, matching the Codex CLI's fixed request shape (spec §4.1).
	codex bool
}

func NewOpenAICLINormalizer() *OpenAINormalizerCLI      { return &OpenAINormalizerCLI{} }
func NewCodexNormalizer() *OpenAINormalizerCLI          { return &OpenAINormalizerCLI{codex: true} }

func (n *OpenAINormalizerCLI) FormatID() string { return FormatOpenAICLI }

func (n *OpenAINormalizerCLI) Capabilities() ir.FormatCapabilities {
	return ir.FormatCapabilities{
		SupportsStream:          true,
		SupportsErrorConversion: true,
		SupportsTools:           true,
		SupportsImages:          true,
	}
}

// ---- request_to_internal ----

func (n *OpenAINormalizerCLI) RequestToInternal(native Chunk) (*ir.InternalRequest, error) {
	req := &ir.InternalRequest{Model: getString(native, "model")}

	if instr := getString(native, "instructions"); instr != "" {
		req.Instructions = append(req.Instructions, ir.InstructionSegment{Role: ir.RoleSystem, Text: instr})
		req.System = instr
	}

	pendingCalls := make(map[string]*ir.ToolUseBlock)
	for _, raw := range getSlice(native, "input") {
		item, ok := raw.(Chunk)
		if !ok {
			continue
		}
		switch getString(item, "type") {
		case "message", "":
			role := ir.Role(getString(item, "role"))
			msg := ir.InternalMessage{Role: role}
			for _, c := range getSlice(item, "content") {
				cm, ok := c.(Chunk)
				if !ok {
					continue
				}
				if t := getString(cm, "type"); t == "input_text" || t == "output_text" {
					msg.Content = append(msg.Content, ir.TextBlock{Text: getString(cm, "text")})
				}
			}
			req.Messages = append(req.Messages, msg)
		case "function_call":
			tu := ir.ToolUseBlock{
				ToolID:   getString(item, "call_id"),
				ToolName: getString(item, "name"),
			}
			if args := getString(item, "arguments"); args != "" {
				var m map[string]any
				_ = json.Unmarshal([]byte(args), &m)
				tu.ToolInput = m
			}
			pendingCalls[tu.ToolID] = &tu
			req.Messages = append(req.Messages, ir.InternalMessage{Role: ir.RoleAssistant, Content: []ir.ContentBlock{tu}})
		case "function_call_output":
			req.Messages = append(req.Messages, ir.InternalMessage{
				Role: ir.RoleTool,
				Content: []ir.ContentBlock{ir.ToolResultBlock{
					ToolUseID:      getString(item, "call_id"),
					ContentText:    getString(item, "output"),
					HasContentText: true,
				}},
			})
		case "reasoning":
			summary := ""
			for _, s := range getSlice(item, "summary") {
				if sm, ok := s.(Chunk); ok {
					summary += getString(sm, "text")
				}
			}
			req.Messages = append(req.Messages, ir.InternalMessage{
				Role:    ir.RoleAssistant,
				Content: []ir.ContentBlock{ir.ThinkingBlock{Thinking: summary}},
			})
		}
	}

	if mt, ok := getFloat(native, "max_output_tokens"); ok {
		req.MaxTokens = intPtr(int(mt))
	}
	if t, ok := getFloat(native, "temperature"); ok {
		req.Temperature = float64Ptr(t)
	}
	if tp, ok := getFloat(native, "top_p"); ok {
		req.TopP = float64Ptr(tp)
	}
	if stream, ok := getBool(native, "stream"); ok {
		req.Stream = stream
	}

	if reasoning := getMap(native, "reasoning"); reasoning != nil {
		if effort := getString(reasoning, "effort"); effort != "" {
			if b, ok := reasoningEffortToBudget[effort]; ok {
				req.Thinking = &ir.ThinkingConfig{Enabled: true, BudgetTokens: intPtr(b)}
			}
		}
	}

	for _, raw := range getSlice(native, "tools") {
		tm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        getString(tm, "name"),
			Description: getString(tm, "description"),
			Parameters:  getMap(tm, "parameters"),
		})
	}

	return req, nil
}

// ---- request_from_internal ----

func (n *OpenAINormalizerCLI) RequestFromInternal(req *ir.InternalRequest, targetVariant string) (Chunk, error) {
	out := Chunk{"model": req.Model}

	var input []Chunk
	if req.System != "" {
		if n.codex {
			input = append(input, Chunk{"type": "message", "role": "developer", "content": []Chunk{{"type": "input_text", "text": req.System}}})
		} else {
			out["instructions"] = req.System
		}
	}

	for _, m := range req.Messages {
		items, err := openAICLIMessageFromInternal(m)
		if err != nil {
			return nil, err
		}
		input = append(input, items...)
	}
	out["input"] = input

	if req.MaxTokens != nil {
		out["max_output_tokens"] = *req.MaxTokens
	} else if req.OutputLimit != nil {
		out["max_output_tokens"] = *req.OutputLimit
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out["top_p"] = *req.TopP
	}

	stream := req.Stream
	if n.codex {
		stream = true
		out["store"] = false
	}
	if stream {
		out["stream"] = true
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		budget := minThinkingBudget
		if req.Thinking.BudgetTokens != nil {
			budget = *req.Thinking.BudgetTokens
		}
		reasoning := Chunk{"effort": budgetToReasoningEffort(budget)}
		if n.codex {
			reasoning["encrypted_content"] = true
		}
		out["reasoning"] = reasoning
	}

	if len(req.Tools) > 0 {
		var tools []Chunk
		for _, t := range req.Tools {
			tools = append(tools, Chunk{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		out["tools"] = tools
	}

	return out, nil
}

func openAICLIMessageFromInternal(m ir.InternalMessage) ([]Chunk, error) {
	if m.Role == ir.RoleTool {
		var out []Chunk
		for _, b := range m.Content {
			tr, ok := b.(ir.ToolResultBlock)
			if !ok {
				continue
			}
			output := tr.ContentText
			if !tr.HasContentText && tr.Output != nil {
				data, _ := json.Marshal(tr.Output)
				output = string(data)
			}
			out = append(out, Chunk{"type": "function_call_output", "call_id": tr.ToolUseID, "output": output})
		}
		return out, nil
	}

	var out []Chunk
	var textParts []Chunk
	contentType := "input_text"
	if m.Role == ir.RoleAssistant {
		contentType = "output_text"
	}
	for _, b := range m.Content {
		switch v := b.(type) {
		case ir.TextBlock:
			textParts = append(textParts, Chunk{"type": contentType, "text": v.Text})
		case ir.ToolUseBlock:
			args, _ := json.Marshal(v.ToolInput)
			out = append(out, Chunk{"type": "function_call", "call_id": v.ToolID, "name": v.ToolName, "arguments": string(args)})
		case ir.ThinkingBlock:
			out = append(out, Chunk{"type": "reasoning", "summary": []Chunk{{"type": "summary_text", "text": v.Thinking}}})
		default:
			return nil, fmt.Errorf("openai_cli: unsupported content block %T in %s message", b, m.Role)
		}
	}
	if len(textParts) > 0 {
		out = append([]Chunk{{"type": "message", "role": string(m.Role), "content": textParts}}, out...)
	}
	return out, nil
}

// ---- response_to_internal / response_from_internal ----

func (n *OpenAINormalizerCLI) ResponseToInternal(native Chunk) (*ir.InternalResponse, error) {
	resp := &ir.InternalResponse{
		ID:    getString(native, "id"),
		Model: getString(native, "model"),
	}
	for _, raw := range getSlice(native, "output") {
		item, ok := raw.(Chunk)
		if !ok {
			continue
		}
		switch getString(item, "type") {
		case "message":
			for _, c := range getSlice(item, "content") {
				if cm, ok := c.(Chunk); ok && getString(cm, "type") == "output_text" {
					resp.Content = append(resp.Content, ir.TextBlock{Text: getString(cm, "text")})
				}
			}
		case "function_call":
			var args map[string]any
			if a := getString(item, "arguments"); a != "" {
				_ = json.Unmarshal([]byte(a), &args)
			}
			resp.Content = append(resp.Content, ir.ToolUseBlock{
				ToolID:    getString(item, "call_id"),
				ToolName:  getString(item, "name"),
				ToolInput: args,
			})
		case "reasoning":
			summary := ""
			for _, s := range getSlice(item, "summary") {
				if sm, ok := s.(Chunk); ok {
					summary += getString(sm, "text")
				}
			}
			resp.Content = append(resp.Content, ir.ThinkingBlock{Thinking: summary})
		}
	}

	switch getString(native, "status") {
	case "incomplete":
		resp.StopReason = ir.StopMaxTokens
	case "failed":
		resp.StopReason = ir.StopUnknown
	default:
		resp.StopReason = ir.StopEndTurn
		for _, b := range resp.Content {
			if _, ok := b.(ir.ToolUseBlock); ok {
				resp.StopReason = ir.StopToolUse
			}
		}
	}

	if u := getMap(native, "usage"); u != nil {
		usage := &ir.UsageInfo{}
		if v, ok := getFloat(u, "input_tokens"); ok {
			usage.InputTokens = int(v)
		}
		if v, ok := getFloat(u, "output_tokens"); ok {
			usage.OutputTokens = int(v)
		}
		if v, ok := getFloat(u, "total_tokens"); ok {
			usage.TotalTokens = int(v)
		}
		usage.Normalize()
		resp.Usage = usage
	}
	return resp, nil
}

func (n *OpenAINormalizerCLI) ResponseFromInternal(resp *ir.InternalResponse, requestedModel string) (Chunk, error) {
	model := resp.Model
	if requestedModel != "" {
		model = requestedModel
	}
	items, err := openAICLIMessageFromInternal(ir.InternalMessage{Role: ir.RoleAssistant, Content: resp.Content})
	if err != nil {
		return nil, err
	}
	status := "completed"
	if resp.StopReason == ir.StopMaxTokens {
		status = "incomplete"
	}
	out := Chunk{
		"id":     resp.ID,
		"object": "response",
		"model":  model,
		"status": status,
		"output": items,
	}
	if resp.Usage != nil {
		out["usage"] = Chunk{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"total_tokens":  resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ---- errors ----

func (n *OpenAINormalizerCLI) IsErrorResponse(body Chunk) bool {
	return getMap(body, "error") != nil
}

func (n *OpenAINormalizerCLI) ErrorToInternal(native Chunk) (*ir.InternalError, error) {
	e := getMap(native, "error")
	if e == nil {
		e = native
	}
	t, ok := openAIErrorTypeMap[getString(e, "type")]
	if !ok {
		t = ir.ErrUnknown
	}
	return &ir.InternalError{
		Type:      t,
		Message:   getString(e, "message"),
		Code:      getString(e, "code"),
		Retryable: t.Retryable(),
	}, nil
}

func (n *OpenAINormalizerCLI) ErrorFromInternal(err *ir.InternalError) (Chunk, error) {
	nativeType := "server_error"
	for k, v := range openAIErrorTypeMap {
		if v == err.Type {
			nativeType = k
			break
		}
	}
	return Chunk{"error": Chunk{"type": nativeType, "message": err.Message, "code": err.Code}}, nil
}

// ---- streaming ----

type openAICLIStreamState struct {
	blockByItemID  map[string]int
	nextIndex      int
	argBuf         map[string]string
	callIDByItemID map[string]string
}

func (n *OpenAINormalizerCLI) state(s *ir.StreamState) *openAICLIStreamState {
	v, _ := s.State(FormatOpenAICLI).(*openAICLIStreamState)
	if v == nil {
		v = &openAICLIStreamState{blockByItemID: make(map[string]int), argBuf: make(map[string]string), callIDByItemID: make(map[string]string)}
		s.SetState(FormatOpenAICLI, v)
	}
	return v
}

func (n *OpenAINormalizerCLI) StreamChunkToInternal(chunk Chunk, state *ir.StreamState) ([]ir.StreamEvent, error) {
	st := n.state(state)
	switch getString(chunk, "type") {
	case "response.created", "response.in_progress":
		return nil, nil
	case "response.output_item.added":
		item := getMap(chunk, "item")
		idx := st.nextIndex
		st.nextIndex++
		itemID := getString(item, "id")
		st.blockByItemID[itemID] = idx
		switch getString(item, "type") {
		case "function_call":
			st.callIDByItemID[itemID] = getString(item, "call_id")
			return []ir.StreamEvent{ir.ContentBlockStartEvent{
				BlockIndex: idx, BlockType: ir.ContentToolUse,
				ToolID: getString(item, "call_id"), ToolName: getString(item, "name"),
			}}, nil
		case "reasoning":
			return []ir.StreamEvent{ir.ContentBlockStartEvent{BlockIndex: idx, BlockType: ir.ContentThinking}}, nil
		default:
			return []ir.StreamEvent{ir.ContentBlockStartEvent{BlockIndex: idx, BlockType: ir.ContentText}}, nil
		}
	case "response.output_text.delta":
		idx := st.blockByItemID[getString(chunk, "item_id")]
		return []ir.StreamEvent{ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: getString(chunk, "delta")}}, nil
	case "response.reasoning_summary_text.delta":
		idx := st.blockByItemID[getString(chunk, "item_id")]
		return []ir.StreamEvent{ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: getString(chunk, "delta")}}, nil
	case "response.function_call_arguments.delta":
		itemID := getString(chunk, "item_id")
		idx := st.blockByItemID[itemID]
		delta := getString(chunk, "delta")
		st.argBuf[itemID] += delta
		return []ir.StreamEvent{ir.ToolCallDeltaEvent{BlockIndex: idx, ToolID: st.callIDByItemID[itemID], InputDelta: delta}}, nil
	case "response.output_item.done":
		item := getMap(chunk, "item")
		itemID := getString(item, "id")
		idx := st.blockByItemID[itemID]
		if getString(item, "type") == "function_call" && !n.validArgumentFragment(state, itemID) {
			return []ir.StreamEvent{ir.ErrorEvent{Error: ir.InternalError{
				Type:      ir.ErrInvalidRequest,
				Message:   fmt.Sprintf("tool call %s completed with malformed argument JSON", itemID),
				Retryable: false,
			}}}, nil
		}
		return []ir.StreamEvent{ir.ContentBlockStopEvent{BlockIndex: idx}}, nil
	case "response.completed":
		resp := getMap(chunk, "response")
		var usage *ir.UsageInfo
		stopReason := ir.StopEndTurn
		if resp != nil {
			if u := getMap(resp, "usage"); u != nil {
				usage = &ir.UsageInfo{}
				if v, ok := getFloat(u, "input_tokens"); ok {
					usage.InputTokens = int(v)
				}
				if v, ok := getFloat(u, "output_tokens"); ok {
					usage.OutputTokens = int(v)
				}
				usage.Normalize()
			}
			for _, raw := range getSlice(resp, "output") {
				if item, ok := raw.(Chunk); ok && getString(item, "type") == "function_call" {
					stopReason = ir.StopToolUse
				}
			}
		}
		return []ir.StreamEvent{ir.MessageStopEvent{StopReason: stopReason, Usage: usage}}, nil
	case "response.failed":
		msg := "response failed"
		if resp := getMap(chunk, "response"); resp != nil {
			if e := getMap(resp, "error"); e != nil {
				msg = getString(e, "message")
			}
		}
		return []ir.StreamEvent{ir.ErrorEvent{Error: ir.InternalError{Type: ir.ErrServerError, Message: msg, Retryable: true}}}, nil
	default:
		return nil, nil
	}
}

func (n *OpenAINormalizerCLI) StreamEventFromInternal(event ir.StreamEvent, state *ir.StreamState) ([]Chunk, error) {
	switch e := event.(type) {
	case ir.MessageStartEvent:
		return []Chunk{{"type": "response.created", "response": Chunk{"id": e.MessageID, "model": e.Model, "status": "in_progress"}}}, nil
	case ir.ContentBlockStartEvent:
		itemType := "message"
		if e.BlockType == ir.ContentToolUse {
			itemType = "function_call"
		} else if e.BlockType == ir.ContentThinking {
			itemType = "reasoning"
		}
		return []Chunk{{
			"type": "response.output_item.added",
			"item": Chunk{"id": fmt.Sprintf("item_%d", e.BlockIndex), "type": itemType, "call_id": e.ToolID, "name": e.ToolName},
		}}, nil
	case ir.ContentDeltaEvent:
		return []Chunk{{"type": "response.output_text.delta", "item_id": fmt.Sprintf("item_%d", e.BlockIndex), "delta": e.TextDelta}}, nil
	case ir.ToolCallDeltaEvent:
		return []Chunk{{"type": "response.function_call_arguments.delta", "item_id": fmt.Sprintf("item_%d", e.BlockIndex), "delta": e.InputDelta}}, nil
	case ir.ContentBlockStopEvent:
		return []Chunk{{"type": "response.output_item.done", "item": Chunk{"id": fmt.Sprintf("item_%d", e.BlockIndex)}}}, nil
	case ir.MessageStopEvent:
		usage := Chunk{}
		if e.Usage != nil {
			usage = Chunk{"input_tokens": e.Usage.InputTokens, "output_tokens": e.Usage.OutputTokens, "total_tokens": e.Usage.TotalTokens}
		}
		return []Chunk{{
			"type": "response.completed",
			"response": Chunk{"id": state.MessageID, "model": state.Model, "status": "completed", "usage": usage},
		}}, nil
	case ir.ErrorEvent:
		return []Chunk{{"type": "response.failed", "response": Chunk{"error": Chunk{"message": e.Error.Message}}}}, nil
	default:
		return nil, nil
	}
}

func (n *OpenAINormalizerCLI) FormatSSE(chunk Chunk) []byte {
	eventType := getString(chunk, "type")
	data, _ := json.Marshal(chunk)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))
}

// validArgumentFragment reports whether the accumulated function-call
// argument buffer for itemID is valid JSON. StreamChunkToInternal calls it on
// response.output_item.done and emits an ErrorEvent instead of a block stop
// when it is not.
func (n *OpenAINormalizerCLI) validArgumentFragment(state *ir.StreamState, itemID string) bool {
	st := n.state(state)
	return gjson.Valid(st.argBuf[itemID])
}

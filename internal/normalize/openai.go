package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nullform/llmgateway/internal/ir"
)

// OpenAINormalizer implements the OpenAI Chat Completions wire format,
// grounded on the teacher's internal/providers/openai.go (convertOpenAIToAnthropic,
// convertOpenAIToAnthropicStream, calculateArgumentsDelta, convertToolCallID)
// which this package generalizes from "always target Claude" to "target the
// canonical IR" (spec §4.1 "OpenAI Chat Completions").
type OpenAINormalizer struct{}

func NewOpenAINormalizer() *OpenAINormalizer { return &OpenAINormalizer{} }

func (n *OpenAINormalizer) FormatID() string { return FormatOpenAIChat }

func (n *OpenAINormalizer) Capabilities() ir.FormatCapabilities {
	return ir.FormatCapabilities{
		SupportsStream:          true,
		SupportsErrorConversion: true,
		SupportsTools:           true,
		SupportsImages:          true,
	}
}

// ---- request_to_internal ----

func (n *OpenAINormalizer) RequestToInternal(native Chunk) (*ir.InternalRequest, error) {
	req := &ir.InternalRequest{Model: getString(native, "model")}

	for _, raw := range getSlice(native, "messages") {
		m, ok := raw.(Chunk)
		if !ok {
			continue
		}
		role := ir.Role(getString(m, "role"))
		if role == ir.RoleSystem || role == ir.RoleDeveloper {
			req.Instructions = append(req.Instructions, ir.InstructionSegment{
				Role: role,
				Text: openAIContentToText(m["content"]),
			})
			continue
		}
		msg, err := openAIMessageToInternal(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}
	req.System = joinInstructions(req.Instructions)

	// max_tokens vs. max_completion_tokens precedence: the latter wins when
	// both are present, matching the teacher's preference for the newer field.
	if mt, ok := getFloat(native, "max_completion_tokens"); ok {
		req.MaxTokens = intPtr(int(mt))
	} else if mt, ok := getFloat(native, "max_tokens"); ok {
		req.MaxTokens = intPtr(int(mt))
	}
	if t, ok := getFloat(native, "temperature"); ok {
		req.Temperature = float64Ptr(t)
	}
	if tp, ok := getFloat(native, "top_p"); ok {
		req.TopP = float64Ptr(tp)
	}
	if n2, ok := getFloat(native, "n"); ok {
		req.N = intPtr(int(n2))
	}
	if pp, ok := getFloat(native, "presence_penalty"); ok {
		req.PresencePenalty = float64Ptr(pp)
	}
	if fp, ok := getFloat(native, "frequency_penalty"); ok {
		req.FrequencyPenalty = float64Ptr(fp)
	}
	if seed, ok := getFloat(native, "seed"); ok {
		s := int64(seed)
		req.Seed = &s
	}
	if lp, ok := getBool(native, "logprobs"); ok {
		req.Logprobs = &lp
	}
	if tlp, ok := getFloat(native, "top_logprobs"); ok {
		req.TopLogprobs = intPtr(int(tlp))
	}
	if stream, ok := getBool(native, "stream"); ok {
		req.Stream = stream
	}

	switch stop := native["stop"].(type) {
	case string:
		req.StopSequences = []string{stop}
	case []any:
		for _, s := range stop {
			if ss, ok := s.(string); ok {
				req.StopSequences = append(req.StopSequences, ss)
			}
		}
	}

	if effort := getString(native, "reasoning_effort"); effort != "" {
		if b, ok := reasoningEffortToBudget[effort]; ok {
			req.Thinking = &ir.ThinkingConfig{Enabled: true, BudgetTokens: intPtr(b)}
		}
	}

	for _, raw := range getSlice(native, "tools") {
		tm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		fn := getMap(tm, "function")
		if fn == nil {
			continue
		}
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        getString(fn, "name"),
			Description: getString(fn, "description"),
			Parameters:  getMap(fn, "parameters"),
		})
	}

	if tc, ok := native["tool_choice"]; ok {
		req.ToolChoice = openAIToolChoiceToInternal(tc)
	}

	if pt, ok := getBool(native, "parallel_tool_calls"); ok {
		req.ParallelToolCalls = &pt
	}

	if rf := getMap(native, "response_format"); rf != nil {
		cfg := &ir.ResponseFormatConfig{Type: getString(rf, "type")}
		if js := getMap(rf, "json_schema"); js != nil {
			cfg.JSONSchema = js
		}
		req.ResponseFormat = cfg
	}

	if wso := getMap(native, "web_search_options"); wso != nil {
		size := getString(wso, "search_context_size")
		if mu, ok := webSearchOpenAIToClaude[size]; ok {
			req.WebSearchMaxUses = intPtr(mu)
		}
	}

	return req, nil
}

func openAIToolChoiceToInternal(tc any) *ir.ToolChoice {
	switch v := tc.(type) {
	case string:
		switch v {
		case "auto":
			return &ir.ToolChoice{Type: ir.ToolChoiceAuto}
		case "required":
			return &ir.ToolChoice{Type: ir.ToolChoiceRequired}
		case "none":
			return &ir.ToolChoice{Type: ir.ToolChoiceNone}
		}
	case Chunk:
		if fn := getMap(v, "function"); fn != nil {
			return &ir.ToolChoice{Type: ir.ToolChoiceTool, ToolName: getString(fn, "name")}
		}
	}
	return nil
}

func openAIContentToText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, raw := range v {
			if part, ok := raw.(Chunk); ok && getString(part, "type") == "text" {
				sb.WriteString(getString(part, "text"))
			}
		}
		return sb.String()
	}
	return ""
}

func openAIMessageToInternal(m Chunk) (ir.InternalMessage, error) {
	role := ir.Role(getString(m, "role"))
	msg := ir.InternalMessage{Role: role}

	if role == ir.RoleTool {
		msg.Content = append(msg.Content, ir.ToolResultBlock{
			ToolUseID:      getString(m, "tool_call_id"),
			ContentText:    openAIContentToText(m["content"]),
			HasContentText: true,
		})
		return msg, nil
	}

	switch c := m["content"].(type) {
	case string:
		if c != "" || len(getSlice(m, "tool_calls")) == 0 {
			msg.Content = append(msg.Content, ir.TextBlock{Text: c})
		}
	case []any:
		for _, raw := range c {
			part, ok := raw.(Chunk)
			if !ok {
				continue
			}
			switch getString(part, "type") {
			case "text":
				msg.Content = append(msg.Content, ir.TextBlock{Text: getString(part, "text")})
			case "image_url":
				iu := getMap(part, "image_url")
				url := getString(iu, "url")
				if strings.HasPrefix(url, "data:") {
					data, mt := parseDataURL(url)
					msg.Content = append(msg.Content, ir.ImageBlock{Data: data, MediaType: mt})
				} else {
					msg.Content = append(msg.Content, ir.ImageBlock{URL: url})
				}
			}
		}
	}

	for _, raw := range getSlice(m, "tool_calls") {
		tc, ok := raw.(Chunk)
		if !ok {
			continue
		}
		fn := getMap(tc, "function")
		var input map[string]any
		if fn != nil {
			if args := getString(fn, "arguments"); args != "" {
				_ = json.Unmarshal([]byte(args), &input)
			}
		}
		msg.Content = append(msg.Content, ir.ToolUseBlock{
			ToolID:    getString(tc, "id"),
			ToolName:  getString(fn, "name"),
			ToolInput: input,
		})
	}

	return msg, nil
}

func parseDataURL(url string) (data, mediaType string) {
	rest := strings.TrimPrefix(url, "data:")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", ""
	}
	meta := strings.TrimSuffix(parts[0], ";base64")
	return parts[1], meta
}

// ---- request_from_internal ----

func (n *OpenAINormalizer) RequestFromInternal(req *ir.InternalRequest, targetVariant string) (Chunk, error) {
	out := Chunk{"model": req.Model}

	var messages []Chunk
	for _, seg := range req.Instructions {
		role := "system"
		if seg.Role == ir.RoleDeveloper {
			role = "developer"
		}
		messages = append(messages, Chunk{"role": role, "content": seg.Text})
	}
	for _, m := range req.Messages {
		rendered, err := openAIMessageFromInternal(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, rendered...)
	}
	out["messages"] = messages

	if req.MaxTokens != nil {
		out["max_tokens"] = *req.MaxTokens
	} else if req.OutputLimit != nil {
		out["max_tokens"] = *req.OutputLimit
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out["top_p"] = *req.TopP
	}
	if req.N != nil {
		out["n"] = *req.N
	}
	if req.PresencePenalty != nil {
		out["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		out["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.Seed != nil {
		out["seed"] = *req.Seed
	}
	if req.Logprobs != nil {
		out["logprobs"] = *req.Logprobs
	}
	if req.TopLogprobs != nil {
		out["top_logprobs"] = *req.TopLogprobs
	}
	if len(req.StopSequences) > 0 {
		out["stop"] = req.StopSequences
	}
	if req.Stream {
		out["stream"] = true
		out["stream_options"] = Chunk{"include_usage": true}
	}
	if req.Thinking != nil && req.Thinking.Enabled {
		budget := minThinkingBudget
		if req.Thinking.BudgetTokens != nil {
			budget = *req.Thinking.BudgetTokens
		}
		out["reasoning_effort"] = budgetToReasoningEffort(budget)
	}

	if len(req.Tools) > 0 {
		var tools []Chunk
		for _, t := range req.Tools {
			tools = append(tools, Chunk{
				"type": "function",
				"function": Chunk{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		out["tools"] = tools
	}
	if req.ToolChoice != nil {
		out["tool_choice"] = openAIToolChoiceFromInternal(req.ToolChoice)
	}
	if req.ParallelToolCalls != nil {
		out["parallel_tool_calls"] = *req.ParallelToolCalls
	}
	if req.ResponseFormat != nil {
		rf := Chunk{"type": req.ResponseFormat.Type}
		if req.ResponseFormat.JSONSchema != nil {
			rf["json_schema"] = req.ResponseFormat.JSONSchema
		}
		out["response_format"] = rf
	}
	if req.WebSearchMaxUses != nil {
		out["web_search_options"] = Chunk{
			"search_context_size": webSearchClaudeToOpenAI(*req.WebSearchMaxUses),
		}
	}

	return out, nil
}

func openAIToolChoiceFromInternal(tc *ir.ToolChoice) any {
	switch tc.Type {
	case ir.ToolChoiceRequired:
		return "required"
	case ir.ToolChoiceNone:
		return "none"
	case ir.ToolChoiceTool:
		return Chunk{"type": "function", "function": Chunk{"name": tc.ToolName}}
	default:
		return "auto"
	}
}

func openAIMessageFromInternal(m ir.InternalMessage) ([]Chunk, error) {
	if m.Role == ir.RoleTool {
		var out []Chunk
		for _, b := range m.Content {
			tr, ok := b.(ir.ToolResultBlock)
			if !ok {
				continue
			}
			content := tr.ContentText
			if !tr.HasContentText && tr.Output != nil {
				data, _ := json.Marshal(tr.Output)
				content = string(data)
			}
			out = append(out, Chunk{"role": "tool", "tool_call_id": tr.ToolUseID, "content": content})
		}
		return out, nil
	}

	msg := Chunk{"role": string(m.Role)}
	var textParts []string
	var toolCalls []Chunk
	var parts []Chunk
	hasImage := false
	for _, b := range m.Content {
		switch v := b.(type) {
		case ir.TextBlock:
			textParts = append(textParts, v.Text)
			parts = append(parts, Chunk{"type": "text", "text": v.Text})
		case ir.ToolUseBlock:
			args, _ := json.Marshal(v.ToolInput)
			toolCalls = append(toolCalls, Chunk{
				"id":   v.ToolID,
				"type": "function",
				"function": Chunk{
					"name":      v.ToolName,
					"arguments": string(args),
				},
			})
		case ir.ImageBlock:
			hasImage = true
			url := v.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", v.MediaType, v.Data)
			}
			parts = append(parts, Chunk{"type": "image_url", "image_url": Chunk{"url": url}})
		default:
			return nil, fmt.Errorf("openai: unsupported content block %T in %s message", b, m.Role)
		}
	}
	switch {
	case hasImage:
		msg["content"] = parts
	case len(textParts) > 0:
		msg["content"] = strings.Join(textParts, "")
	default:
		msg["content"] = nil
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return []Chunk{msg}, nil
}

// ---- response_to_internal / response_from_internal ----

func (n *OpenAINormalizer) ResponseToInternal(native Chunk) (*ir.InternalResponse, error) {
	resp := &ir.InternalResponse{
		ID:    getString(native, "id"),
		Model: getString(native, "model"),
	}
	choices := getSlice(native, "choices")
	if len(choices) == 0 {
		return resp, nil
	}
	choice, ok := choices[0].(Chunk)
	if !ok {
		return resp, nil
	}
	msg := getMap(choice, "message")
	if msg != nil {
		im, err := openAIMessageToInternal(msg)
		if err != nil {
			return nil, err
		}
		resp.Content = im.Content
	}
	resp.StopReason = ir.StopReason(mapOr(openAIFinishToIR, getString(choice, "finish_reason"), "unknown"))

	if u := getMap(native, "usage"); u != nil {
		usage := &ir.UsageInfo{}
		allZero := true
		if v, ok := getFloat(u, "prompt_tokens"); ok {
			usage.InputTokens = int(v)
			allZero = allZero && v == 0
		}
		if v, ok := getFloat(u, "completion_tokens"); ok {
			usage.OutputTokens = int(v)
			allZero = allZero && v == 0
		}
		if v, ok := getFloat(u, "total_tokens"); ok {
			usage.TotalTokens = int(v)
			allZero = allZero && v == 0
		}
		if details := getMap(u, "prompt_tokens_details"); details != nil {
			if v, ok := getFloat(details, "cached_tokens"); ok {
				usage.CacheReadTokens = int(v)
			}
		}
		if !allZero {
			usage.Normalize()
			resp.Usage = usage
		}
	}
	return resp, nil
}

func (n *OpenAINormalizer) ResponseFromInternal(resp *ir.InternalResponse, requestedModel string) (Chunk, error) {
	model := resp.Model
	if requestedModel != "" {
		model = requestedModel
	}
	rendered, err := openAIMessageFromInternal(ir.InternalMessage{Role: ir.RoleAssistant, Content: resp.Content})
	if err != nil {
		return nil, err
	}
	msg := rendered[0]
	out := Chunk{
		"id":     resp.ID,
		"object": "chat.completion",
		"model":  model,
		"choices": []Chunk{{
			"index":         0,
			"message":       msg,
			"finish_reason": mapOr(irStopToOpenAI, string(resp.StopReason), "stop"),
		}},
	}
	if resp.Usage != nil {
		out["usage"] = Chunk{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ---- errors ----

func (n *OpenAINormalizer) IsErrorResponse(body Chunk) bool {
	return getMap(body, "error") != nil
}

var openAIErrorTypeMap = map[string]ir.ErrorType{
	"invalid_request_error": ir.ErrInvalidRequest,
	"authentication_error":  ir.ErrAuthentication,
	"permission_error":      ir.ErrPermissionDenied,
	"not_found_error":       ir.ErrNotFound,
	"rate_limit_error":      ir.ErrRateLimit,
	"server_error":          ir.ErrServerError,
	"context_length_exceeded": ir.ErrContextLengthExceeded,
}

func (n *OpenAINormalizer) ErrorToInternal(native Chunk) (*ir.InternalError, error) {
	e := getMap(native, "error")
	if e == nil {
		e = native
	}
	code := getString(e, "code")
	t, ok := openAIErrorTypeMap[getString(e, "type")]
	if !ok {
		if code == "context_length_exceeded" {
			t = ir.ErrContextLengthExceeded
		} else {
			t = ir.ErrUnknown
		}
	}
	return &ir.InternalError{
		Type:      t,
		Message:   getString(e, "message"),
		Code:      code,
		Param:     getString(e, "param"),
		Retryable: t.Retryable(),
	}, nil
}

func (n *OpenAINormalizer) ErrorFromInternal(err *ir.InternalError) (Chunk, error) {
	nativeType := "server_error"
	for k, v := range openAIErrorTypeMap {
		if v == err.Type {
			nativeType = k
			break
		}
	}
	return Chunk{"error": Chunk{
		"message": err.Message,
		"type":    nativeType,
		"param":   err.Param,
		"code":    err.Code,
	}}, nil
}

// ---- streaming ----
//
// Grounded on the teacher's convertOpenAIToAnthropicStream / handleTextContent /
// handleToolCalls / calculateArgumentsDelta: OpenAI streams full cumulative
// tool-call argument strings are NOT guaranteed (most providers send true
// incremental fragments), but some OpenAI-compatible backends resend the
// whole prefix each chunk, so the teacher diffs against what it already
// emitted. We keep that prefix-diff behavior per tool-call index.

type openAIToolCallState struct {
	id       string
	name     string
	sentArgs string
}

type openAIStreamState struct {
	blockIndex     int
	textOpened     bool
	toolsByIndex   map[int]*openAIToolCallState
	nextBlock      int
	messageStarted bool
	openBlocks     []int
}

func (n *OpenAINormalizer) state(s *ir.StreamState) *openAIStreamState {
	v, _ := s.State(FormatOpenAIChat).(*openAIStreamState)
	if v == nil {
		v = &openAIStreamState{toolsByIndex: make(map[int]*openAIToolCallState)}
		s.SetState(FormatOpenAIChat, v)
	}
	return v
}

func (n *OpenAINormalizer) StreamChunkToInternal(chunk Chunk, state *ir.StreamState) ([]ir.StreamEvent, error) {
	st := n.state(state)
	var events []ir.StreamEvent

	if getMap(chunk, "error") != nil {
		e, _ := n.ErrorToInternal(chunk)
		return []ir.StreamEvent{ir.ErrorEvent{Error: *e}}, nil
	}

	if !st.messageStarted {
		st.messageStarted = true
		msgID := getString(chunk, "id")
		if msgID == "" {
			msgID = state.MessageID
		}
		model := state.Model
		if model == "" {
			model = getString(chunk, "model")
		}
		events = append(events, ir.MessageStartEvent{MessageID: msgID, Model: model})
	}

	choices := getSlice(chunk, "choices")
	if len(choices) == 0 {
		if u := getMap(chunk, "usage"); u != nil {
			usage := &ir.UsageInfo{}
			if v, ok := getFloat(u, "prompt_tokens"); ok {
				usage.InputTokens = int(v)
			}
			if v, ok := getFloat(u, "completion_tokens"); ok {
				usage.OutputTokens = int(v)
			}
			usage.Normalize()
			events = append(events, ir.UsageEvent{Usage: usage})
		}
		return events, nil
	}
	choice, ok := choices[0].(Chunk)
	if !ok {
		return nil, nil
	}
	delta := getMap(choice, "delta")
	if delta != nil {
		if text := getString(delta, "content"); text != "" {
			if !st.textOpened {
				events = append(events, ir.ContentBlockStartEvent{BlockIndex: st.nextBlock, BlockType: ir.ContentText})
				st.blockIndex = st.nextBlock
				st.nextBlock++
				st.textOpened = true
				st.openBlocks = append(st.openBlocks, st.blockIndex)
			}
			events = append(events, ir.ContentDeltaEvent{BlockIndex: st.blockIndex, TextDelta: text})
		}
		for _, raw := range getSlice(delta, "tool_calls") {
			tcDelta, ok := raw.(Chunk)
			if !ok {
				continue
			}
			idx := int(mustFloat(tcDelta, "index"))
			tc, exists := st.toolsByIndex[idx]
			if !exists {
				blockIdx := st.nextBlock
				st.nextBlock++
				tc = &openAIToolCallState{}
				st.toolsByIndex[idx] = tc
				fn := getMap(tcDelta, "function")
				if id := getString(tcDelta, "id"); id != "" {
					tc.id = id
				}
				if fn != nil {
					tc.name = getString(fn, "name")
				}
				events = append(events, ir.ContentBlockStartEvent{
					BlockIndex: blockIdx, BlockType: ir.ContentToolUse, ToolID: tc.id, ToolName: tc.name,
				})
				st.openBlocks = append(st.openBlocks, blockIdx)
				state.SetState(fmt.Sprintf("%s:block:%d", FormatOpenAIChat, idx), blockIdx)
			}
			blockIdx, _ := state.State(fmt.Sprintf("%s:block:%d", FormatOpenAIChat, idx)).(int)
			fn := getMap(tcDelta, "function")
			if fn != nil {
				if args := getString(fn, "arguments"); args != "" {
					events = append(events, ir.ToolCallDeltaEvent{
						BlockIndex: blockIdx, ToolID: tc.id, InputDelta: toolArgsDelta(tc, args),
					})
				}
			}
		}
	}

	if fr := getString(choice, "finish_reason"); fr != "" {
		for _, bi := range st.openBlocks {
			events = append(events, ir.ContentBlockStopEvent{BlockIndex: bi})
		}
		st.openBlocks = nil
		events = append(events, ir.MessageStopEvent{StopReason: ir.StopReason(mapOr(openAIFinishToIR, fr, "unknown"))})
	}
	return events, nil
}

// toolArgsDelta returns only the newly-added suffix when the provider resends
// a cumulative prefix, or the whole fragment when it doesn't — matching the
// teacher's calculateArgumentsDelta.
func toolArgsDelta(tc *openAIToolCallState, args string) string {
	if strings.HasPrefix(args, tc.sentArgs) {
		delta := args[len(tc.sentArgs):]
		tc.sentArgs = args
		return delta
	}
	tc.sentArgs += args
	return args
}

func (n *OpenAINormalizer) StreamEventFromInternal(event ir.StreamEvent, state *ir.StreamState) ([]Chunk, error) {
	base := func(delta Chunk, finish any) Chunk {
		c := Chunk{
			"id":      state.MessageID,
			"object":  "chat.completion.chunk",
			"model":   state.Model,
			"choices": []Chunk{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
		return c
	}
	switch e := event.(type) {
	case ir.MessageStartEvent:
		return []Chunk{base(Chunk{"role": "assistant", "content": nil}, nil)}, nil
	case ir.ContentBlockStartEvent:
		if e.BlockType == ir.ContentToolUse {
			return []Chunk{base(Chunk{"tool_calls": []Chunk{{
				"index": e.BlockIndex, "id": e.ToolID, "type": "function",
				"function": Chunk{"name": e.ToolName, "arguments": ""},
			}}}, nil)}, nil
		}
		return nil, nil
	case ir.ContentDeltaEvent:
		return []Chunk{base(Chunk{"content": e.TextDelta}, nil)}, nil
	case ir.ToolCallDeltaEvent:
		return []Chunk{base(Chunk{"tool_calls": []Chunk{{
			"index": e.BlockIndex, "function": Chunk{"arguments": e.InputDelta},
		}}}, nil)}, nil
	case ir.ContentBlockStopEvent:
		return nil, nil
	case ir.UsageEvent:
		if e.Usage == nil {
			return nil, nil
		}
		return []Chunk{{
			"id": state.MessageID, "object": "chat.completion.chunk", "model": state.Model,
			"choices": []Chunk{},
			"usage": Chunk{
				"prompt_tokens": e.Usage.InputTokens, "completion_tokens": e.Usage.OutputTokens,
				"total_tokens": e.Usage.TotalTokens,
			},
		}}, nil
	case ir.MessageStopEvent:
		return []Chunk{base(Chunk{}, mapOr(irStopToOpenAI, string(e.StopReason), "stop"))}, nil
	case ir.ErrorEvent:
		body, _ := n.ErrorFromInternal(&e.Error)
		return []Chunk{body}, nil
	default:
		return nil, nil
	}
}

func (n *OpenAINormalizer) FormatSSE(chunk Chunk) []byte {
	data, _ := json.Marshal(chunk)
	return []byte("data: " + string(data) + "\n\n")
}

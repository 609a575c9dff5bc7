package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nullform/llmgateway/internal/ir"
)

// ClaudeNormalizer implements the Anthropic Messages API wire format,
// grounded on the teacher's internal/providers/base.go (shared Anthropic
// response structs + SSE event builders + stop-reason table) and on
// original_source's description of the system/cache_control and thinking
// rules (spec §4.1 "Claude").
type ClaudeNormalizer struct {
	// variant distinguishes Claude ("claude:chat") from Claude CLI
	// ("claude:cli"); the wire shape is identical and Capabilities() is the
	// same for both, only FormatID differs (spec §4.1 "Claude CLI").
	variant string
}

func NewClaudeNormalizer() *ClaudeNormalizer      { return &ClaudeNormalizer{variant: FormatClaudeChat} }
func NewClaudeCLINormalizer() *ClaudeNormalizer    { return &ClaudeNormalizer{variant: FormatClaudeCLI} }

func (n *ClaudeNormalizer) FormatID() string { return n.variant }

func (n *ClaudeNormalizer) Capabilities() ir.FormatCapabilities {
	return ir.FormatCapabilities{
		SupportsStream:          true,
		SupportsErrorConversion: true,
		SupportsTools:           true,
		SupportsImages:          true,
	}
}

const defaultClaudeMaxTokens = 8192
const minThinkingBudget = 1024

// ---- request_to_internal ----

func (n *ClaudeNormalizer) RequestToInternal(native Chunk) (*ir.InternalRequest, error) {
	req := &ir.InternalRequest{
		Model: getString(native, "model"),
		Extra: make(map[string]any),
	}

	// system: string or array of {type:text, text, cache_control?}
	if sys, ok := native["system"]; ok {
		switch v := sys.(type) {
		case string:
			if v != "" {
				req.Instructions = append(req.Instructions, ir.InstructionSegment{Role: ir.RoleSystem, Text: v})
			}
		case []any:
			for _, part := range v {
				pm, ok := part.(Chunk)
				if !ok {
					continue
				}
				req.Instructions = append(req.Instructions, ir.InstructionSegment{
					Role:  ir.RoleSystem,
					Text:  getString(pm, "text"),
					Extra: extraWithout(pm, "type", "text"),
				})
			}
		}
	}

	for _, raw := range getSlice(native, "messages") {
		m, ok := raw.(Chunk)
		if !ok {
			continue
		}
		msg, err := n.messageToInternal(m)
		if err != nil {
			return nil, err
		}
		// Stray system/developer entries hoisted into instructions.
		if msg.Role == ir.RoleSystem || msg.Role == ir.RoleDeveloper {
			for _, b := range msg.Content {
				if t, ok := b.(ir.TextBlock); ok {
					req.Instructions = append(req.Instructions, ir.InstructionSegment{Role: msg.Role, Text: t.Text})
				}
			}
			continue
		}
		req.Messages = append(req.Messages, msg)
	}
	req.System = joinInstructions(req.Instructions)

	if mt, ok := getFloat(native, "max_tokens"); ok {
		req.MaxTokens = intPtr(int(mt))
	}
	if t, ok := getFloat(native, "temperature"); ok {
		req.Temperature = float64Ptr(t)
	}
	if tp, ok := getFloat(native, "top_p"); ok {
		req.TopP = float64Ptr(tp)
	}
	if tk, ok := getFloat(native, "top_k"); ok {
		req.TopK = intPtr(int(tk))
	}
	for _, s := range getSlice(native, "stop_sequences") {
		if ss, ok := s.(string); ok {
			req.StopSequences = append(req.StopSequences, ss)
		}
	}
	if b, ok := getBool(native, "stream"); ok {
		req.Stream = b
	}

	for _, raw := range getSlice(native, "tools") {
		tm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		// The web_search server tool carries a max_uses knob instead of an
		// input_schema; pull it out onto the request rather than exposing it
		// as a regular ToolDefinition (spec §4.1 cross-format knobs).
		if strings.HasPrefix(getString(tm, "type"), "web_search") {
			if mu, ok := getFloat(tm, "max_uses"); ok {
				req.WebSearchMaxUses = intPtr(int(mu))
			}
			continue
		}
		td := ir.ToolDefinition{
			Name:        getString(tm, "name"),
			Description: getString(tm, "description"),
			Parameters:  getMap(tm, "input_schema"),
		}
		req.Tools = append(req.Tools, td)
	}

	if tc, ok := native["tool_choice"]; ok {
		if tcm, ok := tc.(Chunk); ok {
			req.ToolChoice = claudeToolChoiceToInternal(tcm)
		}
	}

	if th, ok := native["thinking"].(Chunk); ok {
		enabled := getString(th, "type") == "enabled"
		cfg := &ir.ThinkingConfig{Enabled: enabled}
		if bt, ok := getFloat(th, "budget_tokens"); ok {
			cfg.BudgetTokens = intPtr(int(bt))
		}
		req.Thinking = cfg
	}

	return req, nil
}

func claudeToolChoiceToInternal(tcm Chunk) *ir.ToolChoice {
	switch getString(tcm, "type") {
	case "auto":
		return &ir.ToolChoice{Type: ir.ToolChoiceAuto}
	case "any":
		return &ir.ToolChoice{Type: ir.ToolChoiceRequired}
	case "tool":
		return &ir.ToolChoice{Type: ir.ToolChoiceTool, ToolName: getString(tcm, "name")}
	case "none":
		return &ir.ToolChoice{Type: ir.ToolChoiceNone}
	}
	return nil
}

func (n *ClaudeNormalizer) messageToInternal(m Chunk) (ir.InternalMessage, error) {
	role := ir.Role(getString(m, "role"))
	msg := ir.InternalMessage{Role: role}

	switch c := m["content"].(type) {
	case string:
		msg.Content = append(msg.Content, ir.TextBlock{Text: c})
	case []any:
		for _, raw := range c {
			bm, ok := raw.(Chunk)
			if !ok {
				continue
			}
			block, err := claudeBlockToInternal(bm)
			if err != nil {
				return msg, err
			}
			msg.Content = append(msg.Content, block)
		}
	}
	return msg, nil
}

func claudeBlockToInternal(bm Chunk) (ir.ContentBlock, error) {
	switch getString(bm, "type") {
	case "text":
		return ir.TextBlock{Text: getString(bm, "text"), Extra: extraWithout(bm, "type", "text")}, nil
	case "thinking":
		return ir.ThinkingBlock{
			Thinking:  getString(bm, "thinking"),
			Signature: getString(bm, "signature"),
		}, nil
	case "image":
		src := getMap(bm, "source")
		blk := ir.ImageBlock{}
		if src != nil {
			if getString(src, "type") == "url" {
				blk.URL = getString(src, "url")
			} else {
				blk.Data = getString(src, "data")
				blk.MediaType = getString(src, "media_type")
			}
		}
		return blk, nil
	case "document":
		src := getMap(bm, "source")
		blk := ir.FileBlock{}
		if src != nil {
			blk.Data = getString(src, "data")
			blk.MediaType = getString(src, "media_type")
		}
		return blk, nil
	case "tool_use":
		return ir.ToolUseBlock{
			ToolID:    getString(bm, "id"),
			ToolName:  getString(bm, "name"),
			ToolInput: getMap(bm, "input"),
		}, nil
	case "tool_result":
		blk := ir.ToolResultBlock{ToolUseID: getString(bm, "tool_use_id")}
		if isErr, ok := getBool(bm, "is_error"); ok {
			blk.IsError = isErr
		}
		switch c := bm["content"].(type) {
		case string:
			blk.ContentText = c
			blk.HasContentText = true
		case []any:
			var sb strings.Builder
			for _, raw := range c {
				if part, ok := raw.(Chunk); ok && getString(part, "type") == "text" {
					sb.WriteString(getString(part, "text"))
				}
			}
			blk.ContentText = sb.String()
			blk.HasContentText = true
			blk.Output = c
		default:
			blk.Output = c
		}
		return blk, nil
	default:
		return ir.UnknownBlock{RawType: getString(bm, "type"), Payload: bm}, nil
	}
}

// ---- request_from_internal ----

func (n *ClaudeNormalizer) RequestFromInternal(req *ir.InternalRequest, targetVariant string) (Chunk, error) {
	out := Chunk{"model": req.Model}

	// system: emit array form only if any segment carries cache_control,
	// else the plain joined string (spec §4.1 "Claude").
	hasCacheControl := false
	for _, seg := range req.Instructions {
		if seg.Extra != nil {
			if _, ok := seg.Extra["cache_control"]; ok {
				hasCacheControl = true
				break
			}
		}
	}
	if hasCacheControl {
		var parts []Chunk
		for _, seg := range req.Instructions {
			p := Chunk{"type": "text", "text": seg.Text}
			if seg.Extra != nil {
				if cc, ok := seg.Extra["cache_control"]; ok {
					p["cache_control"] = cc
				}
			}
			parts = append(parts, p)
		}
		out["system"] = parts
	} else if req.System != "" {
		out["system"] = req.System
	}

	msgs := mergeConsecutiveSameRole(req.Messages)
	if len(msgs) > 0 && msgs[0].Role != ir.RoleUser {
		msgs = append([]ir.InternalMessage{{Role: ir.RoleUser, Content: []ir.ContentBlock{ir.TextBlock{Text: ""}}}}, msgs...)
	}
	var rendered []Chunk
	for _, m := range msgs {
		rm, err := claudeMessageFromInternal(m)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, rm)
	}
	out["messages"] = rendered

	maxTokens := defaultClaudeMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	} else if req.OutputLimit != nil {
		maxTokens = *req.OutputLimit
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		budget := minThinkingBudget
		if req.Thinking.BudgetTokens != nil && *req.Thinking.BudgetTokens > budget {
			budget = *req.Thinking.BudgetTokens
		}
		if budget >= maxTokens {
			maxTokens = budget + 1
		}
		out["thinking"] = Chunk{"type": "enabled", "budget_tokens": budget}
	}
	out["max_tokens"] = maxTokens

	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		out["top_k"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		out["stop_sequences"] = req.StopSequences
	}
	if req.Stream {
		out["stream"] = true
	}

	var tools []Chunk
	for _, t := range req.Tools {
		tools = append(tools, Chunk{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}
	if req.WebSearchMaxUses != nil {
		tools = append(tools, Chunk{
			"type":     "web_search_20250305",
			"name":     "web_search",
			"max_uses": *req.WebSearchMaxUses,
		})
	}
	if len(tools) > 0 {
		out["tools"] = tools
	}
	if req.ToolChoice != nil {
		out["tool_choice"] = claudeToolChoiceFromInternal(req.ToolChoice)
	}

	return out, nil
}

func claudeToolChoiceFromInternal(tc *ir.ToolChoice) Chunk {
	switch tc.Type {
	case ir.ToolChoiceRequired:
		return Chunk{"type": "any"}
	case ir.ToolChoiceTool:
		return Chunk{"type": "tool", "name": tc.ToolName}
	case ir.ToolChoiceNone:
		return Chunk{"type": "none"}
	default:
		return Chunk{"type": "auto"}
	}
}

func mergeConsecutiveSameRole(msgs []ir.InternalMessage) []ir.InternalMessage {
	if len(msgs) == 0 {
		return msgs
	}
	out := []ir.InternalMessage{msgs[0]}
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Content = append(last.Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

func claudeMessageFromInternal(m ir.InternalMessage) (Chunk, error) {
	var blocks []Chunk
	for _, b := range m.Content {
		blk, err := claudeBlockFromInternal(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return Chunk{"role": string(m.Role), "content": blocks}, nil
}

func claudeBlockFromInternal(b ir.ContentBlock) (Chunk, error) {
	switch v := b.(type) {
	case ir.TextBlock:
		return Chunk{"type": "text", "text": v.Text}, nil
	case ir.ThinkingBlock:
		m := Chunk{"type": "thinking", "thinking": v.Thinking}
		if v.Signature != "" {
			m["signature"] = v.Signature
		}
		return m, nil
	case ir.ImageBlock:
		if v.URL != "" {
			return Chunk{"type": "image", "source": Chunk{"type": "url", "url": v.URL}}, nil
		}
		return Chunk{"type": "image", "source": Chunk{"type": "base64", "media_type": v.MediaType, "data": v.Data}}, nil
	case ir.FileBlock:
		return Chunk{"type": "document", "source": Chunk{"type": "base64", "media_type": v.MediaType, "data": v.Data}}, nil
	case ir.ToolUseBlock:
		return Chunk{"type": "tool_use", "id": v.ToolID, "name": v.ToolName, "input": v.ToolInput}, nil
	case ir.ToolResultBlock:
		m := Chunk{"type": "tool_result", "tool_use_id": v.ToolUseID}
		if v.IsError {
			m["is_error"] = true
		}
		if v.HasContentText {
			m["content"] = v.ContentText
		} else if v.Output != nil {
			if s, ok := v.Output.(string); ok {
				m["content"] = s
			} else {
				data, _ := json.Marshal(v.Output)
				m["content"] = string(data)
			}
		} else {
			m["content"] = ""
		}
		return m, nil
	case ir.UnknownBlock:
		out := Chunk{}
		for k, val := range v.Payload {
			out[k] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("claude: unsupported content block %T", b)
	}
}

// ---- response_to_internal / response_from_internal ----

func (n *ClaudeNormalizer) ResponseToInternal(native Chunk) (*ir.InternalResponse, error) {
	resp := &ir.InternalResponse{
		ID:    getString(native, "id"),
		Model: getString(native, "model"),
	}
	for _, raw := range getSlice(native, "content") {
		bm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		blk, err := claudeBlockToInternal(bm)
		if err != nil {
			return nil, err
		}
		resp.Content = append(resp.Content, blk)
	}
	if sr := getString(native, "stop_reason"); sr != "" {
		resp.StopReason = ir.StopReason(mapOr(claudeStopToIR, sr, "unknown"))
	}
	if u := getMap(native, "usage"); u != nil {
		usage := &ir.UsageInfo{}
		if v, ok := getFloat(u, "input_tokens"); ok {
			usage.InputTokens = int(v)
		}
		if v, ok := getFloat(u, "output_tokens"); ok {
			usage.OutputTokens = int(v)
		}
		if v, ok := getFloat(u, "cache_read_input_tokens"); ok {
			usage.CacheReadTokens = int(v)
		}
		if v, ok := getFloat(u, "cache_creation_input_tokens"); ok {
			usage.CacheWriteTokens = int(v)
		}
		usage.Normalize()
		resp.Usage = usage
	}
	return resp, nil
}

func (n *ClaudeNormalizer) ResponseFromInternal(resp *ir.InternalResponse, requestedModel string) (Chunk, error) {
	model := resp.Model
	if requestedModel != "" {
		model = requestedModel
	}
	var blocks []Chunk
	for _, b := range resp.Content {
		blk, err := claudeBlockFromInternal(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	out := Chunk{
		"id":      resp.ID,
		"type":    "message",
		"role":    "assistant",
		"model":   model,
		"content": blocks,
	}
	if resp.StopReason != "" {
		out["stop_reason"] = mapOr(irStopToClaude, string(resp.StopReason), "end_turn")
	}
	if resp.Usage != nil {
		out["usage"] = Chunk{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

// ---- errors ----

func (n *ClaudeNormalizer) IsErrorResponse(body Chunk) bool {
	return getString(body, "type") == "error" || getMap(body, "error") != nil
}

func (n *ClaudeNormalizer) ErrorToInternal(native Chunk) (*ir.InternalError, error) {
	e := getMap(native, "error")
	if e == nil {
		e = native
	}
	t := claudeErrorTypeToIR(getString(e, "type"))
	return &ir.InternalError{
		Type:      t,
		Message:   getString(e, "message"),
		Retryable: t.Retryable(),
	}, nil
}

func (n *ClaudeNormalizer) ErrorFromInternal(err *ir.InternalError) (Chunk, error) {
	return Chunk{
		"type": "error",
		"error": Chunk{
			"type":    irErrorTypeToClaude(err.Type),
			"message": err.Message,
		},
	}, nil
}

var claudeErrorTypeMap = map[string]ir.ErrorType{
	"invalid_request_error": ir.ErrInvalidRequest,
	"authentication_error":  ir.ErrAuthentication,
	"permission_error":      ir.ErrPermissionDenied,
	"not_found_error":       ir.ErrNotFound,
	"rate_limit_error":      ir.ErrRateLimit,
	"overloaded_error":      ir.ErrOverloaded,
	"api_error":             ir.ErrServerError,
}

func claudeErrorTypeToIR(t string) ir.ErrorType {
	if v, ok := claudeErrorTypeMap[t]; ok {
		return v
	}
	return ir.ErrUnknown
}

func irErrorTypeToClaude(t ir.ErrorType) string {
	for k, v := range claudeErrorTypeMap {
		if v == t {
			return k
		}
	}
	return "api_error"
}

// ---- streaming ----

type claudeStreamState struct {
	nextIndex   int
	openByIndex map[int]string // index -> block type ("text"|"tool_use"|"thinking")
	toolIDs     map[int]string // index -> tool_use block id
}

func (n *ClaudeNormalizer) state(s *ir.StreamState) *claudeStreamState {
	v, _ := s.State(n.variant).(*claudeStreamState)
	if v == nil {
		v = &claudeStreamState{openByIndex: make(map[int]string), toolIDs: make(map[int]string)}
		s.SetState(n.variant, v)
	}
	return v
}

func (n *ClaudeNormalizer) StreamChunkToInternal(chunk Chunk, state *ir.StreamState) ([]ir.StreamEvent, error) {
	st := n.state(state)
	switch getString(chunk, "type") {
	case "message_start":
		msg := getMap(chunk, "message")
		ev := ir.MessageStartEvent{Model: state.Model, MessageID: state.MessageID}
		if msg != nil {
			if id := getString(msg, "id"); id != "" {
				ev.MessageID = id
			}
			if u := getMap(msg, "usage"); u != nil {
				usage := &ir.UsageInfo{}
				if v, ok := getFloat(u, "input_tokens"); ok {
					usage.InputTokens = int(v)
				}
				usage.Normalize()
				ev.Usage = usage
			}
		}
		return []ir.StreamEvent{ev}, nil
	case "content_block_start":
		idx := int(mustFloat(chunk, "index"))
		cb := getMap(chunk, "content_block")
		blockType := getString(cb, "type")
		st.openByIndex[idx] = blockType
		ev := ir.ContentBlockStartEvent{BlockIndex: idx}
		switch blockType {
		case "tool_use":
			ev.BlockType = ir.ContentToolUse
			ev.ToolID = getString(cb, "id")
			ev.ToolName = getString(cb, "name")
			st.toolIDs[idx] = ev.ToolID
		case "thinking":
			ev.BlockType = ir.ContentThinking
		default:
			ev.BlockType = ir.ContentText
		}
		return []ir.StreamEvent{ev}, nil
	case "content_block_delta":
		idx := int(mustFloat(chunk, "index"))
		delta := getMap(chunk, "delta")
		switch getString(delta, "type") {
		case "text_delta":
			return []ir.StreamEvent{ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: getString(delta, "text")}}, nil
		case "input_json_delta":
			return []ir.StreamEvent{ir.ToolCallDeltaEvent{BlockIndex: idx, ToolID: st.toolIDs[idx], InputDelta: getString(delta, "partial_json")}}, nil
		case "thinking_delta":
			return []ir.StreamEvent{ir.ContentDeltaEvent{BlockIndex: idx, TextDelta: getString(delta, "thinking")}}, nil
		}
		return nil, nil
	case "content_block_stop":
		idx := int(mustFloat(chunk, "index"))
		delete(st.openByIndex, idx)
		return []ir.StreamEvent{ir.ContentBlockStopEvent{BlockIndex: idx}}, nil
	case "message_delta":
		var events []ir.StreamEvent
		delta := getMap(chunk, "delta")
		var usage *ir.UsageInfo
		if u := getMap(chunk, "usage"); u != nil {
			usage = &ir.UsageInfo{}
			if v, ok := getFloat(u, "output_tokens"); ok {
				usage.OutputTokens = int(v)
			}
			usage.Normalize()
		}
		if usage != nil {
			events = append(events, ir.UsageEvent{Usage: usage})
		}
		if delta != nil {
			if sr := getString(delta, "stop_reason"); sr != "" {
				events = append(events, ir.MessageStopEvent{StopReason: ir.StopReason(mapOr(claudeStopToIR, sr, "unknown")), Usage: usage})
				return events, nil
			}
		}
		return events, nil
	case "message_stop":
		return []ir.StreamEvent{ir.MessageStopEvent{}}, nil
	case "error":
		e, _ := n.ErrorToInternal(chunk)
		return []ir.StreamEvent{ir.ErrorEvent{Error: *e}}, nil
	case "ping":
		return nil, nil
	default:
		return []ir.StreamEvent{ir.UnknownStreamEvent{RawType: getString(chunk, "type"), Payload: chunk}}, nil
	}
}

func (n *ClaudeNormalizer) StreamEventFromInternal(event ir.StreamEvent, state *ir.StreamState) ([]Chunk, error) {
	switch e := event.(type) {
	case ir.MessageStartEvent:
		usage := Chunk{"input_tokens": 0, "output_tokens": 0}
		if e.Usage != nil {
			usage["input_tokens"] = e.Usage.InputTokens
		}
		return []Chunk{{
			"type": "message_start",
			"message": Chunk{
				"id": e.MessageID, "type": "message", "role": "assistant",
				"model": e.Model, "content": []any{},
				"stop_reason": nil, "stop_sequence": nil, "usage": usage,
			},
		}}, nil
	case ir.ContentBlockStartEvent:
		var cb Chunk
		switch e.BlockType {
		case ir.ContentToolUse:
			cb = Chunk{"type": "tool_use", "id": e.ToolID, "name": e.ToolName, "input": Chunk{}}
		case ir.ContentThinking:
			cb = Chunk{"type": "thinking", "thinking": ""}
		default:
			cb = Chunk{"type": "text", "text": ""}
		}
		return []Chunk{{"type": "content_block_start", "index": e.BlockIndex, "content_block": cb}}, nil
	case ir.ContentDeltaEvent:
		return []Chunk{{"type": "content_block_delta", "index": e.BlockIndex, "delta": Chunk{"type": "text_delta", "text": e.TextDelta}}}, nil
	case ir.ToolCallDeltaEvent:
		return []Chunk{{"type": "content_block_delta", "index": e.BlockIndex, "delta": Chunk{"type": "input_json_delta", "partial_json": e.InputDelta}}}, nil
	case ir.ContentBlockStopEvent:
		return []Chunk{{"type": "content_block_stop", "index": e.BlockIndex}}, nil
	case ir.UsageEvent:
		if e.Usage == nil {
			return nil, nil
		}
		return []Chunk{{"type": "message_delta", "delta": Chunk{}, "usage": Chunk{"output_tokens": e.Usage.OutputTokens}}}, nil
	case ir.MessageStopEvent:
		delta := Chunk{"stop_reason": mapOr(irStopToClaude, string(e.StopReason), "end_turn"), "stop_sequence": nil}
		msgDelta := Chunk{"type": "message_delta", "delta": delta}
		if e.Usage != nil {
			msgDelta["usage"] = Chunk{"output_tokens": e.Usage.OutputTokens}
		}
		return []Chunk{msgDelta, {"type": "message_stop"}}, nil
	case ir.ErrorEvent:
		body, _ := n.ErrorFromInternal(&e.Error)
		return []Chunk{body}, nil
	default:
		return nil, nil
	}
}

func (n *ClaudeNormalizer) FormatSSE(chunk Chunk) []byte {
	eventType := getString(chunk, "type")
	data, _ := json.Marshal(chunk)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))
}

func mustFloat(m Chunk, key string) float64 {
	v, _ := getFloat(m, key)
	return v
}

func joinInstructions(segs []ir.InstructionSegment) string {
	var parts []string
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func extraWithout(m Chunk, keys ...string) map[string]any {
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	out := make(map[string]any)
	for k, v := range m {
		if _, ok := skip[k]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

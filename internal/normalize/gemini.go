package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nullform/llmgateway/internal/ir"
)

// GeminiNormalizer implements the Gemini generateContent wire format,
// grounded on the teacher's internal/providers/gemini.go (convertGeminiContent,
// convertStopReason, mapGeminiErrorType, handleGeminiParts/handleTextContent/
// handleFunctionCall streaming helpers), generalized to target the IR instead
// of a hardcoded Anthropic shape (spec §4.1 "Gemini").
type GeminiNormalizer struct {
	variant string
}

func NewGeminiNormalizer() *GeminiNormalizer    { return &GeminiNormalizer{variant: FormatGeminiChat} }
func NewGeminiCLINormalizer() *GeminiNormalizer { return &GeminiNormalizer{variant: FormatGeminiCLI} }

func (n *GeminiNormalizer) FormatID() string { return n.variant }

func (n *GeminiNormalizer) Capabilities() ir.FormatCapabilities {
	return ir.FormatCapabilities{
		SupportsStream:          true,
		SupportsErrorConversion: true,
		SupportsTools:           true,
		SupportsImages:          true,
	}
}

// ---- request_to_internal ----

func (n *GeminiNormalizer) RequestToInternal(native Chunk) (*ir.InternalRequest, error) {
	req := &ir.InternalRequest{Model: getString(native, "model")}

	if si := getMap(native, "systemInstruction"); si != nil {
		req.Instructions = append(req.Instructions, ir.InstructionSegment{
			Role: ir.RoleSystem, Text: geminiPartsToText(getSlice(si, "parts")),
		})
	} else if si := getMap(native, "system_instruction"); si != nil {
		req.Instructions = append(req.Instructions, ir.InstructionSegment{
			Role: ir.RoleSystem, Text: geminiPartsToText(getSlice(si, "parts")),
		})
	}
	req.System = joinInstructions(req.Instructions)

	for _, raw := range getSlice(native, "contents") {
		cm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		msg, err := geminiContentToInternal(cm)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}

	if gc := getMap(native, "generationConfig"); gc != nil {
		if mt, ok := getFloat(gc, "maxOutputTokens"); ok {
			req.MaxTokens = intPtr(int(mt))
		}
		if t, ok := getFloat(gc, "temperature"); ok {
			req.Temperature = float64Ptr(t)
		}
		if tp, ok := getFloat(gc, "topP"); ok {
			req.TopP = float64Ptr(tp)
		}
		if tk, ok := getFloat(gc, "topK"); ok {
			req.TopK = intPtr(int(tk))
		}
		for _, s := range getSlice(gc, "stopSequences") {
			if ss, ok := s.(string); ok {
				req.StopSequences = append(req.StopSequences, ss)
			}
		}
	}

	for _, raw := range getSlice(native, "tools") {
		tm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		for _, fdRaw := range getSlice(tm, "functionDeclarations") {
			fd, ok := fdRaw.(Chunk)
			if !ok {
				continue
			}
			req.Tools = append(req.Tools, ir.ToolDefinition{
				Name:        getString(fd, "name"),
				Description: getString(fd, "description"),
				Parameters:  getMap(fd, "parameters"),
			})
		}
	}

	return req, nil
}

func geminiPartsToText(parts []any) string {
	var sb strings.Builder
	for _, raw := range parts {
		if p, ok := raw.(Chunk); ok {
			sb.WriteString(getString(p, "text"))
		}
	}
	return sb.String()
}

func geminiContentToInternal(cm Chunk) (ir.InternalMessage, error) {
	role := ir.RoleAssistant
	if getString(cm, "role") == "user" {
		role = ir.RoleUser
	}
	msg := ir.InternalMessage{Role: role}
	for _, raw := range getSlice(cm, "parts") {
		pm, ok := raw.(Chunk)
		if !ok {
			continue
		}
		if text := getString(pm, "text"); text != "" {
			msg.Content = append(msg.Content, ir.TextBlock{Text: text})
			continue
		}
		if fc := getMap(pm, "functionCall"); fc != nil {
			msg.Content = append(msg.Content, ir.ToolUseBlock{
				ToolName:  getString(fc, "name"),
				ToolInput: getMap(fc, "args"),
			})
			continue
		}
		if fr := getMap(pm, "functionResponse"); fr != nil {
			msg.Content = append(msg.Content, ir.ToolResultBlock{
				ToolName: getString(fr, "name"),
				Output:   fr["response"],
			})
			continue
		}
		if id := getMap(pm, "inlineData"); id != nil {
			msg.Content = append(msg.Content, ir.ImageBlock{
				Data:      getString(id, "data"),
				MediaType: getString(id, "mimeType"),
			})
		}
	}
	return msg, nil
}

// ---- request_from_internal ----

func (n *GeminiNormalizer) RequestFromInternal(req *ir.InternalRequest, targetVariant string) (Chunk, error) {
	out := Chunk{}
	if len(req.Instructions) > 0 {
		var parts []Chunk
		for _, seg := range req.Instructions {
			parts = append(parts, Chunk{"text": seg.Text})
		}
		out["systemInstruction"] = Chunk{"parts": parts}
	}

	var contents []Chunk
	for _, m := range req.Messages {
		rendered, err := geminiContentFromInternal(m)
		if err != nil {
			return nil, err
		}
		contents = append(contents, rendered)
	}
	out["contents"] = contents

	gc := Chunk{}
	if req.MaxTokens != nil {
		gc["maxOutputTokens"] = *req.MaxTokens
	} else if req.OutputLimit != nil {
		gc["maxOutputTokens"] = *req.OutputLimit
	}
	if req.Temperature != nil {
		gc["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		gc["topP"] = *req.TopP
	}
	if req.TopK != nil {
		gc["topK"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		gc["stopSequences"] = req.StopSequences
	}
	if len(gc) > 0 {
		out["generationConfig"] = gc
	}

	if len(req.Tools) > 0 {
		var decls []Chunk
		for _, t := range req.Tools {
			decls = append(decls, Chunk{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		out["tools"] = []Chunk{{"functionDeclarations": decls}}
	}

	return out, nil
}

func geminiContentFromInternal(m ir.InternalMessage) (Chunk, error) {
	role := "model"
	if m.Role == ir.RoleUser || m.Role == ir.RoleTool {
		role = "user"
	}
	var parts []Chunk
	for _, b := range m.Content {
		switch v := b.(type) {
		case ir.TextBlock:
			parts = append(parts, Chunk{"text": v.Text})
		case ir.ToolUseBlock:
			parts = append(parts, Chunk{"functionCall": Chunk{"name": v.ToolName, "args": v.ToolInput}})
		case ir.ToolResultBlock:
			resp := v.Output
			if resp == nil {
				resp = v.ContentText
			}
			parts = append(parts, Chunk{"functionResponse": Chunk{"name": v.ToolName, "response": resp}})
		case ir.ImageBlock:
			parts = append(parts, Chunk{"inlineData": Chunk{"mimeType": v.MediaType, "data": v.Data}})
		default:
			return nil, fmt.Errorf("gemini: unsupported content block %T", b)
		}
	}
	return Chunk{"role": role, "parts": parts}, nil
}

// ---- response_to_internal / response_from_internal ----

func (n *GeminiNormalizer) ResponseToInternal(native Chunk) (*ir.InternalResponse, error) {
	resp := &ir.InternalResponse{
		ID:    getString(native, "responseId"),
		Model: getString(native, "modelVersion"),
	}
	candidates := getSlice(native, "candidates")
	if len(candidates) == 0 {
		return resp, nil
	}
	cand, ok := candidates[0].(Chunk)
	if !ok {
		return resp, nil
	}
	if content := getMap(cand, "content"); content != nil {
		msg, err := geminiContentToInternal(content)
		if err != nil {
			return nil, err
		}
		resp.Content = msg.Content
	}
	if fr := getString(cand, "finishReason"); fr != "" {
		resp.StopReason = ir.StopReason(mapOr(geminiFinishToIR, fr, "unknown"))
	}
	if u := getMap(native, "usageMetadata"); u != nil {
		usage := &ir.UsageInfo{}
		if v, ok := getFloat(u, "promptTokenCount"); ok {
			usage.InputTokens = int(v)
		}
		if v, ok := getFloat(u, "candidatesTokenCount"); ok {
			usage.OutputTokens = int(v)
		}
		if v, ok := getFloat(u, "thoughtsTokenCount"); ok {
			usage.OutputTokens += int(v)
		}
		usage.Normalize()
		resp.Usage = usage
	}
	return resp, nil
}

func (n *GeminiNormalizer) ResponseFromInternal(resp *ir.InternalResponse, requestedModel string) (Chunk, error) {
	model := resp.Model
	if requestedModel != "" {
		model = requestedModel
	}
	content, err := geminiContentFromInternal(ir.InternalMessage{Role: ir.RoleAssistant, Content: resp.Content})
	if err != nil {
		return nil, err
	}
	out := Chunk{
		"modelVersion": model,
		"responseId":   resp.ID,
		"candidates": []Chunk{{
			"content":      content,
			"finishReason": mapOr(irStopToGemini, string(resp.StopReason), "STOP"),
			"index":        0,
		}},
	}
	if resp.Usage != nil {
		out["usageMetadata"] = Chunk{
			"promptTokenCount":     resp.Usage.InputTokens,
			"candidatesTokenCount": resp.Usage.OutputTokens,
			"totalTokenCount":      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ---- errors ----

func (n *GeminiNormalizer) IsErrorResponse(body Chunk) bool {
	return getMap(body, "error") != nil
}

var geminiErrorStatusMap = map[string]ir.ErrorType{
	"INVALID_ARGUMENT":   ir.ErrInvalidRequest,
	"UNAUTHENTICATED":    ir.ErrAuthentication,
	"PERMISSION_DENIED":  ir.ErrPermissionDenied,
	"NOT_FOUND":          ir.ErrNotFound,
	"RESOURCE_EXHAUSTED": ir.ErrRateLimit,
	"INTERNAL":           ir.ErrServerError,
	"UNAVAILABLE":        ir.ErrOverloaded,
	"DEADLINE_EXCEEDED":  ir.ErrRateLimit,
}

func (n *GeminiNormalizer) ErrorToInternal(native Chunk) (*ir.InternalError, error) {
	e := getMap(native, "error")
	if e == nil {
		e = native
	}
	t, ok := geminiErrorStatusMap[getString(e, "status")]
	if !ok {
		t = ir.ErrUnknown
	}
	return &ir.InternalError{Type: t, Message: getString(e, "message"), Retryable: t.Retryable()}, nil
}

func (n *GeminiNormalizer) ErrorFromInternal(err *ir.InternalError) (Chunk, error) {
	status := "INTERNAL"
	for k, v := range geminiErrorStatusMap {
		if v == err.Type {
			status = k
			break
		}
	}
	return Chunk{"error": Chunk{"code": geminiHTTPCodeFor(err.Type), "message": err.Message, "status": status}}, nil
}

func geminiHTTPCodeFor(t ir.ErrorType) int {
	switch t {
	case ir.ErrInvalidRequest:
		return 400
	case ir.ErrAuthentication:
		return 401
	case ir.ErrPermissionDenied:
		return 403
	case ir.ErrNotFound:
		return 404
	case ir.ErrRateLimit:
		return 429
	default:
		return 500
	}
}

// ---- streaming ----

type geminiStreamState struct {
	textOpened     bool
	textIndex      int
	nextIndex      int
	messageStarted bool
}

func (n *GeminiNormalizer) state(s *ir.StreamState) *geminiStreamState {
	v, _ := s.State(n.variant).(*geminiStreamState)
	if v == nil {
		v = &geminiStreamState{}
		s.SetState(n.variant, v)
	}
	return v
}

func (n *GeminiNormalizer) StreamChunkToInternal(chunk Chunk, state *ir.StreamState) ([]ir.StreamEvent, error) {
	st := n.state(state)
	var events []ir.StreamEvent

	if getMap(chunk, "error") != nil {
		e, _ := n.ErrorToInternal(chunk)
		return []ir.StreamEvent{ir.ErrorEvent{Error: *e}}, nil
	}

	if !st.messageStarted {
		st.messageStarted = true
		events = append(events, ir.MessageStartEvent{MessageID: state.MessageID, Model: state.Model})
	}

	candidates := getSlice(chunk, "candidates")
	if len(candidates) == 0 {
		return events, nil
	}
	cand, ok := candidates[0].(Chunk)
	if !ok {
		return events, nil
	}
	if content := getMap(cand, "content"); content != nil {
		for _, raw := range getSlice(content, "parts") {
			pm, ok := raw.(Chunk)
			if !ok {
				continue
			}
			if text := getString(pm, "text"); text != "" {
				if !st.textOpened {
					st.textIndex = st.nextIndex
					st.nextIndex++
					events = append(events, ir.ContentBlockStartEvent{BlockIndex: st.textIndex, BlockType: ir.ContentText})
					st.textOpened = true
				}
				events = append(events, ir.ContentDeltaEvent{BlockIndex: st.textIndex, TextDelta: text})
			}
			if fc := getMap(pm, "functionCall"); fc != nil {
				idx := st.nextIndex
				st.nextIndex++
				args, _ := json.Marshal(getMap(fc, "args"))
				events = append(events,
					ir.ContentBlockStartEvent{BlockIndex: idx, BlockType: ir.ContentToolUse, ToolName: getString(fc, "name")},
					ir.ToolCallDeltaEvent{BlockIndex: idx, InputDelta: string(args)},
					ir.ContentBlockStopEvent{BlockIndex: idx},
				)
			}
		}
	}
	if fr := getString(cand, "finishReason"); fr != "" {
		if st.textOpened {
			events = append(events, ir.ContentBlockStopEvent{BlockIndex: st.textIndex})
			st.textOpened = false
		}
		var usage *ir.UsageInfo
		if u := getMap(chunk, "usageMetadata"); u != nil {
			usage = &ir.UsageInfo{}
			if v, ok := getFloat(u, "promptTokenCount"); ok {
				usage.InputTokens = int(v)
			}
			if v, ok := getFloat(u, "candidatesTokenCount"); ok {
				usage.OutputTokens = int(v)
			}
			usage.Normalize()
		}
		events = append(events, ir.MessageStopEvent{StopReason: ir.StopReason(mapOr(geminiFinishToIR, fr, "unknown")), Usage: usage})
	}
	return events, nil
}

func (n *GeminiNormalizer) StreamEventFromInternal(event ir.StreamEvent, state *ir.StreamState) ([]Chunk, error) {
	wrap := func(parts []Chunk, finishReason string, usage *ir.UsageInfo) Chunk {
		cand := Chunk{"content": Chunk{"role": "model", "parts": parts}, "index": 0}
		if finishReason != "" {
			cand["finishReason"] = finishReason
		}
		out := Chunk{"modelVersion": state.Model, "responseId": state.MessageID, "candidates": []Chunk{cand}}
		if usage != nil {
			out["usageMetadata"] = Chunk{
				"promptTokenCount": usage.InputTokens, "candidatesTokenCount": usage.OutputTokens,
				"totalTokenCount": usage.TotalTokens,
			}
		}
		return out
	}
	switch e := event.(type) {
	case ir.MessageStartEvent:
		return nil, nil
	case ir.ContentBlockStartEvent:
		return nil, nil
	case ir.ContentDeltaEvent:
		return []Chunk{wrap([]Chunk{{"text": e.TextDelta}}, "", nil)}, nil
	case ir.ToolCallDeltaEvent:
		var args map[string]any
		_ = json.Unmarshal([]byte(e.InputDelta), &args)
		return []Chunk{wrap([]Chunk{{"functionCall": Chunk{"name": e.ToolID, "args": args}}}, "", nil)}, nil
	case ir.ContentBlockStopEvent:
		return nil, nil
	case ir.UsageEvent:
		return nil, nil
	case ir.MessageStopEvent:
		return []Chunk{wrap(nil, mapOr(irStopToGemini, string(e.StopReason), "STOP"), e.Usage)}, nil
	case ir.ErrorEvent:
		body, _ := n.ErrorFromInternal(&e.Error)
		return []Chunk{body}, nil
	default:
		return nil, nil
	}
}

func (n *GeminiNormalizer) FormatSSE(chunk Chunk) []byte {
	data, _ := json.Marshal(chunk)
	return []byte("data: " + string(data) + "\n\n")
}

// Package normalize implements the per-format Normalizer contract (C2):
// conversion between one wire format and the canonical internal
// representation (internal/ir), in both directions, for requests,
// responses, stream chunks, and errors.
package normalize

import "github.com/nullform/llmgateway/internal/ir"

// Chunk is a parsed wire-format JSON object: one SSE "data:" payload on the
// way in, one synthetic payload (not yet framed as SSE bytes) on the way
// out. Using map[string]any here (rather than one typed struct per format)
// matches the teacher's own style for the shapes that vary the most
// (OpenAI/Claude streaming deltas); the Gemini normalizer works on these
// maps internally as well.
type Chunk = map[string]any

// Normalizer is the per-format adapter contract described in spec §4.1.
// Every format implements to_internal/from_internal for request, response,
// stream chunk, and error, plus a best-effort error-body sniffer and a
// capability declaration.
type Normalizer interface {
	FormatID() string
	Capabilities() ir.FormatCapabilities

	RequestToInternal(native Chunk) (*ir.InternalRequest, error)
	RequestFromInternal(req *ir.InternalRequest, targetVariant string) (Chunk, error)

	ResponseToInternal(native Chunk) (*ir.InternalResponse, error)
	ResponseFromInternal(resp *ir.InternalResponse, requestedModel string) (Chunk, error)

	StreamChunkToInternal(chunk Chunk, state *ir.StreamState) ([]ir.StreamEvent, error)
	StreamEventFromInternal(event ir.StreamEvent, state *ir.StreamState) ([]Chunk, error)

	ErrorToInternal(native Chunk) (*ir.InternalError, error)
	ErrorFromInternal(err *ir.InternalError) (Chunk, error)

	IsErrorResponse(body Chunk) bool

	// FormatSSE frames one rendered chunk as wire bytes (e.g. Claude emits
	// "event: <type>\ndata: <json>\n\n", OpenAI Chat emits "data: <json>\n\n").
	// Every implementation in this package returns framed bytes; the
	// dispatcher writes the result as-is and has no fallback for nil.
	FormatSSE(chunk Chunk) []byte
}

// Format identifiers — the closed set from spec §6.3, in their canonical
// lowercase spellings. Format ids are compared and looked up exactly, with
// no case folding; a mixed-case id does not match any of these.
const (
	FormatOpenAIChat  = "openai:chat"
	FormatOpenAICLI   = "openai:cli"
	FormatClaudeChat  = "claude:chat"
	FormatClaudeCLI   = "claude:cli"
	FormatGeminiChat  = "gemini:chat"
	FormatGeminiCLI   = "gemini:cli"
)

// DataFamily groups formats that share an identical wire shape and can
// therefore passthrough without conversion (spec §4.3 rule 6). Claude and
// Claude CLI share "claude"; Gemini and Gemini CLI share "gemini"; the two
// OpenAI variants do NOT share a family (Chat Completions vs. Responses are
// structurally different), matching spec §4.1's explicit statement that
// OpenAI CLI needs real conversion.
func DataFamily(formatID string) string {
	switch formatID {
	case FormatClaudeChat, FormatClaudeCLI:
		return "claude"
	case FormatGeminiChat, FormatGeminiCLI:
		return "gemini"
	case FormatOpenAIChat:
		return "openai_chat"
	case FormatOpenAICLI:
		return "openai_responses"
	default:
		return formatID
	}
}

func getString(m Chunk, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getMap(m Chunk, key string) Chunk {
	if v, ok := m[key]; ok {
		if mm, ok := v.(Chunk); ok {
			return mm
		}
	}
	return nil
}

func getSlice(m Chunk, key string) []any {
	if v, ok := m[key]; ok {
		if s, ok := v.([]any); ok {
			return s
		}
	}
	return nil
}

func getFloat(m Chunk, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}

func getBool(m Chunk, key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

func intPtr(i int) *int             { return &i }
func float64Ptr(f float64) *float64 { return &f }

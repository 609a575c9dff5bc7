package normalize

// Cross-format knob tables shared by normalizers, grounded on the teacher's
// base.go constant-table style (HandleFinishReason et al.) and on spec §4.1
// "Cross-format knobs with defined mappings".

// reasoningEffortToBudget maps OpenAI's reasoning_effort to an IR thinking
// budget_tokens value. Reverse mapping uses midpoints (see
// budgetToReasoningEffort below) rather than a literal table lookup.
var reasoningEffortToBudget = map[string]int{
	"low":    1280,
	"medium": 2048,
	"high":   4096,
}

// budgetToReasoningEffort is the reverse of reasoningEffortToBudget using the
// midpoint thresholds spec §4.1 specifies: ≤1664→low, ≤3072→medium, else high.
func budgetToReasoningEffort(budget int) string {
	switch {
	case budget <= 1664:
		return "low"
	case budget <= 3072:
		return "medium"
	default:
		return "high"
	}
}

// webSearchOpenAIToClaude maps OpenAI's web_search_options.search_context_size
// to Claude's web_search tool max_uses.
var webSearchOpenAIToClaude = map[string]int{
	"low":    1,
	"medium": 5,
	"high":   10,
}

func webSearchClaudeToOpenAI(maxUses int) string {
	switch {
	case maxUses <= 1:
		return "low"
	case maxUses <= 5:
		return "medium"
	default:
		return "high"
	}
}

// Claude stop_reason <-> IR StopReason, the fixed table spec §4.1 calls for.
var claudeStopToIR = map[string]string{
	"end_turn":        "end_turn",
	"max_tokens":      "max_tokens",
	"stop_sequence":   "stop_sequence",
	"tool_use":        "tool_use",
	"pause_turn":      "pause_turn",
	"refusal":         "refusal",
	"content_filtered": "content_filtered",
}

var irStopToClaude = invert(claudeStopToIR)

// OpenAI Chat finish_reason <-> IR StopReason.
var openAIFinishToIR = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"function_call":  "tool_use",
	"content_filter": "content_filtered",
}

var irStopToOpenAI = invert(openAIFinishToIR)

// Gemini finishReason (uppercase) <-> IR StopReason.
var geminiFinishToIR = map[string]string{
	"STOP":                      "end_turn",
	"MAX_TOKENS":                "max_tokens",
	"SAFETY":                    "content_filtered",
	"RECITATION":                "content_filtered",
	"MALFORMED_FUNCTION_CALL":   "tool_use",
	"OTHER":                     "unknown",
}

var irStopToGemini = invert(geminiFinishToIR)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, exists := out[v]; !exists {
			out[v] = k
		}
	}
	return out
}

func mapOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// Package ir defines the canonical internal representation that every wire
// format is translated to and from. It is the hub in the conversion engine's
// hub-and-spoke design: normalizers only ever talk to this package, never to
// each other.
package ir

// Role is the closed set of message roles the IR recognizes.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
	RoleUnknown   Role = "unknown"
)

// ContentType tags the concrete type behind a ContentBlock.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentThinking   ContentType = "thinking"
	ContentImage      ContentType = "image"
	ContentFile       ContentType = "file"
	ContentAudio      ContentType = "audio"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
	ContentUnknown    ContentType = "unknown"
)

// StopReason is the closed set of reasons a response stopped generating.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopStopSequence    StopReason = "stop_sequence"
	StopToolUse         StopReason = "tool_use"
	StopPauseTurn       StopReason = "pause_turn"
	StopRefusal         StopReason = "refusal"
	StopContentFiltered StopReason = "content_filtered"
	StopUnknown         StopReason = "unknown"
)

// ErrorType is the closed set of error classifications the gateway assigns
// to upstream failures, regardless of which wire format reported them.
type ErrorType string

const (
	ErrInvalidRequest        ErrorType = "invalid_request"
	ErrAuthentication        ErrorType = "authentication"
	ErrPermissionDenied      ErrorType = "permission_denied"
	ErrNotFound              ErrorType = "not_found"
	ErrRateLimit             ErrorType = "rate_limit"
	ErrOverloaded            ErrorType = "overloaded"
	ErrServerError           ErrorType = "server_error"
	ErrContentFiltered       ErrorType = "content_filtered"
	ErrContextLengthExceeded ErrorType = "context_length_exceeded"
	ErrUnknown               ErrorType = "unknown"
)

// Retryable reports whether errors of this type should be retried against
// another candidate by the scheduler, per spec §3.1.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrRateLimit, ErrOverloaded, ErrServerError:
		return true
	default:
		return false
	}
}

// ContentBlock is the sum type for message content. Every variant below
// implements it with an unexported marker method so external packages can't
// invent new variants — exhaustive type switches in consumers stay safe.
type ContentBlock interface {
	contentBlock()
	Type() ContentType
}

type TextBlock struct {
	Text  string
	Extra map[string]any
}

func (TextBlock) contentBlock()         {}
func (TextBlock) Type() ContentType     { return ContentText }

type ThinkingBlock struct {
	Thinking  string
	Signature string // opaque provider anti-tamper token; may be empty
	Extra     map[string]any
}

func (ThinkingBlock) contentBlock()     {}
func (ThinkingBlock) Type() ContentType { return ContentThinking }

// ImageBlock carries exactly one of Data (base64) or URL as primary carrier.
type ImageBlock struct {
	Data      string
	MediaType string
	URL       string
	Extra     map[string]any
}

func (ImageBlock) contentBlock()     {}
func (ImageBlock) Type() ContentType { return ContentImage }

type FileBlock struct {
	Data      string
	MediaType string
	FileID    string
	FileURL   string
	Filename  string
	Extra     map[string]any
}

func (FileBlock) contentBlock()     {}
func (FileBlock) Type() ContentType { return ContentFile }

type AudioBlock struct {
	Data      string
	MediaType string
	Format    string
	Extra     map[string]any
}

func (AudioBlock) contentBlock()     {}
func (AudioBlock) Type() ContentType { return ContentAudio }

type ToolUseBlock struct {
	ToolID    string
	ToolName  string
	ToolInput map[string]any
	Extra     map[string]any
}

func (ToolUseBlock) contentBlock()     {}
func (ToolUseBlock) Type() ContentType { return ContentToolUse }

type ToolResultBlock struct {
	ToolUseID   string
	ToolName    string
	Output      any
	ContentText string
	HasContentText bool
	IsError     bool
	Extra       map[string]any
}

func (ToolResultBlock) contentBlock()     {}
func (ToolResultBlock) Type() ContentType { return ContentToolResult }

// UnknownBlock is the forward-compatibility bucket: preserved internally,
// dropped on render unless the target format explicitly handles it.
type UnknownBlock struct {
	RawType string
	Payload map[string]any
	Extra   map[string]any
}

func (UnknownBlock) contentBlock()     {}
func (UnknownBlock) Type() ContentType { return ContentUnknown }

// InternalMessage is the unified message representation.
type InternalMessage struct {
	Role    Role
	Content []ContentBlock
	Extra   map[string]any
}

// InstructionSegment preserves ordered system/developer prompt segments for
// formats that keep them as structured arrays.
type InstructionSegment struct {
	Role  Role // only RoleSystem or RoleDeveloper
	Text  string
	Extra map[string]any
}

// ToolDefinition is the unified tool declaration; Parameters is a JSON Schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Extra       map[string]any
}

type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceTool     ToolChoiceType = "tool"
)

type ToolChoice struct {
	Type     ToolChoiceType
	ToolName string
	Extra    map[string]any
}

// ThinkingConfig is the unified reasoning/thinking knob.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens *int
	Extra        map[string]any
}

type ResponseFormatConfig struct {
	Type       string // "text" | "json_object" | "json_schema"
	JSONSchema map[string]any
	Extra      map[string]any
}

// InternalRequest is the unified request representation. See spec §3.1 for
// the full invariant list; the important ones are documented inline.
type InternalRequest struct {
	Model    string
	Messages []InternalMessage

	// Instructions carries structured system/developer prompts in order;
	// System is their blank-line-joined concatenation. Both represent the
	// same content — never populate both independently.
	Instructions []InstructionSegment
	System       string

	MaxTokens       *int
	Temperature     *float64
	TopP            *float64
	TopK            *int
	StopSequences   []string
	Stream          bool
	Tools           []ToolDefinition
	ToolChoice      *ToolChoice
	Thinking        *ThinkingConfig
	ParallelToolCalls *bool

	// WebSearchMaxUses carries Claude's web_search server tool max_uses and
	// OpenAI's web_search_options.search_context_size through the same knob
	// (spec §4.1 cross-format knobs), converted via a fixed low/medium/high
	// <-> integer table rather than passed through as provider-specific
	// request shapes.
	WebSearchMaxUses *int

	N                *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Seed             *int64
	Logprobs         *bool
	TopLogprobs      *int

	ResponseFormat *ResponseFormatConfig

	// OutputLimit is the model's configured output ceiling, used as the
	// max_tokens fallback when the request doesn't specify one.
	OutputLimit *int

	Extra map[string]any
}

// UsageInfo is the unified token-usage accounting.
type UsageInfo struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
	Extra            map[string]any
}

// Normalize fills TotalTokens from InputTokens+OutputTokens when unset, per
// spec §3.1.
func (u *UsageInfo) Normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
}

// InternalResponse is the unified non-streaming response representation.
type InternalResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      *UsageInfo
	Extra      map[string]any
}

// InternalError is the unified error representation.
type InternalError struct {
	Type      ErrorType
	Message   string
	Code      string
	Param     string
	Retryable bool
	Extra     map[string]any
}

// FormatCapabilities declares what a Normalizer can do.
type FormatCapabilities struct {
	SupportsStream           bool
	SupportsErrorConversion  bool
	SupportsTools            bool
	SupportsImages           bool
	SupportedFeatures        map[string]struct{}
}

package ir

import "github.com/google/uuid"

// StreamEvent is the sum type for IR-level streaming events. Block indices
// start at 0 and are assigned monotonically per conversation; an index is
// opened by exactly one ContentBlockStart, receives zero or more deltas, and
// is closed by exactly one ContentBlockStop or implicitly by MessageStop.
type StreamEvent interface {
	streamEvent()
}

type MessageStartEvent struct {
	MessageID string
	Model     string
	Usage     *UsageInfo
}

func (MessageStartEvent) streamEvent() {}

type ContentBlockStartEvent struct {
	BlockIndex int
	BlockType  ContentType
	ToolID     string
	ToolName   string
	Extra      map[string]any
}

func (ContentBlockStartEvent) streamEvent() {}

type ContentDeltaEvent struct {
	BlockIndex int
	TextDelta  string
	Extra      map[string]any
}

func (ContentDeltaEvent) streamEvent() {}

// ToolCallDeltaEvent always carries the tool's stable ToolID so consumers can
// reassemble out-of-order fragments safely.
type ToolCallDeltaEvent struct {
	BlockIndex int
	ToolID     string
	InputDelta string
}

func (ToolCallDeltaEvent) streamEvent() {}

type ContentBlockStopEvent struct {
	BlockIndex int
}

func (ContentBlockStopEvent) streamEvent() {}

type UsageEvent struct {
	Usage *UsageInfo
}

func (UsageEvent) streamEvent() {}

type MessageStopEvent struct {
	StopReason StopReason
	Usage      *UsageInfo
}

func (MessageStopEvent) streamEvent() {}

type ErrorEvent struct {
	Error InternalError
}

func (ErrorEvent) streamEvent() {}

type UnknownStreamEvent struct {
	RawType string
	Payload map[string]any
}

func (UnknownStreamEvent) streamEvent() {}

// StreamState is threaded by reference through incremental chunk-to-event
// conversion for one request. MessageID/Model are seeded with the client's
// requested values so rendered responses carry the client's model name, not
// the upstream-mapped one. FormatState holds per-normalizer scratch data
// (accumulated text, next block index, tool-call index maps) keyed by
// FORMAT_ID so unrelated normalizers never collide.
type StreamState struct {
	MessageID   string
	Model       string
	FormatState map[string]any
}

// NewStreamState seeds a StreamState with the client-requested identifiers.
// An empty messageID is filled in with a freshly generated one (a candidate
// that dispatches streaming upstream but never echoes its own message id
// back to the client-requested side of the bridge still needs a stable id
// to key its blocks against).
func NewStreamState(messageID, model string) *StreamState {
	if messageID == "" {
		messageID = "msg_" + uuid.NewString()
	}
	return &StreamState{
		MessageID:   messageID,
		Model:       model,
		FormatState: make(map[string]any),
	}
}

// State returns the per-format scratch bucket for formatID, or nil if none
// has been stored; it does not create one. Callers type-assert to their own
// substate type and store a fresh one with SetState when it is absent.
func (s *StreamState) State(formatID string) any {
	return s.FormatState[formatID]
}

// SetState stores the per-format scratch bucket for formatID.
func (s *StreamState) SetState(formatID string, v any) {
	s.FormatState[formatID] = v
}

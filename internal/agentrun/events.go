package agentrun

import "github.com/Reynold-degenracy/EverMindAgent/internal/tool"

// EventName discriminates the two events a run emits (spec.md §4.3).
type EventName string

const (
	// EventRunFinished is emitted exactly once per run, whatever the
	// outcome, except for the documented silent-stop case (spec.md §7).
	EventRunFinished EventName = "runFinished"
	// EventEmaReplyReceived is emitted when the ema_reply tool succeeds.
	EventEmaReplyReceived EventName = "emaReplyReceived"
)

// Event is published on the run's event bus. Exactly one of RunFinished /
// EmaReply is set, matching Name.
type Event struct {
	Name        EventName
	RunFinished *RunFinished
	EmaReply    *EmaReplyReceived
}

// RunFinished reports how a run ended.
type RunFinished struct {
	OK    bool
	Msg   string
	Error error
}

// EmaReplyReceived carries the parsed reply payload from a successful
// ema_reply tool call.
type EmaReplyReceived struct {
	Reply tool.EmaReplyPayload
}

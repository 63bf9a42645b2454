package metrics

import "time"

// Push outcome labels recorded per connection during a broadcast.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeGone      = "gone"
)

// Recorder abstracts the counters and durations the core emits. The sync
// subsystem never talks to a metrics backend directly.
type Recorder interface {
	// ConnectionEvent records a connect/disconnect for a room.
	ConnectionEvent(event, roomID string)
	// MessagePosted records one durable append and the body length.
	MessagePosted(roomID string, textLen int)
	// PushOutcome records one per-connection delivery outcome.
	PushOutcome(roomID, outcome string)
	// DispatchDuration records how long one room fan-out took.
	DispatchDuration(roomID string, d time.Duration)
}

// Nop discards all measurements. Used in tests and the client CLI.
type Nop struct{}

func (Nop) ConnectionEvent(string, string)         {}
func (Nop) MessagePosted(string, int)              {}
func (Nop) PushOutcome(string, string)             {}
func (Nop) DispatchDuration(string, time.Duration) {}

var _ Recorder = Nop{}

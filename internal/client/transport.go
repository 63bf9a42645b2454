package client

import "context"

// Transport dials the push channel. The agent owns at most one live Conn.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live transport session. Events delivers pushes and exactly one
// terminal close event; the channel is closed afterwards.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, payload []byte) error
	Close(ctx context.Context) error
}

// EventKind tags transport events.
type EventKind int

const (
	// EventMessage carries one pushed payload.
	EventMessage EventKind = iota
	// EventClosed terminates the session. Normal distinguishes an explicit
	// close from an abnormal drop.
	EventClosed
)

// Event is a single occurrence on the transport.
type Event struct {
	Kind    EventKind
	Payload []byte
	Normal  bool
	Err     error
}

package chat

import "github.com/google/uuid"

// NewMessageID returns a globally unique, time-ordered message identifier.
// UUIDv7 sorts by creation time, so ids double as a tie-break that roughly
// follows wall-clock order.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// rand failure; fall back to a plain random id.
		return uuid.NewString()
	}
	return id.String()
}

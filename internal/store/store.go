package store

import (
	"context"
	"errors"
	"time"

	"github.com/swflcoders/chatsync/internal/chat"
)

// ErrStorageUnavailable wraps backend failures so callers can decide whether
// to fail the request or degrade (e.g. keep the message durable but skip a
// broadcast).
var ErrStorageUnavailable = errors.New("message log unavailable")

// Room is a named channel partitioning messages and connections.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// MessageLog is the durable log collaborator. It exclusively owns message
// identity and ordering: Append assigns ID and CreatedAt.
type MessageLog interface {
	// Append durably stores a message, creating the room on first write.
	// The returned copy carries the assigned ID and CreatedAt.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	// QueryRoom returns up to limit messages in descending (CreatedAt, ID)
	// order. A non-zero before restricts results to strictly older messages,
	// for paging.
	QueryRoom(ctx context.Context, roomID string, limit int, before time.Time) ([]chat.Message, error)
	Close() error
}

package registry

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable wraps backend failures. The registry surfaces them
// to the caller instead of silently dropping entries.
var ErrStorageUnavailable = errors.New("registry storage unavailable")

// Connection is one live transport session. At most one row exists per ID,
// and a connection belongs to exactly one room at a time.
type Connection struct {
	ID          string
	RoomID      string
	UserID      string
	Username    string
	ConnectedAt time.Time
	ExpiresAt   time.Time
}

// Registry is the authoritative index from room to currently-believed-live
// connections. Listings are snapshots; staleness beyond the snapshot is
// tolerated and resolved by the dispatcher's terminal-failure cleanup.
type Registry interface {
	// Register inserts or replaces the entry for connectionID and resets its
	// TTL. Idempotent on repeated calls with the same id.
	Register(ctx context.Context, connectionID, roomID, userID, username string) (Connection, error)
	// Unregister removes the entry. Absent entries are a no-op: disconnect
	// races are expected and harmless.
	Unregister(ctx context.Context, connectionID string) error
	// ListByRoom returns a snapshot of live connections in a room.
	ListByRoom(ctx context.Context, roomID string) ([]Connection, error)
	// Touch refreshes the entry's TTL. No-op when absent.
	Touch(ctx context.Context, connectionID string) error
}

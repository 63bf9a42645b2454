package chat

import (
	"sort"
	"strings"
	"time"
)

// DefaultRoom always exists and is the fallback when no room is given.
const DefaultRoom = "general"

const (
	// MaxUsernameLen bounds display names.
	MaxUsernameLen = 50
	// MaxTextLen bounds message bodies.
	MaxTextLen = 500
)

// Message is the domain model for a chat message. Immutable once the
// durable log has assigned ID and CreatedAt.
type Message struct {
	ID              string
	RoomID          string
	UserID          string
	Username        string
	Text            string
	CreatedAt       time.Time
	ClientMessageID string
}

// Less orders messages within a room by (CreatedAt, ID), ID breaking ties.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort arranges messages into the canonical visible order.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return Less(msgs[i], msgs[j])
	})
}

// NormalizeRoomID trims and lowercases a room identifier.
func NormalizeRoomID(roomID string) (string, error) {
	trimmed := strings.TrimSpace(roomID)
	if trimmed == "" {
		return "", ErrEmptyRoom
	}
	return strings.ToLower(trimmed), nil
}

// ValidateUsername trims a display name and enforces bounds.
func ValidateUsername(username string) (string, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return "", ErrEmptyUsername
	}
	if len(trimmed) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return trimmed, nil
}

// ValidateText trims a message body and enforces bounds.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if len(trimmed) > MaxTextLen {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/swflcoders/chatsync/internal/chat"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()

	l, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAssignsIdentity(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	msg, err := l.Append(ctx, chat.Message{
		RoomID:          "general",
		UserID:          "u1",
		Username:        "alice",
		Text:            "hello",
		ClientMessageID: "c1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if msg.ID == "" {
		t.Fatal("expected assigned id")
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("expected assigned timestamp")
	}

	got, err := l.QueryRoom(ctx, "general", 10, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0] != msg {
		t.Fatalf("stored message differs:\nwant %+v\ngot  %+v", msg, got[0])
	}
}

func TestQueryRoomOrderAndLimit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		if _, err := l.Append(ctx, chat.Message{
			RoomID:   "general",
			UserID:   "u1",
			Username: "alice",
			Text:     text,
		}); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at millis
	}

	// Other rooms must not leak into results.
	if _, err := l.Append(ctx, chat.Message{RoomID: "random", UserID: "u2", Username: "bob", Text: "noise"}); err != nil {
		t.Fatalf("append noise: %v", err)
	}

	got, err := l.QueryRoom(ctx, "general", 3, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(got))
	}

	// Newest first.
	want := []string{"four", "three", "two"}
	for i, text := range want {
		if got[i].Text != text {
			t.Fatalf("position %d: expected %q, got %q", i, text, got[i].Text)
		}
	}

	// Paging with before returns strictly older messages.
	older, err := l.QueryRoom(ctx, "general", 10, got[len(got)-1].CreatedAt)
	if err != nil {
		t.Fatalf("query before: %v", err)
	}
	if len(older) != 1 || older[0].Text != "one" {
		t.Fatalf("expected only the oldest message, got %+v", older)
	}
}

func TestAppendCreatesRoomOnce(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, chat.Message{RoomID: "general", UserID: "u1", Username: "alice", Text: "hi"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var count int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM rooms WHERE id = 'general'`).Scan(&count); err != nil {
		t.Fatalf("count rooms: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one room row, got %d", count)
	}

	var name string
	if err := l.db.QueryRow(`SELECT name FROM rooms WHERE id = 'general'`).Scan(&name); err != nil {
		t.Fatalf("room name: %v", err)
	}
	if name != "General" {
		t.Fatalf("expected default room display name General, got %q", name)
	}
}

package client

import (
	"math/rand"
	"testing"
	"time"

	"github.com/swflcoders/chatsync/internal/chat"
)

var cacheBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id, text string, offset time.Duration) chat.Message {
	return chat.Message{
		ID:        id,
		RoomID:    "general",
		UserID:    "u-other",
		Username:  "bob",
		Text:      text,
		CreatedAt: cacheBase.Add(offset),
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	msgs := []chat.Message{
		confirmed("m1", "one", 0),
		confirmed("m2", "two", time.Second),
		confirmed("m3", "three", 2*time.Second),
	}

	// Apply the same set repeatedly in random orders.
	cache := NewCache("u-self")
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := append([]chat.Message(nil), msgs...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		cache.ApplyAll(shuffled)
	}

	visible := cache.Visible()
	if len(visible) != 3 {
		t.Fatalf("expected 3 entries after repeated application, got %d", len(visible))
	}
	for i, id := range []string{"m1", "m2", "m3"} {
		if visible[i].Message.ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, visible[i].Message.ID)
		}
	}
}

func TestVisibleOrderedByCreatedAtThenID(t *testing.T) {
	cache := NewCache("u-self")
	cache.Apply(confirmed("m2", "tie-b", 0))
	cache.Apply(confirmed("m1", "tie-a", 0))
	cache.Apply(confirmed("m0", "later", time.Minute))

	visible := cache.Visible()
	got := []string{visible[0].Message.ID, visible[1].Message.ID, visible[2].Message.ID}
	want := []string{"m1", "m2", "m0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestOptimisticPromotion(t *testing.T) {
	cache := NewCache("u-self")

	local := chat.Message{
		RoomID:          "general",
		UserID:          "u-self",
		Username:        "alice",
		Text:            "hi",
		CreatedAt:       cacheBase,
		ClientMessageID: "corr-1",
	}
	cache.AddOptimistic(local)

	if got := cache.Visible(); len(got) != 1 || !got[0].Pending || !got[0].Own {
		t.Fatalf("expected one pending own entry, got %+v", got)
	}

	server := chat.Message{
		ID:              "m1",
		RoomID:          "general",
		Username:        "alice",
		Text:            "hi",
		CreatedAt:       cacheBase.Add(time.Second),
		ClientMessageID: "corr-1",
		// UserID intentionally absent: ownership must survive promotion.
	}
	cache.Apply(server)

	visible := cache.Visible()
	if len(visible) != 1 {
		t.Fatalf("expected exactly one entry after promotion, got %d", len(visible))
	}
	entry := visible[0]
	if entry.Message.ID != "m1" {
		t.Fatalf("expected server id, got %q", entry.Message.ID)
	}
	if !entry.Own {
		t.Fatal("promotion lost the own-message flag")
	}
	if entry.Pending {
		t.Fatal("promoted entry should no longer be pending")
	}

	// The push channel may deliver the confirmed copy again.
	cache.Apply(server)
	if cache.Len() != 1 {
		t.Fatalf("re-delivery after promotion duplicated the entry: %d", cache.Len())
	}
}

func TestDropOptimisticRollsBack(t *testing.T) {
	cache := NewCache("u-self")
	cache.AddOptimistic(chat.Message{
		RoomID:          "general",
		UserID:          "u-self",
		Text:            "doomed",
		CreatedAt:       cacheBase,
		ClientMessageID: "corr-2",
	})

	cache.DropOptimistic("corr-2")
	if cache.Len() != 0 {
		t.Fatal("expected rollback to remove the optimistic entry")
	}

	// Rolling back twice, or after promotion, is harmless.
	cache.DropOptimistic("corr-2")
}

func TestDropOptimisticAfterPromotionKeepsConfirmed(t *testing.T) {
	cache := NewCache("u-self")
	cache.AddOptimistic(chat.Message{
		RoomID:          "general",
		UserID:          "u-self",
		Text:            "hi",
		CreatedAt:       cacheBase,
		ClientMessageID: "corr-3",
	})

	// Push delivery wins the race against the send acknowledgement.
	cache.Apply(chat.Message{
		ID:              "m9",
		RoomID:          "general",
		UserID:          "u-self",
		Text:            "hi",
		CreatedAt:       cacheBase.Add(time.Second),
		ClientMessageID: "corr-3",
	})

	cache.DropOptimistic("corr-3")
	if cache.Len() != 1 {
		t.Fatal("rollback after promotion must not remove the confirmed copy")
	}
}

func TestApplyDerivesOwnershipFromUserID(t *testing.T) {
	cache := NewCache("u-self")
	cache.Apply(chat.Message{ID: "m1", RoomID: "general", UserID: "u-self", Text: "mine", CreatedAt: cacheBase})
	cache.Apply(chat.Message{ID: "m2", RoomID: "general", UserID: "u-other", Text: "theirs", CreatedAt: cacheBase.Add(time.Second)})

	visible := cache.Visible()
	if !visible[0].Own {
		t.Fatal("expected own message flagged")
	}
	if visible[1].Own {
		t.Fatal("expected foreign message unflagged")
	}
}

func TestApplyLastWriteWins(t *testing.T) {
	cache := NewCache("u-self")
	first := confirmed("m1", "first", 0)
	cache.Apply(first)

	replacement := first
	replacement.Text = "replaced"
	cache.Apply(replacement)

	visible := cache.Visible()
	if len(visible) != 1 || visible[0].Message.Text != "replaced" {
		t.Fatalf("expected full replacement, got %+v", visible)
	}
}

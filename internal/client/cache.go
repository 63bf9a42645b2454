package client

import (
	"sort"

	"github.com/swflcoders/chatsync/internal/chat"
)

// Entry is one visible message in the local cache.
type Entry struct {
	Message chat.Message
	// Own marks messages authored by this client.
	Own bool
	// Pending marks optimistic local copies awaiting server confirmation.
	Pending bool
}

// Cache reconciles server-confirmed, push-delivered, and optimistic local
// messages into one ordered, duplicate-free view. Every mutation is
// idempotent: the push channel is at-least-once and clients re-fetch on
// reconnect, so the same message may arrive any number of times.
//
// Entries are keyed by message id once known; optimistic entries are keyed
// by their correlation id until the confirmed copy promotes them.
type Cache struct {
	selfUserID    string
	entries       map[string]Entry
	byCorrelation map[string]string // clientMessageID -> current entry key
}

// NewCache builds an empty cache for the given local user.
func NewCache(selfUserID string) *Cache {
	return &Cache{
		selfUserID:    selfUserID,
		entries:       make(map[string]Entry),
		byCorrelation: make(map[string]string),
	}
}

// AddOptimistic inserts a local unconfirmed send. The message must carry a
// ClientMessageID; it has no server id yet.
func (c *Cache) AddOptimistic(msg chat.Message) {
	key := msg.ClientMessageID
	c.entries[key] = Entry{Message: msg, Own: true, Pending: true}
	c.byCorrelation[msg.ClientMessageID] = key
}

// DropOptimistic rolls back a send that terminally failed. No-op if the
// entry was already promoted by a racing push.
func (c *Cache) DropOptimistic(clientMessageID string) {
	key, ok := c.byCorrelation[clientMessageID]
	if !ok {
		return
	}
	if entry, exists := c.entries[key]; exists && entry.Pending {
		delete(c.entries, key)
		delete(c.byCorrelation, clientMessageID)
	}
}

// Apply merges one incoming server-confirmed message, from any source:
// initial fetch, push delivery, or send acknowledgement.
func (c *Cache) Apply(msg chat.Message) {
	own := msg.UserID != "" && msg.UserID == c.selfUserID

	if msg.ClientMessageID != "" {
		if key, ok := c.byCorrelation[msg.ClientMessageID]; ok && key != msg.ID {
			// Promotion: the optimistic copy is replaced by the confirmed
			// one under its real id, keeping the locally-known ownership.
			if old, exists := c.entries[key]; exists {
				own = own || old.Own
				delete(c.entries, key)
			}
		}
		c.byCorrelation[msg.ClientMessageID] = msg.ID
	}

	// Last-write-wins full replacement, preserving a previously derived
	// ownership flag when the incoming copy lacks it.
	if existing, ok := c.entries[msg.ID]; ok {
		own = own || existing.Own
	}
	c.entries[msg.ID] = Entry{Message: msg, Own: own}
}

// ApplyAll merges a batch, e.g. an initial page load or resync.
func (c *Cache) ApplyAll(msgs []chat.Message) {
	for _, msg := range msgs {
		c.Apply(msg)
	}
}

// Visible returns the cache contents sorted by (CreatedAt, ID).
func (c *Cache) Visible() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sortEntries(out)
	return out
}

// Len returns the number of visible entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return chat.Less(entries[i].Message, entries[j].Message)
	})
}

package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Memory is the single-process Registry backend. Entries expire lazily:
// reads skip and prune anything past its TTL.
type Memory struct {
	mu    sync.Mutex
	conns map[string]Connection
	ttl   time.Duration
	clock clockwork.Clock
}

// NewMemory builds an in-memory registry with the given entry TTL.
func NewMemory(ttl time.Duration, clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		conns: make(map[string]Connection),
		ttl:   ttl,
		clock: clock,
	}
}

func (m *Memory) Register(_ context.Context, connectionID, roomID, userID, username string) (Connection, error) {
	now := m.clock.Now()
	conn := Connection{
		ID:          connectionID,
		RoomID:      roomID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: now,
		ExpiresAt:   now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.conns[connectionID]; ok {
		// Re-register keeps the original connect time.
		conn.ConnectedAt = existing.ConnectedAt
	}
	m.conns[connectionID] = conn
	return conn, nil
}

func (m *Memory) Unregister(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, connectionID)
	return nil
}

func (m *Memory) ListByRoom(_ context.Context, roomID string) ([]Connection, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Connection
	for id, conn := range m.conns {
		if !conn.ExpiresAt.After(now) {
			delete(m.conns, id)
			continue
		}
		if conn.RoomID == roomID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (m *Memory) Touch(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	conn.ExpiresAt = m.clock.Now().Add(m.ttl)
	m.conns[connectionID] = conn
	return nil
}

var _ Registry = (*Memory)(nil)

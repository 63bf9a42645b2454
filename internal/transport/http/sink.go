package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/swflcoders/chatsync/internal/dispatch"
)

const outboundQueueSize = 64

// Sink bridges the dispatcher to websocket connections served by this
// process. Each attached connection owns a buffered outbound queue drained
// by its write loop; the dispatcher never touches a socket directly.
type Sink struct {
	mu     sync.Mutex
	queues map[string]chan []byte
}

// NewSink builds an empty sink.
func NewSink() *Sink {
	return &Sink{queues: make(map[string]chan []byte)}
}

// Attach allocates the outbound queue for a connection. The caller must
// Detach when the connection ends.
func (s *Sink) Attach(connectionID string) <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := make(chan []byte, outboundQueueSize)
	s.queues[connectionID] = queue
	return queue
}

// Detach removes the queue and closes it, ending the write loop. Pending
// payloads are discarded; clients recover them from the durable log.
func (s *Sink) Detach(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queue, ok := s.queues[connectionID]; ok {
		delete(s.queues, connectionID)
		close(queue)
	}
}

// Push implements dispatch.PushTransport. A connection without a queue is
// terminally gone: no socket in this process will ever serve it. A full
// queue is transient backpressure; the payload is dropped here and covered
// by the client's next resync.
func (s *Sink) Push(_ context.Context, connectionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, ok := s.queues[connectionID]
	if !ok {
		return dispatch.ErrGone
	}
	select {
	case queue <- payload:
		return nil
	default:
		return fmt.Errorf("outbound queue full for connection %s", connectionID)
	}
}

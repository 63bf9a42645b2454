package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/proto"
	"github.com/swflcoders/chatsync/internal/registry"
)

// ErrGone is the terminal push failure: the recipient connection no longer
// exists and will never succeed again. Any other push error is transient.
var ErrGone = errors.New("connection gone")

// PushTransport delivers one serialized message to a specific connection.
// Implementations must preserve send order per connection.
type PushTransport interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}

const (
	defaultWorkers = 16
	queueCapacity  = 256
)

// Dispatcher fans a durable message out to every registered connection in
// its room. Fan-out never blocks message durability: callers invoke Dispatch
// after the append has already been acknowledged.
type Dispatcher struct {
	reg       registry.Registry
	transport PushTransport
	workers   int
	rec       metrics.Recorder
	log       *zerolog.Logger
	queue     chan chat.Message
}

// New builds a dispatcher with bounded push concurrency.
func New(reg registry.Registry, transport PushTransport, workers int, rec metrics.Recorder, logger *zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Dispatcher{
		reg:       reg,
		transport: transport,
		workers:   workers,
		rec:       rec,
		log:       logger,
		queue:     make(chan chat.Message, queueCapacity),
	}
}

// Enqueue hands a durable message to the background broadcast loop. Messages
// are fanned out strictly in enqueue order, which keeps per-connection
// delivery in message creation order. A full queue drops the broadcast (the
// message stays durable and reaches clients on resync).
func (d *Dispatcher) Enqueue(msg chat.Message) error {
	select {
	case d.queue <- msg:
		return nil
	default:
		return fmt.Errorf("dispatch queue full, dropping broadcast of %s", msg.ID)
	}
}

// Run drains the broadcast queue until ctx is cancelled. One message is
// fully fanned out before the next starts.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			if err := d.Dispatch(ctx, msg); err != nil {
				d.log.Warn().Err(err).Str("message_id", msg.ID).Msg("broadcast failed")
			}
		}
	}
}

// Dispatch pushes msg to every connection currently listed for its room.
// Per-connection failures are isolated: a transient error is logged and
// skipped (the durable log covers the gap on the client's next resync), a
// terminal one unregisters the connection so it is never pushed to again.
// The returned error only reports registry unavailability; the message
// itself stays durable either way.
func (d *Dispatcher) Dispatch(ctx context.Context, msg chat.Message) error {
	payload, err := proto.EncodeJSON(msg)
	if err != nil {
		return err
	}

	conns, err := d.reg.ListByRoom(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("list room %s: %w", msg.RoomID, err)
	}

	start := time.Now()

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		sem <- struct{}{}
		go func(conn registry.Connection) {
			defer wg.Done()
			defer func() { <-sem }()
			d.pushOne(ctx, conn, msg, payload)
		}(conn)
	}
	wg.Wait()

	d.rec.DispatchDuration(msg.RoomID, time.Since(start))

	d.log.Debug().
		Str("message_id", msg.ID).
		Str("room", msg.RoomID).
		Int("connections", len(conns)).
		Msg("dispatched message")
	return nil
}

func (d *Dispatcher) pushOne(ctx context.Context, conn registry.Connection, msg chat.Message, payload []byte) {
	err := d.transport.Push(ctx, conn.ID, payload)
	switch {
	case err == nil:
		d.rec.PushOutcome(msg.RoomID, metrics.OutcomeSuccess)
	case errors.Is(err, ErrGone):
		d.rec.PushOutcome(msg.RoomID, metrics.OutcomeGone)
		d.log.Info().
			Str("connection_id", conn.ID).
			Str("room", msg.RoomID).
			Msg("removing stale connection")
		if uerr := d.reg.Unregister(ctx, conn.ID); uerr != nil {
			d.log.Warn().Err(uerr).Str("connection_id", conn.ID).Msg("failed to unregister stale connection")
		}
	default:
		// Transient: no retry here. The message is durable and will reach
		// the client on its next full-room resync.
		d.rec.PushOutcome(msg.RoomID, metrics.OutcomeTransient)
		d.log.Warn().Err(err).
			Str("connection_id", conn.ID).
			Str("room", msg.RoomID).
			Msg("push failed")
	}
}

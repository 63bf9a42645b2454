package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/proto"
	"github.com/swflcoders/chatsync/internal/utils"
)

// ErrNotReady is returned by Connect when the agent has no identity yet.
var ErrNotReady = errors.New("client identity not set")

// State is the agent's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal: the retry ceiling was reached. Only an
	// explicit Connect leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sender is the REST-style write path: it durably appends a message and
// returns the server-confirmed copy.
type Sender interface {
	Post(ctx context.Context, msg chat.Message) (chat.Message, error)
}

// Fetcher loads recent room history for initial page load and resync.
type Fetcher interface {
	Recent(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
	defaultFetchLimit  = 25
)

// Options configures an Agent.
type Options struct {
	RoomID   string
	UserID   string
	Username string

	// BaseDelay seeds the exponential backoff: retry n waits
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// MaxAttempts caps automatic reconnects before the agent fails.
	MaxAttempts int
	FetchLimit  int

	Clock  clockwork.Clock
	Logger *zerolog.Logger

	// OnUpdate, when set, is called after every processed event.
	OnUpdate func()
}

// Snapshot is the externally visible agent state.
type Snapshot struct {
	State     State
	Attempts  int
	LastError string
	Messages  []Entry
}

// Agent owns one transport connection, the reconnection state machine, and
// the local message cache. All inputs (API calls, transport events, timer
// fires, send and fetch results) are serialized onto the Run goroutine
// through one event channel, so no two transitions ever race.
type Agent struct {
	transport Transport
	sender    Sender
	fetcher   Fetcher
	opts      Options
	clock     clockwork.Clock
	log       *zerolog.Logger

	events chan event
	done   chan struct{}
	runCtx context.Context

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	cache    *Cache
	// epoch counts transport generations; events tagged with an older
	// epoch belong to a superseded connection and are dropped.
	epoch int
	conn  Conn
}

// New builds an agent. Run must be started before Connect or Send is used.
func New(transport Transport, sender Sender, fetcher Fetcher, opts Options) *Agent {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = defaultFetchLimit
	}
	if opts.RoomID == "" {
		opts.RoomID = chat.DefaultRoom
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Agent{
		transport: transport,
		sender:    sender,
		fetcher:   fetcher,
		opts:      opts,
		clock:     clock,
		log:       logger,
		events:    make(chan event, 32),
		done:      make(chan struct{}),
		cache:     NewCache(opts.UserID),
		state:     StateDisconnected,
	}
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evSend
	evOpened
	evTransport
	evRetry
	evSendResult
	evFetchResult
)

type event struct {
	kind  eventKind
	epoch int

	conn  Conn
	tev   Event
	text  string
	msg   chat.Message
	msgs  []chat.Message
	corr  string
	err   error
	reply chan error
}

// Run processes events until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	a.runCtx = ctx
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			if a.conn != nil {
				conn := a.conn
				a.conn = nil
				go conn.Close(context.Background())
			}
			a.mu.Unlock()
			return
		case ev := <-a.events:
			a.handle(ev)
			if a.opts.OnUpdate != nil {
				a.opts.OnUpdate()
			}
		}
	}
}

func (a *Agent) post(ev event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// Connect asks the agent to open a transport connection. It fails with
// ErrNotReady when no identity is configured; any state other than
// disconnected or failed is a no-op.
func (a *Agent) Connect() error {
	reply := make(chan error, 1)
	a.post(event{kind: evConnect, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return context.Canceled
	}
}

// Disconnect closes the transport, cancels any pending retry, and parks the
// agent in the disconnected state. No automatic reconnection follows.
func (a *Agent) Disconnect() {
	a.post(event{kind: evDisconnect})
}

// Send queues a message optimistically. It is accepted in every connection
// state; the merge algorithm reconciles the confirmed copy or rolls the
// entry back on terminal failure.
func (a *Agent) Send(text string) error {
	cleaned, err := chat.ValidateText(text)
	if err != nil {
		return err
	}
	a.post(event{kind: evSend, text: cleaned})
	return nil
}

// Snapshot returns the current state, retry bookkeeping, and visible
// message sequence.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		State:    a.state,
		Attempts: a.attempts,
		Messages: a.cache.Visible(),
	}
	if a.lastErr != nil {
		snap.LastError = a.lastErr.Error()
	}
	return snap
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) handle(ev event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.kind {
	case evConnect:
		ev.reply <- a.handleConnect()
	case evDisconnect:
		a.handleDisconnect()
	case evSend:
		a.handleSend(ev.text)
	case evOpened:
		a.handleOpened(ev)
	case evTransport:
		a.handleTransport(ev)
	case evRetry:
		a.handleRetry(ev)
	case evSendResult:
		a.handleSendResult(ev)
	case evFetchResult:
		if ev.err != nil {
			a.log.Warn().Err(ev.err).Msg("history fetch failed")
			return
		}
		a.cache.ApplyAll(ev.msgs)
	}
}

func (a *Agent) handleConnect() error {
	if a.opts.UserID == "" || a.opts.Username == "" {
		return ErrNotReady
	}
	if a.state != StateDisconnected && a.state != StateFailed {
		return nil
	}

	a.state = StateConnecting
	a.attempts = 0
	a.lastErr = nil
	go a.dial(a.epoch)
	return nil
}

func (a *Agent) handleDisconnect() {
	// Bumping the epoch cancels everything in flight: dials, retry timers,
	// and events from the current connection all become stale.
	a.epoch++
	if a.conn != nil {
		conn := a.conn
		a.conn = nil
		go conn.Close(context.Background())
	}
	a.state = StateDisconnected
	a.attempts = 0
}

func (a *Agent) handleSend(text string) {
	msg := chat.Message{
		RoomID:          a.opts.RoomID,
		UserID:          a.opts.UserID,
		Username:        a.opts.Username,
		Text:            text,
		CreatedAt:       a.clock.Now().UTC(),
		ClientMessageID: utils.NewCorrelationID(),
	}
	a.cache.AddOptimistic(msg)

	if a.sender == nil {
		return
	}
	go func() {
		confirmed, err := a.sender.Post(a.runCtx, msg)
		a.post(event{kind: evSendResult, corr: msg.ClientMessageID, msg: confirmed, err: err})
	}()
}

func (a *Agent) handleSendResult(ev event) {
	// Send results carry no epoch: a send outlives reconnects.
	if ev.err != nil {
		a.log.Warn().Err(ev.err).Str("client_message_id", ev.corr).Msg("send failed, rolling back optimistic entry")
		a.cache.DropOptimistic(ev.corr)
		return
	}
	a.cache.Apply(ev.msg)
}

func (a *Agent) handleOpened(ev event) {
	if ev.epoch != a.epoch || a.state != StateConnecting {
		// Superseded dial; close the stray connection.
		go ev.conn.Close(context.Background())
		return
	}

	a.conn = ev.conn
	a.state = StateConnected
	a.attempts = 0
	a.lastErr = nil
	a.log.Info().Str("room", a.opts.RoomID).Msg("connected")

	if a.fetcher != nil {
		go a.fetch()
	}
}

func (a *Agent) handleTransport(ev event) {
	if ev.epoch != a.epoch {
		return
	}

	switch ev.tev.Kind {
	case EventMessage:
		msg, err := proto.Decode(ev.tev.Payload)
		if err != nil {
			// Malformed pushes are dropped; the cache stays intact.
			a.log.Warn().Err(err).Msg("dropping undecodable push")
			return
		}
		a.cache.Apply(msg)
	case EventClosed:
		a.conn = nil
		switch a.state {
		case StateConnected:
			if ev.tev.Normal {
				a.log.Info().Msg("connection closed")
				a.state = StateDisconnected
				return
			}
			a.scheduleRetry(ev.tev.Err)
		case StateConnecting:
			a.scheduleRetry(ev.tev.Err)
		default:
			// Already disconnected or failed; nothing to do.
		}
	}
}

func (a *Agent) scheduleRetry(cause error) {
	if cause == nil {
		cause = errors.New("connection dropped")
	}
	a.lastErr = cause

	if a.attempts >= a.opts.MaxAttempts {
		a.state = StateFailed
		a.log.Error().Err(cause).Int("attempts", a.attempts).Msg("giving up on reconnect")
		return
	}

	delay := a.opts.BaseDelay << a.attempts
	a.attempts++
	a.state = StateReconnecting
	a.log.Warn().Err(cause).Int("attempt", a.attempts).Dur("delay", delay).Msg("reconnecting")

	timer := a.clock.NewTimer(delay)
	epoch := a.epoch
	go func() {
		<-timer.Chan()
		a.post(event{kind: evRetry, epoch: epoch})
	}()
}

func (a *Agent) handleRetry(ev event) {
	if ev.epoch != a.epoch || a.state != StateReconnecting {
		return
	}
	a.state = StateConnecting
	go a.dial(a.epoch)
}

func (a *Agent) dial(epoch int) {
	conn, err := a.transport.Dial(a.runCtx)
	if err != nil {
		a.post(event{kind: evTransport, epoch: epoch, tev: Event{Kind: EventClosed, Err: err}})
		return
	}

	a.post(event{kind: evOpened, epoch: epoch, conn: conn})

	for tev := range conn.Events() {
		a.post(event{kind: evTransport, epoch: epoch, tev: tev})
	}
}

func (a *Agent) fetch() {
	msgs, err := a.fetcher.Recent(a.runCtx, a.opts.RoomID, a.opts.FetchLimit)
	a.post(event{kind: evFetchResult, msgs: msgs, err: err})
}

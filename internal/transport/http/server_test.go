package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/config"
	"github.com/swflcoders/chatsync/internal/dispatch"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/proto"
	"github.com/swflcoders/chatsync/internal/registry"
	"github.com/swflcoders/chatsync/internal/store/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, registry.Registry) {
	t.Helper()

	messages, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("init message log: %v", err)
	}
	t.Cleanup(func() { messages.Close() })

	disabledLogger := zerolog.New(nil)
	reg := registry.NewMemory(time.Hour, clockwork.NewRealClock())
	sink := NewSink()
	disp := dispatch.New(reg, sink, 4, nil, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.Run(ctx)

	cfg := config.Default()
	cfg.Addr = ":0"

	server := NewServer(Deps{
		Messages:   messages,
		Registry:   reg,
		Sink:       sink,
		Dispatcher: disp,
		Recorder:   metrics.Nop{},
	}, cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, reg
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) *stdhttp.Response {
	t.Helper()
	resp, err := stdhttp.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func TestPostMessageReturnsCanonicalEncoding(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/chat/messages",
		`{"room_id":"General","user_id":"u1","username":"alice","text":"hello","client_message_id":"corr-1"}`)
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var wire proto.WireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if wire.ID == "" {
		t.Fatal("expected server-assigned message id")
	}
	if wire.RoomID != "general" {
		t.Fatalf("expected normalized room id, got %q", wire.RoomID)
	}
	if wire.ClientMessageID != "corr-1" {
		t.Fatalf("expected correlation id echoed, got %q", wire.ClientMessageID)
	}
	if _, err := time.Parse(time.RFC3339Nano, wire.CreatedAt); err != nil {
		t.Fatalf("expected RFC3339 createdAt, got %q: %v", wire.CreatedAt, err)
	}
}

func TestPostMessageValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing text", `{"room_id":"general","user_id":"u1","username":"alice"}`},
		{"blank text", `{"room_id":"general","user_id":"u1","username":"alice","text":"   "}`},
		{"text too long", `{"room_id":"general","user_id":"u1","username":"alice","text":"` + strings.Repeat("x", 501) + `"}`},
		{"missing user", `{"room_id":"general","username":"alice","text":"hi"}`},
		{"username too long", `{"room_id":"general","user_id":"u1","username":"` + strings.Repeat("n", 51) + `","text":"hi"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts, "/api/chat/messages", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != stdhttp.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, text := range []string{"one", "two", "three"} {
		resp := postJSON(t, ts, "/api/chat/messages",
			`{"room_id":"general","user_id":"u1","username":"alice","text":"`+text+`"}`)
		resp.Body.Close()
		// Distinct millisecond timestamps keep the order unambiguous.
		time.Sleep(2 * time.Millisecond)
	}

	resp, err := stdhttp.Get(ts.URL + "/api/chat/messages/general?limit=2")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var page MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].Text != "three" || page.Messages[1].Text != "two" {
		t.Fatalf("expected newest-first order, got %q then %q", page.Messages[0].Text, page.Messages[1].Text)
	}
}

func TestHistoryRejectsBadParams(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{
		"/api/chat/messages/general?limit=zero",
		"/api/chat/messages/general?limit=0",
		"/api/chat/messages/general?before=yesterday",
	} {
		resp, err := stdhttp.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != stdhttp.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", path, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok status, got %q", health.Status)
	}
}

func waitForConnections(t *testing.T, reg registry.Registry, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conns, err := reg.ListByRoom(context.Background(), roomID)
		if err != nil {
			t.Fatalf("list connections: %v", err)
		}
		if len(conns) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d connections", roomID, want)
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	ts, reg := newTestServer(t)

	conn := dialWS(t, ts, "room_id=general&user_id=u-listener&username=bob")
	waitForConnections(t, reg, "general", 1)

	resp := postJSON(t, ts, "/api/chat/messages",
		`{"room_id":"general","user_id":"u-sender","username":"alice","text":"over the wire"}`)
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read push: %v", err)
	}

	msg, err := proto.Decode(payload)
	if err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if msg.Text != "over the wire" || msg.UserID != "u-sender" {
		t.Fatalf("unexpected push: %+v", msg)
	}
}

func TestWebsocketRejectsChatSends(t *testing.T) {
	ts, reg := newTestServer(t)

	conn := dialWS(t, ts, "room_id=general&user_id=u1&username=alice")
	waitForConnections(t, reg, "general", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "send"}); err != nil {
		t.Fatalf("write send frame: %v", err)
	}

	var frame proto.ErrorFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != proto.OutboundTypeError || frame.Error.Code != proto.ErrCodeUseRest {
		t.Fatalf("expected use_rest error frame, got %+v", frame)
	}
}

func TestWebsocketUnregistersOnClose(t *testing.T) {
	ts, reg := newTestServer(t)

	conn := dialWS(t, ts, "room_id=general&user_id=u1&username=alice")
	waitForConnections(t, reg, "general", 1)

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitForConnections(t, reg, "general", 0)
}

func TestWebsocketRequiresUserID(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=general"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without user_id")
	}
	if resp == nil || resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected status 400 handshake rejection, got %+v", resp)
	}
}

func TestSinkPushClassification(t *testing.T) {
	sink := NewSink()

	if err := sink.Push(context.Background(), "absent", []byte("x")); !errors.Is(err, dispatch.ErrGone) {
		t.Fatalf("expected ErrGone for unknown connection, got %v", err)
	}

	queue := sink.Attach("c1")
	if err := sink.Push(context.Background(), "c1", []byte("hello")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := string(<-queue); got != "hello" {
		t.Fatalf("expected queued payload, got %q", got)
	}

	// Fill the queue; the overflow error must be transient, not terminal.
	for i := 0; i < outboundQueueSize; i++ {
		if err := sink.Push(context.Background(), "c1", []byte("fill")); err != nil {
			t.Fatalf("fill push %d: %v", i, err)
		}
	}
	err := sink.Push(context.Background(), "c1", []byte("overflow"))
	if err == nil {
		t.Fatal("expected overflow error")
	}
	if errors.Is(err, dispatch.ErrGone) {
		t.Fatal("backpressure must not be classified as gone")
	}

	sink.Detach("c1")
	for range queue {
		// drain until the closed channel ends the loop
	}
	if err := sink.Push(context.Background(), "c1", []byte("late")); !errors.Is(err, dispatch.ErrGone) {
		t.Fatalf("expected ErrGone after detach, got %v", err)
	}
}

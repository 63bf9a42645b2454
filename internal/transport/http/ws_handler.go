package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/proto"
	"github.com/swflcoders/chatsync/internal/registry"
	"github.com/swflcoders/chatsync/internal/utils"
)

// WSHandler upgrades HTTP connections to the push channel: it registers the
// connection, drains its sink queue into the socket, and handles the few
// inbound frame types. Chat sends over the socket are rejected; the REST
// write path is the only way to post.
type WSHandler struct {
	reg  registry.Registry
	sink *Sink
	rec  metrics.Recorder
	log  *zerolog.Logger
}

// NewWSHandler builds a new websocket handler.
func NewWSHandler(reg registry.Registry, sink *Sink, rec metrics.Recorder, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{reg: reg, sink: sink, rec: rec, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	query := r.URL.Query()

	roomID := query.Get("room_id")
	if roomID == "" {
		roomID = chat.DefaultRoom
	}
	roomID, err := chat.NormalizeRoomID(roomID)
	if err != nil {
		stdhttp.Error(w, "invalid room_id", stdhttp.StatusBadRequest)
		return
	}

	userID := query.Get("user_id")
	if userID == "" {
		stdhttp.Error(w, "user_id is required", stdhttp.StatusBadRequest)
		return
	}

	username, err := chat.ValidateUsername(query.Get("username"))
	if err != nil {
		if errors.Is(err, chat.ErrEmptyUsername) {
			username = "guest"
		} else {
			stdhttp.Error(w, "invalid username", stdhttp.StatusBadRequest)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := r.Context()
	connectionID := utils.NewCorrelationID()

	if _, err := h.reg.Register(ctx, connectionID, roomID, userID, username); err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to register connection")
		conn.Close(websocket.StatusInternalError, "registry unavailable")
		return
	}
	h.rec.ConnectionEvent("connect", roomID)
	h.log.Info().
		Str("connection_id", connectionID).
		Str("room", roomID).
		Str("user_id", userID).
		Msg("connection registered")
	defer func() {
		if err := h.reg.Unregister(context.Background(), connectionID); err != nil {
			h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to unregister connection")
		}
		h.rec.ConnectionEvent("disconnect", roomID)
	}()

	queue := h.sink.Attach(connectionID)
	defer h.sink.Detach(connectionID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, connectionID)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, queue)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, connectionID string) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case proto.InboundTypePing:
			if err := h.reg.Touch(ctx, connectionID); err != nil {
				h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to refresh connection ttl")
			}
		case "send", "message":
			if err := wsjson.Write(ctx, conn, proto.ErrorFrame{
				Type:  proto.OutboundTypeError,
				Error: proto.Error{Code: proto.ErrCodeUseRest, Msg: "post messages over the REST API"},
			}); err != nil {
				return err
			}
		default:
			if err := wsjson.Write(ctx, conn, proto.ErrorFrame{
				Type:  proto.OutboundTypeError,
				Error: proto.Error{Code: proto.ErrCodeBadFrame, Msg: "unknown frame type"},
			}); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, queue <-chan []byte) error {
	for {
		select {
		case payload, ok := <-queue:
			if !ok {
				return nil
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/dispatch"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/proto"
	"github.com/swflcoders/chatsync/internal/store"
)

const maxHistoryLimit = 200

// ChatHandlers provides HTTP handlers for the message endpoints.
type ChatHandlers struct {
	messages     store.MessageLog
	disp         *dispatch.Dispatcher
	rec          metrics.Recorder
	log          *zerolog.Logger
	historyLimit int
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(messages store.MessageLog, disp *dispatch.Dispatcher, rec metrics.Recorder, historyLimit int, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		messages:     messages,
		disp:         disp,
		rec:          rec,
		log:          logger,
		historyLimit: historyLimit,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PostMessageRequest represents the post message request body.
type PostMessageRequest struct {
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id" binding:"required"`
	Username        string `json:"username" binding:"required"`
	Text            string `json:"text" binding:"required"`
	ClientMessageID string `json:"client_message_id"`
}

// MessagesResponse represents a page of messages, newest first.
type MessagesResponse struct {
	Messages []proto.WireMessage `json:"messages"`
}

// PostMessage handles the durable write path: validate, append, respond,
// then fan out asynchronously.
// POST /api/chat/messages
func (h *ChatHandlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid post message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = chat.DefaultRoom
	}
	roomID, err := chat.NormalizeRoomID(roomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	username, err := chat.ValidateUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	text, err := chat.ValidateText(req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	stored, err := h.messages.Append(c.Request.Context(), chat.Message{
		RoomID:          roomID,
		UserID:          req.UserID,
		Username:        username,
		Text:            text,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
			return
		}
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to append message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.rec.MessagePosted(roomID, len(text))
	h.log.Info().
		Str("message_id", stored.ID).
		Str("room", roomID).
		Str("user_id", stored.UserID).
		Msg("message appended")

	// The append is already durable; the broadcast loop fans out in enqueue
	// order and failures only delay delivery until the clients resync.
	if err := h.disp.Enqueue(stored); err != nil {
		h.log.Warn().Err(err).Str("message_id", stored.ID).Msg("broadcast not queued")
	}

	c.JSON(http.StatusCreated, proto.Encode(stored))
}

// History handles message paging for a room, newest first.
// GET /api/chat/messages/:room_id
func (h *ChatHandlers) History(c *gin.Context) {
	roomID, err := chat.NormalizeRoomID(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp"})
			return
		}
		before = parsed
	}

	msgs, err := h.messages.QueryRoom(c.Request.Context(), roomID, limit, before)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
			return
		}
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to query messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := MessagesResponse{Messages: make([]proto.WireMessage, 0, len(msgs))}
	for _, msg := range msgs {
		response.Messages = append(response.Messages, proto.Encode(msg))
	}
	c.JSON(http.StatusOK, response)
}

// HealthResponse represents the health check response body.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

const version = "0.1.0"

// Health handles liveness checks.
// GET /health
func (h *ChatHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

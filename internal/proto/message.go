package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swflcoders/chatsync/internal/chat"
)

// ErrDecode marks payloads that cannot be normalized into a message.
// Callers drop the payload with a warning; it never reaches merge logic.
var ErrDecode = errors.New("decode message")

// WireMessage is the canonical JSON shape for a message. REST responses and
// websocket pushes both use this encoding, so clients can run every arrival
// through one reconciliation path.
type WireMessage struct {
	ID              string `json:"id"`
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Text            string `json:"text"`
	CreatedAt       string `json:"createdAt"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// looseMessage accepts every historical field spelling: camelCase, the
// snake_case REST shape, message_text bodies, and epoch-millisecond "ts"
// timestamps.
type looseMessage struct {
	ID string `json:"id"`

	RoomID      string `json:"roomId"`
	RoomIDSnake string `json:"room_id"`

	UserID      string `json:"userId"`
	UserIDSnake string `json:"user_id"`

	Username string `json:"username"`

	Text        string `json:"text"`
	MessageText string `json:"message_text"`

	CreatedAt      string `json:"createdAt"`
	CreatedAtSnake string `json:"created_at"`
	TS             int64  `json:"ts"`

	ClientMessageID      string `json:"clientMessageId"`
	ClientMessageIDSnake string `json:"client_message_id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Decode normalizes a serialized message into the domain model. It is the
// only entry point from wire bytes to chat.Message.
func Decode(data []byte) (chat.Message, error) {
	var loose looseMessage
	if err := json.Unmarshal(data, &loose); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return fromLoose(loose)
}

func fromLoose(loose looseMessage) (chat.Message, error) {
	msg := chat.Message{
		ID:              loose.ID,
		RoomID:          firstNonEmpty(loose.RoomID, loose.RoomIDSnake),
		UserID:          firstNonEmpty(loose.UserID, loose.UserIDSnake),
		Username:        loose.Username,
		Text:            firstNonEmpty(loose.Text, loose.MessageText),
		ClientMessageID: firstNonEmpty(loose.ClientMessageID, loose.ClientMessageIDSnake),
	}

	if msg.ID == "" {
		return chat.Message{}, fmt.Errorf("%w: missing id", ErrDecode)
	}
	if msg.RoomID == "" {
		return chat.Message{}, fmt.Errorf("%w: missing room id", ErrDecode)
	}

	switch {
	case loose.CreatedAt != "" || loose.CreatedAtSnake != "":
		raw := firstNonEmpty(loose.CreatedAt, loose.CreatedAtSnake)
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return chat.Message{}, fmt.Errorf("%w: bad timestamp %q", ErrDecode, raw)
		}
		msg.CreatedAt = ts.UTC()
	case loose.TS != 0:
		msg.CreatedAt = time.UnixMilli(loose.TS).UTC()
	default:
		return chat.Message{}, fmt.Errorf("%w: missing timestamp", ErrDecode)
	}

	return msg, nil
}

// Encode converts a domain message into the canonical wire shape.
func Encode(msg chat.Message) WireMessage {
	return WireMessage{
		ID:              msg.ID,
		RoomID:          msg.RoomID,
		UserID:          msg.UserID,
		Username:        msg.Username,
		Text:            msg.Text,
		CreatedAt:       msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		ClientMessageID: msg.ClientMessageID,
	}
}

// EncodeJSON serializes a domain message for the push channel.
func EncodeJSON(msg chat.Message) ([]byte, error) {
	data, err := json.Marshal(Encode(msg))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

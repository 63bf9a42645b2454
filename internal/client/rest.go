package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/proto"
)

// RESTClient talks to the chat REST API. It implements Sender and Fetcher;
// every response body runs through proto.Decode, so the server's field
// casing never leaks into merge logic.
type RESTClient struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	HTTP    *http.Client
}

func (c *RESTClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

type postMessageRequest struct {
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	Text            string `json:"text"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// Post appends a message through the REST write path and returns the
// server-confirmed copy.
func (c *RESTClient) Post(ctx context.Context, msg chat.Message) (chat.Message, error) {
	body, err := json.Marshal(postMessageRequest{
		RoomID:          msg.RoomID,
		UserID:          msg.UserID,
		Username:        msg.Username,
		Text:            msg.Text,
		ClientMessageID: msg.ClientMessageID,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal post request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat/messages", bytes.NewReader(body))
	if err != nil {
		return chat.Message{}, fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return chat.Message{}, fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chat.Message{}, fmt.Errorf("read post response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return chat.Message{}, fmt.Errorf("post message: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	return proto.Decode(data)
}

type messagesResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// Recent loads the latest messages of a room in chronological order.
func (c *RESTClient) Recent(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	endpoint := fmt.Sprintf("%s/api/chat/messages/%s?limit=%d", c.BaseURL, url.PathEscape(roomID), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var page messagesResponse
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	// The API pages newest-first; flip to chronological for callers.
	msgs := make([]chat.Message, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg, err := proto.Decode(page.Messages[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

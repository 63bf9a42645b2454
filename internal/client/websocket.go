package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// WSTransport dials the server's /ws push endpoint with the room and
// identity carried as query parameters.
type WSTransport struct {
	// BaseURL is the server root, e.g. ws://localhost:8080.
	BaseURL  string
	RoomID   string
	UserID   string
	Username string
}

// Dial opens a websocket session and starts its reader.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("room_id", t.RoomID)
	q.Set("user_id", t.UserID)
	q.Set("username", t.Username)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial ws: %w", err)
	}

	conn := &wsConn{ws: ws, events: make(chan Event, 32)}
	go conn.readLoop()
	return conn, nil
}

type wsConn struct {
	ws     *websocket.Conn
	events chan Event
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write ws: %w", err)
	}
	return nil
}

func (c *wsConn) Close(context.Context) error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			normal := false
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				normal = true
				err = nil
			}
			c.events <- Event{Kind: EventClosed, Normal: normal, Err: err}
			return
		}
		c.events <- Event{Kind: EventMessage, Payload: data}
	}
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swflcoders/chatsync/internal/chat"
	"github.com/swflcoders/chatsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	room_id           TEXT NOT NULL REFERENCES rooms(id),
	user_id           TEXT NOT NULL,
	username          TEXT NOT NULL,
	text              TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	client_message_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_room_order
	ON messages (room_id, created_at, id);
`

// Log implements store.MessageLog on SQLite. Timestamps are stored as
// epoch milliseconds, matching the wire payload's millisecond precision.
type Log struct {
	db *sql.DB
}

// New opens (and migrates) the message log at dbPath.
func New(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = chat.NewMessageID()
	msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, storageErr("begin", err)
	}
	defer tx.Rollback()

	if err := ensureRoom(ctx, tx, msg.RoomID, msg.CreatedAt); err != nil {
		return chat.Message{}, err
	}

	query := `
		INSERT INTO messages (id, room_id, user_id, username, text, created_at, client_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	clientID := sql.NullString{String: msg.ClientMessageID, Valid: msg.ClientMessageID != ""}
	_, err = tx.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Text, msg.CreatedAt.UnixMilli(), clientID)
	if err != nil {
		return chat.Message{}, storageErr("insert message", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, storageErr("commit", err)
	}
	return msg, nil
}

func ensureRoom(ctx context.Context, tx *sql.Tx, roomID string, now time.Time) error {
	name := roomID
	if roomID == chat.DefaultRoom {
		name = "General"
	}

	query := `INSERT OR IGNORE INTO rooms (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, roomID, name, now.UnixMilli()); err != nil {
		return storageErr("ensure room", err)
	}
	return nil
}

func (l *Log) QueryRoom(ctx context.Context, roomID string, limit int, before time.Time) ([]chat.Message, error) {
	query := `
		SELECT id, room_id, user_id, username, text, created_at, client_message_id
		FROM messages
		WHERE room_id = ?
	`
	args := []any{roomID}

	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before.UnixMilli())
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query room", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var msg chat.Message
		var millis int64
		var clientID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Text, &millis, &clientID); err != nil {
			return nil, storageErr("scan message", err)
		}
		msg.CreatedAt = time.UnixMilli(millis).UTC()
		msg.ClientMessageID = clientID.String
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate messages", err)
	}
	return out, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrStorageUnavailable, op, err)
}

var _ store.MessageLog = (*Log)(nil)

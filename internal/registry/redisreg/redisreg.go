package redisreg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/swflcoders/chatsync/internal/registry"
)

// Redis hash field names for connection entries.
const (
	fieldRoomID      = "room_id"
	fieldUserID      = "user_id"
	fieldUsername    = "username"
	fieldConnectedAt = "connected_at"
)

func connKey(connectionID string) string {
	return "chatsync:conn:" + connectionID
}

func roomKey(roomID string) string {
	return "chatsync:room:" + roomID
}

// Store implements registry.Registry on redis. Each connection is one hash
// with a native key TTL; a per-room set indexes membership. A room set can
// reference an expired hash, which reads treat as gone and prune.
type Store struct {
	rdb   *goredis.Client
	ttl   time.Duration
	clock clockwork.Clock
}

// New builds a redis-backed registry with the given entry TTL.
func New(rdb *goredis.Client, ttl time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{rdb: rdb, ttl: ttl, clock: clock}
}

func (s *Store) Register(ctx context.Context, connectionID, roomID, userID, username string) (registry.Connection, error) {
	now := s.clock.Now()
	conn := registry.Connection{
		ID:          connectionID,
		RoomID:      roomID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}

	ck := connKey(connectionID)

	// Keep the original connect time on re-register.
	prev, err := s.rdb.HGet(ctx, ck, fieldConnectedAt).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return registry.Connection{}, storageErr("hget", err)
	}
	if err == nil {
		if millis, parseErr := strconv.ParseInt(prev, 10, 64); parseErr == nil {
			conn.ConnectedAt = time.UnixMilli(millis)
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, ck, map[string]any{
		fieldRoomID:      roomID,
		fieldUserID:      userID,
		fieldUsername:    username,
		fieldConnectedAt: strconv.FormatInt(conn.ConnectedAt.UnixMilli(), 10),
	})
	pipe.Expire(ctx, ck, s.ttl)
	pipe.SAdd(ctx, roomKey(roomID), connectionID)
	pipe.Expire(ctx, roomKey(roomID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return registry.Connection{}, storageErr("register", err)
	}

	return conn, nil
}

func (s *Store) Unregister(ctx context.Context, connectionID string) error {
	ck := connKey(connectionID)

	roomID, err := s.rdb.HGet(ctx, ck, fieldRoomID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return storageErr("hget", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, ck)
	pipe.SRem(ctx, roomKey(roomID), connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return storageErr("unregister", err)
	}
	return nil
}

func (s *Store) ListByRoom(ctx context.Context, roomID string) ([]registry.Connection, error) {
	ids, err := s.rdb.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, storageErr("smembers", err)
	}

	var out []registry.Connection
	var stale []any
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, connKey(id)).Result()
		if err != nil {
			return nil, storageErr("hgetall", err)
		}
		if len(fields) == 0 {
			// Hash TTL fired; drop the dangling index entry.
			stale = append(stale, id)
			continue
		}

		conn := registry.Connection{
			ID:       id,
			RoomID:   fields[fieldRoomID],
			UserID:   fields[fieldUserID],
			Username: fields[fieldUsername],
		}
		if millis, parseErr := strconv.ParseInt(fields[fieldConnectedAt], 10, 64); parseErr == nil {
			conn.ConnectedAt = time.UnixMilli(millis)
		}
		if ttl, ttlErr := s.rdb.TTL(ctx, connKey(id)).Result(); ttlErr == nil && ttl > 0 {
			conn.ExpiresAt = s.clock.Now().Add(ttl)
		}
		out = append(out, conn)
	}

	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, roomKey(roomID), stale...).Err(); err != nil {
			return nil, storageErr("srem", err)
		}
	}
	return out, nil
}

func (s *Store) Touch(ctx context.Context, connectionID string) error {
	// Expire on a missing key is a no-op, matching Unregister semantics.
	if err := s.rdb.Expire(ctx, connKey(connectionID), s.ttl).Err(); err != nil {
		return storageErr("expire", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", registry.ErrStorageUnavailable, op, err)
}

var _ registry.Registry = (*Store)(nil)

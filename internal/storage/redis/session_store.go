package redis

import (
	"context"
	"time"

	"github.com/goodtune/playtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var upsertSession = redis.NewScript(upsertSessionScript)

type sessionStore struct {
	client    *redis.Client
	retention time.Duration
}

// UpsertSession creates or updates a play session
func (s *sessionStore) UpsertSession(ctx context.Context, session storage.PlaySession) error {
	active := "0"
	if session.Active {
		active = "1"
	}

	keys := []string{sessionKey(session.ID), activeSessionsKey(), appSessionKey(session.AppID)}
	args := []interface{}{
		session.ID,
		session.AppID,
		session.StartedAt.Format(time.RFC3339Nano),
		session.LastSeen.Format(time.RFC3339Nano),
		session.AccumulatedSeconds,
		active,
		int64(s.retention / time.Second),
	}

	return upsertSession.Run(ctx, s.client, keys, args...).Err()
}

// GetSession retrieves a session by ID
func (s *sessionStore) GetSession(ctx context.Context, id string) (*storage.PlaySession, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parsePlaySession(data)
}

// ListActiveSessions returns all active sessions
func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.PlaySession, error) {
	sessionIDs, err := s.client.SMembers(ctx, activeSessionsKey()).Result()
	if err != nil {
		return nil, err
	}

	if len(sessionIDs) == 0 {
		return []storage.PlaySession{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.PlaySession, 0, len(sessionIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parsePlaySession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// DeleteInactiveSessionsBefore deletes inactive sessions last seen before cutoff.
// Inactive sessions also carry a TTL, so this mostly catches sessions written
// with retention disabled.
func (s *sessionStore) DeleteInactiveSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor       uint64
		deletedCount int
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+":session:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return deletedCount, err
			}

			toDelete := make([]string, 0)
			for i, cmd := range cmds {
				session, err := parsePlaySession(cmd.Val())
				if err != nil || session.Active {
					continue
				}
				if session.LastSeen.Before(cutoff) {
					toDelete = append(toDelete, keys[i])
				}
			}

			if len(toDelete) > 0 {
				deleted, err := s.client.Del(ctx, toDelete...).Result()
				if err != nil {
					return deletedCount, err
				}
				deletedCount += int(deleted)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}

package bolt

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/playtime/internal/storage"
)

type sessionStore struct {
	store *Store
}

// UpsertSession writes the session and keeps the active index in step.
func (s *sessionStore) UpsertSession(ctx context.Context, session storage.PlaySession) error {
	return s.store.update(ctx, func(m *mirrorTx) error {
		return m.putSession(session)
	})
}

func (s *sessionStore) GetSession(ctx context.Context, id string) (*storage.PlaySession, error) {
	var session *storage.PlaySession
	err := s.store.view(ctx, func(m *mirrorTx) error {
		var err error
		session, err = readJSON[storage.PlaySession](m.sessions, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.PlaySession, error) {
	sessions := make([]storage.PlaySession, 0)
	err := s.store.view(ctx, func(m *mirrorTx) error {
		return m.active.ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			session, err := readJSON[storage.PlaySession](m.sessions, k)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			sessions = append(sessions, *session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *sessionStore) DeleteInactiveSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.store.update(ctx, func(m *mirrorTx) error {
		// Deleting under a live cursor skips the following key, so collect first.
		var expired [][]byte
		err := m.sessions.ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			session, err := readJSON[storage.PlaySession](m.sessions, k)
			if err != nil {
				return err
			}
			if !session.Active && session.LastSeen.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := m.deleteSession(k); err != nil {
				return err
			}
		}
		deleted = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

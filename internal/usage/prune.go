package usage

import (
	"context"
	"time"

	"github.com/goodtune/playtime/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultSessionRetention is how long closed sessions stay in the mirror.
const DefaultSessionRetention = 30 * 24 * time.Hour

// SessionPruner removes closed play sessions from the mirror once they are
// older than the retention period. Ledger history is never pruned.
type SessionPruner struct {
	sessions  storage.SessionStore
	retention time.Duration
	logger    zerolog.Logger
}

// NewSessionPruner creates a new session pruner
func NewSessionPruner(sessions storage.SessionStore, retention time.Duration, logger zerolog.Logger) *SessionPruner {
	if retention <= 0 {
		retention = DefaultSessionRetention
	}

	return &SessionPruner{
		sessions:  sessions,
		retention: retention,
		logger:    logger.With().Str("component", "session-pruner").Logger(),
	}
}

// Prune deletes closed sessions last seen before now minus the retention.
func (p *SessionPruner) Prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.retention)

	deleted, err := p.sessions.DeleteInactiveSessionsBefore(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	p.logger.Info().
		Int("sessions_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Old sessions cleaned up")

	return deleted, nil
}

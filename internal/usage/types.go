package usage

import (
	"time"

	"github.com/goodtune/playtime/internal/storage"
)

// Session is one uninterrupted run of an application, from Started to
// Stopped, as seen by the sampler.
type Session struct {
	ID                 string
	AppID              string
	StartedAt          time.Time
	LastSeen           time.Time
	AccumulatedSeconds int64
	Active             bool

	// sub-second remainder not yet folded into AccumulatedSeconds
	remainder time.Duration
}

func (s *Session) add(d time.Duration) {
	s.remainder += d
	s.AccumulatedSeconds += int64(s.remainder / time.Second)
	s.remainder %= time.Second
}

func (s *Session) record() storage.PlaySession {
	return storage.PlaySession{
		ID:                 s.ID,
		AppID:              s.AppID,
		StartedAt:          s.StartedAt,
		LastSeen:           s.LastSeen,
		AccumulatedSeconds: s.AccumulatedSeconds,
		Active:             s.Active,
	}
}

package storage

import (
	"sort"
	"time"
)

// Snapshot is the ledger state published after each commit.
type Snapshot struct {
	TakenAt      time.Time        `json:"taken_at"`
	Bucket       int64            `json:"bucket"`
	Running      []string         `json:"running"`
	BucketTotals map[string]int64 `json:"bucket_totals"` // app id -> seconds in Bucket
}

// Apps returns the app ids present in the bucket totals, sorted.
func (s *Snapshot) Apps() []string {
	apps := make([]string, 0, len(s.BucketTotals))
	for app := range s.BucketTotals {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// PlaySession represents one continuous run of an application.
type PlaySession struct {
	ID                 string    `json:"id"`
	AppID              string    `json:"app_id"`
	StartedAt          time.Time `json:"started_at"`
	LastSeen           time.Time `json:"last_seen"`
	AccumulatedSeconds int64     `json:"accumulated_seconds"`
	Active             bool      `json:"active"`
}

// Duration returns the accumulated active time of the session.
func (s PlaySession) Duration() time.Duration {
	return time.Duration(s.AccumulatedSeconds) * time.Second
}

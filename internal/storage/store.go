package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store is the status mirror: a best-effort, derived view of the ledger
// published for the status command and external dashboards. The ledger's
// SQLite database stays the source of truth.
type Store interface {
	Close() error
	Snapshots() SnapshotStore
	Sessions() SessionStore
}

// SnapshotStore keeps the most recent ledger snapshot.
type SnapshotStore interface {
	Publish(ctx context.Context, snapshot Snapshot) error
	Latest(ctx context.Context) (*Snapshot, error)
}

// SessionStore manages play sessions derived from Started/Stopped events.
type SessionStore interface {
	UpsertSession(ctx context.Context, session PlaySession) error
	GetSession(ctx context.Context, id string) (*PlaySession, error)
	ListActiveSessions(ctx context.Context) ([]PlaySession, error)
	DeleteInactiveSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

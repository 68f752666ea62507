package bolt

import (
	"context"

	"github.com/goodtune/playtime/internal/storage"
)

type snapshotStore struct {
	store *Store
}

// Publish replaces the latest snapshot.
func (s *snapshotStore) Publish(ctx context.Context, snapshot storage.Snapshot) error {
	return s.store.update(ctx, func(m *mirrorTx) error {
		return writeJSON(m.snapshots, []byte(keyLatestSnapshot), snapshot)
	})
}

func (s *snapshotStore) Latest(ctx context.Context) (*storage.Snapshot, error) {
	var snapshot *storage.Snapshot
	err := s.store.view(ctx, func(m *mirrorTx) error {
		var err error
		snapshot, err = readJSON[storage.Snapshot](m.snapshots, []byte(keyLatestSnapshot))
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

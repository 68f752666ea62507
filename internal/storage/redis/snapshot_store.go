package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/playtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type snapshotStore struct {
	client *redis.Client
}

// Publish replaces the latest snapshot
func (s *snapshotStore) Publish(ctx context.Context, snapshot storage.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, snapshotKey(), data, 0).Err()
}

// Latest returns the most recently published snapshot
func (s *snapshotStore) Latest(ctx context.Context) (*storage.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snapshot storage.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

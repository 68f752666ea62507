package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/playtime/internal/storage"
)

// parsePlaySession converts a Redis hash to PlaySession
func parsePlaySession(data map[string]string) (*storage.PlaySession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	lastSeen, err := time.Parse(time.RFC3339Nano, data["last_seen"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}

	accumulatedSeconds, err := strconv.ParseInt(data["accumulated_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse accumulated_seconds: %w", err)
	}

	active, err := strconv.ParseBool(data["active"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse active: %w", err)
	}

	return &storage.PlaySession{
		ID:                 data["id"],
		AppID:              data["app_id"],
		StartedAt:          startedAt,
		LastSeen:           lastSeen,
		AccumulatedSeconds: accumulatedSeconds,
		Active:             active,
	}, nil
}

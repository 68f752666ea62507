package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/playtime/internal/storage"
	"github.com/goodtune/playtime/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func TestSessionPrunerPrune(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "mirror.bolt"))
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Unix(1_700_000_040, 0).UTC()
	sessions := store.Sessions()

	seed := []storage.PlaySession{
		{ID: "expired", AppID: "570", StartedAt: now.Add(-72 * time.Hour), LastSeen: now.Add(-48 * time.Hour)},
		{ID: "recent", AppID: "570", StartedAt: now.Add(-2 * time.Hour), LastSeen: now.Add(-time.Hour)},
		{ID: "active", AppID: "730", StartedAt: now.Add(-72 * time.Hour), LastSeen: now.Add(-48 * time.Hour), Active: true},
	}
	for _, s := range seed {
		if err := sessions.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	pruner := NewSessionPruner(sessions, 24*time.Hour, zerolog.Nop())
	deleted, err := pruner.Prune(ctx, now)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := sessions.GetSession(ctx, "expired"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired session still present: %v", err)
	}
	for _, id := range []string{"recent", "active"} {
		if _, err := sessions.GetSession(ctx, id); err != nil {
			t.Errorf("session %s should survive: %v", id, err)
		}
	}
}

package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/playtime/internal/storage"
)

func TestSnapshotStoreLatest(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, err := store.Snapshots().Latest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	first := storage.Snapshot{
		TakenAt:      time.Unix(1_700_000_040, 0).UTC(),
		Bucket:       472222,
		Running:      []string{"570"},
		BucketTotals: map[string]int64{"570": 60},
	}
	second := first
	second.TakenAt = first.TakenAt.Add(time.Minute)
	second.BucketTotals = map[string]int64{"570": 120, "730": 5}

	for _, snapshot := range []storage.Snapshot{first, second} {
		if err := store.Snapshots().Publish(ctx, snapshot); err != nil {
			t.Fatalf("publish snapshot: %v", err)
		}
	}

	latest, err := store.Snapshots().Latest(ctx)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if !latest.TakenAt.Equal(second.TakenAt) {
		t.Fatalf("expected latest snapshot at %v, got %v", second.TakenAt, latest.TakenAt)
	}
	if latest.BucketTotals["570"] != 120 {
		t.Fatalf("expected 120 seconds for 570, got %d", latest.BucketTotals["570"])
	}
	if apps := latest.Apps(); len(apps) != 2 || apps[0] != "570" || apps[1] != "730" {
		t.Fatalf("unexpected apps %v", apps)
	}
}

func TestSessionStoreActiveIndex(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	now := time.Now().UTC().Truncate(time.Second)

	active := storage.PlaySession{ID: "s-1", AppID: "570", StartedAt: now, LastSeen: now, Active: true}
	finished := storage.PlaySession{ID: "s-2", AppID: "730", StartedAt: now, LastSeen: now, AccumulatedSeconds: 30, Active: false}

	for _, session := range []storage.PlaySession{active, finished} {
		if err := sessions.UpsertSession(ctx, session); err != nil {
			t.Fatalf("upsert session: %v", err)
		}
	}

	list, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active sessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s-1" {
		t.Fatalf("expected only s-1 active, got %+v", list)
	}

	active.Active = false
	active.AccumulatedSeconds = 90
	if err := sessions.UpsertSession(ctx, active); err != nil {
		t.Fatalf("close session: %v", err)
	}

	list, err = sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active sessions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(list))
	}

	got, err := sessions.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.AccumulatedSeconds != 90 {
		t.Fatalf("expected 90 accumulated seconds, got %d", got.AccumulatedSeconds)
	}
}

func TestSessionStoreDeleteInactiveBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	old := time.Now().Add(-48 * time.Hour)

	fixtures := []storage.PlaySession{
		{ID: "old-1", AppID: "570", StartedAt: old, LastSeen: old},
		{ID: "old-2", AppID: "730", StartedAt: old, LastSeen: old},
		{ID: "old-active", AppID: "440", StartedAt: old, LastSeen: old, Active: true},
		{ID: "recent", AppID: "570", StartedAt: time.Now(), LastSeen: time.Now()},
	}
	for _, session := range fixtures {
		if err := sessions.UpsertSession(ctx, session); err != nil {
			t.Fatalf("upsert session: %v", err)
		}
	}

	deleted, err := sessions.DeleteInactiveSessionsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete inactive sessions: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted sessions, got %d", deleted)
	}

	if _, err := sessions.GetSession(ctx, "old-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected old-1 to be gone, got %v", err)
	}
	if _, err := sessions.GetSession(ctx, "old-active"); err != nil {
		t.Fatalf("active session must survive pruning: %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mirror.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

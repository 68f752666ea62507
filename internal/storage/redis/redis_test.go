package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/playtime/internal/config"
	"github.com/goodtune/playtime/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "127.0.0.1:1", DialTimeout: "soon", ReadTimeout: "1s", WriteTimeout: "1s"}, 0)
	if err == nil {
		t.Fatal("expected error for invalid dial_timeout")
	}
}

func TestSnapshotStore_PublishLatest(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, err := store.Snapshots().Latest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	snapshot := storage.Snapshot{
		TakenAt:      time.Unix(1_700_000_040, 0).UTC(),
		Bucket:       472222,
		Running:      []string{"570", "730"},
		BucketTotals: map[string]int64{"570": 60, "730": 12},
	}
	if err := store.Snapshots().Publish(ctx, snapshot); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	latest, err := store.Snapshots().Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Bucket != snapshot.Bucket {
		t.Errorf("Expected bucket %d, got %d", snapshot.Bucket, latest.Bucket)
	}
	if len(latest.Running) != 2 {
		t.Errorf("Expected 2 running apps, got %d", len(latest.Running))
	}
	if latest.BucketTotals["730"] != 12 {
		t.Errorf("Expected 12 seconds for 730, got %d", latest.BucketTotals["730"])
	}
}

func TestSessionStore_UpsertAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	now := time.Now().UTC()

	session := storage.PlaySession{
		ID:                 "session-1",
		AppID:              "570",
		StartedAt:          now,
		LastSeen:           now,
		AccumulatedSeconds: 120,
		Active:             true,
	}
	if err := sessions.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	retrieved, err := sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if retrieved.AppID != session.AppID {
		t.Errorf("Expected AppID %s, got %s", session.AppID, retrieved.AppID)
	}
	if retrieved.AccumulatedSeconds != 120 {
		t.Errorf("Expected AccumulatedSeconds 120, got %d", retrieved.AccumulatedSeconds)
	}
	if !retrieved.Active {
		t.Error("Expected Active to be true")
	}

	if _, err := sessions.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing session, got %v", err)
	}
}

func TestSessionStore_ListActiveSessions(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	active := storage.PlaySession{ID: "active-1", AppID: "570", StartedAt: time.Now(), LastSeen: time.Now(), Active: true}
	inactive := storage.PlaySession{ID: "inactive-1", AppID: "730", StartedAt: time.Now().Add(-2 * time.Hour), LastSeen: time.Now().Add(-time.Hour)}

	_ = sessions.UpsertSession(ctx, active)
	_ = sessions.UpsertSession(ctx, inactive)

	list, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(list))
	}
	if list[0].ID != "active-1" {
		t.Errorf("Expected active-1, got %s", list[0].ID)
	}
}

func TestSessionStore_DeleteInactiveSessionsBefore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	old := time.Now().Add(-48 * time.Hour)

	_ = sessions.UpsertSession(ctx, storage.PlaySession{ID: "old", AppID: "570", StartedAt: old, LastSeen: old})
	_ = sessions.UpsertSession(ctx, storage.PlaySession{ID: "old-active", AppID: "730", StartedAt: old, LastSeen: old, Active: true})
	_ = sessions.UpsertSession(ctx, storage.PlaySession{ID: "recent", AppID: "440", StartedAt: time.Now(), LastSeen: time.Now()})

	deleted, err := sessions.DeleteInactiveSessionsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteInactiveSessionsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted session, got %d", deleted)
	}

	if _, err := sessions.GetSession(ctx, "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected old session to be deleted, got %v", err)
	}
	if _, err := sessions.GetSession(ctx, "old-active"); err != nil {
		t.Errorf("Active session must survive: %v", err)
	}
}

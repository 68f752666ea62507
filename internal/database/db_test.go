package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "ledger", "playtime.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertObject(t *testing.T, db *DB, appID string) int64 {
	t.Helper()

	res, err := db.Exec("INSERT INTO objects (app_id) VALUES (?)", appID)
	if err != nil {
		t.Fatalf("failed to insert object %s: %v", appID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("failed to read object id: %v", err)
	}
	return id
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playtime.db")

	for i := 0; i < 2; i++ {
		db, err := New(path)
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}

		var version int
		if err := db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
			t.Fatalf("failed to read migration version: %v", err)
		}
		if version != len(getMigrations()) {
			t.Errorf("migration version = %d, want %d", version, len(getMigrations()))
		}
		if err := db.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	}
}

func TestNew_Memory(t *testing.T) {
	db, err := New(MemoryPath)
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if db.Path() != MemoryPath {
		t.Errorf("Path() = %q, want %q", db.Path(), MemoryPath)
	}
	insertObject(t, db, "570")
}

func TestDailyTotals(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := insertObject(t, db, "570")
	b := insertObject(t, db, "730")
	if err := db.SetAlias(ctx, "570", "Dota 2"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	bucket := day.Unix() / BucketSeconds
	rows := []struct {
		bucket, object, value int64
	}{
		{bucket, a, 30},
		{bucket + 1, a, 95},
		{bucket + 2, b, 10},
		{bucket + 24, a, 60}, // next day
		{bucket - 1, a, 999}, // previous day
	}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO timeline (bucket, object_id, value) VALUES (?, ?, ?)",
			r.bucket, r.object, r.value); err != nil {
			t.Fatalf("failed to insert timeline row: %v", err)
		}
	}

	totals, err := db.DailyTotals(ctx, day, day.AddDate(0, 0, 2), time.UTC)
	if err != nil {
		t.Fatalf("DailyTotals failed: %v", err)
	}

	want := []AppTotal{
		{AppID: "570", Alias: "Dota 2", Day: "2024-03-10", Seconds: 125},
		{AppID: "730", Day: "2024-03-10", Seconds: 10},
		{AppID: "570", Alias: "Dota 2", Day: "2024-03-11", Seconds: 60},
	}
	if len(totals) != len(want) {
		t.Fatalf("got %d totals, want %d: %+v", len(totals), len(want), totals)
	}
	for i := range want {
		if totals[i] != want[i] {
			t.Errorf("totals[%d] = %+v, want %+v", i, totals[i], want[i])
		}
	}
	if totals[0].Name() != "Dota 2" || totals[1].Name() != "730" {
		t.Errorf("unexpected names %q, %q", totals[0].Name(), totals[1].Name())
	}
}

func TestDailyTotals_FractionalOffset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := insertObject(t, db, "570")

	ist := time.FixedZone("IST", 5*3600+1800)
	since := time.Date(2024, 3, 10, 0, 0, 0, 0, ist) // 2024-03-09 18:30 UTC
	until := since.AddDate(0, 0, 1)

	first := since.Unix()/BucketSeconds + 1 // 19:00 UTC, the first bucket starting after midnight
	rows := []struct {
		bucket, value int64
	}{
		{first - 1, 40},  // 23:30 local on the 9th
		{first, 30},      // 00:30 local on the 10th
		{first + 23, 20}, // 23:30 local on the 10th
		{first + 24, 10}, // 00:30 local on the 11th
	}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO timeline (bucket, object_id, value) VALUES (?, ?, ?)",
			r.bucket, a, r.value); err != nil {
			t.Fatalf("failed to insert timeline row: %v", err)
		}
	}

	totals, err := db.DailyTotals(ctx, since, until, ist)
	if err != nil {
		t.Fatalf("DailyTotals failed: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected a single day row, got %+v", totals)
	}
	if totals[0].Day != "2024-03-10" || totals[0].Seconds != 50 {
		t.Errorf("totals = %+v, want 2024-03-10 with 50 seconds", totals[0])
	}
}

func TestSetAlias(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// unknown app ids are created
	if err := db.SetAlias(ctx, "440", "TF2"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}

	var alias *string
	if err := db.QueryRow("SELECT alias FROM objects WHERE app_id = ?", "440").Scan(&alias); err != nil {
		t.Fatalf("failed to read alias: %v", err)
	}
	if alias == nil || *alias != "TF2" {
		t.Fatalf("alias = %v, want TF2", alias)
	}

	if err := db.SetAlias(ctx, "440", ""); err != nil {
		t.Fatalf("SetAlias clear failed: %v", err)
	}
	if err := db.QueryRow("SELECT alias FROM objects WHERE app_id = ?", "440").Scan(&alias); err != nil {
		t.Fatalf("failed to read alias: %v", err)
	}
	if alias != nil {
		t.Errorf("alias = %q, want NULL", *alias)
	}
}

func TestEventsAndHeartbeat(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := insertObject(t, db, "570")
	b := insertObject(t, db, "730")

	base := int64(1_700_000_040)
	events := []struct {
		ts     int64
		object int64
		kind   int
	}{
		{base, a, 1},
		{base + 10, b, 1},
		{base + 60, b, 0},
		{base + 60, a, 0},
		{base + 90, b, 2},
	}
	for _, e := range events {
		if _, err := db.Exec("INSERT INTO events (timestamp, object_id, event_kind) VALUES (?, ?, ?)",
			e.ts, e.object, e.kind); err != nil {
			t.Fatalf("failed to insert event: %v", err)
		}
	}

	rows, err := db.Events(ctx, time.Unix(base, 0), time.Unix(base+90, 0))
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d events, want 4 (until is exclusive)", len(rows))
	}
	if rows[0].AppID != "570" || rows[0].Kind != 1 || rows[0].Timestamp.Unix() != base {
		t.Errorf("unexpected first event %+v", rows[0])
	}
	// same timestamp keeps insertion order
	if rows[2].AppID != "730" || rows[3].AppID != "570" {
		t.Errorf("expected rowid order for equal timestamps, got %s then %s", rows[2].AppID, rows[3].AppID)
	}

	heartbeat, err := db.Heartbeat(ctx)
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if len(heartbeat) != 2 || heartbeat[0].AppID != "570" || heartbeat[1].AppID != "730" {
		t.Errorf("unexpected heartbeat rows %+v", heartbeat)
	}
}

func TestBackupGroups(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := insertObject(t, db, "570")

	for _, span := range [][2]int64{{100, 200}, {300, 400}} {
		if _, err := db.Exec("INSERT INTO backup_groups (start_ts, end_ts) VALUES (?, ?)", span[0], span[1]); err != nil {
			t.Fatalf("failed to insert backup group: %v", err)
		}
	}
	for _, ts := range []int64{150, 160} {
		if _, err := db.Exec("INSERT INTO backup_events (backup_id, timestamp, object_id, event_kind) VALUES (1, ?, ?, 0)",
			ts, a); err != nil {
			t.Fatalf("failed to insert backup event: %v", err)
		}
	}

	groups, err := db.BackupGroups(ctx)
	if err != nil {
		t.Fatalf("BackupGroups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].ID != 1 || groups[0].Events != 2 || groups[0].Start.Unix() != 100 || groups[0].End.Unix() != 200 {
		t.Errorf("unexpected first group %+v", groups[0])
	}
	if groups[1].Events != 0 {
		t.Errorf("empty group reported %d events", groups[1].Events)
	}
}

func TestCeilBucket(t *testing.T) {
	tests := []struct {
		secs int64
		want int64
	}{
		{0, 0},
		{1, 1},
		{3600, 1},
		{3601, 2},
	}
	for _, tt := range tests {
		if got := ceilBucket(time.Unix(tt.secs, 0)); got != tt.want {
			t.Errorf("ceilBucket(%d) = %d, want %d", tt.secs, got, tt.want)
		}
	}
}

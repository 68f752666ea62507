package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// BucketSeconds is the width of one timeline bucket.
const BucketSeconds = 3600

// AppTotal is the playtime of one application within a reporting window.
type AppTotal struct {
	AppID   string
	Alias   string
	Day     string // YYYY-MM-DD in the requested location
	Seconds int64
}

// Name returns the alias if set, otherwise the app id.
func (a AppTotal) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.AppID
}

// EventRow is a journal entry joined with its object.
type EventRow struct {
	Timestamp time.Time
	AppID     string
	Alias     string
	Kind      int
}

// BackupGroup summarises one quarantined slice of the journal.
type BackupGroup struct {
	ID     int64
	Start  time.Time
	End    time.Time
	Events int
}

// DailyTotals aggregates timeline buckets per day and application. A bucket
// is included when its start lies in [since, until) and is attributed to the
// day its start falls on in loc. Buckets are an hour wide, so in zones with
// a fractional-hour offset the bucket straddling midnight counts toward the
// day it starts in.
func (db *DB) DailyTotals(ctx context.Context, since, until time.Time, loc *time.Location) ([]AppTotal, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.app_id, COALESCE(o.alias, ''), t.bucket, t.value
		FROM timeline t
		JOIN objects o ON o.object_id = t.object_id
		WHERE t.bucket >= ? AND t.bucket < ?
		ORDER BY t.bucket, o.app_id
	`, ceilBucket(since), ceilBucket(until))
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type key struct{ day, app string }
	totals := make(map[key]*AppTotal)

	for rows.Next() {
		var (
			appID, alias  string
			bucket, value int64
		)
		if err := rows.Scan(&appID, &alias, &bucket, &value); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}

		day := time.Unix(bucket*BucketSeconds, 0).In(loc).Format("2006-01-02")
		k := key{day: day, app: appID}
		if total, ok := totals[k]; ok {
			total.Seconds += value
			continue
		}
		totals[k] = &AppTotal{AppID: appID, Alias: alias, Day: day, Seconds: value}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeline: %w", err)
	}

	result := make([]AppTotal, 0, len(totals))
	for _, total := range totals {
		result = append(result, *total)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Day != result[j].Day {
			return result[i].Day < result[j].Day
		}
		return result[i].AppID < result[j].AppID
	})

	return result, nil
}

// Events returns live journal rows with timestamps in [since, until), oldest first.
func (db *DB) Events(ctx context.Context, since, until time.Time) ([]EventRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.timestamp, o.app_id, COALESCE(o.alias, ''), e.event_kind
		FROM events e
		JOIN objects o ON o.object_id = e.object_id
		WHERE e.timestamp >= ? AND e.timestamp < ?
		ORDER BY e.timestamp, e.rowid
	`, since.Unix(), until.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEventRows(rows)
}

// Heartbeat returns the live Running rows: the applications the daemon last
// reported as running.
func (db *DB) Heartbeat(ctx context.Context) ([]EventRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.timestamp, o.app_id, COALESCE(o.alias, ''), e.event_kind
		FROM events e
		JOIN objects o ON o.object_id = e.object_id
		WHERE e.event_kind = 0
		ORDER BY o.app_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeat: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEventRows(rows)
}

// BackupGroups lists every quarantine group with its event count.
func (db *DB) BackupGroups(ctx context.Context) ([]BackupGroup, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT g.backup_id, g.start_ts, g.end_ts, COUNT(e.backup_id)
		FROM backup_groups g
		LEFT JOIN backup_events e ON e.backup_id = g.backup_id
		GROUP BY g.backup_id
		ORDER BY g.backup_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []BackupGroup
	for rows.Next() {
		var (
			g          BackupGroup
			start, end int64
		)
		if err := rows.Scan(&g.ID, &start, &end, &g.Events); err != nil {
			return nil, fmt.Errorf("failed to scan backup group: %w", err)
		}
		g.Start = time.Unix(start, 0)
		g.End = time.Unix(end, 0)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetAlias sets the human readable alias of an application, creating the
// object if it was never seen. An empty alias clears it.
func (db *DB) SetAlias(ctx context.Context, appID, alias string) error {
	var value sql.NullString
	if alias != "" {
		value = sql.NullString{String: alias, Valid: true}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO objects (app_id, alias) VALUES (?, ?)
		ON CONFLICT(app_id) DO UPDATE SET alias = excluded.alias
	`, appID, value); err != nil {
		return fmt.Errorf("failed to set alias for %s: %w", appID, err)
	}
	return nil
}

func ceilBucket(t time.Time) int64 {
	secs := t.Unix()
	bucket := secs / BucketSeconds
	if secs%BucketSeconds != 0 {
		bucket++
	}
	return bucket
}

func scanEventRows(rows *sql.Rows) ([]EventRow, error) {
	var events []EventRow
	for rows.Next() {
		var (
			ts  int64
			row EventRow
		)
		if err := rows.Scan(&ts, &row.AppID, &row.Alias, &row.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		row.Timestamp = time.Unix(ts, 0)
		events = append(events, row)
	}
	return events, rows.Err()
}

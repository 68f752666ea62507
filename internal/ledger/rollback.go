package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playtime/internal/metrics"
)

// validateTimestamp advances the last-seen timestamp, or quarantines the
// journal past ts when the clock has moved backward. A rollback is not an
// error; only store failures are returned.
func (l *Ledger) validateTimestamp(ctx context.Context, ts time.Time) error {
	incoming := ts.Unix()
	if incoming >= l.last {
		l.last = incoming
		return nil
	}

	moved, backupID, err := l.quarantine(ctx, incoming, l.last)
	if err != nil {
		return err
	}

	metrics.ClockRollbacks.Inc()
	metrics.QuarantinedEvents.Add(float64(moved))

	l.logger.Warn().
		Int64("backup_id", backupID).
		Time("from", time.Unix(l.last, 0)).
		Time("to", ts).
		Int64("moved_events", moved).
		Msg("Clock moved backward, journal quarantined")

	l.last = incoming
	return nil
}

// quarantine moves every live event after from into a new backup group
// spanning [from, to].
func (l *Ledger) quarantine(ctx context.Context, from, to int64) (moved, backupID int64, err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin quarantine: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO backup_groups (start_ts, end_ts) VALUES (?, ?)", from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create backup group: %w", err)
	}
	if backupID, err = res.LastInsertId(); err != nil {
		return 0, 0, fmt.Errorf("failed to read backup group id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backup_events (backup_id, timestamp, object_id, event_kind)
		SELECT ?, timestamp, object_id, event_kind FROM events
		WHERE timestamp > ?
		ORDER BY rowid
	`, backupID, from); err != nil {
		return 0, 0, fmt.Errorf("failed to copy events to backup group: %w", err)
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM events WHERE timestamp > ?", from)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete quarantined events: %w", err)
	}
	moved, _ = res.RowsAffected()

	// heartbeat rows may have been moved too
	var live int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE event_kind = ?", int(Running)).Scan(&live); err != nil {
		return 0, 0, fmt.Errorf("failed to count heartbeat rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit quarantine: %w", err)
	}

	l.heartbeatRows = live
	return moved, backupID, nil
}

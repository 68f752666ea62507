package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playtime/internal/metrics"
)

// Event records a lifecycle event at ts. appID is ignored for Running,
// Suspended and Resumed, which apply to the whole running set.
func (l *Ledger) Event(ctx context.Context, ts time.Time, appID string, kind EventKind) error {
	if l.flushed {
		return ErrFlushed
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown event kind %d", int(kind))
	}

	if err := l.validateTimestamp(ctx, ts); err != nil {
		return err
	}

	switch {
	case kind.IsHeartbeat():
		return l.heartbeat(ctx, ts)
	case kind.IsMarker():
		return l.markers(ctx, markerAt{ts: ts, kind: kind, apps: l.RunningApps()})
	case kind == Started:
		return l.start(ctx, ts, appID)
	default:
		return l.stop(ctx, ts, appID)
	}
}

// MarkSuspension records Suspended at from for the applications in
// suspended, which were running when the gap began, and Resumed at to for
// the current running set, in one transaction. Only to is checked for clock
// rollback, since from is expected to lie behind the last-seen timestamp.
func (l *Ledger) MarkSuspension(ctx context.Context, from, to time.Time, suspended []string) error {
	if l.flushed {
		return ErrFlushed
	}

	if err := l.validateTimestamp(ctx, to); err != nil {
		return err
	}

	return l.markers(ctx,
		markerAt{ts: from, kind: Suspended, apps: suspended},
		markerAt{ts: to, kind: Resumed, apps: l.RunningApps()},
	)
}

func (l *Ledger) start(ctx context.Context, ts time.Time, appID string) error {
	objectID, err := l.resolveObject(ctx, l.db, appID)
	if err != nil {
		return err
	}

	if err := insertEvent(ctx, l.db, ts, objectID, Started); err != nil {
		return err
	}
	metrics.LedgerEvents.WithLabelValues(Started.String()).Inc()

	if _, ok := l.running[appID]; ok {
		metrics.LedgerAnomalies.WithLabelValues("duplicate_start").Inc()
		l.logger.Warn().
			Str("app_id", appID).
			Time("ts", ts).
			Msg("Started event for application already running")
		return nil
	}

	l.running[appID] = objectID
	metrics.RunningApps.Set(float64(len(l.running)))

	l.logger.Info().Str("app_id", appID).Time("ts", ts).Msg("Application started")
	return nil
}

func (l *Ledger) stop(ctx context.Context, ts time.Time, appID string) error {
	objectID, err := l.resolveObject(ctx, l.db, appID)
	if err != nil {
		return err
	}

	if err := insertEvent(ctx, l.db, ts, objectID, Stopped); err != nil {
		return err
	}
	metrics.LedgerEvents.WithLabelValues(Stopped.String()).Inc()

	if _, ok := l.running[appID]; !ok {
		metrics.LedgerAnomalies.WithLabelValues("stop_not_running").Inc()
		l.logger.Warn().
			Str("app_id", appID).
			Time("ts", ts).
			Msg("Stopped event for application not running")
		return nil
	}

	delete(l.running, appID)
	metrics.RunningApps.Set(float64(len(l.running)))

	l.logger.Info().Str("app_id", appID).Time("ts", ts).Msg("Application stopped")
	return nil
}

// heartbeat replaces every live Running row with one row per running
// application at ts.
func (l *Ledger) heartbeat(ctx context.Context, ts time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin heartbeat: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE event_kind = ?", int(Running))
	if err != nil {
		return fmt.Errorf("failed to delete heartbeat: %w", err)
	}
	deleted, _ := res.RowsAffected()

	apps := l.RunningApps()
	for _, app := range apps {
		if err := insertEvent(ctx, tx, ts, l.running[app], Running); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit heartbeat: %w", err)
	}

	if int(deleted) != l.heartbeatRows {
		metrics.LedgerAnomalies.WithLabelValues("heartbeat_mismatch").Inc()
		l.logger.Warn().
			Int64("deleted", deleted).
			Int("expected", l.heartbeatRows).
			Msg("Heartbeat row count mismatch")
	}

	l.heartbeatRows = len(apps)
	metrics.LedgerEvents.WithLabelValues(Running.String()).Inc()

	return nil
}

type markerAt struct {
	ts   time.Time
	kind EventKind
	apps []string
}

// markers appends one row per listed application for each marker, keeping
// prior rows as history.
func (l *Ledger) markers(ctx context.Context, marks ...markerAt) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin markers: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range marks {
		for _, app := range m.apps {
			objectID, ok := l.running[app]
			if !ok {
				var err error
				if objectID, err = l.resolveObject(ctx, tx, app); err != nil {
					l.objects.Purge()
					return err
				}
			}
			if err := insertEvent(ctx, tx, m.ts, objectID, m.kind); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		l.objects.Purge()
		return fmt.Errorf("failed to commit markers: %w", err)
	}

	for _, m := range marks {
		metrics.LedgerEvents.WithLabelValues(m.kind.String()).Inc()
		l.logger.Info().
			Str("kind", m.kind.String()).
			Time("ts", m.ts).
			Strs("apps", m.apps).
			Msg("Marker recorded")
	}

	return nil
}

func insertEvent(ctx context.Context, q querier, ts time.Time, objectID int64, kind EventKind) error {
	if _, err := q.ExecContext(ctx,
		"INSERT INTO events (timestamp, object_id, event_kind) VALUES (?, ?, ?)",
		ts.Unix(), objectID, int(kind)); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", kind, err)
	}
	return nil
}

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/playtime/internal/database"
	"github.com/goodtune/playtime/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultObjectCacheSize bounds the app_id -> object_id lookup cache.
const DefaultObjectCacheSize = 512

// ErrFlushed is returned by mutating operations after Flush.
var ErrFlushed = errors.New("ledger already flushed")

// Ledger accumulates per-application playtime in hour buckets and keeps a
// lifecycle journal. It is not safe for concurrent use: a single owner drives
// it from the scheduler loop.
type Ledger struct {
	db      *database.DB
	logger  zerolog.Logger
	objects *lru.Cache[string, int64]

	// write-back cache for cacheBucket, keyed by app_id
	cache       map[string]time.Duration
	cacheBucket int64

	running       map[string]int64 // app_id -> object_id
	heartbeatRows int              // live Running rows written by the last heartbeat

	last    int64 // last-seen unix timestamp
	flushed bool
}

type options struct {
	objectCacheSize int
}

// Option configures a Ledger.
type Option func(*options)

// WithObjectCacheSize sets the size of the object id cache.
func WithObjectCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.objectCacheSize = n
		}
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens or creates the ledger at path. Heartbeat rows left behind by an
// unclean shutdown are rewritten as Stopped, now is checked against the
// journal for a clock rollback, and the cache is loaded for bucket(now).
func Open(ctx context.Context, path string, now time.Time, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	o := options{objectCacheSize: DefaultObjectCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	objects, err := lru.New[string, int64](o.objectCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create object cache: %w", err)
	}

	l := &Ledger{
		db:      db,
		logger:  logger.With().Str("component", "ledger").Logger(),
		objects: objects,
		cache:   make(map[string]time.Duration),
		running: make(map[string]int64),
	}

	if err := l.init(ctx, now); err != nil {
		_ = db.Close()
		return nil, err
	}

	l.logger.Info().
		Str("path", path).
		Int64("bucket", l.cacheBucket).
		Int("cached_apps", len(l.cache)).
		Msg("Ledger opened")

	return l, nil
}

func (l *Ledger) init(ctx context.Context, now time.Time) error {
	res, err := l.db.ExecContext(ctx,
		"UPDATE events SET event_kind = ? WHERE event_kind = ?", int(Stopped), int(Running))
	if err != nil {
		return fmt.Errorf("failed to recover heartbeat rows: %w", err)
	}
	if recovered, _ := res.RowsAffected(); recovered > 0 {
		metrics.RecoveredHeartbeats.Add(float64(recovered))
		l.logger.Warn().
			Int64("count", recovered).
			Msg("Recovered heartbeats from unclean shutdown as stopped")
	}

	if err := l.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(timestamp), 0) FROM events").Scan(&l.last); err != nil {
		return fmt.Errorf("failed to load last timestamp: %w", err)
	}

	if err := l.validateTimestamp(ctx, now); err != nil {
		return err
	}

	bucket := bucketOf(now)
	cache, err := loadBucket(ctx, l.db, bucket)
	if err != nil {
		return err
	}
	l.cache = cache
	l.cacheBucket = bucket

	return nil
}

// Update adds delta to the current bucket's cache entry for appID. It never
// touches the store.
func (l *Ledger) Update(appID string, delta time.Duration) {
	if l.flushed {
		l.logger.Warn().Str("app_id", appID).Msg("Update after flush ignored")
		return
	}
	l.cache[appID] += delta
}

// Commit refreshes the heartbeat, writes the cache back to its bucket and
// reloads the cache when ts has moved into a new bucket.
func (l *Ledger) Commit(ctx context.Context, ts time.Time) error {
	if l.flushed {
		return ErrFlushed
	}

	start := time.Now()

	if err := l.validateTimestamp(ctx, ts); err != nil {
		return err
	}

	if err := l.heartbeat(ctx, ts); err != nil {
		return err
	}

	if err := l.writeBack(ctx, ts, true); err != nil {
		return err
	}

	metrics.LedgerCommits.Inc()
	metrics.LedgerCommitDuration.Observe(time.Since(start).Seconds())

	l.logger.Debug().
		Time("ts", ts).
		Int64("bucket", l.cacheBucket).
		Int("running", len(l.running)).
		Msg("Committed")

	return nil
}

// Flush writes the cache back and stops every running application. The
// ledger rejects further mutation afterwards.
func (l *Ledger) Flush(ctx context.Context, ts time.Time) error {
	if l.flushed {
		return ErrFlushed
	}

	if err := l.validateTimestamp(ctx, ts); err != nil {
		return err
	}

	if err := l.writeBack(ctx, ts, false); err != nil {
		return err
	}

	apps := l.RunningApps()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin flush: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE event_kind = ?", int(Running)); err != nil {
		return fmt.Errorf("failed to clear heartbeat: %w", err)
	}
	for _, app := range apps {
		if err := insertEvent(ctx, tx, ts, l.running[app], Stopped); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flush: %w", err)
	}

	metrics.LedgerEvents.WithLabelValues(Stopped.String()).Add(float64(len(apps)))

	l.running = make(map[string]int64)
	l.heartbeatRows = 0
	l.flushed = true
	metrics.RunningApps.Set(0)

	l.logger.Info().
		Time("ts", ts).
		Strs("stopped", apps).
		Msg("Ledger flushed")

	return nil
}

// RunningApps returns the running set, sorted.
func (l *Ledger) RunningApps() []string {
	apps := make([]string, 0, len(l.running))
	for app := range l.running {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// IsRunning reports whether appID is in the running set.
func (l *Ledger) IsRunning(appID string) bool {
	_, ok := l.running[appID]
	return ok
}

// Bucket returns the bucket the cache currently accumulates into.
func (l *Ledger) Bucket() int64 {
	return l.cacheBucket
}

// BucketTotals returns the cached whole seconds per app for the current bucket.
func (l *Ledger) BucketTotals() map[string]int64 {
	totals := make(map[string]int64, len(l.cache))
	for app, d := range l.cache {
		totals[app] = int64(d / time.Second)
	}
	return totals
}

// Close closes the database. Closing with running applications and no
// prior Flush is reported; the next Open repairs it.
func (l *Ledger) Close() error {
	if !l.flushed && len(l.running) > 0 {
		metrics.UnflushedCloses.Inc()
		l.logger.Error().
			Strs("running", l.RunningApps()).
			Msg("Ledger closed without flush")
	}
	return l.db.Close()
}

// writeBack upserts every cache entry into the cache bucket. When reload is
// set and ts falls into another bucket, the cache is replaced by that
// bucket's stored values in the same transaction.
func (l *Ledger) writeBack(ctx context.Context, ts time.Time, reload bool) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write-back: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	apps := make([]string, 0, len(l.cache))
	for app := range l.cache {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	for _, app := range apps {
		objectID, err := l.resolveObject(ctx, tx, app)
		if err != nil {
			l.objects.Purge()
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timeline (bucket, object_id, value) VALUES (?, ?, ?)
			ON CONFLICT(bucket, object_id) DO UPDATE SET value = excluded.value
		`, l.cacheBucket, objectID, int64(l.cache[app]/time.Second)); err != nil {
			l.objects.Purge()
			return fmt.Errorf("failed to write bucket %d for %s: %w", l.cacheBucket, app, err)
		}
	}

	bucket := bucketOf(ts)
	var cache map[string]time.Duration
	if reload && bucket != l.cacheBucket {
		if cache, err = loadBucket(ctx, tx, bucket); err != nil {
			l.objects.Purge()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		l.objects.Purge()
		return fmt.Errorf("failed to commit write-back: %w", err)
	}

	if cache != nil {
		l.logger.Debug().
			Int64("from", l.cacheBucket).
			Int64("to", bucket).
			Int("loaded", len(cache)).
			Msg("Bucket changed, cache reloaded")
		l.cache = cache
		l.cacheBucket = bucket
	}

	return nil
}

// resolveObject returns the object id for appID, creating the object on
// first sight.
func (l *Ledger) resolveObject(ctx context.Context, q querier, appID string) (int64, error) {
	if id, ok := l.objects.Get(appID); ok {
		return id, nil
	}

	var id int64
	err := q.QueryRowContext(ctx, "SELECT object_id FROM objects WHERE app_id = ?", appID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO objects (app_id) VALUES (?) ON CONFLICT(app_id) DO NOTHING", appID); err != nil {
			return 0, fmt.Errorf("failed to create object %s: %w", appID, err)
		}
		err = q.QueryRowContext(ctx, "SELECT object_id FROM objects WHERE app_id = ?", appID).Scan(&id)
		if err == nil {
			l.logger.Debug().Str("app_id", appID).Int64("object_id", id).Msg("Created object")
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve object %s: %w", appID, err)
	}

	l.objects.Add(appID, id)
	return id, nil
}

func loadBucket(ctx context.Context, q querier, bucket int64) (map[string]time.Duration, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT o.app_id, t.value
		FROM timeline t
		JOIN objects o ON o.object_id = t.object_id
		WHERE t.bucket = ?
	`, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket %d: %w", bucket, err)
	}
	defer func() { _ = rows.Close() }()

	cache := make(map[string]time.Duration)
	for rows.Next() {
		var (
			app   string
			value int64
		)
		if err := rows.Scan(&app, &value); err != nil {
			return nil, fmt.Errorf("failed to scan bucket %d: %w", bucket, err)
		}
		cache[app] = time.Duration(value) * time.Second
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load bucket %d: %w", bucket, err)
	}

	return cache, nil
}

func bucketOf(ts time.Time) int64 {
	sec := ts.Unix()
	b := sec / database.BucketSeconds
	if sec%database.BucketSeconds != 0 && sec < 0 {
		b--
	}
	return b
}

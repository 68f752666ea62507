package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/playtime/internal/clock"
	"github.com/goodtune/playtime/internal/ledger"
	"github.com/goodtune/playtime/internal/metrics"
	"github.com/goodtune/playtime/internal/schedule"
	"github.com/goodtune/playtime/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultUpdateInterval is the sampling period
	DefaultUpdateInterval = time.Second

	// DefaultCommitInterval is the period between ledger write-backs
	DefaultCommitInterval = time.Minute

	// DefaultSuspendThreshold is the sampling gap treated as a suspend
	DefaultSuspendThreshold = 30 * time.Second

	// DefaultPruneInterval is the period between mirror session cleanups
	DefaultPruneInterval = 24 * time.Hour

	mirrorTimeout = 5 * time.Second
)

// Scanner discovers the applications running right now.
type Scanner interface {
	Scan() ([]string, error)
}

// Config holds tracker configuration
type Config struct {
	UpdateInterval   time.Duration
	CommitInterval   time.Duration
	SuspendThreshold time.Duration
	PruneInterval    time.Duration
	SessionRetention time.Duration
}

// Tracker owns the ledger and drives it from scheduler callbacks. It is
// single-threaded: every method must be called from the scheduler loop.
type Tracker struct {
	ledger   *ledger.Ledger
	scanner  Scanner
	mirror   storage.Store // nil when no mirror is configured
	pruner   *SessionPruner
	detector *SuspendDetector
	sessions map[string]*Session // key: appID
	config   Config

	// running set as of the previous suspend check
	lastRunning []string
	logger   zerolog.Logger

	cancel context.CancelFunc
	err    error
}

// NewTracker creates a tracker. mirror may be nil.
func NewTracker(l *ledger.Ledger, scanner Scanner, mirror storage.Store, config Config, logger zerolog.Logger) *Tracker {
	if config.UpdateInterval == 0 {
		config.UpdateInterval = DefaultUpdateInterval
	}
	if config.CommitInterval == 0 {
		config.CommitInterval = DefaultCommitInterval
	}
	if config.SuspendThreshold == 0 {
		config.SuspendThreshold = DefaultSuspendThreshold
	}
	if config.PruneInterval == 0 {
		config.PruneInterval = DefaultPruneInterval
	}

	t := &Tracker{
		ledger:   l,
		scanner:  scanner,
		mirror:   mirror,
		detector: &SuspendDetector{Threshold: config.SuspendThreshold},
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger.With().Str("component", "usage-tracker").Logger(),
	}

	if mirror != nil {
		t.pruner = NewSessionPruner(mirror.Sessions(), config.SessionRetention, logger)
	}

	return t
}

// Timers returns the tracker's scheduler timers in firing order: commit,
// sample, suspend detection, session pruning. Commit runs first so it
// observes the cache as of the end of the previous tick.
func (t *Tracker) Timers() []schedule.Timer {
	return []schedule.Timer{
		{Name: "commit", Period: t.config.CommitInterval, Callback: t.Commit},
		{Name: "sample", Period: t.config.UpdateInterval, Callback: t.Sample},
		{Name: "suspend", Period: t.config.UpdateInterval, Callback: t.DetectSuspend},
		{Name: "prune", Period: t.config.PruneInterval, Callback: t.PruneSessions},
	}
}

// Run drives the tracker's timers until ctx is cancelled or a ledger
// operation fails. A ledger failure is returned; cancellation returns nil.
// Run does not flush; call Shutdown afterwards.
func (t *Tracker) Run(ctx context.Context, clk clock.Clock, maxPoll time.Duration, onWake func()) error {
	ctx, t.cancel = context.WithCancel(ctx)
	defer t.cancel()

	sched := schedule.New(clk.Now(), t.logger, t.Timers()...)
	t.logger.Info().
		Time("next_deadline", sched.NextDeadline()).
		Dur("update_interval", t.config.UpdateInterval).
		Dur("commit_interval", t.config.CommitInterval).
		Msg("Tracker started")

	err := sched.Run(ctx, clk, maxPoll, onWake)
	if t.err != nil {
		return t.err
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Err returns the ledger failure that stopped the tracker, if any.
func (t *Tracker) Err() error {
	return t.err
}

// fail records the first fatal error and stops the loop.
func (t *Tracker) fail(op string, err error) {
	if t.err != nil {
		return
	}
	t.err = fmt.Errorf("%s: %w", op, err)
	t.logger.Error().Err(err).Str("op", op).Msg("Ledger operation failed, stopping")
	if t.cancel != nil {
		t.cancel()
	}
}

// Commit writes the ledger back and refreshes the mirror.
func (t *Tracker) Commit(now time.Time) {
	if t.err != nil {
		return
	}

	if err := t.ledger.Commit(context.Background(), now); err != nil {
		t.fail("commit", err)
		return
	}

	if t.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	for _, session := range t.sessions {
		t.saveSession(ctx, session)
	}

	snapshot := storage.Snapshot{
		TakenAt:      now,
		Bucket:       t.ledger.Bucket(),
		Running:      t.ledger.RunningApps(),
		BucketTotals: t.ledger.BucketTotals(),
	}
	if err := t.mirror.Snapshots().Publish(ctx, snapshot); err != nil {
		metrics.MirrorErrors.WithLabelValues("publish").Inc()
		t.logger.Error().Err(err).Msg("Failed to publish snapshot")
	}
}

// Sample scans for running applications, credits each with one update
// interval and emits Started and Stopped as the set changes.
func (t *Tracker) Sample(now time.Time) {
	if t.err != nil {
		return
	}

	apps, err := t.scanner.Scan()
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to scan for applications")
		return
	}

	ctx := context.Background()
	present := make(map[string]struct{}, len(apps))

	for _, app := range apps {
		present[app] = struct{}{}

		if !t.ledger.IsRunning(app) {
			if err := t.ledger.Event(ctx, now, app, ledger.Started); err != nil {
				t.fail("start", err)
				return
			}
			t.openSession(app, now)
		}

		t.ledger.Update(app, t.config.UpdateInterval)
		metrics.ActiveSecondsConsumed.WithLabelValues(app).Add(t.config.UpdateInterval.Seconds())

		if session := t.sessions[app]; session != nil {
			session.add(t.config.UpdateInterval)
			session.LastSeen = now
		}
	}

	for _, app := range t.ledger.RunningApps() {
		if _, ok := present[app]; ok {
			continue
		}
		if err := t.ledger.Event(ctx, now, app, ledger.Stopped); err != nil {
			t.fail("stop", err)
			return
		}
		t.closeSession(app, now)
	}
}

// DetectSuspend records Suspended and Resumed markers around a sampling gap
// longer than the suspend threshold. Suspended rows go to the applications
// running at the previous check; Resumed rows to those running now.
func (t *Tracker) DetectSuspend(now time.Time) {
	if t.err != nil {
		return
	}

	suspended := t.lastRunning
	t.lastRunning = t.ledger.RunningApps()

	from, gap := t.detector.Observe(now)
	if !gap {
		return
	}

	metrics.SuspendsDetected.Inc()
	t.logger.Warn().
		Time("from", from).
		Time("to", now).
		Dur("gap", now.Sub(from)).
		Msg("Suspend detected")

	if err := t.ledger.MarkSuspension(context.Background(), from, now, suspended); err != nil {
		t.fail("suspend", err)
	}
}

// PruneSessions removes expired closed sessions from the mirror.
func (t *Tracker) PruneSessions(now time.Time) {
	if t.err != nil || t.pruner == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if _, err := t.pruner.Prune(ctx, now); err != nil {
		metrics.MirrorErrors.WithLabelValues("prune").Inc()
		t.logger.Error().Err(err).Msg("Failed to prune sessions")
	}
}

// Shutdown flushes the ledger, closes open sessions and releases the
// ledger and the mirror. It must be called exactly once, after Run.
func (t *Tracker) Shutdown(ctx context.Context, now time.Time) error {
	var errs []error

	if err := t.ledger.Flush(ctx, now); err != nil && !errors.Is(err, ledger.ErrFlushed) {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	for app := range t.sessions {
		t.closeSession(app, now)
	}

	if t.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		snapshot := storage.Snapshot{
			TakenAt:      now,
			Bucket:       t.ledger.Bucket(),
			Running:      []string{},
			BucketTotals: t.ledger.BucketTotals(),
		}
		if err := t.mirror.Snapshots().Publish(mctx, snapshot); err != nil {
			metrics.MirrorErrors.WithLabelValues("publish").Inc()
			t.logger.Error().Err(err).Msg("Failed to publish final snapshot")
		}
		cancel()

		if err := t.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mirror: %w", err))
		}
	}

	if err := t.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}

	t.logger.Info().Time("ts", now).Msg("Tracker shut down")

	return errors.Join(errs...)
}

func (t *Tracker) openSession(app string, now time.Time) {
	if existing := t.sessions[app]; existing != nil {
		t.closeSession(app, now)
	}

	session := &Session{
		ID:        uuid.NewString(),
		AppID:     app,
		StartedAt: now,
		LastSeen:  now,
		Active:    true,
	}
	t.sessions[app] = session

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	t.saveSession(ctx, session)

	t.logger.Debug().
		Str("session_id", session.ID).
		Str("app_id", app).
		Msg("Started new play session")
}

func (t *Tracker) closeSession(app string, now time.Time) {
	session := t.sessions[app]
	if session == nil {
		return
	}
	delete(t.sessions, app)

	session.Active = false
	session.LastSeen = now

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	t.saveSession(ctx, session)

	t.logger.Info().
		Str("session_id", session.ID).
		Str("app_id", app).
		Int64("total_seconds", session.AccumulatedSeconds).
		Msg("Finalized play session")
}

func (t *Tracker) saveSession(ctx context.Context, session *Session) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.Sessions().UpsertSession(ctx, session.record()); err != nil {
		metrics.MirrorErrors.WithLabelValues("session").Inc()
		t.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to save session")
	}
}

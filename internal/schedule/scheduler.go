// Package schedule runs periodic callbacks on wall-clock aligned boundaries.
//
// Every timer fires on multiples of its period counted from the Unix epoch,
// so restarting the process never shifts the phase of a timer. The scheduler
// is driven by a single goroutine: Tick executes all due callbacks in
// registration order and never replays missed periods.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playtime/internal/clock"
	"github.com/goodtune/playtime/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultMaxPoll bounds a single sleep of the run loop when no poll interval
// is configured.
const DefaultMaxPoll = time.Second

// Timer is a named periodic callback.
type Timer struct {
	Name     string
	Period   time.Duration
	Callback func(now time.Time)
}

type timer struct {
	Timer
	next time.Time
}

// Scheduler holds a fixed, ordered set of aligned timers.
type Scheduler struct {
	timers   []*timer
	next     time.Time
	lastTick time.Time
	logger   zerolog.Logger
}

// New builds a scheduler whose timers first fire on the earliest aligned
// boundary at or after now. Timers fire in the order given whenever more
// than one is due in the same tick.
func New(now time.Time, logger zerolog.Logger, timers ...Timer) *Scheduler {
	s := &Scheduler{
		timers: make([]*timer, 0, len(timers)),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}

	for _, t := range timers {
		if t.Period <= 0 {
			panic(fmt.Sprintf("schedule: timer %q has non-positive period %s", t.Name, t.Period))
		}
		s.timers = append(s.timers, &timer{
			Timer: t,
			next:  nextAligned(time.Time{}, now, t.Period),
		})
	}
	s.next = s.earliest()

	return s
}

// NextDeadline returns the earliest pending deadline across all timers.
// It is the zero time when the scheduler has no timers.
func (s *Scheduler) NextDeadline() time.Time {
	return s.next
}

// Tick runs every timer whose deadline is at or before now, exactly once
// each. A timer that fell behind by two or more periods is realigned to the
// first boundary after now and the skipped periods are logged instead of
// replayed. Callers must pass non-decreasing values of now.
func (s *Scheduler) Tick(now time.Time) {
	for _, t := range s.timers {
		if t.next.After(now) {
			continue
		}

		t.Callback(now)
		t.next = t.next.Add(t.Period)

		if !t.next.After(now) {
			realigned := nextAligned(now, now, t.Period)
			skipped := int64(realigned.Sub(t.next) / t.Period)

			s.logger.Warn().
				Str("timer", t.Name).
				Int64("skipped_periods", skipped).
				Dur("behind", now.Sub(t.next)).
				Time("next", realigned).
				Msg("Timer fell behind, skipping missed periods")

			metrics.SchedulerSkippedPeriods.WithLabelValues(t.Name).Add(float64(skipped))
			t.next = realigned
		}

		metrics.SchedulerTicks.WithLabelValues(t.Name).Inc()
	}

	s.lastTick = now
	s.next = s.earliest()
}

// Realign moves every deadline to the first boundary at or after now, as if
// the scheduler had just been built. Run calls it when the wall clock jumps
// backward so timers keep firing instead of waiting for the old deadlines.
func (s *Scheduler) Realign(now time.Time) {
	for _, t := range s.timers {
		t.next = nextAligned(time.Time{}, now, t.Period)
	}
	s.lastTick = time.Time{}
	s.next = s.earliest()
}

// Run drives the scheduler until ctx is cancelled. Each sleep is clamped to
// maxPoll so cancellation is observed with bounded latency, and a backward
// clock jump is detected within one poll. onWake, when not
// nil, is invoked once per loop iteration.
func (s *Scheduler) Run(ctx context.Context, clk clock.Clock, maxPoll time.Duration, onWake func()) error {
	if maxPoll <= 0 {
		maxPoll = DefaultMaxPoll
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onWake != nil {
			onWake()
		}

		now := clk.Now()
		if !s.lastTick.IsZero() && now.Before(s.lastTick) {
			s.logger.Warn().
				Time("last_tick", s.lastTick).
				Time("now", now).
				Dur("jump", s.lastTick.Sub(now)).
				Msg("Clock moved backward, realigning timers")
			s.Realign(now)
		}

		if len(s.timers) > 0 && !s.next.After(now) {
			s.Tick(now)
			continue
		}

		wait := maxPoll
		if len(s.timers) > 0 {
			if until := s.next.Sub(now); until < wait {
				wait = until
			}
		}

		sleep := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			sleep.Stop()
			return ctx.Err()
		case <-sleep.C:
		}
	}
}

func (s *Scheduler) earliest() time.Time {
	var earliest time.Time
	for i, t := range s.timers {
		if i == 0 || t.next.Before(earliest) {
			earliest = t.next
		}
	}
	return earliest
}

// nextAligned returns the smallest multiple of period since the Unix epoch
// that is strictly after lastFire and not before now. A zero lastFire means
// the timer never fired.
func nextAligned(lastFire, now time.Time, period time.Duration) time.Time {
	p := int64(period)

	candidate := ceilDiv(now.UnixNano(), p) * p
	if !lastFire.IsZero() && candidate <= lastFire.UnixNano() {
		candidate = (floorDiv(lastFire.UnixNano(), p) + 1) * p
	}

	return time.Unix(0, candidate)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}

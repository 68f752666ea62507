package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Scheduler metrics
	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_scheduler_ticks_total",
			Help: "Total timer invocations by the aligned scheduler",
		},
		[]string{"timer"},
	)

	SchedulerSkippedPeriods = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_scheduler_skipped_periods_total",
			Help: "Timer periods skipped because the loop fell behind",
		},
		[]string{"timer"},
	)

	// Ledger metrics
	LedgerCommits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_ledger_commits_total",
			Help: "Total cache write-backs to the durable store",
		},
	)

	LedgerCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playtime_ledger_commit_duration_seconds",
			Help:    "Duration of a ledger commit in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	LedgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_ledger_events_total",
			Help: "Total lifecycle event rows written",
		},
		[]string{"kind"},
	)

	LedgerAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_ledger_anomalies_total",
			Help: "Logical anomalies detected by the ledger",
		},
		[]string{"kind"},
	)

	ClockRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_clock_rollbacks_total",
			Help: "Backward clock jumps detected and quarantined",
		},
	)

	QuarantinedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_quarantined_events_total",
			Help: "Event rows moved into backup groups",
		},
	)

	RecoveredHeartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_ledger_recovered_heartbeats_total",
			Help: "Dangling Running markers rewritten to Stopped at startup",
		},
	)

	UnflushedCloses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_ledger_unflushed_close_total",
			Help: "Ledger closed with running applications and no flush",
		},
	)

	RunningApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtime_running_apps",
			Help: "Number of applications currently in the running set",
		},
	)

	// Usage metrics
	ActiveSecondsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_active_seconds_total",
			Help: "Total active seconds sampled per application",
		},
		[]string{"app"},
	)

	SuspendsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtime_suspends_detected_total",
			Help: "Wall-clock gaps longer than the suspend threshold",
		},
	)

	MirrorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtime_mirror_errors_total",
			Help: "Failed writes to the status mirror",
		},
		[]string{"op"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SchedulerTicks,
		SchedulerSkippedPeriods,
		LedgerCommits,
		LedgerCommitDuration,
		LedgerEvents,
		LedgerAnomalies,
		ClockRollbacks,
		QuarantinedEvents,
		RecoveredHeartbeats,
		UnflushedCloses,
		RunningApps,
		ActiveSecondsConsumed,
		SuspendsDetected,
		MirrorErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/playtime/internal/clock"
	"github.com/goodtune/playtime/internal/config"
	"github.com/goodtune/playtime/internal/discovery"
	"github.com/goodtune/playtime/internal/ledger"
	"github.com/goodtune/playtime/internal/metrics"
	"github.com/goodtune/playtime/internal/storage"
	"github.com/goodtune/playtime/internal/storage/bolt"
	"github.com/goodtune/playtime/internal/storage/redis"
	"github.com/goodtune/playtime/internal/systemd"
	"github.com/goodtune/playtime/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the playtime daemon",
	Long:  `Sample running applications, record their playtime in the ledger and serve metrics until interrupted.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting playtime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}

	// Open the ledger; failure here aborts startup
	l, err := ledger.Open(ctx, cfg.Storage.Path, clk.Now(), logger,
		ledger.WithObjectCacheSize(cfg.Storage.ObjectCacheSize))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	// The mirror is best-effort
	mirror, err := openMirror(cfg.Mirror)
	if err != nil {
		logger.Error().Err(err).Str("type", cfg.Mirror.Type).Msg("Failed to open mirror, continuing without it")
		mirror = nil
	} else if mirror != nil {
		logger.Info().Str("type", cfg.Mirror.Type).Msg("Mirror initialized")
	}

	scanner := discovery.NewScanner(afero.NewOsFs(), discovery.Config{
		ProcPath: cfg.Discovery.ProcPath,
		Launcher: cfg.Discovery.Launcher,
		Marker:   cfg.Discovery.Marker,
	}, logger)

	tracker := usage.NewTracker(l, scanner, mirror, usage.Config{
		UpdateInterval:   cfg.Schedule.UpdateInterval,
		CommitInterval:   cfg.Schedule.CommitInterval,
		SuspendThreshold: cfg.Schedule.SuspendThreshold,
		PruneInterval:    cfg.Schedule.PruneInterval,
		SessionRetention: cfg.Mirror.SessionRetention,
	}, logger)

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			_ = tracker.Shutdown(context.Background(), clk.Now())
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	watchdog, err := systemd.NewWatchdog()
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid systemd watchdog settings")
		watchdog = &systemd.Watchdog{}
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	logger.Info().
		Str("ledger", cfg.Storage.Path).
		Str("launcher", cfg.Discovery.Launcher).
		Msg("playtime startup complete")

	runErr := tracker.Run(ctx, clk, cfg.Schedule.MaxPoll, watchdog.Kick)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Tracker stopped on ledger failure")
	} else {
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownErr := tracker.Shutdown(context.Background(), clk.Now())
	if shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("Error during shutdown")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("playtime stopped")

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// openMirror opens the configured mirror backend. It returns a nil store
// when the mirror is disabled.
func openMirror(cfg config.MirrorConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.MirrorBolt:
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MirrorRedis:
		store, err := redis.Open(cfg.Redis, cfg.SessionRetention)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MirrorNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

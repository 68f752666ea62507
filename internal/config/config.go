package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mirror backends
const (
	MirrorBolt  = "bolt"
	MirrorRedis = "redis"
	MirrorNone  = "none"
)

// Config holds the complete application configuration
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

// StorageConfig defines the ledger database settings
type StorageConfig struct {
	Path            string `mapstructure:"path"`
	ObjectCacheSize int    `mapstructure:"object_cache_size"`
}

// ScheduleConfig defines timer periods for the run loop
type ScheduleConfig struct {
	UpdateInterval   time.Duration `mapstructure:"update_interval"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
	MaxPoll          time.Duration `mapstructure:"max_poll"`
	SuspendThreshold time.Duration `mapstructure:"suspend_threshold"`
	PruneInterval    time.Duration `mapstructure:"prune_interval"`
}

// DiscoveryConfig defines how running applications are found
type DiscoveryConfig struct {
	ProcPath string `mapstructure:"proc_path"`
	Launcher string `mapstructure:"launcher"` // comm of the supervising launcher
	Marker   string `mapstructure:"marker"`   // argument prefix carrying the app id
}

// MirrorConfig defines the status mirror backend
type MirrorConfig struct {
	Type             string        `mapstructure:"type"` // "bolt", "redis" or "none"
	Path             string        `mapstructure:"path"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
	Redis            RedisConfig   `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig defines the metrics endpoint
type ServerConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PLAYTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by the defaults alone
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/playtime/playtime.db")
	v.SetDefault("storage.object_cache_size", 512)

	// Schedule defaults
	v.SetDefault("schedule.update_interval", "1s")
	v.SetDefault("schedule.commit_interval", "60s")
	v.SetDefault("schedule.max_poll", "1s")
	v.SetDefault("schedule.suspend_threshold", "30s")
	v.SetDefault("schedule.prune_interval", "24h")

	// Discovery defaults
	v.SetDefault("discovery.proc_path", "/proc")
	v.SetDefault("discovery.launcher", "steam")
	v.SetDefault("discovery.marker", "AppId=")

	// Mirror defaults
	v.SetDefault("mirror.type", MirrorBolt)
	v.SetDefault("mirror.path", "/var/lib/playtime/mirror.bolt")
	v.SetDefault("mirror.session_retention", "720h")
	v.SetDefault("mirror.redis.host", "localhost")
	v.SetDefault("mirror.redis.port", 6379)
	v.SetDefault("mirror.redis.password", "")
	v.SetDefault("mirror.redis.db", 0)
	v.SetDefault("mirror.redis.pool_size", 10)
	v.SetDefault("mirror.redis.min_idle_conns", 1)
	v.SetDefault("mirror.redis.dial_timeout", "5s")
	v.SetDefault("mirror.redis.read_timeout", "3s")
	v.SetDefault("mirror.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Server defaults
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")
}

// ValidKeys returns the set of configuration keys the application reads
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate storage path
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if cfg.Storage.ObjectCacheSize <= 0 {
		return fmt.Errorf("invalid object cache size: %d", cfg.Storage.ObjectCacheSize)
	}

	intervals := []struct {
		name  string
		value time.Duration
	}{
		{"schedule.update_interval", cfg.Schedule.UpdateInterval},
		{"schedule.commit_interval", cfg.Schedule.CommitInterval},
		{"schedule.max_poll", cfg.Schedule.MaxPoll},
		{"schedule.suspend_threshold", cfg.Schedule.SuspendThreshold},
		{"schedule.prune_interval", cfg.Schedule.PruneInterval},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", iv.name, iv.value)
		}
	}
	if cfg.Schedule.MaxPoll > cfg.Schedule.UpdateInterval {
		return fmt.Errorf("schedule.max_poll (%s) exceeds schedule.update_interval (%s)",
			cfg.Schedule.MaxPoll, cfg.Schedule.UpdateInterval)
	}

	if cfg.Discovery.Launcher == "" || cfg.Discovery.Marker == "" {
		return fmt.Errorf("discovery launcher and marker are required")
	}

	switch cfg.Mirror.Type {
	case MirrorBolt:
		if cfg.Mirror.Path == "" {
			return fmt.Errorf("mirror path is required for bolt mirror")
		}
	case MirrorRedis:
		if cfg.Mirror.Redis.Host == "" {
			return fmt.Errorf("mirror.redis.host is required for redis mirror")
		}
	case MirrorNone:
	default:
		return fmt.Errorf("unknown mirror type: %q", cfg.Mirror.Type)
	}

	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	return nil
}

// isNotFound reports whether err means the config file is absent. viper only
// returns ConfigFileNotFoundError when searching paths, so an explicit file
// that does not exist surfaces as an fs error instead.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

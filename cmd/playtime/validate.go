package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/playtime/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the playtime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	dumpField("  object_cache_size", cfg.Storage.ObjectCacheSize, defaultCfg.Storage.ObjectCacheSize, yellow, green)

	// Schedule
	_, _ = cyan.Println("\n[schedule]")
	dumpField("  update_interval", cfg.Schedule.UpdateInterval, defaultCfg.Schedule.UpdateInterval, yellow, green)
	dumpField("  commit_interval", cfg.Schedule.CommitInterval, defaultCfg.Schedule.CommitInterval, yellow, green)
	dumpField("  max_poll", cfg.Schedule.MaxPoll, defaultCfg.Schedule.MaxPoll, yellow, green)
	dumpField("  suspend_threshold", cfg.Schedule.SuspendThreshold, defaultCfg.Schedule.SuspendThreshold, yellow, green)
	dumpField("  prune_interval", cfg.Schedule.PruneInterval, defaultCfg.Schedule.PruneInterval, yellow, green)

	// Discovery
	_, _ = cyan.Println("\n[discovery]")
	dumpField("  proc_path", cfg.Discovery.ProcPath, defaultCfg.Discovery.ProcPath, yellow, green)
	dumpField("  launcher", cfg.Discovery.Launcher, defaultCfg.Discovery.Launcher, yellow, green)
	dumpField("  marker", cfg.Discovery.Marker, defaultCfg.Discovery.Marker, yellow, green)

	// Mirror
	_, _ = cyan.Println("\n[mirror]")
	dumpField("  type", cfg.Mirror.Type, defaultCfg.Mirror.Type, yellow, green)
	dumpField("  path", cfg.Mirror.Path, defaultCfg.Mirror.Path, yellow, green)
	dumpField("  session_retention", cfg.Mirror.SessionRetention, defaultCfg.Mirror.SessionRetention, yellow, green)
	_, _ = cyan.Println("  [mirror.redis]")
	dumpField("    host", cfg.Mirror.Redis.Host, defaultCfg.Mirror.Redis.Host, yellow, green)
	dumpField("    port", cfg.Mirror.Redis.Port, defaultCfg.Mirror.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Mirror.Redis.Password), redactPassword(defaultCfg.Mirror.Redis.Password), yellow, green)
	dumpField("    db", cfg.Mirror.Redis.DB, defaultCfg.Mirror.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Mirror.Redis.PoolSize, defaultCfg.Mirror.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Mirror.Redis.MinIdleConns, defaultCfg.Mirror.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Mirror.Redis.DialTimeout, defaultCfg.Mirror.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Mirror.Redis.ReadTimeout, defaultCfg.Mirror.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Mirror.Redis.WriteTimeout, defaultCfg.Mirror.Redis.WriteTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/playtime/internal/config"
	"github.com/goodtune/playtime/internal/database"
	"github.com/goodtune/playtime/internal/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running applications and today's playtime",
	Long: `Show the applications the daemon last reported as running and today's totals
from the ledger, followed by the latest snapshot and open sessions from the
mirror when one is configured.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	heartbeat, err := db.Heartbeat(ctx)
	if err != nil {
		return err
	}

	_, _ = cyan.Println("[running]")
	if len(heartbeat) == 0 {
		fmt.Println("  (none)")
	}
	for _, e := range heartbeat {
		_, _ = green.Printf("  %s", displayName(e.AppID, e.Alias))
		fmt.Printf("  last seen %s\n", e.Timestamp.Format(time.DateTime))
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	totals, err := db.DailyTotals(ctx, midnight, now, now.Location())
	if err != nil {
		return err
	}

	_, _ = cyan.Println("\n[today]")
	if len(totals) == 0 {
		fmt.Println("  (no playtime recorded)")
	}
	for _, total := range totals {
		fmt.Printf("  %-30s %s\n", total.Name(), formatSeconds(total.Seconds))
	}

	if cfg.Mirror.Type == config.MirrorNone {
		return nil
	}

	mirror, err := openMirror(cfg.Mirror)
	if err != nil {
		_, _ = yellow.Fprintf(os.Stdout, "\nMirror unavailable: %v\n", err)
		if cfg.Mirror.Type == config.MirrorBolt {
			fmt.Println("A running daemon holds the bolt mirror lock; use the redis mirror for live status.")
		}
		return nil
	}
	defer func() { _ = mirror.Close() }()

	return printMirror(ctx, mirror)
}

func printMirror(ctx context.Context, mirror storage.Store) error {
	cyan := color.New(color.FgCyan, color.Bold)

	snapshot, err := mirror.Snapshots().Latest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_, _ = cyan.Println("\n[snapshot]")
		fmt.Println("  (none published yet)")
	case err != nil:
		return fmt.Errorf("failed to read snapshot: %w", err)
	default:
		_, _ = cyan.Printf("\n[snapshot %s]\n", snapshot.TakenAt.Local().Format(time.DateTime))
		for _, app := range snapshot.Apps() {
			fmt.Printf("  %-30s %s this hour\n", app, formatSeconds(snapshot.BucketTotals[app]))
		}
	}

	sessions, err := mirror.Sessions().ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	_, _ = cyan.Println("\n[sessions]")
	if len(sessions) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range sessions {
		fmt.Printf("  %-30s started %s, %s\n", s.AppID, s.StartedAt.Local().Format(time.DateTime), s.Duration())
	}

	return nil
}

func displayName(appID, alias string) string {
	if alias == "" {
		return appID
	}
	return fmt.Sprintf("%s (%s)", alias, appID)
}

func formatSeconds(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

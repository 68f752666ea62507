package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/playtime/internal/config"
	"github.com/goodtune/playtime/internal/database"
	"github.com/goodtune/playtime/internal/ledger"
	"github.com/spf13/cobra"
)

var (
	reportSince  string
	reportUntil  string
	reportEvents bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report playtime per day and application",
	Long:  `Aggregate the hourly timeline into per-day totals and list quarantined journal segments.`,
	Example: `  playtime report --since 2024-01-01
  playtime report --since 2024-01-01 --until 2024-02-01 --events`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportSince, "since", "", "First day to include (YYYY-MM-DD, default 7 days ago)")
	reportCmd.Flags().StringVar(&reportUntil, "until", "", "Day after the last one to include (YYYY-MM-DD, default tomorrow)")
	reportCmd.Flags().BoolVar(&reportEvents, "events", false, "Also list journal events in the window")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	since, until, err := reportWindow(time.Now(), reportSince, reportUntil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	totals, err := db.DailyTotals(ctx, since, until, time.Local)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow, color.Bold)

	day := ""
	for _, total := range totals {
		if total.Day != day {
			day = total.Day
			_, _ = cyan.Printf("\n[%s]\n", day)
		}
		_, _ = green.Printf("  %-30s", total.Name())
		fmt.Printf(" %s\n", formatSeconds(total.Seconds))
	}
	if len(totals) == 0 {
		fmt.Println("No playtime recorded in this window.")
	}

	if reportEvents {
		events, err := db.Events(ctx, since, until)
		if err != nil {
			return err
		}
		_, _ = cyan.Println("\n[events]")
		for _, e := range events {
			fmt.Printf("  %s  %-9s %s\n",
				e.Timestamp.Local().Format(time.DateTime),
				ledger.EventKind(e.Kind),
				displayName(e.AppID, e.Alias))
		}
	}

	groups, err := db.BackupGroups(ctx)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		_, _ = yellow.Printf("\n%d quarantined journal segment(s) from clock rollbacks:\n", len(groups))
		for _, g := range groups {
			fmt.Printf("  #%d  %s .. %s  (%d events)\n",
				g.ID,
				g.Start.Local().Format(time.DateTime),
				g.End.Local().Format(time.DateTime),
				g.Events)
		}
	}

	return nil
}

// reportWindow resolves the --since/--until flags to local midnights.
func reportWindow(now time.Time, since, until string) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	start := today.AddDate(0, 0, -7)
	if since != "" {
		t, err := time.ParseInLocation(time.DateOnly, since, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
		start = t
	}

	end := today.AddDate(0, 0, 1)
	if until != "" {
		t, err := time.ParseInLocation(time.DateOnly, until, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
		end = t
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--until must be after --since")
	}

	return start, end, nil
}

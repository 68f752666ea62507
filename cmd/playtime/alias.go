package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/playtime/internal/config"
	"github.com/goodtune/playtime/internal/database"
	"github.com/spf13/cobra"
)

var aliasCmd = &cobra.Command{
	Use:   "alias APP_ID [NAME]",
	Short: "Set or clear the display name of an application",
	Example: `  playtime alias 570 "Dota 2"
  playtime alias 570`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAlias,
}

func init() {
	rootCmd.AddCommand(aliasCmd)
}

func runAlias(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appID := args[0]
	name := ""
	if len(args) == 2 {
		name = args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.SetAlias(ctx, appID, name); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if name == "" {
		_, _ = green.Printf("✅ Cleared alias for %s\n", appID)
	} else {
		_, _ = green.Printf("✅ %s is now shown as %q\n", appID, name)
	}
	return nil
}

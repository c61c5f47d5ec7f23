package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/anatolykoptev/go-kit/env"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/store"
)

var version = "dev"

var (
	flagDatabase string
	flagDSN      string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "trackctl",
	Short:   "Operate a go_music installation",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		engine.SetupLogger(os.Stderr, "text", flagLogLevel)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "db",
		env.Str("DATABASE_PATH", filepath.Join(xdg.DataHome, "go_music", "music.db")), "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", env.Str("DATABASE_URL", ""), "PostgreSQL URL; overrides --db")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(searchCmd, sweepCmd, downloadsCmd, tokenCmd)
}

// localStore is a store with a download history.
type localStore interface {
	store.Store
	RecentDownloads(ctx context.Context, requester int64, limit int) ([]engine.Download, error)
}

func openStore(ctx context.Context) (localStore, error) {
	if flagDSN != "" {
		pg, err := store.ConnectPostgres(ctx, flagDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pg, nil
	}
	db, err := store.OpenSQLite(ctx, flagDatabase)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", flagDatabase, err)
	}
	return db, nil
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_music/internal/engine"
)

var flagSweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge cache rows older than the TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		cache := engine.NewCache(st, engine.CacheOptions{
			TTL:        flagSweepTTL,
			Namespaces: []string{engine.NamespaceSearch, engine.NamespaceLocator, engine.NamespaceSegments},
		})
		removed, err := cache.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweeping: %w", err)
		}
		if removed == 0 {
			fmt.Println("Nothing to purge.")
		} else {
			fmt.Printf("Purged %d cache row(s) older than %s.\n", removed, flagSweepTTL)
		}
		return nil
	},
}

var flagDownloadsLimit int

var downloadsCmd = &cobra.Command{
	Use:   "downloads <requester-id>",
	Short: "List a requester's recent downloads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requester, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid requester id %q", args[0])
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		since := time.Now().Add(-24 * time.Hour)
		used, err := st.CountDownloadsSince(cmd.Context(), requester, since)
		if err != nil {
			return err
		}
		list, err := st.RecentDownloads(cmd.Context(), requester, flagDownloadsLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Downloads in the last 24h: %d\n", used)
		for _, d := range list {
			fmt.Printf("%s  %-24s %s\n", d.At.Local().Format(time.DateTime), d.TrackID, engine.DisplayName(d.Artist, d.Title))
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&flagSweepTTL, "ttl", 7200*time.Second, "entry lifetime")
	downloadsCmd.Flags().IntVar(&flagDownloadsLimit, "limit", 20, "rows to show")
}

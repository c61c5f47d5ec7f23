package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/providers"
)

var (
	flagSearchLimit   int
	flagSearchTimeout time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run an aggregate search and print the ranked candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := engine.Config{
			YandexToken:      env.Str("YANDEX_MUSIC_TOKEN", ""),
			YandexAPIBase:    env.Str("YANDEX_API_BASE", ""),
			SaavnAPIBase:     env.Str("SAAVN_API_BASE", ""),
			YTDLPPath:        env.Str("YTDLP_PATH", "yt-dlp"),
			YTDLPConcurrency: env.Int("YOUTUBE_SEMAPHORE_LIMIT", 4),
			HTTPClient:       &http.Client{Timeout: 30 * time.Second},
		}
		agg := engine.NewAggregator(providers.Sources(cfg, ""), engine.AggregatorOptions{Timeout: flagSearchTimeout})

		results := agg.Search(cmd.Context(), args[0], flagSearchLimit)
		if len(results) == 0 {
			fmt.Println("Nothing found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tID\tSCORE\tTIME\tTRACK")
		for _, c := range results {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				c.Provider, engine.TruncateRunes(c.ID, 40, "..."), c.Relevance,
				engine.FormatDuration(c.Duration), engine.DisplayName(c.Artist, c.Title))
		}
		return w.Flush()
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 0, "per-provider limit (0 = provider defaults)")
	searchCmd.Flags().DurationVar(&flagSearchTimeout, "timeout", 20*time.Second, "per-provider timeout")
}

package providers

import (
	"log/slog"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Per-query limits of each provider.
const (
	yandexLimit     = 5
	saavnLimit      = 5
	youtubeLimit    = 10
	soundcloudLimit = 10
)

// Sources builds the aggregator registrations from cfg, in arrival order:
// primary catalog, licensed catalog, then the yt-dlp backed sources which
// share one runner. Without a token the primary catalog is skipped.
func Sources(cfg engine.Config, workDir string) []engine.SourceSpec {
	runner := NewYTDLP(cfg.YTDLPPath, cfg.YTDLPConcurrency, workDir)

	var specs []engine.SourceSpec
	if cfg.YandexToken != "" {
		specs = append(specs, engine.SourceSpec{
			Provider: NewYandex(cfg.YandexToken, cfg.YandexAPIBase, cfg.HTTPClient),
			Limit:    yandexLimit,
			Artist:   true,
		})
	} else {
		slog.Warn("YANDEX_MUSIC_TOKEN not set, primary catalog disabled")
	}
	return append(specs,
		engine.SourceSpec{Provider: NewSaavn(cfg.SaavnAPIBase, cfg.HTTPClient), Limit: saavnLimit, Artist: true},
		engine.SourceSpec{Provider: NewYouTube(runner), Limit: youtubeLimit},
		engine.SourceSpec{Provider: NewSoundCloud(runner), Limit: soundcloudLimit},
	)
}

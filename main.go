// go_music: music search and download MCP server.
//
// Exposes track_search, track_page, track_download, track_inbox,
// track_history and queue_status. Downloads run on two supervised lanes;
// direct media links are served through the streaming proxy
// (cmd/streamproxy).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/supervisor"
	"github.com/anatolykoptev/go_music/internal/trackserver"
)

var (
	version     = "dev"
	mcpPort     = env.Str("MCP_PORT", "8893")
	metricsAddr = env.Str("METRICS_ADDR", "")
)

func main() {
	engine.SetupLogger(os.Stderr, env.Str("LOG_FORMAT", "text"), env.Str("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := engine.Init(cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, *engine.Cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.close()

	tree := supervisor.New("go_music", slog.Default(), supervisor.DefaultTreeConfig())
	a.supervise(tree, metricsAddr)
	treeDone := tree.ServeBackground(ctx)

	slog.Info("starting go_music",
		slog.String("port", mcpPort),
		slog.String("proxy", cfg.ProxyURL))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_music",
		Version: version,
	}, nil)

	trackserver.RegisterTools(server, a.service)
	slog.Info("tools registered", slog.Int("count", trackserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_music",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 120 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}

	stop()
	if err := <-treeDone; err != nil && ctx.Err() == nil {
		slog.Error("supervisor stopped", slog.Any("error", err))
	}
	logUnstopped(tree)
}

func logUnstopped(tree *supervisor.Tree) {
	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		slog.Warn("unstopped service report", slog.Any("error", err))
		return
	}
	for _, u := range report {
		slog.Warn("service did not stop in time", slog.String("service", u.Name))
	}
}

func loadConfig() engine.Config {
	dataDir := filepath.Join(xdg.DataHome, "go_music")
	return engine.Config{
		DatabasePath: env.Str("DATABASE_PATH", filepath.Join(dataDir, "music.db")),
		DatabaseURL:  env.Str("DATABASE_URL", ""),
		RedisURL:     env.Str("REDIS_URL", ""),

		CacheTTL:             env.Duration("CACHE_TTL", 7200*time.Second),
		CacheMaxEntries:      env.Int("CACHE_MAX_ENTRIES", 1000),
		CacheCleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", time.Hour),

		PrimaryChannel:  env.Str("CHANNEL_ID_1", ""),
		ElevatedChannel: env.Str("CHANNEL_ID_2", ""),
		BaseLimit:       env.Int("BASE_DOWNLOAD_LIMIT", 5),
		ElevatedLimit:   env.Int("ELEVATED_DOWNLOAD_LIMIT", 42),
		SearchCooldown:  env.Duration("SEARCH_COOLDOWN", 8*time.Second),
		MembershipTTL:   env.Duration("MEMBERSHIP_TTL", 300*time.Second),
		TelegramToken:   env.Str("TELEGRAM_TOKEN", ""),
		TelegramAPIBase: env.Str("TELEGRAM_API_BASE", ""),
		QuotaWindow:     env.Duration("QUOTA_WINDOW", 24*time.Hour),

		FastWorkers:     env.Int("FAST_WORKERS", 6),
		SlowWorkers:     env.Int("SLOW_WORKERS", 2),
		FastQueueSize:   env.Int("FAST_QUEUE_SIZE", 200),
		SlowQueueSize:   env.Int("SLOW_QUEUE_SIZE", 50),
		FastServiceTime: env.Duration("FAST_SERVICE_TIME", 15*time.Second),
		SlowServiceTime: env.Duration("SLOW_SERVICE_TIME", 45*time.Second),
		SpoolDir:        env.Str("SPOOL_DIR", filepath.Join(dataDir, "spool")),
		SpoolRetention:  env.Duration("SPOOL_RETENTION", time.Hour),

		ProviderTimeout:  env.Duration("PROVIDER_TIMEOUT", 20*time.Second),
		YandexToken:      env.Str("YANDEX_MUSIC_TOKEN", ""),
		YandexAPIBase:    env.Str("YANDEX_API_BASE", ""),
		SaavnAPIBase:     env.Str("SAAVN_API_BASE", ""),
		YTDLPPath:        env.Str("YTDLP_PATH", "yt-dlp"),
		YTDLPConcurrency: env.Int("YOUTUBE_SEMAPHORE_LIMIT", 4),

		ProxyURL: env.Str("PROXY_URL", "http://127.0.0.1:8894"),

		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        40,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

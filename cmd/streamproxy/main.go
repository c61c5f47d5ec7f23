// streamproxy relays direct media locators to clients in chunks.
// Links are minted by go_music as <PROXY_URL>/stream/<token>.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/providers"
	"github.com/anatolykoptev/go_music/internal/engine/store"
	"github.com/anatolykoptev/go_music/internal/streamproxy"
	"github.com/anatolykoptev/go_music/internal/supervisor"
)

func main() {
	engine.SetupLogger(os.Stderr, env.Str("LOG_FORMAT", "text"), env.Str("LOG_LEVEL", "info"))

	addr := env.Str("PROXY_ADDR", ":8894")
	ttl := env.Duration("SEGMENT_CACHE_TTL", engine.SegmentCacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend engine.Backend
	if redisURL := env.Str("REDIS_URL", ""); redisURL != "" {
		rdb, err := store.OpenRedis(ctx, redisURL, ttl)
		if err != nil {
			slog.Warn("redis unavailable, segment cache is memory only", slog.Any("error", err))
		} else {
			defer rdb.Close()
			backend = rdb
		}
	}
	cache := engine.NewCache(backend, engine.CacheOptions{
		TTL:             ttl,
		MaxEntries:      env.Int("CACHE_MAX_ENTRIES", 1000),
		CleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		Namespaces:      []string{engine.NamespaceSegments},
	})

	// Segment fetches are bounded by the request context, not a client timeout.
	transport := streamproxy.PublicTransport()
	if allow, _ := strconv.ParseBool(env.Str("PROXY_ALLOW_PRIVATE", "false")); allow {
		slog.Warn("PROXY_ALLOW_PRIVATE set, internal upstream addresses are reachable")
		transport.DialContext = nil
	}
	client := &http.Client{Transport: transport}
	media := providers.NewYTDLP(env.Str("YTDLP_PATH", "yt-dlp"), env.Int("YOUTUBE_SEMAPHORE_LIMIT", 4), "")
	resolver := streamproxy.NewSegmentResolver(client, media, cache)

	proxy := streamproxy.NewServer(resolver, client, streamproxy.Options{
		RateLimit:  env.Int("PROXY_RATE_LIMIT", 60),
		RateWindow: env.Duration("PROXY_RATE_WINDOW", time.Minute),
	})

	tree := supervisor.New("streamproxy", slog.Default(), supervisor.DefaultTreeConfig())
	tree.AddMaintenance(cache)
	tree.AddAPI(supervisor.NewHTTPService("stream-proxy", &http.Server{
		Addr:              addr,
		Handler:           proxy.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, 15*time.Second))

	slog.Info("starting streamproxy", slog.String("addr", addr), slog.Duration("segment_ttl", ttl))
	err := tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil {
		for _, u := range report {
			slog.Warn("service did not stop in time", slog.String("service", u.Name))
		}
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("streamproxy stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

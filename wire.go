package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
	"github.com/anatolykoptev/go_music/internal/engine/dispatch"
	"github.com/anatolykoptev/go_music/internal/engine/providers"
	"github.com/anatolykoptev/go_music/internal/engine/store"
	"github.com/anatolykoptev/go_music/internal/streamproxy"
	"github.com/anatolykoptev/go_music/internal/supervisor"
	"github.com/anatolykoptev/go_music/internal/trackserver"
)

// app is the assembled process.
type app struct {
	store      store.Store
	cacheStore io.Closer // separate cache backend, nil when the store serves both
	cache      *engine.Cache
	admission  *admission.Controller
	fast, slow *dispatch.Lane[engine.Job]
	service    *trackserver.Service
}

// durableStore is implemented by the SQL and PostgreSQL stores.
type durableStore interface {
	trackserver.History
	store.Store
}

func openStore(ctx context.Context, cfg engine.Config) (durableStore, error) {
	if cfg.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("store: postgres")
		return pg, nil
	}
	db, err := store.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	slog.Info("store: sqlite", slog.String("path", cfg.DatabasePath))
	return db, nil
}

func build(ctx context.Context, cfg engine.Config) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a := &app{store: st}

	var backend engine.Backend = st
	if cfg.RedisURL != "" {
		rdb, err := store.OpenRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			slog.Warn("redis unavailable, caching in the database", slog.Any("error", err))
		} else {
			backend, a.cacheStore = rdb, rdb
			slog.Info("cache backend: redis")
		}
	}
	a.cache = engine.NewCache(backend, engine.CacheOptions{
		TTL:             cfg.CacheTTL,
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: cfg.CacheCleanupInterval,
		Namespaces:      []string{engine.NamespaceSearch, engine.NamespaceLocator},
	})

	workDir := filepath.Join(cfg.SpoolDir, "tmp")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		a.close()
		return nil, fmt.Errorf("spool: %w", err)
	}

	agg := engine.NewAggregator(providers.Sources(cfg, workDir), engine.AggregatorOptions{Timeout: cfg.ProviderTimeout})

	var members admission.Membership = admission.Open{}
	if cfg.TelegramToken != "" {
		members = admission.NewTelegram(cfg.TelegramToken, cfg.TelegramAPIBase, cfg.HTTPClient)
	} else if cfg.PrimaryChannel != "" || cfg.ElevatedChannel != "" {
		slog.Warn("TELEGRAM_TOKEN not set, channel membership is not checked")
	}

	inbox := trackserver.NewInbox(cfg.SpoolDir, cfg.SpoolRetention)
	proc := &dispatch.Processor{
		Providers: agg,
		Deliverer: inbox,
		Downloads: st,
		Link: func(locator, ext string) (string, error) {
			return streamproxy.Link(cfg.ProxyURL, locator, ext)
		},
	}
	a.fast = dispatch.NewLane[engine.Job]("fast", cfg.FastQueueSize, cfg.FastWorkers, cfg.FastServiceTime, proc)
	a.slow = dispatch.NewLane[engine.Job]("slow", cfg.SlowQueueSize, cfg.SlowWorkers, cfg.SlowServiceTime, proc)

	a.admission = admission.New(admission.Options{
		PrimaryChannel:  cfg.PrimaryChannel,
		ElevatedChannel: cfg.ElevatedChannel,
		BaseLimit:       cfg.BaseLimit,
		ElevatedLimit:   cfg.ElevatedLimit,
		QuotaWindow:     cfg.QuotaWindow,
		MembershipTTL:   cfg.MembershipTTL,
		SearchCooldown:  cfg.SearchCooldown,
		FastServiceTime: cfg.FastServiceTime,
		SlowServiceTime: cfg.SlowServiceTime,
	}, members, st, a.fast.Queue, a.slow.Queue)
	proc.Inflight = a.admission

	a.service = &trackserver.Service{
		Searcher:        agg,
		Cache:           a.cache,
		Gate:            a.admission,
		Dispatcher:      dispatch.NewDispatcher(a.admission, a.fast, a.slow),
		Inbox:           inbox,
		History:         st,
		PrimaryChannel:  cfg.PrimaryChannel,
		ElevatedChannel: cfg.ElevatedChannel,
	}
	return a, nil
}

func (a *app) supervise(tree *supervisor.Tree, metricsAddr string) {
	tree.AddPipeline(a.fast)
	tree.AddPipeline(a.slow)
	tree.AddMaintenance(a.cache)
	tree.AddMaintenance(a.admission)
	tree.AddMaintenance(a.service.Inbox)
	if metricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/healthz", healthHandler(a.store))
		tree.AddAPI(supervisor.NewHTTPService("metrics", &http.Server{
			Addr:              metricsAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}, 5*time.Second))
	}
}

// healthHandler answers 200 while the store responds, 503 otherwise.
func healthHandler(p store.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.Any("error", err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}

func (a *app) close() {
	if a.cacheStore != nil {
		if err := a.cacheStore.Close(); err != nil {
			slog.Warn("cache backend close", slog.Any("error", err))
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("store close", slog.Any("error", err))
	}
}

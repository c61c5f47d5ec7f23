package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	SearchRequests    atomic.Int64
	SearchCacheServed atomic.Int64
	ProviderSearches  atomic.Int64
	ProviderErrors    atomic.Int64
	BreakerRejects    atomic.Int64
	FetchRequests     atomic.Int64
	FetchErrors       atomic.Int64
	JobsAdmitted      atomic.Int64
	JobsDenied        atomic.Int64
	JobsCompleted     atomic.Int64
	JobsFailed        atomic.Int64
	JobsPanicked      atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
}

var metricKeys = []string{
	"search_requests", "search_cache_served",
	"provider_searches", "provider_errors", "breaker_rejects",
	"fetch_requests", "fetch_errors",
	"jobs_admitted", "jobs_denied",
	"jobs_completed", "jobs_failed", "jobs_panicked",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"search_requests":     metrics.SearchRequests.Load(),
		"search_cache_served": metrics.SearchCacheServed.Load(),
		"provider_searches":   metrics.ProviderSearches.Load(),
		"provider_errors":     metrics.ProviderErrors.Load(),
		"breaker_rejects":     metrics.BreakerRejects.Load(),
		"fetch_requests":      metrics.FetchRequests.Load(),
		"fetch_errors":        metrics.FetchErrors.Load(),
		"jobs_admitted":       metrics.JobsAdmitted.Load(),
		"jobs_denied":         metrics.JobsDenied.Load(),
		"jobs_completed":      metrics.JobsCompleted.Load(),
		"jobs_failed":         metrics.JobsFailed.Load(),
		"jobs_panicked":       metrics.JobsPanicked.Load(),
		"cache_hits":          metrics.CacheHits.Load(),
		"cache_misses":        metrics.CacheMisses.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for sub-packages.
func IncrSearchCacheServed() { metrics.SearchCacheServed.Add(1) }
func IncrFetchRequests()     { metrics.FetchRequests.Add(1) }
func IncrFetchErrors()       { metrics.FetchErrors.Add(1) }
func IncrJobsAdmitted()      { metrics.JobsAdmitted.Add(1) }
func IncrJobsDenied()        { metrics.JobsDenied.Add(1) }
func IncrJobsCompleted()     { metrics.JobsCompleted.Add(1) }
func IncrJobsFailed()        { metrics.JobsFailed.Add(1) }
func IncrJobsPanicked()      { metrics.JobsPanicked.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Cache namespaces. Each namespace is swept independently but shares the
// same TTL contract.
const (
	NamespaceSearch   = "search"
	NamespaceLocator  = "locator"
	NamespaceSegments = "segments"
)

// Default TTLs.
const (
	ResultCacheTTL  = 7200 * time.Second
	SegmentCacheTTL = 3600 * time.Second
)

// Backend is the durable tier behind the in-memory cache.
// Load reports ok=false on a miss; createdAt is the original write time.
type Backend interface {
	Load(ctx context.Context, ns, key string) (data []byte, createdAt time.Time, ok bool, err error)
	Save(ctx context.Context, ns, key string, data []byte, createdAt time.Time) error
	Delete(ctx context.Context, ns, key string) error
	Purge(ctx context.Context, ns string, cutoff time.Time) (int64, error)
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	TTL             time.Duration
	MaxEntries      int      // L1 cap (0 = unbounded)
	CleanupInterval time.Duration
	Namespaces      []string // namespaces purged from the backend on Sweep
	Now             func() time.Time
}

// Cache provides 2-tier caching: L1 in-memory + L2 backend.
// L1 is fast but lost on restart. L2 survives restarts.
// No tier ever returns an entry whose age has reached the TTL.
type Cache struct {
	l1              sync.Map // ns|key → *cacheEntry
	backend         Backend  // nil = memory only
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	namespaces      []string
	now             func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	data      []byte
	createdAt time.Time
}

// NewCache builds a cache over backend. backend may be nil to keep
// everything in memory.
func NewCache(backend Backend, opts CacheOptions) *Cache {
	c := &Cache{
		backend:         backend,
		ttl:             opts.TTL,
		maxEntries:      opts.MaxEntries,
		cleanupInterval: opts.CleanupInterval,
		namespaces:      opts.Namespaces,
		now:             opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = ResultCacheTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// TTL returns the maximum entry age.
func (c *Cache) TTL() time.Duration { return c.ttl }

func l1Key(ns, key string) string { return ns + "|" + key }

func (c *Cache) fresh(createdAt time.Time) bool {
	return c.now().Sub(createdAt) < c.ttl
}

// Get tries L1, then L2. On L2 hit, populates L1 with the original write time.
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	k := l1Key(ns, key)

	// L1 check
	if val, ok := c.l1.Load(k); ok {
		entry := val.(*cacheEntry)
		if c.fresh(entry.createdAt) {
			c.hit()
			return entry.data, true
		}
		c.l1.Delete(k)
	}

	// L2 check
	if c.backend != nil {
		data, createdAt, ok, err := c.backend.Load(ctx, ns, key)
		switch {
		case err != nil:
			slog.Debug("cache: L2 load failed", slog.String("ns", ns), slog.Any("error", err))
		case ok && c.fresh(createdAt):
			c.l1.Store(k, &cacheEntry{data: data, createdAt: createdAt})
			c.hit()
			return data, true
		case ok:
			if err := c.backend.Delete(ctx, ns, key); err != nil {
				slog.Debug("cache: L2 delete failed", slog.String("ns", ns), slog.Any("error", err))
			}
		}
	}

	c.miss()
	return nil, false
}

// Put stores data in both tiers, stamped with the current time.
func (c *Cache) Put(ctx context.Context, ns, key string, data []byte) {
	now := c.now()

	// Evict if needed before adding
	c.evictIfNeeded()
	c.l1.Store(l1Key(ns, key), &cacheEntry{data: data, createdAt: now})

	if c.backend != nil {
		if err := c.backend.Save(ctx, ns, key, data, now); err != nil {
			slog.Warn("cache: L2 save failed", slog.String("ns", ns), slog.Any("error", err))
		}
	}
}

// Sweep deletes every stale entry from L1 and from the backend namespaces.
// Returns the number of rows removed from the backend.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	c.l1.Range(func(key, val any) bool {
		if entry, ok := val.(*cacheEntry); ok && !c.fresh(entry.createdAt) {
			c.l1.Delete(key)
		}
		return true
	})

	if c.backend == nil {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl)
	var total int64
	for _, ns := range c.namespaces {
		n, err := c.backend.Purge(ctx, ns, cutoff)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", ns, err)
		}
		total += n
	}
	return total, nil
}

// Serve periodically sweeps until ctx is done. Implements suture.Service.
func (c *Cache) Serve(ctx context.Context) error {
	interval := c.cleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				slog.Error("cache: sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("cache: swept stale entries", slog.Int64("removed", n))
			}
		}
	}
}

func (c *Cache) String() string { return "cache-sweeper" }

// Stats returns this cache's hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) hit() {
	c.hits.Add(1)
	metrics.CacheHits.Add(1)
}

func (c *Cache) miss() {
	c.misses.Add(1)
	metrics.CacheMisses.Add(1)
}

// evictIfNeeded removes entries when L1 exceeds maxEntries.
// Removes expired entries first, then oldest entries if still over limit.
func (c *Cache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}

	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count < c.maxEntries {
		return
	}

	// Phase 1: remove expired
	c.l1.Range(func(key, val any) bool {
		if entry, ok := val.(*cacheEntry); ok && !c.fresh(entry.createdAt) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})
	if count < c.maxEntries {
		return
	}

	// Phase 2: remove oldest entries until under limit
	for count >= c.maxEntries {
		var oldestKey any
		var oldestAt time.Time
		c.l1.Range(func(key, val any) bool {
			if entry, ok := val.(*cacheEntry); ok {
				if oldestKey == nil || entry.createdAt.Before(oldestAt) {
					oldestKey = key
					oldestAt = entry.createdAt
				}
			}
			return true
		})
		if oldestKey == nil {
			break
		}
		c.l1.Delete(oldestKey)
		count--
	}
}

// --- Keys ---

// QueryHash is the search cache key: 32 hex chars of sha256 over the
// normalized query.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:16])
}

// LocatorHash is the 12-char short form used in size-capped callback tokens.
func LocatorHash(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:6])
}

// --- Typed helpers ---

// CacheLoadJSON decodes a cached value of type T.
// Returns the decoded value and true on hit; zero value and false on miss or decode error.
func CacheLoadJSON[T any](ctx context.Context, c *Cache, ns, key string) (T, bool) {
	var out T
	data, ok := c.Get(ctx, ns, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

// CacheStoreJSON marshals v and stores it.
func CacheStoreJSON[T any](ctx context.Context, c *Cache, ns, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Put(ctx, ns, key, data)
}

// GetCandidates returns the ranked list cached under a query hash.
func (c *Cache) GetCandidates(ctx context.Context, hash string) ([]Candidate, bool) {
	return CacheLoadJSON[[]Candidate](ctx, c, NamespaceSearch, hash)
}

// PutCandidates caches a ranked list under a query hash.
func (c *Cache) PutCandidates(ctx context.Context, hash string, list []Candidate) {
	CacheStoreJSON(ctx, c, NamespaceSearch, hash, list)
}

// RememberLocator stores a long locator and returns its short hash.
func (c *Cache) RememberLocator(ctx context.Context, locator string) string {
	short := LocatorHash(locator)
	c.Put(ctx, NamespaceLocator, short, []byte(locator))
	return short
}

// ResolveLocator maps a short hash back to its long locator.
func (c *Cache) ResolveLocator(ctx context.Context, short string) (string, bool) {
	data, ok := c.Get(ctx, NamespaceLocator, strings.ToLower(short))
	if !ok {
		return "", false
	}
	return string(data), true
}

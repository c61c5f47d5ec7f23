package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache-only backend. Keys expire on their own after ttl; the
// created_at field keeps TTL checks exact across tiers.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps a client. ttl <= 0 stores keys without expiry.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: "gm:", ttl: ttl}
}

// OpenRedis parses redisURL and verifies the server answers.
func OpenRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("store: redis connected", slog.String("addr", opts.Addr))
	return NewRedis(rdb, ttl), nil
}

func (r *Redis) key(ns, key string) string { return r.prefix + ns + ":" + key }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Load(ctx context.Context, ns, key string) ([]byte, time.Time, bool, error) {
	vals, err := r.rdb.HMGet(ctx, r.key(ns, key), "value", "created_at").Result()
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("store: redis load: %w", err)
	}
	data, ok1 := vals[0].(string)
	at, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, time.Time{}, false, nil
	}
	nanos, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("store: redis created_at %q: %w", at, err)
	}
	return []byte(data), time.Unix(0, nanos), true, nil
}

func (r *Redis) Save(ctx context.Context, ns, key string, data []byte, createdAt time.Time) error {
	k := r.key(ns, key)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "value", data, "created_at", createdAt.UnixNano())
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis save: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, ns, key string) error {
	if err := r.rdb.Del(ctx, r.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("store: redis delete: %w", err)
	}
	return nil
}

// Purge scans the namespace and drops rows created at or before cutoff.
func (r *Redis) Purge(ctx context.Context, ns string, cutoff time.Time) (int64, error) {
	var removed int64
	iter := r.rdb.Scan(ctx, 0, r.prefix+ns+":*", 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		at, err := r.rdb.HGet(ctx, k, "created_at").Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("store: redis purge %s: %w", k, err)
		}
		if at > cutoff.UnixNano() {
			continue
		}
		n, err := r.rdb.Del(ctx, k).Result()
		if err != nil {
			return removed, fmt.Errorf("store: redis purge %s: %w", k, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("store: redis scan: %w", err)
	}
	return removed, nil
}

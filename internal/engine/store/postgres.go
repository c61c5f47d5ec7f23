package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Postgres is the pgx store used when DATABASE_URL is set.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a pgx pool and runs the schema migration.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("store: postgres connected", slog.String("addr", config.ConnConfig.Host))
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	_, err = p.pool.Exec(ctx, string(ddl))
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Load(ctx context.Context, ns, key string) ([]byte, time.Time, bool, error) {
	var (
		data []byte
		at   time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT value, created_at FROM cache_entries WHERE namespace = $1 AND key = $2`, ns, key,
	).Scan(&data, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("store: load %s/%s: %w", ns, key, err)
	}
	return data, at, true, nil
}

func (p *Postgres) Save(ctx context.Context, ns, key string, data []byte, createdAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cache_entries (namespace, key, value, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at`,
		ns, key, data, createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: save %s/%s: %w", ns, key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, ns, key string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE namespace = $1 AND key = $2`, ns, key); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (p *Postgres) Purge(ctx context.Context, ns string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE namespace = $1 AND created_at <= $2`, ns, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge %s: %w", ns, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) RecordDownload(ctx context.Context, d engine.Download) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_downloads (requester_id, track_id, title, artist, duration, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.Requester, d.TrackID, d.Title, d.Artist, d.Duration, d.At,
	)
	if err != nil {
		return fmt.Errorf("store: record download: %w", err)
	}
	return nil
}

func (p *Postgres) CountDownloadsSince(ctx context.Context, requester int64, since time.Time) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_downloads WHERE requester_id = $1 AND created_at >= $2`,
		requester, since,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count downloads: %w", err)
	}
	return n, nil
}

// RecentDownloads returns the requester's latest downloads, newest first.
func (p *Postgres) RecentDownloads(ctx context.Context, requester int64, limit int) ([]engine.Download, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT requester_id, track_id, COALESCE(title, ''), COALESCE(artist, ''), duration, created_at
		 FROM user_downloads WHERE requester_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		requester, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent downloads: %w", err)
	}
	defer rows.Close()

	var out []engine.Download
	for rows.Next() {
		var d engine.Download
		if err := rows.Scan(&d.Requester, &d.TrackID, &d.Title, &d.Artist, &d.Duration, &d.At); err != nil {
			return nil, fmt.Errorf("store: scan download: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

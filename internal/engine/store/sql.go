package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// SQL is the database/sql store. Timestamps are stored as unix nanoseconds.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps an open database. The schema must already exist; see Migrate.
func NewSQL(db *sql.DB) *SQL { return &SQL{db: db} }

// OpenSQLite opens (or creates) the SQLite database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}

	s := NewSQL(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they don't exist.
func (s *SQL) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/sqlite.sql")
	if err != nil {
		return fmt.Errorf("store: read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Load implements engine.Backend.
func (s *SQL) Load(ctx context.Context, ns, key string) ([]byte, time.Time, bool, error) {
	var (
		data []byte
		at   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, created_at FROM cache_entries WHERE namespace = ? AND key = ?`,
		ns, key,
	).Scan(&data, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("store: load %s/%s: %w", ns, key, err)
	}
	return data, time.Unix(0, at), true, nil
}

// Save implements engine.Backend. An existing key is overwritten.
func (s *SQL) Save(ctx context.Context, ns, key string, data []byte, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, value, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		ns, key, data, createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save %s/%s: %w", ns, key, err)
	}
	return nil
}

// Delete implements engine.Backend.
func (s *SQL) Delete(ctx context.Context, ns, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, ns, key); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// Purge implements engine.Backend.
func (s *SQL) Purge(ctx context.Context, ns string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND created_at <= ?`, ns, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: purge %s: %w", ns, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordDownload implements engine.DownloadLog.
func (s *SQL) RecordDownload(ctx context.Context, d engine.Download) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_downloads (requester_id, track_id, title, artist, duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.Requester, d.TrackID, d.Title, d.Artist, d.Duration, d.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: record download: %w", err)
	}
	return nil
}

// CountDownloadsSince implements engine.DownloadLog.
func (s *SQL) CountDownloadsSince(ctx context.Context, requester int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_downloads WHERE requester_id = ? AND created_at >= ?`,
		requester, since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count downloads: %w", err)
	}
	return n, nil
}

// RecentDownloads returns the requester's latest downloads, newest first.
func (s *SQL) RecentDownloads(ctx context.Context, requester int64, limit int) ([]engine.Download, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT requester_id, track_id, title, artist, duration, created_at
		 FROM user_downloads WHERE requester_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		requester, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent downloads: %w", err)
	}
	defer rows.Close()

	var out []engine.Download
	for rows.Next() {
		var (
			d             engine.Download
			title, artist sql.NullString
			at            int64
		)
		if err := rows.Scan(&d.Requester, &d.TrackID, &title, &artist, &d.Duration, &at); err != nil {
			return nil, fmt.Errorf("store: scan download: %w", err)
		}
		d.Title, d.Artist, d.At = title.String, artist.String, time.Unix(0, at)
		out = append(out, d)
	}
	return out, rows.Err()
}

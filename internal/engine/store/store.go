// Package store persists the download log and the durable cache tier.
package store

import (
	"context"
	"embed"

	"github.com/anatolykoptev/go_music/internal/engine"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Pinger reports whether the underlying database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is a download log that also backs the result cache.
type Store interface {
	engine.Backend
	engine.DownloadLog
	Pinger
	Close() error
}

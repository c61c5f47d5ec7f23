package engine

import (
	"context"
	"time"
)

// ProviderKind names a track source. It doubles as the routing key for the
// dispatch lanes and as the prefix of download callback tokens.
type ProviderKind string

const (
	KindYandex     ProviderKind = "yandex"
	KindSaavn      ProviderKind = "saavn"
	KindSoundCloud ProviderKind = "soundcloud"
	KindYouTube    ProviderKind = "yt"
)

// Provider priority: primary catalog > licensed > open crawling.
const (
	PriorityPrimary  = 3
	PriorityLicensed = 2
	PriorityOpen     = 1
)

// PriorityFor returns the ranking tie-break priority of a provider kind.
func PriorityFor(kind ProviderKind) int {
	switch kind {
	case KindYandex:
		return PriorityPrimary
	case KindSaavn, KindSoundCloud:
		return PriorityLicensed
	case KindYouTube:
		return PriorityOpen
	}
	return 0
}

// --- Core search types ---

// Candidate is one search hit from a provider. Relevance and Priority are
// filled in by Rank; after that a Candidate is treated as immutable.
type Candidate struct {
	Provider     ProviderKind `json:"source"`
	ID           string       `json:"id"`
	URL          string       `json:"url,omitempty"`
	Title        string       `json:"title"`
	Artist       string       `json:"artist"`
	Duration     int          `json:"duration"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	Relevance    int          `json:"relevance_score"`
	Priority     int          `json:"source_priority"`
}

// Track is the result of a provider fetch. Exactly one of Audio or DirectURL
// is set: byte payloads are delivered as files, direct locators are handed to
// the streaming proxy.
type Track struct {
	Audio        []byte `json:"-"`
	DirectURL    string `json:"direct_url,omitempty"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Duration     int    `json:"duration"`
	Extension    string `json:"extension"`
	Thumbnail    []byte `json:"-"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Provider is a searchable, downloadable track source.
// Implementations must be safe for concurrent use.
type Provider interface {
	Kind() ProviderKind
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	Fetch(ctx context.Context, id string) (*Track, error)
}

// --- Dispatch types ---

// Scheduling tiers. Lower runs first.
const (
	TierElevated = 0
	TierNormal   = 1
)

// Job is a single download request waiting in (or taken from) a lane.
type Job struct {
	ID         string       `json:"id"`
	Tier       int          `json:"tier"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Requester  int64        `json:"requester_id"`
	Provider   ProviderKind `json:"provider"`
	ResourceID string       `json:"resource_id"`
}

// Download is one completed job, the unit of quota accounting.
type Download struct {
	Requester int64     `json:"requester_id"`
	TrackID   string    `json:"track_id"`
	At        time.Time `json:"at"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Duration  int       `json:"duration"`
}

// DownloadLog records completed downloads and counts them for quotas.
type DownloadLog interface {
	RecordDownload(ctx context.Context, d Download) error
	CountDownloadsSince(ctx context.Context, requester int64, since time.Time) (int, error)
}

// Delivery is what a requester receives for a finished job.
type Delivery struct {
	JobID        string       `json:"job_id"`
	Requester    int64        `json:"requester_id"`
	Provider     ProviderKind `json:"provider"`
	Title        string       `json:"title"`
	Artist       string       `json:"artist"`
	Duration     int          `json:"duration"`
	Extension    string       `json:"extension"`
	Caption      string       `json:"caption"`
	StreamURL    string       `json:"stream_url,omitempty"`
	Audio        []byte       `json:"-"`
	Thumbnail    []byte       `json:"-"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
}

// Deliverer hands results and status text back to requesters.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
	Notify(ctx context.Context, requester int64, jobID, text string) error
}

// ProviderIcon is the marker shown next to results and captions.
func ProviderIcon(kind ProviderKind) string {
	switch kind {
	case KindYandex, KindSaavn:
		return "💛"
	case KindSoundCloud:
		return "☁️"
	case KindYouTube:
		return "📮"
	}
	return "🎧"
}

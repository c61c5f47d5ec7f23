package trackserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// MaxInboxItems caps undrained items per requester; the oldest are dropped
// and their spooled files removed.
const MaxInboxItems = 100

// DefaultSpoolRetention is how long a spooled file outlives its delivery.
const DefaultSpoolRetention = time.Hour

// Inbox item kinds.
const (
	ItemTrack  = "track"
	ItemStatus = "status"
)

var safeExtRe = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// InboxItem is one delivered track or status line.
type InboxItem struct {
	Kind          string    `json:"kind"`
	JobID         string    `json:"job_id"`
	Text          string    `json:"text"`
	Title         string    `json:"title,omitempty"`
	Artist        string    `json:"artist,omitempty"`
	Duration      int       `json:"duration,omitempty"`
	FilePath      string    `json:"file_path,omitempty"`
	StreamURL     string    `json:"stream_url,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	At            time.Time `json:"at"`
}

// Inbox is the Deliverer behind track_inbox. Audio payloads are spooled to
// <dir>/<requester>/<job>.<ext>; everything else is kept in memory until
// the requester drains it. Spooled files are removed once older than the
// retention, drained or not.
type Inbox struct {
	dir       string
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	items map[int64][]InboxItem
}

var _ engine.Deliverer = (*Inbox)(nil)

// NewInbox spools files under dir. retention <= 0 uses DefaultSpoolRetention.
func NewInbox(dir string, retention time.Duration) *Inbox {
	if retention <= 0 {
		retention = DefaultSpoolRetention
	}
	return &Inbox{dir: dir, retention: retention, now: time.Now, items: make(map[int64][]InboxItem)}
}

// Deliver stores a finished track.
func (b *Inbox) Deliver(_ context.Context, d engine.Delivery) error {
	item := InboxItem{
		Kind:         ItemTrack,
		JobID:        d.JobID,
		Text:         d.Caption,
		Title:        d.Title,
		Artist:       d.Artist,
		Duration:     d.Duration,
		StreamURL:    d.StreamURL,
		ThumbnailURL: d.ThumbnailURL,
	}
	if len(d.Audio) > 0 {
		path, err := b.spool(d.Requester, d.JobID, d.Extension, d.Audio)
		if err != nil {
			return err
		}
		item.FilePath = path
		if len(d.Thumbnail) > 0 {
			thumb, err := b.spool(d.Requester, d.JobID+"-cover", "jpg", d.Thumbnail)
			if err != nil {
				slog.Debug("inbox: cover spool failed", slog.String("job", d.JobID), slog.Any("error", err))
			} else {
				item.ThumbnailPath = thumb
			}
		}
	}
	b.push(d.Requester, item)
	return nil
}

// Notify stores a status line.
func (b *Inbox) Notify(_ context.Context, requester int64, jobID, text string) error {
	b.push(requester, InboxItem{Kind: ItemStatus, JobID: jobID, Text: text})
	return nil
}

// Drain returns and forgets the requester's items, oldest first.
func (b *Inbox) Drain(requester int64) []InboxItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items[requester]
	delete(b.items, requester)
	return items
}

func (b *Inbox) push(requester int64, item InboxItem) {
	item.At = b.now()
	b.mu.Lock()
	list := append(b.items[requester], item)
	var evicted []InboxItem
	if len(list) > MaxInboxItems {
		cut := len(list) - MaxInboxItems
		evicted = append(evicted, list[:cut]...)
		list = append([]InboxItem(nil), list[cut:]...)
	}
	b.items[requester] = list
	b.mu.Unlock()

	for _, it := range evicted {
		removeSpooled(it.FilePath)
		removeSpooled(it.ThumbnailPath)
	}
}

func removeSpooled(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("inbox: remove failed", slog.String("path", path), slog.Any("error", err))
	}
}

// Sweep deletes spooled files older than the retention and empty requester
// directories. Directories that are not requester ids are left alone.
func (b *Inbox) Sweep() (int, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inbox sweep: %w", err)
	}
	cutoff := b.now().Add(-b.retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(e.Name(), 10, 64); err != nil {
			continue
		}
		dir := filepath.Join(b.dir, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			slog.Debug("inbox: read dir failed", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		left := len(files)
		for _, f := range files {
			info, err := f.Info()
			if err != nil || f.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err == nil {
				removed++
				left--
			}
		}
		if left == 0 {
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}

// Serve sweeps the spool periodically until ctx is done. Implements suture.Service.
func (b *Inbox) Serve(ctx context.Context) error {
	interval := b.retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := b.Sweep()
			if err != nil {
				slog.Warn("inbox sweep failed", slog.Any("error", err))
			} else if n > 0 {
				slog.Info("inbox sweep", slog.Int("removed", n))
			}
		}
	}
}

func (b *Inbox) String() string { return "inbox-sweeper" }

func (b *Inbox) spool(requester int64, name, ext string, data []byte) (string, error) {
	if !safeExtRe.MatchString(ext) {
		ext = "bin"
	}
	dir := filepath.Join(b.dir, strconv.FormatInt(requester, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("inbox: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name)+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("inbox: %w", err)
	}
	return path, nil
}

package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// youtubeFormat prefers itag 140 (m4a 128k), which is nearly always present.
const youtubeFormat = "140/bestaudio[ext=m4a]/bestaudio"

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// YouTube is the open-crawl provider.
type YouTube struct {
	r *YTDLP
}

// NewYouTube builds a YouTube provider over a shared yt-dlp runner.
func NewYouTube(r *YTDLP) *YouTube { return &YouTube{r: r} }

func (y *YouTube) Kind() engine.ProviderKind { return engine.KindYouTube }

func watchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

// Search implements engine.Provider.
func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]engine.Candidate, error) {
	entries, err := y.r.search(ctx, "ytsearch", query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Candidate, 0, len(entries))
	for _, e := range entries {
		d := int(e.Duration)
		if e.ID == "" || d <= 0 || d > engine.MaxDurationSeconds {
			continue
		}
		artist, title := CleanVideoTitle(e.Title, e.uploader())
		out = append(out, engine.Candidate{
			Provider:     engine.KindYouTube,
			ID:           e.ID,
			URL:          watchURL(e.ID),
			Title:        title,
			Artist:       artist,
			Duration:     d,
			ThumbnailURL: e.thumbnail(),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Fetch checks the duration, then downloads the audio into a scratch dir.
func (y *YouTube) Fetch(ctx context.Context, id string) (*engine.Track, error) {
	if !videoIDRe.MatchString(id) {
		return nil, fmt.Errorf("video id %q: %w", id, engine.ErrValidation)
	}
	u := watchURL(id)

	info, err := y.r.dump(ctx, u, "--no-playlist", "-f", youtubeFormat)
	if err != nil {
		return nil, err
	}
	if int(info.Duration) > engine.MaxDurationSeconds {
		return nil, fmt.Errorf("video %s lasts %ds: %w", id, int(info.Duration), engine.ErrValidation)
	}

	dir, err := os.MkdirTemp(y.r.workDir, "yt-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	_, err = y.r.run(ctx,
		"--no-playlist", "-f", youtubeFormat,
		"--no-progress", "--quiet", "--no-warnings",
		"--socket-timeout", "60", "--retries", "4", "--fragment-retries", "4",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		"--", u)
	if err != nil {
		return nil, err
	}

	path, err := singleFile(dir)
	if err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("video %s: empty download: %w", id, engine.ErrProviderUnavailable)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = "m4a"
	}
	artist, title := CleanVideoTitle(info.Title, info.uploader())
	return &engine.Track{
		Audio:        audio,
		Title:        title,
		Artist:       artist,
		Duration:     int(info.Duration),
		Extension:    ext,
		ThumbnailURL: info.thumbnail(),
	}, nil
}

func singleFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".part") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no downloaded file: %w", engine.ErrProviderUnavailable)
}

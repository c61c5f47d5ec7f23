package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// SoundCloud resolves tracks to direct stream links; audio is never
// downloaded here. Resource ids are track page URLs.
type SoundCloud struct {
	r *YTDLP
}

// NewSoundCloud builds a SoundCloud provider over a shared yt-dlp runner.
func NewSoundCloud(r *YTDLP) *SoundCloud { return &SoundCloud{r: r} }

func (s *SoundCloud) Kind() engine.ProviderKind { return engine.KindSoundCloud }

func artistOrUnknown(name string) string {
	if name == "" {
		return "Unknown Artist"
	}
	return name
}

func titleOrUnknown(name string) string {
	if name == "" {
		return "Unknown Title"
	}
	return name
}

// Search implements engine.Provider. Entries without a duration are skipped.
func (s *SoundCloud) Search(ctx context.Context, query string, limit int) ([]engine.Candidate, error) {
	entries, err := s.r.search(ctx, "scsearch", query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Candidate, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Duration <= 0 {
			continue
		}
		artist := artistOrUnknown(e.uploader())
		page := e.WebpageURL
		if page == "" {
			page = e.URL
		}
		out = append(out, engine.Candidate{
			Provider:     engine.KindSoundCloud,
			ID:           e.ID,
			URL:          page,
			Title:        StripArtistPrefix(titleOrUnknown(e.Title), artist),
			Artist:       artist,
			Duration:     int(e.Duration),
			ThumbnailURL: e.thumbnail(),
		})
	}
	return out, nil
}

// Fetch returns the direct stream locator for a track page URL.
func (s *SoundCloud) Fetch(ctx context.Context, pageURL string) (*engine.Track, error) {
	if !strings.HasPrefix(pageURL, "http") {
		return nil, fmt.Errorf("soundcloud url %q: %w", pageURL, engine.ErrValidation)
	}
	info, err := s.r.dump(ctx, pageURL, "-f", "bestaudio/best")
	if err != nil {
		return nil, err
	}
	if info.URL == "" {
		return nil, fmt.Errorf("soundcloud %s: no stream url: %w", pageURL, engine.ErrProviderUnavailable)
	}
	ext := info.Ext
	if ext == "" {
		ext = "mp3"
	}
	artist := artistOrUnknown(info.uploader())
	return &engine.Track{
		DirectURL:    info.URL,
		Title:        StripArtistPrefix(titleOrUnknown(info.Title), artist),
		Artist:       artist,
		Duration:     int(info.Duration),
		Extension:    ext,
		ThumbnailURL: info.thumbnail(),
	}, nil
}

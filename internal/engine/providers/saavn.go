package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// DefaultSaavnAPI is the public JioSaavn proxy API.
const DefaultSaavnAPI = "https://saavn.dev/api"

// saavnQuality ranks download links, best first.
var saavnQuality = []string{"320kbps", "160kbps", "96kbps"}

// Saavn is the licensed-catalog provider.
type Saavn struct {
	base   string
	client *http.Client
}

// NewSaavn builds a Saavn provider. Empty base uses DefaultSaavnAPI.
func NewSaavn(base string, client *http.Client) *Saavn {
	if base == "" {
		base = DefaultSaavnAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Saavn{base: strings.TrimRight(base, "/"), client: client}
}

func (s *Saavn) Kind() engine.ProviderKind { return engine.KindSaavn }

type saavnLink struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

type saavnSong struct {
	ID       flexString  `json:"id"`
	Name     string      `json:"name"`
	Duration flexInt     `json:"duration"`
	Image    []saavnLink `json:"image"`
	Download []saavnLink `json:"downloadUrl"`
	Artists  struct {
		Primary []struct {
			Name string `json:"name"`
		} `json:"primary"`
	} `json:"artists"`
}

func (s saavnSong) artist() string {
	names := make([]string, 0, len(s.Artists.Primary))
	for _, a := range s.Artists.Primary {
		names = append(names, engine.CleanHTML(a.Name))
	}
	return strings.Join(names, ", ")
}

// cover is the last (largest) image.
func (s saavnSong) cover() string {
	if len(s.Image) == 0 {
		return ""
	}
	return s.Image[len(s.Image)-1].URL
}

type saavnSearchResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Results []saavnSong `json:"results"`
	} `json:"data"`
}

type saavnSongResponse struct {
	Success bool        `json:"success"`
	Data    []saavnSong `json:"data"`
}

// Search implements engine.Provider. Songs without download links are skipped.
func (s *Saavn) Search(ctx context.Context, query string, limit int) ([]engine.Candidate, error) {
	u := fmt.Sprintf("%s/search/songs?%s", s.base, url.Values{
		"query": {query},
		"limit": {fmt.Sprint(limit)},
	}.Encode())

	var data saavnSearchResponse
	if err := getJSON(ctx, s.client, u, nil, &data); err != nil {
		return nil, err
	}
	if !data.Success {
		return nil, nil
	}

	out := make([]engine.Candidate, 0, len(data.Data.Results))
	for _, song := range data.Data.Results {
		if len(song.Download) == 0 {
			continue
		}
		out = append(out, engine.Candidate{
			Provider:     engine.KindSaavn,
			ID:           string(song.ID),
			Title:        engine.CleanHTML(song.Name),
			Artist:       song.artist(),
			Duration:     int(song.Duration),
			ThumbnailURL: song.cover(),
		})
	}
	return out, nil
}

// bestSaavnLink picks the highest listed quality.
func bestSaavnLink(links []saavnLink) string {
	for _, q := range saavnQuality {
		for _, l := range links {
			if l.Quality == q && l.URL != "" {
				return l.URL
			}
		}
	}
	return ""
}

// Fetch downloads audio and cover in parallel. A missing cover is not an error.
func (s *Saavn) Fetch(ctx context.Context, id string) (*engine.Track, error) {
	var data saavnSongResponse
	if err := getJSON(ctx, s.client, s.base+"/songs/"+url.PathEscape(id), nil, &data); err != nil {
		return nil, err
	}
	if !data.Success || len(data.Data) == 0 {
		return nil, fmt.Errorf("saavn song %s: %w", id, engine.ErrProviderUnavailable)
	}
	song := data.Data[0]

	link := bestSaavnLink(song.Download)
	if link == "" {
		return nil, fmt.Errorf("saavn song %s: no download link: %w", id, engine.ErrProviderUnavailable)
	}

	track := &engine.Track{
		Title:        engine.CleanHTML(song.Name),
		Artist:       song.artist(),
		Duration:     int(song.Duration),
		Extension:    "m4a",
		ThumbnailURL: song.cover(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		audio, err := get(gctx, s.client, link, nil, maxAudio)
		if err != nil {
			return fmt.Errorf("saavn audio: %w", err)
		}
		track.Audio = audio
		return nil
	})
	if track.ThumbnailURL != "" {
		g.Go(func() error {
			thumb, err := get(gctx, s.client, track.ThumbnailURL, nil, maxBody)
			if err != nil {
				slog.Debug("saavn cover failed", slog.String("id", id), slog.Any("error", err))
				return nil
			}
			track.Thumbnail = thumb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return track, nil
}

package providers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// DefaultYandexAPI is the public Yandex Music API.
const DefaultYandexAPI = "https://api.music.yandex.net"

// yandexSignSalt seeds the download-link signature.
const yandexSignSalt = "XGRlBW9FXlekgbPrRHuSiA"

// yandexConcurrency caps concurrent API calls, retries included.
const yandexConcurrency = 2

// Yandex is the primary-catalog provider.
type Yandex struct {
	token  string
	base   string
	client *http.Client
	sem    *semaphore.Weighted
	retry  engine.RetryConfig
}

// NewYandex builds a Yandex provider authenticated with an OAuth token.
func NewYandex(token, base string, client *http.Client) *Yandex {
	if base == "" {
		base = DefaultYandexAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Yandex{
		token:  token,
		base:   strings.TrimRight(base, "/"),
		client: client,
		sem:    semaphore.NewWeighted(yandexConcurrency),
		retry:  engine.DownloadRetryConfig,
	}
}

func (y *Yandex) Kind() engine.ProviderKind { return engine.KindYandex }

type yandexTrack struct {
	ID         flexString `json:"id"`
	Title      string     `json:"title"`
	Available  bool       `json:"available"`
	DurationMs int        `json:"durationMs"`
	CoverURI   string     `json:"coverUri"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Albums []struct {
		ID flexString `json:"id"`
	} `json:"albums"`
}

func (t yandexTrack) artist() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func (t yandexTrack) cover() string {
	if t.CoverURI == "" {
		return ""
	}
	return "https://" + strings.ReplaceAll(t.CoverURI, "%%", "200x200")
}

func (t yandexTrack) tooLong() bool {
	return t.DurationMs > engine.MaxDurationSeconds*1000
}

type yandexSearchResponse struct {
	Result struct {
		Tracks struct {
			Results []yandexTrack `json:"results"`
		} `json:"tracks"`
	} `json:"result"`
}

type yandexTracksResponse struct {
	Result []yandexTrack `json:"result"`
}

type yandexDownloadInfo struct {
	Codec           string `json:"codec"`
	BitrateInKbps   int    `json:"bitrateInKbps"`
	DownloadInfoURL string `json:"downloadInfoUrl"`
}

type yandexDownloadInfoResponse struct {
	Result []yandexDownloadInfo `json:"result"`
}

// yandexSignedPath is the XML document behind downloadInfoUrl.
type yandexSignedPath struct {
	Host string `xml:"host"`
	Path string `xml:"path"`
	TS   string `xml:"ts"`
	S    string `xml:"s"`
}

func (y *Yandex) headers() map[string]string {
	return map[string]string{"Authorization": "OAuth " + y.token}
}

// acquire takes a semaphore slot for the whole call.
func (y *Yandex) acquire(ctx context.Context) (func(), error) {
	if err := y.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { y.sem.Release(1) }, nil
}

// Search implements engine.Provider. Unavailable, empty and over-long tracks are skipped.
// Candidate ids have the form "trackID:albumID".
func (y *Yandex) Search(ctx context.Context, query string, limit int) ([]engine.Candidate, error) {
	release, err := y.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	u := fmt.Sprintf("%s/search?%s", y.base, url.Values{
		"text":      {query},
		"type":      {"track"},
		"page":      {"0"},
		"nocorrect": {"false"},
	}.Encode())
	var data yandexSearchResponse
	if err := getJSON(ctx, y.client, u, y.headers(), &data); err != nil {
		return nil, err
	}

	results := data.Result.Tracks.Results
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]engine.Candidate, 0, len(results))
	for _, t := range results {
		if !t.Available || t.DurationMs == 0 || t.tooLong() {
			continue
		}
		album := ""
		if len(t.Albums) > 0 {
			album = string(t.Albums[0].ID)
		}
		out = append(out, engine.Candidate{
			Provider:     engine.KindYandex,
			ID:           string(t.ID) + ":" + album,
			Title:        t.Title,
			Artist:       t.artist(),
			Duration:     t.DurationMs / 1000,
			ThumbnailURL: t.cover(),
		})
	}
	return out, nil
}

// Fetch implements engine.Provider. The download link lookup and the
// payload fetch are retried together; undersized payloads count as failures.
func (y *Yandex) Fetch(ctx context.Context, id string) (*engine.Track, error) {
	release, err := y.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	trackID, _, _ := strings.Cut(id, ":")
	if trackID == "" {
		return nil, fmt.Errorf("yandex id %q: %w", id, engine.ErrValidation)
	}

	var tracks yandexTracksResponse
	if err := getJSON(ctx, y.client, y.base+"/tracks/"+url.PathEscape(trackID), y.headers(), &tracks); err != nil {
		return nil, err
	}
	if len(tracks.Result) == 0 {
		return nil, fmt.Errorf("yandex track %s not found: %w", trackID, engine.ErrProviderUnavailable)
	}
	t := tracks.Result[0]
	if !t.Available {
		return nil, fmt.Errorf("yandex track %s not available: %w", trackID, engine.ErrProviderUnavailable)
	}
	if t.tooLong() {
		return nil, fmt.Errorf("yandex track %s lasts %ds: %w", trackID, t.DurationMs/1000, engine.ErrValidation)
	}

	type payload struct {
		audio []byte
		codec string
	}
	p, err := engine.RetryDo(ctx, y.retry, func() (payload, error) {
		audio, codec, err := y.download(ctx, trackID)
		if err != nil {
			slog.Debug("yandex download attempt failed", slog.String("track", trackID), slog.Any("error", err))
			return payload{}, err
		}
		return payload{audio: audio, codec: codec}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("yandex download %s: %w", trackID, err)
	}

	track := &engine.Track{
		Audio:        p.audio,
		Title:        t.Title,
		Artist:       t.artist(),
		Duration:     t.DurationMs / 1000,
		Extension:    "m4a",
		ThumbnailURL: t.cover(),
	}
	if p.codec == "mp3" {
		track.Extension = "mp3"
	}
	if cover := t.cover(); cover != "" {
		thumb, err := get(ctx, y.client, cover, nil, maxBody)
		if err != nil {
			slog.Debug("yandex cover failed", slog.String("track", trackID), slog.Any("error", err))
		} else {
			track.Thumbnail = thumb
		}
	}
	return track, nil
}

// download resolves the best link and fetches the payload once, with no
// inner retries. Every failure is reported as transient so RetryDo tries again.
func (y *Yandex) download(ctx context.Context, trackID string) ([]byte, string, error) {
	var infos yandexDownloadInfoResponse
	if err := getJSONOnce(ctx, y.client, y.base+"/tracks/"+url.PathEscape(trackID)+"/download-info", y.headers(), &infos); err != nil {
		return nil, "", fmt.Errorf("%w: %w", err, engine.ErrTransient)
	}
	best, ok := bestYandexInfo(infos.Result)
	if !ok {
		return nil, "", fmt.Errorf("no download info: %w", engine.ErrTransient)
	}

	raw, err := getOnce(ctx, y.client, best.DownloadInfoURL, y.headers(), maxBody)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", err, engine.ErrTransient)
	}
	var sp yandexSignedPath
	if err := xml.Unmarshal(raw, &sp); err != nil {
		return nil, "", fmt.Errorf("download info xml: %w: %w", err, engine.ErrTransient)
	}

	audio, err := getOnce(ctx, y.client, signedURL(sp), nil, maxAudio)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", err, engine.ErrTransient)
	}
	if err := engine.RequirePayload(audio, engine.MinPayloadBytes); err != nil {
		return nil, "", err
	}
	return audio, best.Codec, nil
}

// bestYandexInfo prefers the highest-bitrate mp3, else the first entry.
func bestYandexInfo(infos []yandexDownloadInfo) (yandexDownloadInfo, bool) {
	if len(infos) == 0 {
		return yandexDownloadInfo{}, false
	}
	best, found := yandexDownloadInfo{}, false
	for _, info := range infos {
		if info.Codec == "mp3" && (!found || info.BitrateInKbps > best.BitrateInKbps) {
			best, found = info, true
		}
	}
	if !found {
		return infos[0], true
	}
	return best, true
}

// signedURL builds https://host/get-mp3/<sign>/<ts><path>.
func signedURL(sp yandexSignedPath) string {
	path := sp.Path
	trimmed := strings.TrimPrefix(path, "/")
	sum := md5.Sum([]byte(yandexSignSalt + trimmed + sp.S))
	host := sp.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return fmt.Sprintf("%s/get-mp3/%s/%s%s", host, hex.EncodeToString(sum[:]), sp.TS, path)
}

package streamproxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// maxPlaylist bounds playlist bodies.
const maxPlaylist = 4 << 20

// Resolver turns a locator into the ordered URLs to relay.
type Resolver interface {
	Resolve(ctx context.Context, locator string) ([]string, error)
}

// MediaResolver resolves a page URL to direct media URLs (yt-dlp -g).
type MediaResolver interface {
	MediaURLs(ctx context.Context, pageURL string) ([]string, error)
}

// pageHosts serve html pages rather than media and need extraction first.
var pageHosts = map[string]bool{
	"youtube.com": true, "www.youtube.com": true, "m.youtube.com": true,
	"music.youtube.com": true, "youtu.be": true,
	"soundcloud.com": true, "www.soundcloud.com": true, "m.soundcloud.com": true,
}

// SegmentResolver resolves and caches segment lists per locator.
type SegmentResolver struct {
	client *http.Client
	media  MediaResolver // nil = page URLs are relayed as-is
	cache  *engine.Cache
}

// NewSegmentResolver builds a resolver. cache should use engine.SegmentCacheTTL.
func NewSegmentResolver(client *http.Client, media MediaResolver, cache *engine.Cache) *SegmentResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &SegmentResolver{client: client, media: media, cache: cache}
}

func segmentKey(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])
}

// Resolve implements Resolver. Failures wrap engine.ErrProviderUnavailable.
func (r *SegmentResolver) Resolve(ctx context.Context, locator string) ([]string, error) {
	key := segmentKey(locator)
	if r.cache != nil {
		if segs, ok := engine.CacheLoadJSON[[]string](ctx, r.cache, engine.NamespaceSegments, key); ok && len(segs) > 0 {
			return segs, nil
		}
	}

	segs, err := r.resolve(ctx, locator)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("resolve %s: empty segment list: %w", locator, engine.ErrProviderUnavailable)
	}
	if r.cache != nil {
		engine.CacheStoreJSON(ctx, r.cache, engine.NamespaceSegments, key, segs)
	}
	slog.Debug("segments resolved", slog.Int("count", len(segs)))
	return segs, nil
}

func (r *SegmentResolver) resolve(ctx context.Context, locator string) ([]string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parse locator: %w: %w", err, engine.ErrValidation)
	}

	if r.media != nil && pageHosts[strings.ToLower(u.Hostname())] {
		urls, err := r.media.MediaURLs(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", locator, err)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("extract %s: no media url: %w", locator, engine.ErrProviderUnavailable)
		}
		if u, err = url.Parse(urls[0]); err != nil {
			return nil, fmt.Errorf("parse media url: %w: %w", err, engine.ErrProviderUnavailable)
		}
	}

	if !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
		return []string{u.String()}, nil
	}
	return r.playlist(ctx, u, 1)
}

// playlist expands an HLS playlist. A master playlist is followed to its
// first variant, at most depth levels deep.
func (r *SegmentResolver) playlist(ctx context.Context, u *url.URL, depth int) ([]string, error) {
	body, err := r.fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U")) {
		return []string{u.String()}, nil
	}

	var (
		segs    []string
		variant bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			variant = true
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref, err := url.Parse(line)
		if err != nil {
			continue
		}
		abs := u.ResolveReference(ref)
		if variant {
			if depth <= 0 {
				return nil, fmt.Errorf("playlist %s: nested too deep: %w", u.Redacted(), engine.ErrProviderUnavailable)
			}
			return r.playlist(ctx, abs, depth-1)
		}
		segs = append(segs, abs.String())
	}
	return segs, nil
}

func (r *SegmentResolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		return r.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w: %w", err, engine.ErrProviderUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch playlist: status %d: %w", resp.StatusCode, engine.ErrProviderUnavailable)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPlaylist))
}

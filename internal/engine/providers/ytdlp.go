package providers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// DefaultYTDLPConcurrency is the extraction gate shared by the yt-dlp providers.
const DefaultYTDLPConcurrency = 4

// YTDLP runs yt-dlp extractions on a bounded executor.
type YTDLP struct {
	path    string
	gate    *semaphore.Weighted // configured extraction limit
	pool    *semaphore.Weighted // 2 x NumCPU executor slots
	workDir string
}

// NewYTDLP builds a runner. Empty path uses "yt-dlp" from PATH; workDir
// holds temporary downloads ("" = OS temp dir).
func NewYTDLP(path string, concurrency int, workDir string) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	if concurrency <= 0 {
		concurrency = DefaultYTDLPConcurrency
	}
	return &YTDLP{
		path:    path,
		gate:    semaphore.NewWeighted(int64(concurrency)),
		pool:    semaphore.NewWeighted(int64(2 * runtime.NumCPU())),
		workDir: workDir,
	}
}

// ytInfo is the subset of yt-dlp's info dict we read.
type ytInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   flexInt `json:"duration"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Ext        string  `json:"ext"`
	Thumbnail  string  `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Entries []ytInfo `json:"entries"`
}

func (i ytInfo) uploader() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}

func (i ytInfo) thumbnail() string {
	if i.Thumbnail != "" {
		return i.Thumbnail
	}
	if n := len(i.Thumbnails); n > 0 {
		return i.Thumbnails[n-1].URL
	}
	return ""
}

// run executes yt-dlp and returns stdout.
func (r *YTDLP) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := r.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.gate.Release(1)
	if err := r.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.pool.Release(1)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp: %w: %s: %w", err, lastLine(stderr.String()), engine.ErrProviderUnavailable)
	}
	return stdout.Bytes(), nil
}

// dump returns the info dict for target without downloading.
func (r *YTDLP) dump(ctx context.Context, target string, extra ...string) (*ytInfo, error) {
	args := append([]string{"--dump-single-json", "--no-warnings", "--quiet"}, extra...)
	args = append(args, "--", target)
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var info ytInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp json: %w: %w", err, engine.ErrProviderUnavailable)
	}
	return &info, nil
}

// search runs a flat "<prefix><limit>:<query>" search.
func (r *YTDLP) search(ctx context.Context, prefix, query string, limit int) ([]ytInfo, error) {
	info, err := r.dump(ctx, fmt.Sprintf("%s%d:%s", prefix, limit, query),
		"--flat-playlist", "--skip-download", "--socket-timeout", "15")
	if err != nil {
		return nil, err
	}
	return info.Entries, nil
}

// MediaURLs resolves a page URL to its direct media URLs (yt-dlp -g).
func (r *YTDLP) MediaURLs(ctx context.Context, pageURL string) ([]string, error) {
	out, err := r.run(ctx, "-g", "--no-warnings", "--quiet", "-f", "bestaudio/best", "--", pageURL)
	if err != nil {
		return nil, err
	}
	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("yt-dlp -g %s: no urls: %w", pageURL, engine.ErrProviderUnavailable)
	}
	return urls, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return engine.TruncateRunes(s, 200, "...")
}

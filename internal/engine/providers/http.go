// Package providers holds the concrete track sources: catalog HTTP APIs
// and yt-dlp backed crawlers.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// maxBody bounds metadata responses; audio uses maxAudio.
const (
	maxBody  = 8 << 20
	maxAudio = 200 << 20
)

// get performs a GET with engine.RetryHTTP and returns the body of a 200
// response. Any other status is ErrProviderUnavailable.
func get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, limit int64) ([]byte, error) {
	return getWith(ctx, engine.DefaultRetryConfig, client, rawURL, headers, limit)
}

// getOnce is get without retries, for callers that run their own retry loop.
func getOnce(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, limit int64) ([]byte, error) {
	return getWith(ctx, engine.RetryConfig{}, client, rawURL, headers, limit)
}

func getWith(ctx context.Context, rc engine.RetryConfig, client *http.Client, rawURL string, headers map[string]string, limit int64) ([]byte, error) {
	resp, err := engine.RetryHTTP(ctx, rc, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %w", redact(rawURL), resp.StatusCode, engine.ErrProviderUnavailable)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out any) error {
	data, err := get(ctx, client, rawURL, headers, maxBody)
	if err != nil {
		return err
	}
	return decodeJSON(rawURL, data, out)
}

func getJSONOnce(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out any) error {
	data, err := getOnce(ctx, client, rawURL, headers, maxBody)
	if err != nil {
		return err
	}
	return decodeJSON(rawURL, data, out)
}

func decodeJSON(rawURL string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", redact(rawURL), err, engine.ErrProviderUnavailable)
	}
	return nil
}

// redact drops the query string so tokens never reach logs.
func redact(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return base
}

// flexInt decodes a JSON number, a numeric string, or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes a JSON string or number as a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

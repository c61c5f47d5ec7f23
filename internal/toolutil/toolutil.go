// Package toolutil renders result pages as inline keyboards and parses the
// callback data those keyboards carry.
package toolutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Keyboard limits of the chat platform.
const (
	PageSize         = 5
	MaxCallbackBytes = 64
	MaxLabelRunes    = 60
)

// ErrBadCallback marks callback data that doesn't parse.
var ErrBadCallback = fmt.Errorf("malformed callback data: %w", engine.ErrValidation)

// Button is one inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// LocatorStore shortens locators that don't fit in callback data.
type LocatorStore interface {
	RememberLocator(ctx context.Context, locator string) string
}

// ButtonLabel renders "<icon> (m:ss) artist - title", cut to MaxLabelRunes.
func ButtonLabel(c engine.Candidate) string {
	label := engine.ProviderIcon(c.Provider)
	if d := engine.FormatDuration(c.Duration); d != "" {
		label += " (" + d + ")"
	}
	title := c.Title
	if title == "" {
		title = "Unknown Title"
	}
	label += " " + engine.DisplayName(c.Artist, title)
	if utf8.RuneCountInString(label) > MaxLabelRunes {
		label = engine.TruncateRunes(label, MaxLabelRunes-3, "") + "..."
	}
	return label
}

// DownloadData is the callback data for a candidate, or false when it
// can't be expressed within MaxCallbackBytes. SoundCloud page URLs that
// overflow go through the locator store as dl:sc:<hash>.
func DownloadData(ctx context.Context, locators LocatorStore, c engine.Candidate) (string, bool) {
	if c.Provider == engine.KindSoundCloud {
		if c.URL == "" {
			return "", false
		}
		if data := "dl:soundcloud:" + c.URL; len(data) <= MaxCallbackBytes {
			return data, true
		}
		if locators == nil {
			return "", false
		}
		return "dl:sc:" + locators.RememberLocator(ctx, c.URL), true
	}
	if c.ID == "" {
		return "", false
	}
	data := "dl:" + string(c.Provider) + ":" + c.ID
	if len(data) > MaxCallbackBytes {
		return "", false
	}
	return data, true
}

// PageData is the navigation callback for page n of a cached query.
func PageData(page int, hash string) string {
	return "page:" + strconv.Itoa(page) + ":" + hash
}

// BuildPage lays out one page: a button per downloadable candidate, then a
// navigation row. ok is false when the page is past the end.
func BuildPage(ctx context.Context, locators LocatorStore, results []engine.Candidate, page int, hash string) (Keyboard, bool) {
	start := page * PageSize
	if page < 0 || start >= len(results) {
		return nil, false
	}
	end := min(start+PageSize, len(results))

	var kb Keyboard
	for _, c := range results[start:end] {
		data, ok := DownloadData(ctx, locators, c)
		if !ok {
			continue
		}
		kb = append(kb, []Button{{Text: ButtonLabel(c), Data: data}})
	}

	var nav []Button
	if page > 0 {
		nav = append(nav, Button{Text: "👈", Data: PageData(page-1, hash)})
	}
	if end < len(results) {
		nav = append(nav, Button{Text: "👉", Data: PageData(page+1, hash)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	return kb, true
}

// ParsePage parses "page:<n>:<hash>".
func ParsePage(data string) (int, string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "page" || parts[2] == "" {
		return 0, "", ErrBadCallback
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return 0, "", ErrBadCallback
	}
	return n, parts[2], nil
}

// ParseDownload parses "dl:<source>:<id>". The id may itself contain ':'.
func ParseDownload(data string) (source, id string, err error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "dl" || parts[1] == "" || parts[2] == "" {
		return "", "", ErrBadCallback
	}
	return parts[1], parts[2], nil
}

// IsBadCallback reports whether err came from a callback parser.
func IsBadCallback(err error) bool { return errors.Is(err, ErrBadCallback) }

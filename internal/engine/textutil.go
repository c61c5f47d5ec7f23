package engine

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go-kit/strutil"
)

// User-Agent strings used across HTTP clients.
const (
	UserAgentBot    = "GoMusic/1.0"
	UserAgentChrome = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// CleanHTML strips HTML tags, decodes entities and trims whitespace.
// Catalog APIs return titles like "Rock &amp; Roll".
func CleanHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(s, "")))
}

// NormalizeQuery lowercases and collapses whitespace. Equal queries modulo
// case and spacing share a cache entry.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// TruncateRunes caps s at limit runes, appending suffix if truncated.
// Pass suffix="" for no suffix. Safe for UTF-8 (Cyrillic, CJK, emoji).
func TruncateRunes(s string, limit int, suffix string) string {
	return strutil.TruncateWith(s, limit, suffix)
}

// FormatDuration renders seconds as m:ss. Zero or negative yields "".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// DisplayName is "artist - title", or just the title when artist is empty.
func DisplayName(artist, title string) string {
	if strings.TrimSpace(artist) == "" {
		return title
	}
	return artist + " - " + title
}

// Caption is the text attached to a delivered track.
func Caption(kind ProviderKind, artist, title string) string {
	return ProviderIcon(kind) + " `" + DisplayName(artist, title) + "`"
}

package providers

import (
	"regexp"
	"strings"
)

const junkWords = `official|audio|video|lyric|lyrics|visualizer|hq|hd|4k|mv|1080p|720p|music|vevo`

var (
	junkRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(` + junkWords + `)\b`),
		regexp.MustCompile(`(?i)\[.*?(` + junkWords + `).*?\]`),
		regexp.MustCompile(`(?i)\(.*?(` + junkWords + `).*?\)`),
	}
	emptyBracketsRe = regexp.MustCompile(`\[\s*\]|\(\s*\)`)
	spacesRe        = regexp.MustCompile(`\s+`)
	edgeDashRe      = regexp.MustCompile(`^[-\s]+|[-\s]+$`)
	genericArtistRe = regexp.MustCompile(`^(track|song|audio)\s*\d*$`)
)

var titleSeparators = []string{" - ", " – ", " — ", " | ", ": "}

// uploaderSuffixes are channel-name decorations dropped when the uploader
// stands in for the artist.
var uploaderSuffixes = []string{" - Topic", "VEVO", " - Official", " Official", "Records", "Music"}

// CleanVideoTitle splits a video title into artist and title, dropping
// promotional noise. The uploader is the artist fallback.
func CleanVideoTitle(raw, uploader string) (artist, title string) {
	clean := raw
	for _, re := range junkRes {
		clean = re.ReplaceAllString(clean, "")
	}
	clean = emptyBracketsRe.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(spacesRe.ReplaceAllString(clean, " "))
	clean = edgeDashRe.ReplaceAllString(clean, "")

	title = clean
	for _, sep := range titleSeparators {
		left, right, ok := strings.Cut(clean, sep)
		if !ok {
			continue
		}
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if left == "" || right == "" || genericArtistRe.MatchString(strings.ToLower(left)) {
			continue
		}
		artist, title = left, right
		break
	}

	if artist == "" && uploader != "" {
		artist = uploader
		for _, suffix := range uploaderSuffixes {
			if strings.HasSuffix(artist, suffix) {
				artist = strings.TrimSpace(strings.ReplaceAll(artist, suffix, ""))
			}
		}
	}

	if artist == "" {
		artist = "Unknown Artist"
	}
	if title == "" {
		title = "Unknown Title"
	}
	return artist, title
}

// StripArtistPrefix removes a leading "artist - " from title, ignoring case.
func StripArtistPrefix(title, artist string) string {
	prefix := artist + " - "
	if artist == "" || len(title) < len(prefix) {
		return title
	}
	if strings.EqualFold(title[:len(prefix)], prefix) {
		return title[len(prefix):]
	}
	return title
}

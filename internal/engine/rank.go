package engine

import (
	"regexp"
	"sort"
	"strings"
)

// RelevanceThreshold is the minimum fuzzy score for a candidate to survive ranking.
const RelevanceThreshold = 60

// MaxDurationSeconds is the longest track offered or fetched.
const MaxDurationSeconds = 900

var bracketedRe = regexp.MustCompile(`[\(\[].*?[\)\]]`)

// DedupKey identifies the same recording across providers: lowercased
// "artist - title" with bracketed annotations removed.
func DedupKey(artist, title string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(bracketedRe.ReplaceAllString(s, "")))
	}
	return norm(artist) + " - " + norm(title)
}

// Rank scores, filters, deduplicates and orders candidates for query.
// The input slice is not modified.
func Rank(query string, candidates []Candidate) []Candidate {
	q := NormalizeQuery(query)

	best := make(map[string]int) // dedup key → index in kept
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Relevance = TokenSetRatio(q, strings.ToLower(c.Artist+" "+c.Title))
		if c.Relevance < RelevanceThreshold {
			continue
		}
		c.Priority = PriorityFor(c.Provider)

		key := DedupKey(c.Artist, c.Title)
		idx, seen := best[key]
		if !seen {
			best[key] = len(kept)
			kept = append(kept, c)
			continue
		}
		cur := kept[idx]
		if c.Relevance > cur.Relevance || (c.Relevance == cur.Relevance && c.Priority > cur.Priority) {
			kept[idx] = c
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Relevance != kept[j].Relevance {
			return kept[i].Relevance > kept[j].Relevance
		}
		return kept[i].Priority > kept[j].Priority
	})
	return FilterDuration(kept)
}

// FilterDuration keeps candidates with 0 < duration <= MaxDurationSeconds.
func FilterDuration(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Duration > 0 && c.Duration <= MaxDurationSeconds {
			out = append(out, c)
		}
	}
	return out
}

// PreDedup drops repeated (provider, id) pairs, keeping first arrival.
func PreDedup(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := string(c.Provider) + "_" + c.ID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

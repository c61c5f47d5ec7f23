package engine

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// TokenSetRatio scores the similarity of a and b on 0..100, ignoring token
// order and duplicated tokens. Both sides are lowercased and stripped of
// punctuation first. An empty side scores 0.
func TokenSetRatio(a, b string) int {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var sect, onlyA, onlyB []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			sect = append(sect, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if _, ok := ta[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(sect, " ")
	combA := joinNonEmpty(base, strings.Join(onlyA, " "))
	combB := joinNonEmpty(base, strings.Join(onlyB, " "))

	// One side is a subset of the other.
	if base != "" && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	best := ratio(combA, combB)
	if base != "" {
		best = max(best, ratio(base, combA), ratio(base, combB))
	}
	return best
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func tokenSet(s string) map[string]struct{} {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(clean) {
		set[tok] = struct{}{}
	}
	return set
}

// ratio is the normalized indel similarity 200*LCS/(len(a)+len(b)), over runes.
func ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return int(math.Round(200 * float64(lcsLen(ra, rb)) / float64(total)))
}

func lcsLen(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

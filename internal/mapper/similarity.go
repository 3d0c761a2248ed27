package mapper

import (
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// similarityFloor is the minimum edit-distance similarity accepted as a
// signal. Anything weaker is treated as no match.
const similarityFloor = 0.6

// similarity scores two normalized strings in [0,1]: 1.0 for an exact
// match, 0.8 when one contains the other, otherwise 1 − dist/maxLen
// accepted only at or above the floor.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	sim := 1.0 - float64(fuzzy.LevenshteinDistance(a, b))/float64(maxLen)
	if sim < similarityFloor {
		return 0
	}
	return sim
}

// bestSimilarity returns the highest similarity between s and any of the
// candidates.
func bestSimilarity(s string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if sim := similarity(s, c); sim > best {
			best = sim
		}
	}
	return best
}

// tokenSimilarity scores a header against a keyword list token by token,
// taking the best token↔keyword pair.
func tokenSimilarity(header string, keywords []string) float64 {
	best := 0.0
	for _, tok := range strings.Fields(header) {
		if sim := bestSimilarity(tok, keywords); sim > best {
			best = sim
		}
	}
	return best
}

package store

import (
	"strings"
	"unicode"
)

// Similarity returns a [0,1] fuzzy-text score between two labels: the Jaccard
// overlap of their lowercase word sets. 1.0 means identical word sets, 0.0
// means disjoint. Deterministic and cheap; good enough to catch the model
// re-recording the same item with cosmetic wording changes.
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		if len(wa) == 0 && len(wb) == 0 {
			return 1.0
		}
		return 0.0
	}

	intersection := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}

// Package fuzzy scores string similarity for value-map lookups.
//
// Inputs and candidates are normalized (NFKC plus Unicode case folding)
// before scoring so that "Rick Owens" and "rick owens" compare equal and
// fullwidth or composed forms do not depress scores.
package fuzzy

import (
	"fmt"

	fuzzywuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Supported scorer names.
const (
	ScorerTokenSortRatio = "token_sort_ratio"
	ScorerTokenSetRatio  = "token_set_ratio"
	ScorerRatio          = "ratio"
	ScorerPartialRatio   = "partial_ratio"
)

// DefaultThreshold is the minimum score treated as a match when the caller
// does not configure one.
const DefaultThreshold = 70

var foldCaser = cases.Fold()

// Normalize applies NFKC normalization and case folding.
func Normalize(s string) string {
	return foldCaser.String(norm.NFKC.String(s))
}

// Score computes the similarity of two strings on a 0 to 100 scale using the
// named scorer. Both inputs are normalized first.
func Score(scorer, a, b string) (int, error) {
	na, nb := Normalize(a), Normalize(b)
	switch scorer {
	case "", ScorerTokenSortRatio:
		return fuzzywuzzy.TokenSortRatio(na, nb), nil
	case ScorerTokenSetRatio:
		return fuzzywuzzy.TokenSetRatio(na, nb), nil
	case ScorerRatio:
		return fuzzywuzzy.Ratio(na, nb), nil
	case ScorerPartialRatio:
		return fuzzywuzzy.PartialRatio(na, nb), nil
	default:
		return 0, fmt.Errorf("unknown fuzzy scorer %q", scorer)
	}
}

// BestMatch scores input against every candidate and returns the best one
// with its score. The candidate with the highest score wins; ties keep the
// earlier candidate. An empty candidate list returns a -1 score.
func BestMatch(scorer, input string, candidates []string) (string, int, error) {
	best := ""
	bestScore := -1
	for _, candidate := range candidates {
		score, err := Score(scorer, input, candidate)
		if err != nil {
			return "", 0, err
		}
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore, nil
}

package welfare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adrg/strutil/metrics"
)

// Scoring algorithms.
const (
	AlgorithmTokenSortRatio = "token_sort_ratio"
	AlgorithmRatio          = "ratio"
	AlgorithmJaroWinkler    = "jaro_winkler"
)

// Scorer rates the similarity of two normalised names on 0..100.
type Scorer func(a, b string) float64

// NewScorer returns the scorer for the named algorithm.
func NewScorer(algorithm string) (Scorer, error) {
	switch algorithm {
	case "", AlgorithmTokenSortRatio:
		return tokenSortRatio, nil
	case AlgorithmRatio:
		return ratio, nil
	case AlgorithmJaroWinkler:
		return jaroWinkler, nil
	default:
		return nil, fmt.Errorf("unknown matching algorithm %q", algorithm)
	}
}

// ratio is the indel similarity: a Levenshtein distance where a substitution
// costs a deletion plus an insertion, normalised by the combined length.
func ratio(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}

	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	lev.InsertCost = 1
	lev.DeleteCost = 1
	lev.ReplaceCost = 2

	return 100 * (1 - float64(lev.Distance(a, b))/float64(total))
}

// tokenSortRatio compares names with their words sorted, so "kumar ravi" matches "ravi kumar".
func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

func jaroWinkler(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false
	return 100 * jw.Compare(a, b)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

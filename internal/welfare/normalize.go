package welfare

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "mx": {}, "dr": {}, "prof": {},
	"shri": {}, "sri": {}, "shrimati": {}, "smt": {}, "sh": {}, "kumari": {}, "km": {},
	"late": {}, "lt": {}, "col": {}, "capt": {}, "sir": {}, "madam": {},
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"January 2, 2006",
}

// Normalizer prepares names for fuzzy comparison.
type Normalizer struct {
	MaxRunes         int
	StripTitles      bool
	StripAccents     bool
	StripPunctuation bool
}

// Name folds case, removes accents, punctuation and honorifics, and caps the length.
func (n Normalizer) Name(s string) string {
	if n.StripAccents {
		if folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s); err == nil {
			s = folded
		}
	}
	s = cases.Fold().String(s)
	if n.StripPunctuation {
		s = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				return r
			}
			return ' '
		}, s)
	}

	tokens := strings.Fields(s)
	if n.StripTitles {
		kept := tokens[:0]
		for _, t := range tokens {
			if _, ok := honorifics[strings.TrimSuffix(t, ".")]; ok {
				continue
			}
			kept = append(kept, t)
		}
		tokens = kept
	}

	s = strings.Join(tokens, " ")
	if n.MaxRunes > 0 {
		if r := []rune(s); len(r) > n.MaxRunes {
			s = strings.TrimSpace(string(r[:n.MaxRunes]))
		}
	}
	return s
}

// normalizeDate returns an ISO date when the value parses with a known
// layout, otherwise the trimmed value itself.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return strings.ToLower(s)
}

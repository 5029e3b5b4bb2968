package utils

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// Percent returns part/total scaled to 0..100, or 0 when total is not positive.
func Percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

// TruncateForLog folds whitespace runs into single spaces and cuts the result
// to limit runes, marking a cut with "...".
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

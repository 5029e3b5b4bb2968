package price

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// currencyPricePattern matches "Rs. 1,50,000", "Rs 5000", "₹5000.00", "INR 5000".
	currencyPricePattern = regexp.MustCompile(`(?i)(?:\brs\.?|\binr\b|₹)\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	// trailingPricePattern matches a bare amount closing a line after a separator: "Office Chair - 5000.00".
	trailingPricePattern = regexp.MustCompile(`(?:^|[\s\-:|–])([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:/-)?\s*$`)
	summaryLinePattern   = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|gst|cgst|sgst|igst|vat|tax|discount|balance|amount\s+due|round\s*off)\b`)
	metadataLinePattern  = regexp.MustCompile(`(?i)^(invoice|bill|receipt|order|po|ref|date|phone|tel|mobile|gstin|pan)\b`)
	quantityPattern      = regexp.MustCompile(`(?i)^\d+\s*(?:x|nos?\.?|pcs?\.?|units?)\s+|^\d+[.)]\s+`)
)

// Line is a priced invoice line before it is compared with the market.
type Line struct {
	Description string
	Price       float64
	Raw         string
}

// ParseLines extracts priced item lines from invoice text. Summary lines such
// as totals and taxes are skipped, as are lines without a description.
func ParseLines(text string) []Line {
	var lines []Line
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || summaryLinePattern.MatchString(raw) || metadataLinePattern.MatchString(raw) {
			continue
		}

		loc := currencyPricePattern.FindStringSubmatchIndex(raw)
		if loc == nil {
			loc = trailingPricePattern.FindStringSubmatchIndex(raw)
		}
		if loc == nil {
			continue
		}

		amount, ok := parseAmount(raw[loc[2]:loc[3]])
		if !ok {
			continue
		}

		description := cleanDescription(raw[:loc[0]] + " " + raw[loc[1]:])
		if description == "" {
			continue
		}

		lines = append(lines, Line{Description: description, Price: amount, Raw: raw})
	}
	return lines
}

// parseAmount accepts both Indian (1,50,000) and western (150,000) digit grouping.
func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func cleanDescription(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " -:|–/")
	// Leading quantity or serial columns such as "2 x" or "1." carry no item information.
	s = quantityPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

package amounts

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	minAmount = 0.01
	maxAmount = 1_000_000
)

var (
	nonNumeric     = regexp.MustCompile(`[^\d.]`)
	leadingDecimal = regexp.MustCompile(`^(?:\d+(?:\.\d+)?|\.\d+)`)
)

// NormalizeTokens is the rule-based normalizer.
// Amounts come back deduplicated and sorted largest first.
func NormalizeTokens(tokens []string) *Normalization {
	values := make([]float64, 0, len(tokens))
	for _, token := range tokens {
		value, ok := parseToken(token)
		if !ok {
			continue
		}
		values = append(values, value)
	}

	amounts := uniqueDescending(values)

	confidence := 0.0
	if len(tokens) > 0 {
		successRate := float64(len(values)) / float64(len(tokens))
		confidence = round2(min(0.95, 0.60+successRate*0.35))
	}

	return &Normalization{
		NormalizedAmounts: amounts,
		Confidence:        confidence,
		Method:            MethodRegex,
		Note:              fmt.Sprintf("Normalized %d amounts from %d tokens", len(amounts), len(tokens)),
	}
}

// parseToken converts a raw token into a rounded amount, reporting false when the
// token is a percentage, unparseable, or outside the accepted range
func parseToken(token string) (float64, bool) {
	if strings.Contains(token, "%") || strings.TrimSpace(token) == "" {
		return 0, false
	}

	cleaned := nonNumeric.ReplaceAllString(strings.ReplaceAll(token, ",", ""), "")
	digits := leadingDecimal.FindString(cleaned)
	if digits == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return 0, false
	}
	if !inRange(d.InexactFloat64()) {
		return 0, false
	}
	return d.Round(2).InexactFloat64(), true
}

// inRange reports whether an unrounded amount lies within [0.01, 1_000_000)
func inRange(value float64) bool {
	return value >= minAmount && value < maxAmount
}

// uniqueDescending drops exact duplicates and sorts largest first
func uniqueDescending(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, descending)
	return out
}

// descending orders larger amounts first
func descending(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

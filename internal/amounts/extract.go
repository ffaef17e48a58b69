package amounts

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// numericPattern matches grouped integers with optional cents, bare decimals, or bare integers
var numericPattern = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b|\b\d+\.\d{2}\b|\b\d+\b`)

var bareNumberLine = regexp.MustCompile(`^\s*\d+\s*$`)

// currencyPatterns are tested in priority order; the first hit wins
var currencyPatterns = []struct {
	code    string
	pattern *regexp.Regexp
}{
	{"INR", regexp.MustCompile(`(?i)INR|Rs\.?|₹|Rupees?`)},
	{"USD", regexp.MustCompile(`(?i)USD|\$|Dollars?`)},
	{"EUR", regexp.MustCompile(`(?i)EUR|€|Euros?`)},
	{"GBP", regexp.MustCompile(`(?i)GBP|£|Pounds?`)},
}

// tokenFilter drops a candidate token when it returns a non-empty reason
type tokenFilter func(token string, value float64, line string) string

// tokenFilters run in order; the first that fires drops the token
var tokenFilters = []tokenFilter{
	func(_ string, value float64, _ string) string {
		if value >= 1900 && value <= 2100 {
			return "year"
		}
		return ""
	},
	func(_ string, value float64, line string) string {
		if value > 10 {
			return ""
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "qty") || strings.Contains(lower, "quantity") || bareNumberLine.MatchString(lower) {
			return "quantity"
		}
		return ""
	},
	func(token string, value float64, _ string) string {
		if value <= 5 && len(token) == 1 {
			return "stray digit"
		}
		return ""
	},
}

// ExtractTokens is the rule-based token extractor
func ExtractTokens(text string) *Extraction {
	tokens := make([]string, 0)
	for _, loc := range numericPattern.FindAllStringIndex(text, -1) {
		token := text[loc[0]:loc[1]]
		value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
		if err != nil {
			continue
		}

		line := enclosingLine(text, loc[0], loc[1])
		dropped := false
		for _, filter := range tokenFilters {
			if reason := filter(token, value, line); reason != "" {
				slog.Debug("Dropped numeric token", "token", token, "reason", reason)
				dropped = true
				break
			}
		}
		if !dropped {
			tokens = append(tokens, token)
		}
	}

	confidence := 0.0
	if len(tokens) > 0 {
		confidence = round2(min(0.95, 0.60+float64(len(tokens))*0.10))
	}

	return &Extraction{
		RawTokens:    tokens,
		CurrencyHint: DetectCurrency(text),
		Confidence:   confidence,
		Method:       MethodRegex,
		Note:         fmt.Sprintf("Extracted %d monetary amounts", len(tokens)),
	}
}

// DetectCurrency infers an ISO currency code from symbols and keywords in text
func DetectCurrency(text string) string {
	for _, c := range currencyPatterns {
		if c.pattern.MatchString(text) {
			return c.code
		}
	}
	return DefaultCurrency
}

// enclosingLine returns the text between the line breaks surrounding [start, end)
func enclosingLine(text string, start, end int) string {
	lineStart := strings.LastIndex(text[:start], "\n") + 1
	lineEnd := len(text)
	if i := strings.Index(text[end:], "\n"); i >= 0 {
		lineEnd = end + i
	}
	return text[lineStart:lineEnd]
}

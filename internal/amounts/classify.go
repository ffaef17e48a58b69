package amounts

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

const (
	segmentConfidence  = 0.9
	fallbackConfidence = 0.5
	// rulesConfidence is reported for every rule-based run regardless of per-amount scores
	rulesConfidence = 0.8
)

// keywordRule assigns a type when any of its keywords appears in a segment
type keywordRule struct {
	amountType AmountType
	keywords   []string
}

// keywordRules are tested in order against the lowercased segment
var keywordRules = []keywordRule{
	{ConsultationFee, []string{"consultation", "consult"}},
	{Medicine, []string{"medicine", "drug"}},
	{Test, []string{"test", "lab"}},
	{TotalBill, []string{"total", "bill"}},
	{Paid, []string{"paid", "payment"}},
	{Due, []string{"balance", "due", "payable"}},
	{Discount, []string{"discount", "off"}},
}

// ClassifyRules is the rule-based classifier. amounts is expected in the descending
// order the normalizer produces; the rank fallback does not rely on it.
func ClassifyRules(amounts []float64, text string) *Classification {
	segments := splitSegments(text)
	classified := make([]ClassifiedAmount, 0, len(amounts))

	for _, value := range amounts {
		if m, ok := locate(value, segments); ok {
			t := typeForSegment(m.segment)
			slog.Debug("Classified amount from segment",
				"value", value,
				"segment", m.segment,
				"matcher", m.matcher,
				"type", t,
			)
			classified = append(classified, ClassifiedAmount{Type: t, Value: value, Confidence: segmentConfidence})
			continue
		}

		t := rankFallback(value, amounts)
		slog.Debug("Classified amount by rank", "value", value, "type", t)
		classified = append(classified, ClassifiedAmount{Type: t, Value: value, Confidence: fallbackConfidence})
	}

	return &Classification{
		Amounts:    classified,
		Confidence: rulesConfidence,
		Method:     MethodRules,
		Note:       fmt.Sprintf("Classified %d amounts with segment matching", len(classified)),
	}
}

// typeForSegment applies keywordRules to a segment
func typeForSegment(segment string) AmountType {
	segment = strings.ToLower(segment)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(segment, kw) {
				return rule.amountType
			}
		}
	}
	return Other
}

// rankFallback types an amount by its rank in the whole set: largest is the total,
// second largest is paid, smallest is due, anything else is other
func rankFallback(value float64, all []float64) AmountType {
	if len(all) == 0 {
		return Other
	}
	sorted := slices.Clone(all)
	slices.SortFunc(sorted, descending)

	switch {
	case value == sorted[0]:
		return TotalBill
	case len(sorted) > 1 && value == sorted[1]:
		return Paid
	case value == sorted[len(sorted)-1]:
		return Due
	}
	return Other
}

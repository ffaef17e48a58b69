// Package amounts extracts monetary amounts from bill text and classifies them by role.
//
// The pipeline runs in four stages (extract, normalize, classify, assemble). Each of the
// first three has a rule-based variant and an assistant-backed variant; the assistant
// variant always degrades to the rule-based one when the assistant is missing or fails.
package amounts

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountType is the semantic role of an amount on a bill
type AmountType string

const (
	TotalBill       AmountType = "total_bill"
	Paid            AmountType = "paid"
	Due             AmountType = "due"
	Discount        AmountType = "discount"
	ConsultationFee AmountType = "consultation_fee"
	Medicine        AmountType = "medicine"
	Test            AmountType = "test"
	Procedure       AmountType = "procedure"
	Other           AmountType = "other"
)

// AmountTypes lists every AmountType in taxonomy order
var AmountTypes = []AmountType{
	TotalBill, Paid, Due, Discount, ConsultationFee, Medicine, Test, Procedure, Other,
}

// Valid reports whether t is part of the closed taxonomy
func (t AmountType) Valid() bool {
	for _, known := range AmountTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Mode selects which variant of each stage runs
type Mode string

const (
	ModeFast       Mode = "fast"
	ModeAIEnhanced Mode = "aiEnhanced"
)

// ParseMode maps a query value to a Mode, defaulting to fast
func ParseMode(s string) Mode {
	if Mode(strings.TrimSpace(s)) == ModeAIEnhanced {
		return ModeAIEnhanced
	}
	return ModeFast
}

// Status is the terminal state of a full pipeline run
type Status string

const (
	StatusOK                          Status = "ok"
	StatusNoAmountsFound              Status = "no_amounts_found"
	StatusNoAmountsAfterNormalization Status = "no_amounts_found_after_normalization"
	StatusNeedsClarification          Status = "needs_clarification"
)

// Stage method names reported on results
const (
	MethodRegex = "regex"
	MethodRules = "rules"
	MethodAI    = "ai"
)

// DefaultCurrency is used when no currency could be inferred or was supplied
const DefaultCurrency = "INR"

var (
	// ErrEmptyText is returned when no text (or image) was supplied
	ErrEmptyText = errors.New("no text or image provided")
	// ErrNoTokens is returned when normalization is asked to run on nothing
	ErrNoTokens = errors.New("no tokens provided")
	// ErrNoAmounts is returned when classification or assembly is asked to run on nothing
	ErrNoAmounts = errors.New("no amounts provided")
	// ErrInvalidClassification is returned when a classifier produced malformed output
	ErrInvalidClassification = errors.New("classification returned invalid amounts")
	// ErrOCRUnavailable is returned when an image is supplied but no OCR engine is configured
	ErrOCRUnavailable = errors.New("ocr engine not configured")
)

// Extraction is the output of the token extractor
type Extraction struct {
	RawTokens    []string `json:"raw_tokens"`
	CurrencyHint string   `json:"currency_hint"`
	Confidence   float64  `json:"confidence"`
	Method       string   `json:"method"`
	Note         string   `json:"note"`
}

// Normalization is the output of the normalizer
type Normalization struct {
	NormalizedAmounts []float64 `json:"normalized_amounts"`
	Confidence        float64   `json:"normalization_confidence"`
	Method            string    `json:"method"`
	Note              string    `json:"note,omitempty"`
	ValidationNotes   string    `json:"validation_notes,omitempty"`
}

// ClassifiedAmount is an amount with its semantic role
type ClassifiedAmount struct {
	Type       AmountType `json:"type"`
	Value      float64    `json:"value"`
	Confidence float64    `json:"confidence"`
}

// Classification is the output of the classifier
type Classification struct {
	Amounts    []ClassifiedAmount `json:"amounts"`
	Confidence float64            `json:"confidence"`
	Method     string             `json:"method"`
	Note       string             `json:"note"`
}

// FinalAmount is an externally consumed amount record with synthesized provenance
type FinalAmount struct {
	Type   AmountType `json:"type"`
	Value  float64    `json:"value"`
	Source string     `json:"source"`
}

// Final is the output of the final assembler
type Final struct {
	Currency string        `json:"currency"`
	Amounts  []FinalAmount `json:"amounts"`
	Status   Status        `json:"status"`
}

// Validation is the advisory verdict on a complete run
type Validation struct {
	Valid          bool     `json:"valid"`
	Confidence     float64  `json:"confidence"`
	Issues         []string `json:"issues,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// round2 rounds half away from zero at two decimals using the shortest decimal
// representation of f, so 0.8624999999999999 stays 0.86
func round2(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}

// formatValue renders an amount the way it reads on a bill: no trailing zeros
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

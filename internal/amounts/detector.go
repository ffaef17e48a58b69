package amounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/amount-detector/internal/llm"
	"github.com/zombor/amount-detector/internal/observability"
)

const (
	// defaultAssistedConfidence is used when the assistant omits its own confidence
	defaultAssistedConfidence = 0.85
	// defaultAssistedAmountConfidence is used for assistant-classified amounts without a score
	defaultAssistedAmountConfidence = 0.7
)

// Recognizer turns an uploaded image into text
type Recognizer interface {
	// Recognize returns the recognized text and a confidence in [0,1]
	Recognize(ctx context.Context, data []byte, contentType string) (string, float64, error)
}

// Detector runs the amount pipeline stages. The assistant and recognizer are optional:
// without an assistant every stage runs its rule-based variant; without a recognizer
// only text input is accepted.
type Detector struct {
	assistant  llm.Client
	recognizer Recognizer
	// classify is the rule-based classifier every classification falls back to
	classify func(amounts []float64, text string) *Classification
}

// NewDetector creates a new Detector. Pass nil for collaborators that are not configured.
func NewDetector(assistant llm.Client, recognizer Recognizer) *Detector {
	return &Detector{
		assistant:  assistant,
		recognizer: recognizer,
		classify:   ClassifyRules,
	}
}

// Assisted reports whether an assistant is configured
func (d *Detector) Assisted() bool {
	return d.assistant != nil
}

// useAssistant reports whether the assisted variant of a stage should be attempted
func (d *Detector) useAssistant(mode Mode) bool {
	return mode == ModeAIEnhanced && d.assistant != nil
}

// fellBack logs and counts a degraded stage
func fellBack(ctx context.Context, stage string, err error) {
	observability.StageFallbacks.WithLabelValues(stage).Inc()
	loggerFrom(ctx).Warn("Assisted stage failed, using rule-based fallback", "stage", stage, "error", err)
}

// Recognize runs OCR over an uploaded image
func (d *Detector) Recognize(ctx context.Context, data []byte, contentType string) (string, float64, error) {
	if d.recognizer == nil {
		return "", 0, ErrOCRUnavailable
	}
	text, confidence, err := d.recognizer.Recognize(ctx, data, contentType)
	if err != nil {
		return "", 0, fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), confidence, nil
}

// Extract finds candidate amount tokens in text
func (d *Detector) Extract(ctx context.Context, text string, mode Mode) (*Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if d.useAssistant(mode) {
		res, err := d.extractAssisted(ctx, text)
		if err == nil {
			return res, nil
		}
		fellBack(ctx, "extract", err)
	}
	return ExtractTokens(text), nil
}

func (d *Detector) extractAssisted(ctx context.Context, text string) (*Extraction, error) {
	var reply struct {
		RawTokens    []any    `json:"raw_tokens"`
		CurrencyHint string   `json:"currency_hint"`
		Confidence   *float64 `json:"confidence"`
	}
	if err := llm.GenerateJSON(ctx, d.assistant, fmt.Sprintf(extractPrompt, text), extractionSchema, &reply); err != nil {
		return nil, fmt.Errorf("assisted extraction: %w", err)
	}

	tokens := make([]string, 0, len(reply.RawTokens))
	for _, raw := range reply.RawTokens {
		switch v := raw.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				tokens = append(tokens, s)
			}
		case float64:
			tokens = append(tokens, formatValue(v))
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(reply.CurrencyHint))
	if currency == "" {
		currency = DetectCurrency(text)
	}

	confidence := defaultAssistedConfidence
	if reply.Confidence != nil {
		confidence = *reply.Confidence
	}

	return &Extraction{
		RawTokens:    tokens,
		CurrencyHint: currency,
		Confidence:   round2(confidence),
		Method:       MethodAI,
		Note:         "AI-filtered monetary amounts",
	}, nil
}

// Normalize converts raw tokens into deduplicated amounts sorted largest first
func (d *Detector) Normalize(ctx context.Context, tokens []string, mode Mode) (*Normalization, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	baseline := NormalizeTokens(tokens)
	if d.useAssistant(mode) && len(baseline.NormalizedAmounts) > 0 {
		res, err := d.normalizeAssisted(ctx, tokens, baseline)
		if err == nil {
			return res, nil
		}
		fellBack(ctx, "normalize", err)
	}
	return baseline, nil
}

func (d *Detector) normalizeAssisted(ctx context.Context, tokens []string, baseline *Normalization) (*Normalization, error) {
	var reply struct {
		NormalizedAmounts []float64 `json:"normalized_amounts"`
		Confidence        *float64  `json:"normalization_confidence"`
		ValidationNotes   string    `json:"validation_notes"`
	}
	prompt := fmt.Sprintf(normalizePrompt, mustJSON(tokens), mustJSON(baseline.NormalizedAmounts))
	if err := llm.GenerateJSON(ctx, d.assistant, prompt, normalizationSchema, &reply); err != nil {
		return nil, fmt.Errorf("assisted normalization: %w", err)
	}

	values := make([]float64, 0, len(reply.NormalizedAmounts))
	for _, v := range reply.NormalizedAmounts {
		if inRange(v) {
			values = append(values, round2(v))
		}
	}
	amounts := uniqueDescending(values)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("assisted normalization: no amounts within range")
	}

	confidence := baseline.Confidence
	if reply.Confidence != nil {
		confidence = *reply.Confidence
	}

	return &Normalization{
		NormalizedAmounts: amounts,
		Confidence:        round2(confidence),
		Method:            MethodAI,
		Note:              fmt.Sprintf("Normalized %d amounts from %d tokens", len(amounts), len(tokens)),
		ValidationNotes:   reply.ValidationNotes,
	}, nil
}

// Classify assigns a semantic type to every amount. rawTokens is optional context for
// the assisted variant.
func (d *Detector) Classify(ctx context.Context, amounts []float64, text string, mode Mode, rawTokens []string) (*Classification, error) {
	if len(amounts) == 0 {
		return nil, ErrNoAmounts
	}

	var res *Classification
	if d.useAssistant(mode) {
		assisted, err := d.classifyAssisted(ctx, amounts, text, rawTokens)
		if err == nil {
			res = assisted
		} else {
			fellBack(ctx, "classify", err)
		}
	}
	if res == nil {
		res = d.classify(amounts, text)
	}

	if res == nil || res.Amounts == nil {
		return nil, ErrInvalidClassification
	}
	return res, nil
}

func (d *Detector) classifyAssisted(ctx context.Context, amounts []float64, text string, rawTokens []string) (*Classification, error) {
	var reply struct {
		Amounts []struct {
			Type       string   `json:"type"`
			Value      float64  `json:"value"`
			Confidence *float64 `json:"confidence"`
		} `json:"amounts"`
		Confidence *float64 `json:"confidence"`
	}
	if text == "" {
		text = "No text provided"
	}
	if rawTokens == nil {
		rawTokens = []string{}
	}
	prompt := fmt.Sprintf(classifyPrompt, text, mustJSON(rawTokens), mustJSON(amounts), taxonomyText())
	if err := llm.GenerateJSON(ctx, d.assistant, prompt, classificationSchema, &reply); err != nil {
		return nil, fmt.Errorf("assisted classification: %w", err)
	}
	if len(reply.Amounts) == 0 {
		return nil, fmt.Errorf("assisted classification: empty amounts")
	}

	classified := make([]ClassifiedAmount, 0, len(reply.Amounts))
	for _, a := range reply.Amounts {
		t := AmountType(strings.ToLower(strings.TrimSpace(a.Type)))
		if !t.Valid() {
			t = Other
		}
		confidence := defaultAssistedAmountConfidence
		if a.Confidence != nil {
			confidence = *a.Confidence
		}
		classified = append(classified, ClassifiedAmount{Type: t, Value: round2(a.Value), Confidence: confidence})
	}

	confidence := rulesConfidence
	if reply.Confidence != nil {
		confidence = *reply.Confidence
	}

	return &Classification{
		Amounts:    classified,
		Confidence: confidence,
		Method:     MethodAI,
		Note:       "Classified using AI bill analysis",
	}, nil
}

// Assemble produces the final labelled records
func (d *Detector) Assemble(amounts []ClassifiedAmount, currency string) (*Final, error) {
	if len(amounts) == 0 {
		return nil, ErrNoAmounts
	}
	return Assemble(amounts, currency), nil
}

const (
	// skippedValidationConfidence is reported when no assistant is available to validate
	skippedValidationConfidence = 0.85
	// failedValidationConfidence is reported when the assistant failed to validate
	failedValidationConfidence = 0.80
)

// validate asks the assistant to review a complete run. It never fails: a missing or
// failing assistant yields a passing verdict.
func (d *Detector) validate(ctx context.Context, text string, ext *Extraction, norm *Normalization, cls *Classification) Validation {
	if d.assistant == nil {
		return Validation{Valid: true, Confidence: skippedValidationConfidence}
	}

	var reply struct {
		Valid          bool     `json:"valid"`
		Confidence     *float64 `json:"confidence"`
		Issues         []string `json:"issues"`
		Recommendation string   `json:"recommendation"`
	}
	prompt := fmt.Sprintf(validatePrompt, text, mustJSON(ext.RawTokens), mustJSON(norm.NormalizedAmounts), mustJSON(cls.Amounts))
	if err := llm.GenerateJSON(ctx, d.assistant, prompt, validationSchema, &reply); err != nil {
		fellBack(ctx, "validate", err)
		return Validation{Valid: true, Confidence: failedValidationConfidence}
	}

	confidence := skippedValidationConfidence
	if reply.Confidence != nil {
		confidence = *reply.Confidence
	}
	return Validation{
		Valid:          reply.Valid,
		Confidence:     confidence,
		Issues:         reply.Issues,
		Recommendation: reply.Recommendation,
	}
}

type loggerKey struct{}

// withLogger attaches a request-scoped logger to ctx
func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// loggerFrom returns the request-scoped logger, or the default logger
func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

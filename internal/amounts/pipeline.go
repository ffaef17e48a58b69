package amounts

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zombor/amount-detector/internal/observability"
)

// Request is the input to a full pipeline run. Image takes precedence over Text.
type Request struct {
	Text        string
	Image       []byte
	ContentType string
	Mode        Mode
}

// OCRStep summarizes extraction in an ok run
type OCRStep struct {
	TokensFound int     `json:"tokens_found"`
	Confidence  float64 `json:"confidence"`
}

// NormalizationStep summarizes normalization in an ok run
type NormalizationStep struct {
	AmountsNormalized int     `json:"amounts_normalized"`
	Confidence        float64 `json:"confidence"`
}

// ClassificationStep summarizes classification in an ok run
type ClassificationStep struct {
	AmountsClassified int     `json:"amounts_classified"`
	Confidence        float64 `json:"confidence"`
}

// PipelineSteps summarizes every stage of an ok run
type PipelineSteps struct {
	OCR            OCRStep            `json:"ocr"`
	Normalization  NormalizationStep  `json:"normalization"`
	Classification ClassificationStep `json:"classification"`
	Validation     Validation         `json:"validation"`
}

// Result is the outcome of a full pipeline run. Which fields are set depends on Status.
type Result struct {
	Status   Status `json:"status"`
	ModeUsed Mode   `json:"mode_used"`

	// ok
	Currency           string         `json:"currency,omitempty"`
	Amounts            []FinalAmount  `json:"amounts,omitempty"`
	PipelineConfidence float64        `json:"pipeline_confidence,omitempty"`
	PipelineSteps      *PipelineSteps `json:"pipeline_steps,omitempty"`

	// no_amounts_found
	Text    string `json:"text,omitempty"`
	RawText string `json:"raw_text,omitempty"`

	// no_amounts_found_after_normalization
	RawTokens           []string       `json:"raw_tokens,omitempty"`
	NormalizationResult *Normalization `json:"normalization_result,omitempty"`

	// needs_clarification
	Reason            string      `json:"reason,omitempty"`
	Confidence        float64     `json:"confidence,omitempty"`
	ValidationDetails *Validation `json:"validation_details,omitempty"`
}

// Run executes OCR (for images), extraction, normalization, classification, optional
// validation and assembly for a single request
func (d *Detector) Run(ctx context.Context, req Request) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeFast
	}

	logger := slog.With("request_id", uuid.NewString(), "mode", mode)
	ctx = withLogger(ctx, logger)

	text := req.Text
	if len(req.Image) > 0 {
		recognized, confidence, err := d.Recognize(ctx, req.Image, req.ContentType)
		if err != nil {
			return nil, err
		}
		logger.Info("OCR complete", "text_len", len(recognized), "confidence", confidence)
		text = recognized
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	ext, err := d.Extract(ctx, text, mode)
	if err != nil {
		return nil, err
	}
	logger.Info("Extraction complete", "tokens", len(ext.RawTokens), "method", ext.Method)

	if len(ext.RawTokens) == 0 {
		return d.finish(mode, &Result{
			Status:  StatusNoAmountsFound,
			Text:    Preview(text, 200),
			RawText: text,
		}), nil
	}

	norm, err := d.Normalize(ctx, ext.RawTokens, mode)
	if err != nil {
		return nil, err
	}
	logger.Info("Normalization complete", "amounts", len(norm.NormalizedAmounts), "method", norm.Method)

	if len(norm.NormalizedAmounts) == 0 {
		return d.finish(mode, &Result{
			Status:              StatusNoAmountsAfterNormalization,
			RawTokens:           ext.RawTokens,
			NormalizationResult: norm,
		}), nil
	}

	cls, err := d.Classify(ctx, norm.NormalizedAmounts, text, mode, ext.RawTokens)
	if err != nil {
		return nil, err
	}
	logger.Info("Classification complete", "amounts", len(cls.Amounts), "method", cls.Method)

	validation := Validation{Valid: true, Confidence: skippedValidationConfidence}
	if mode == ModeAIEnhanced {
		validation = d.validate(ctx, text, ext, norm, cls)
	}

	if !validation.Valid || validation.Recommendation == string(StatusNeedsClarification) {
		reason := strings.Join(validation.Issues, ", ")
		if reason == "" {
			reason = "AI validation failed"
		}
		return d.finish(mode, &Result{
			Status:            StatusNeedsClarification,
			Reason:            reason,
			Confidence:        validation.Confidence,
			ValidationDetails: &validation,
		}), nil
	}

	final := Assemble(cls.Amounts, ext.CurrencyHint)
	return d.finish(mode, &Result{
		Status:             final.Status,
		Currency:           final.Currency,
		Amounts:            final.Amounts,
		PipelineConfidence: validation.Confidence,
		PipelineSteps: &PipelineSteps{
			OCR:            OCRStep{TokensFound: len(ext.RawTokens), Confidence: ext.Confidence},
			Normalization:  NormalizationStep{AmountsNormalized: len(norm.NormalizedAmounts), Confidence: norm.Confidence},
			Classification: ClassificationStep{AmountsClassified: len(cls.Amounts), Confidence: cls.Confidence},
			Validation:     validation,
		},
	}), nil
}

// finish stamps the mode and records the outcome
func (d *Detector) finish(mode Mode, res *Result) *Result {
	res.ModeUsed = mode
	observability.PipelineOutcomes.WithLabelValues(string(res.Status), string(mode)).Inc()
	return res
}

// Preview truncates text to n bytes, marking the cut with an ellipsis
func Preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	// Back off to a rune boundary
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n] + "..."
}


// Package tesseract recognizes text in prepared bill images with the Tesseract library.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/amount-detector/internal/ocr"
)

// DefaultLanguage is the Tesseract language used when none is configured
const DefaultLanguage = "eng"

// Client is an ocr.Engine backed by Tesseract
type Client struct {
	language string
}

var _ ocr.Engine = (*Client)(nil)

// New creates a new Client for the given language
func New(language string) *Client {
	if language == "" {
		language = DefaultLanguage
	}
	return &Client{language: language}
}

// Recognize prepares the image and runs Tesseract over it.
// A gosseract client is not safe for concurrent use, so each call gets its own.
func (c *Client) Recognize(ctx context.Context, data []byte, contentType string) (string, float64, error) {
	start := time.Now()

	prepared, err := ocr.PrepareImage(data, contentType)
	if err != nil {
		return "", 0, err
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(c.language); err != nil {
		return "", 0, fmt.Errorf("setting language %q: %w", c.language, err)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return "", 0, fmt.Errorf("loading image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognizing text: %w", err)
	}

	confidence := 0.0
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		slog.Warn("Could not read word confidences", "error", err)
	} else {
		confidence = meanConfidence(boxes)
	}

	slog.Info("OCR finished",
		"language", c.language,
		"content_type", contentType,
		"text_len", len(text),
		"confidence", confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, confidence, nil
}

// Close releases resources held by the engine
func (c *Client) Close() error {
	return nil
}

// meanConfidence averages Tesseract word confidences (0-100) into [0,1]
func meanConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100
}

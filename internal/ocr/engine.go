// Package ocr prepares uploaded bills for text recognition.
package ocr

import "context"

// Engine turns an uploaded image into text
type Engine interface {
	// Recognize returns the text in data and the mean word confidence in [0,1]
	Recognize(ctx context.Context, data []byte, contentType string) (string, float64, error)
	// Close releases resources held by the engine
	Close() error
}

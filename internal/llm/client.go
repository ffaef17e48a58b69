package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when an assistant is requested but no credentials were supplied
var ErrNotConfigured = errors.New("assistant not configured")

// Client defines the interface for text-understanding model calls
type Client interface {
	// Generate sends a prompt and returns the raw text of the model's reply
	Generate(ctx context.Context, prompt string) (string, error)
	// Model returns the model name used for generation
	Model() string
	// Close closes the client and releases resources
	Close() error
}

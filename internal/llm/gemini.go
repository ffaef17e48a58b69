package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini implements the Client interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini Client instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required: %w", ErrNotConfigured)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Deterministic answers are preferred for extraction work
	model.SetTemperature(0)

	return &Gemini{
		client:    client,
		model:     model,
		modelName: modelName,
		timeout:   30 * time.Second,
	}, nil
}

// Generate sends the prompt to Gemini and concatenates the text parts of the first candidate
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	slog.Debug("Gemini call complete",
		"model", g.modelName,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"response_len", responseText.Len(),
	)

	return responseText.String(), nil
}

// Model returns the configured model name
func (g *Gemini) Model() string {
	return g.modelName
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSON is returned when a model reply contains no JSON object
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSONObject pulls the outermost JSON object out of a model reply,
// tolerating markdown code fences and chatter around it
func ExtractJSONObject(text string) ([]byte, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, ErrNoJSON
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response: %w", ErrNoJSON)
	}

	return []byte(text[startIdx : endIdx+1]), nil
}

// Validate checks a JSON document against a JSON-Schema given as a generic map
func Validate(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// GenerateJSON runs a prompt through the client and decodes the reply into out.
// The reply must contain a JSON object matching schema (when schema is non-nil).
func GenerateJSON(ctx context.Context, client Client, prompt string, schema map[string]any, out any) error {
	if client == nil {
		return ErrNotConfigured
	}

	text, err := client.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	raw, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}

	if schema != nil {
		if err := Validate(schema, raw); err != nil {
			return err
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	return nil
}

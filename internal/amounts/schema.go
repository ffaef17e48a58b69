package amounts

// JSON-Schemas for assistant replies. Each enhanced stage validates the reply before use.

var extractionSchema = map[string]any{
	"type":     "object",
	"required": []string{"raw_tokens"},
	"properties": map[string]any{
		"raw_tokens": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": []string{"string", "number"}},
		},
		"currency_hint": map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
}

var normalizationSchema = map[string]any{
	"type":     "object",
	"required": []string{"normalized_amounts"},
	"properties": map[string]any{
		"normalized_amounts": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "number"},
		},
		"normalization_confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"validation_notes":         map[string]any{"type": "string"},
	},
}

var classificationSchema = map[string]any{
	"type":     "object",
	"required": []string{"amounts"},
	"properties": map[string]any{
		"amounts": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []string{"value"},
				"properties": map[string]any{
					"type":       map[string]any{"type": "string"},
					"value":      map[string]any{"type": "number"},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
}

var validationSchema = map[string]any{
	"type":     "object",
	"required": []string{"valid"},
	"properties": map[string]any{
		"valid":      map[string]any{"type": "boolean"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"issues": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"recommendation": map[string]any{"type": "string"},
	},
}

// internal/pipeline/model-invoke/parse.go
package modelinvoke

import (
	"encoding/json"
	"strings"

	"github.com/mygads/govconnect-sub008/internal/models"
)

type modelEnvelope struct {
	Response     string            `json:"response"`
	GuidanceText string            `json:"guidanceText"`
	Intent       string            `json:"intent"`
	Fields       map[string]string `json:"fields"`
	Contacts     []models.Contact  `json:"contacts"`
	Confidence   float64           `json:"confidence"`
	Sentiment    string            `json:"sentiment"`
	Language     string            `json:"language"`
}

// parseModelOutput extracts the structured envelope from raw model text.
// Models occasionally wrap the JSON in markdown fences or prose; when no
// parsable object is found the whole text becomes the response with
// conservative defaults.
func parseModelOutput(raw string) *models.GenerationResult {
	candidate := extractJSON(raw)

	var envelope modelEnvelope
	if candidate != "" {
		if err := json.Unmarshal([]byte(candidate), &envelope); err == nil && envelope.Response != "" {
			return &models.GenerationResult{
				Response:     envelope.Response,
				GuidanceText: envelope.GuidanceText,
				Intent:       defaultString(envelope.Intent, "general"),
				Fields:       envelope.Fields,
				Contacts:     envelope.Contacts,
				Confidence:   envelope.Confidence,
				Sentiment:    defaultString(envelope.Sentiment, "neutral"),
				Language:     defaultString(envelope.Language, "id"),
			}
		}
	}

	return &models.GenerationResult{
		Response:   strings.TrimSpace(raw),
		Intent:     "general",
		Confidence: 0.3,
		Sentiment:  "neutral",
		Language:   "id",
	}
}

// extractJSON returns the first balanced top-level JSON object in the text.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
)

// inboundMessageSchema validates the normalized ProcessMessageInput payload
// delivered by channel adapters before the pipeline touches it.
var inboundMessageSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"userId":    map[string]interface{}{"type": "string", "minLength": 1},
		"villageId": map[string]interface{}{"type": "string"},
		"message":   map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 4096},
		"channel": map[string]interface{}{
			"type": "string",
			"enum": []string{"whatsapp", "webchat", "other"},
		},
		"conversationHistory": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"role":    map[string]interface{}{"type": "string", "enum": []string{"user", "assistant"}},
					"content": map[string]interface{}{"type": "string"},
				},
				"required": []string{"role", "content"},
			},
		},
		"mediaUrl":        map[string]interface{}{"type": "string"},
		"mediaType":       map[string]interface{}{"type": "string"},
		"modelPreference": map[string]interface{}{"type": "string"},
		"isEvaluation":    map[string]interface{}{"type": "boolean"},
	},
	"required": []string{"userId", "message", "channel"},
}

// ValidateInboundMessage checks an inbound payload against the message schema.
func ValidateInboundMessage(payload map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(inboundMessageSchema)
	documentLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return commonerrors.NewInvalidInputError(strings.Join(errs, "; "))
	}

	return nil
}


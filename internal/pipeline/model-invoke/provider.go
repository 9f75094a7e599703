// internal/pipeline/model-invoke/provider.go
package modelinvoke

import (
	"context"

	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// GenerationRequest carries everything a provider needs to produce one
// assistant turn.
type GenerationRequest struct {
	TenantID  string
	Message   string
	History   []models.ConversationTurn
	Knowledge []models.RetrievalResult
	// KnowledgeDegraded tells the prompt that retrieval was unavailable, not
	// merely empty.
	KnowledgeDegraded bool
	// ModelPreference names a provider or model the caller wants first.
	// Unknown values fall back to the configured order.
	ModelPreference string
	// TraceID carries the pipeline's correlation id into the result.
	TraceID string
}

// Provider generates one structured assistant turn. Implementations wrap a
// concrete model API and translate its failures into the shared error
// vocabulary.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req *GenerationRequest) (*models.GenerationResult, error)
}

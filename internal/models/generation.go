package models

// Source types served by the knowledge search backend.
const (
	SourceTypeKnowledge = "knowledge"
	SourceTypeDocument  = "document"
)

// RetrievalRequest is the contract against the external vector-search service.
type RetrievalRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"topK"`
	MinScore    float64  `json:"minScore"`
	Categories  []string `json:"categories,omitempty"`
	SourceTypes []string `json:"sourceTypes"`
	TenantID    string   `json:"tenantId"`
	TrackUsage  bool     `json:"trackUsage"`
}

// RetrievalResult is one scored knowledge snippet.
type RetrievalResult struct {
	SourceID   string  `json:"sourceId"`
	SourceType string  `json:"sourceType"`
	Score      float64 `json:"score"`
	Category   string  `json:"category,omitempty"`
	Snippet    string  `json:"snippet"`
}

// RetrievalResponse is the full answer from the knowledge backend. Degraded is
// set when the upstream failed and the result set was substituted with an
// empty one.
type RetrievalResponse struct {
	Results      []RetrievalResult `json:"results"`
	Total        int               `json:"total"`
	SearchTimeMs int64             `json:"searchTimeMs"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// TopScore returns the highest result score, or 0 when empty.
func (r *RetrievalResponse) TopScore() float64 {
	var top float64
	for _, res := range r.Results {
		if res.Score > top {
			top = res.Score
		}
	}
	return top
}

// GenerationResult is the structured output of one model invocation. One per
// processed message; persisted for analytics unless the message was an
// evaluation replay.
type GenerationResult struct {
	Response     string            `json:"response"`
	GuidanceText string            `json:"guidanceText,omitempty"`
	Intent       string            `json:"intent"`
	Fields       map[string]string `json:"fields,omitempty"`
	Contacts     []Contact         `json:"contacts,omitempty"`
	Confidence   float64           `json:"confidence"`
	Sentiment    string            `json:"sentiment,omitempty"`
	Language     string            `json:"language,omitempty"`
	Model        string            `json:"model"`
	InputTokens  int64             `json:"inputTokens"`
	OutputTokens int64             `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`
	LatencyMs    int64             `json:"latencyMs"`
	TraceID      string            `json:"traceId"`
}

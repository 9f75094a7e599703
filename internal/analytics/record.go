// internal/analytics/record.go
package analytics

import "time"

// Record is one processed-message analytics row. Evaluation replays never
// produce records.
type Record struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	SenderID       string    `json:"senderId"`
	Channel        string    `json:"channel"`
	Intent         string    `json:"intent,omitempty"`
	Status         string    `json:"status"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	Model          string    `json:"model,omitempty"`
	InputTokens    int64     `json:"inputTokens"`
	OutputTokens   int64     `json:"outputTokens"`
	CostUSD        float64   `json:"costUsd"`
	LatencyMs      int64     `json:"latencyMs"`
	KnowledgeUsed  bool      `json:"knowledgeUsed"`
	KnowledgeScore float64   `json:"knowledgeScore,omitempty"`
	Degraded       bool      `json:"degraded"`
	Sentiment      string    `json:"sentiment,omitempty"`
	Language       string    `json:"language,omitempty"`
	TraceID        string    `json:"traceId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Statuses recorded per message.
const (
	StatusAnswered    = "answered"
	StatusRejected    = "rejected"
	StatusSuperseded  = "superseded"
	StatusBlacklisted = "blacklisted"
	StatusTakeover    = "takeover"
	StatusFailed      = "failed"
)

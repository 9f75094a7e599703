package models

import (
	"context"
	"time"
)

// GoldenSetItem is one scored corpus item inside a run. Item results are
// immutable once the run completes.
type GoldenSetItem struct {
	ID               string   `json:"id"`
	Query            string   `json:"query"`
	ExpectedIntent   string   `json:"expectedIntent"`
	ExpectedKeywords []string `json:"expectedKeywords,omitempty"`
	PredictedIntent  string   `json:"predictedIntent"`
	Response         string   `json:"response,omitempty"`
	IntentMatch      bool     `json:"intentMatch"`
	// KeywordMatch is the fraction of expected keywords found in the response.
	KeywordMatch float64 `json:"keywordMatch"`
	Score        float64 `json:"score"`
	LatencyMs    int64   `json:"latencyMs"`
	Error        string  `json:"error,omitempty"`
}

// GoldenSetRun is an append-only historical record aggregating one evaluation
// pass over the corpus.
type GoldenSetRun struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     time.Time       `json:"completedAt"`
	Model           string          `json:"model,omitempty"`
	ItemCount       int             `json:"itemCount"`
	IntentAccuracy  float64         `json:"intentAccuracy"`
	KeywordAccuracy float64         `json:"keywordAccuracy"`
	OverallAccuracy float64         `json:"overallAccuracy"`
	Passed          bool            `json:"passed"`
	Items           []GoldenSetItem `json:"items,omitempty"`
}

// GoldenSetStore persists runs as append-only history.
type GoldenSetStore interface {
	SaveRun(ctx context.Context, run *GoldenSetRun) error
	ListRuns(ctx context.Context, limit int) ([]*GoldenSetRun, error)
	GetRun(ctx context.Context, id string) (*GoldenSetRun, error)
}

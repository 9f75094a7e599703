// internal/pipeline/knowledge-retrieval/client.go
package knowledgeretrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Client talks to the knowledge search service over HTTP. The service owns
// the vector index; this client only shapes requests and handles transport
// failures.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	logger     Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
		logger:     logger,
	}
}

type searchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"topK"`
	MinScore    float64  `json:"minScore"`
	Categories  []string `json:"categories,omitempty"`
	SourceTypes []string `json:"sourceTypes,omitempty"`
	TenantID    string   `json:"tenantId"`
	TrackUsage  bool     `json:"trackUsage"`
}

type searchResponse struct {
	Results []struct {
		SourceID   string  `json:"sourceId"`
		SourceType string  `json:"sourceType"`
		Score      float64 `json:"score"`
		Category   string  `json:"category"`
		Snippet    string  `json:"snippet"`
	} `json:"results"`
	Total        int   `json:"total"`
	SearchTimeMs int64 `json:"searchTimeMs"`
}

// Search queries the knowledge service. Transient failures are retried with
// exponential backoff before the caller sees an error.
func (c *Client) Search(ctx context.Context, req *models.RetrievalRequest) (*models.RetrievalResponse, error) {
	payload, err := json.Marshal(searchRequest{
		Query:       req.Query,
		TopK:        req.TopK,
		MinScore:    req.MinScore,
		Categories:  req.Categories,
		SourceTypes: req.SourceTypes,
		TenantID:    req.TenantID,
		TrackUsage:  req.TrackUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("search request marshal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(100*(1<<(attempt-2))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.doSearch(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("Knowledge search attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	return nil, commonerrors.NewKnowledgeUnavailableError(lastErr)
}

func (c *Client) doSearch(ctx context.Context, payload []byte) (*models.RetrievalResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search request build: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("search response read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("search response unmarshal: %w", err)
	}

	out := &models.RetrievalResponse{
		Total:        parsed.Total,
		SearchTimeMs: parsed.SearchTimeMs,
		Results:      make([]models.RetrievalResult, 0, len(parsed.Results)),
	}
	for _, r := range parsed.Results {
		out.Results = append(out.Results, models.RetrievalResult{
			SourceID:   r.SourceID,
			SourceType: r.SourceType,
			Score:      r.Score,
			Category:   r.Category,
			Snippet:    r.Snippet,
		})
	}
	return out, nil
}

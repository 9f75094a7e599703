// internal/pipeline/model-invoke/http_provider.go
package modelinvoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// HTTPProvider talks to a GenAI gateway exposing a simple chat completion
// endpoint. Used for models fronted by the platform's own gateway.
type HTTPProvider struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      Logger
}

func NewHTTPProvider(name string, cfg config.ProviderConfig, logger Logger) *HTTPProvider {
	return &HTTPProvider{
		name:        name,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: config.GetDuration(cfg.Timeout)},
		logger:      logger,
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Model() string { return p.model }

type generateRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"maxTokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateResponse struct {
	Content string `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) Generate(ctx context.Context, req *GenerationRequest) (*models.GenerationResult, error) {
	messages := make([]chatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Message})

	payload, err := json.Marshal(generateRequest{
		Model:       p.model,
		System:      BuildPrompt(req),
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate request marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("generate request build: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, commonerrors.NewUpstreamTimeoutError(p.name)
		}
		return nil, commonerrors.NewModelUnavailableError(fmt.Errorf("%s: %w", p.name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("generate response read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, commonerrors.NewModelUnavailableError(
			fmt.Errorf("%s gateway returned %d: %s", p.name, resp.StatusCode, string(body)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("generate response unmarshal: %w", err)
	}

	result := parseModelOutput(parsed.Content)
	result.Model = p.model
	result.InputTokens = parsed.Usage.InputTokens
	result.OutputTokens = parsed.Usage.OutputTokens
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

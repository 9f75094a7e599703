// internal/pipeline/model-invoke/anthropic.go
package modelinvoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// AnthropicProvider generates turns through the Anthropic Messages API.
type AnthropicProvider struct {
	name        string
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	logger      Logger
}

func NewAnthropicProvider(name string, cfg config.ProviderConfig, logger Logger) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		name:        name,
		client:      sdk.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		timeout:     config.GetDuration(cfg.Timeout),
		logger:      logger,
	}
}

func (p *AnthropicProvider) Name() string  { return p.name }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) Generate(ctx context.Context, req *GenerationRequest) (*models.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		block := sdk.NewTextBlock(turn.Content)
		if turn.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, sdk.NewUserMessage(block))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Message)))

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   p.maxTokens,
		System:      []sdk.TextBlockParam{{Text: BuildPrompt(req)}},
		Messages:    messages,
		Temperature: sdk.Float(p.temperature),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, commonerrors.NewUpstreamTimeoutError(p.name)
		}
		return nil, commonerrors.NewModelUnavailableError(fmt.Errorf("%s: %w", p.name, err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result := parseModelOutput(text.String())
	result.Model = p.model
	result.InputTokens = msg.Usage.InputTokens
	result.OutputTokens = msg.Usage.OutputTokens
	result.CostUSD = estimateCost(p.model, msg.Usage.InputTokens, msg.Usage.OutputTokens)
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// estimateCost computes the USD cost of one call, 0 for unknown models.
func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*pricing[0] + (float64(outputTokens)/1e6)*pricing[1]
}

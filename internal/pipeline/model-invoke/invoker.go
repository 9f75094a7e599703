// internal/pipeline/model-invoke/invoker.go
package modelinvoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// limitedProvider pairs a provider with its request budget and retry policy.
type limitedProvider struct {
	provider   Provider
	limiter    *rate.Limiter
	maxRetries int
}

// Invoker runs a generation against the primary provider and falls back to
// the secondary one when the primary is exhausted. Every result carries a
// trace id so a reply can be tied back to its invocation.
type Invoker struct {
	primary  *limitedProvider
	fallback *limitedProvider
	logger   Logger
}

// NewProvider builds the provider matching the configured kind.
func NewProvider(name string, cfg config.ProviderConfig, logger Logger) (Provider, error) {
	switch cfg.Kind {
	case "anthropic":
		return NewAnthropicProvider(name, cfg, logger), nil
	case "genai_http":
		return NewHTTPProvider(name, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func NewInvoker(primary, fallback Provider, primaryCfg, fallbackCfg config.ProviderConfig, logger Logger) *Invoker {
	inv := &Invoker{
		primary: wrapProvider(primary, primaryCfg),
		logger:  logger,
	}
	if fallback != nil {
		inv.fallback = wrapProvider(fallback, fallbackCfg)
	}
	return inv
}

func wrapProvider(p Provider, cfg config.ProviderConfig) *limitedProvider {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &limitedProvider{
		provider:   p,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		maxRetries: cfg.MaxRetries,
	}
}

// Invoke generates one assistant turn. The first provider gets its retry
// budget first; only ModelUnavailable and timeout failures move the request
// to the second one.
func (inv *Invoker) Invoke(ctx context.Context, req *GenerationRequest) (*models.GenerationResult, error) {
	first, second := inv.ordered(req.ModelPreference)

	result, firstErr := inv.tryProvider(ctx, first, req)
	if firstErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if second == nil {
		return nil, firstErr
	}

	inv.logger.Warn("Model exhausted, switching providers", map[string]interface{}{
		"from":  first.provider.Name(),
		"to":    second.provider.Name(),
		"error": firstErr.Error(),
	})
	metrics.ModelInvocations.WithLabelValues(first.provider.Name(), "failed_over").Inc()

	result, secondErr := inv.tryProvider(ctx, second, req)
	if secondErr != nil {
		return nil, commonerrors.NewModelUnavailableError(
			fmt.Errorf("%s: %v; %s: %v", first.provider.Name(), firstErr, second.provider.Name(), secondErr))
	}
	return result, nil
}

// ordered honors a caller's model preference when it names the fallback
// provider or its model; otherwise the configured order stands.
func (inv *Invoker) ordered(preference string) (*limitedProvider, *limitedProvider) {
	if preference == "" || inv.fallback == nil {
		return inv.primary, inv.fallback
	}
	fb := inv.fallback.provider
	if preference == fb.Name() || preference == fb.Model() {
		return inv.fallback, inv.primary
	}
	return inv.primary, inv.fallback
}

func (inv *Invoker) tryProvider(ctx context.Context, lp *limitedProvider, req *GenerationRequest) (*models.GenerationResult, error) {
	name := lp.provider.Name()

	var lastErr error
	for attempt := 1; attempt <= lp.maxRetries+1; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(100*(1<<(attempt-2))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := lp.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := lp.provider.Generate(ctx, req)
		if err == nil {
			// One trace id spans the whole pipeline; mint one only for
			// direct invocations that carry none.
			result.TraceID = req.TraceID
			if result.TraceID == "" {
				result.TraceID = uuid.New().String()
			}
			metrics.ModelInvocations.WithLabelValues(name, "success").Inc()
			metrics.ModelTokens.WithLabelValues(name, "input").Add(float64(result.InputTokens))
			metrics.ModelTokens.WithLabelValues(name, "output").Add(float64(result.OutputTokens))
			return result, nil
		}

		lastErr = err
		metrics.ModelInvocations.WithLabelValues(name, "error").Inc()
		inv.logger.Warn("Model invocation attempt failed", map[string]interface{}{
			"provider": name,
			"attempt":  attempt,
			"error":    err.Error(),
		})

		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// retryable keeps timeouts and availability failures in the retry loop;
// anything else (bad request shape, parse failures) aborts immediately.
func retryable(err error) bool {
	var stdErr *commonerrors.StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

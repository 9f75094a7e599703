// internal/pipeline/model-invoke/invoker_test.go
package modelinvoke

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/models"
)

type fakeProvider struct {
	name  string
	model string
	calls atomic.Int64
	fn    func() (*models.GenerationResult, error)
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Model() string {
	if f.model != "" {
		return f.model
	}
	return "fake-model"
}
func (f *fakeProvider) Generate(ctx context.Context, req *GenerationRequest) (*models.GenerationResult, error) {
	f.calls.Add(1)
	return f.fn()
}

func okResult() (*models.GenerationResult, error) {
	return &models.GenerationResult{
		Response:     "Syarat pembuatan KTP adalah KK dan surat pengantar RT.",
		Intent:       "ktp_requirements",
		Confidence:   0.9,
		Model:        "fake-model",
		InputTokens:  120,
		OutputTokens: 60,
	}, nil
}

func providerCfg(retries int) config.ProviderConfig {
	return config.ProviderConfig{RequestsPerMinute: 600, MaxRetries: retries}
}

func TestInvoke_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: okResult}
	fallback := &fakeProvider{name: "fallback", fn: okResult}
	inv := NewInvoker(primary, fallback, providerCfg(2), providerCfg(0), logger.NewTestLogger(t))

	result, err := inv.Invoke(context.Background(), &GenerationRequest{Message: "syarat buat ktp"})
	require.NoError(t, err)
	assert.Equal(t, "ktp_requirements", result.Intent)
	assert.NotEmpty(t, result.TraceID)
	assert.Equal(t, int64(1), primary.calls.Load())
	assert.Equal(t, int64(0), fallback.calls.Load())
}

func TestInvoke_FallsBackWhenPrimaryExhausted(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func() (*models.GenerationResult, error) {
		return nil, commonerrors.NewModelUnavailableError(errors.New("overloaded"))
	}}
	fallback := &fakeProvider{name: "fallback", fn: okResult}
	inv := NewInvoker(primary, fallback, providerCfg(1), providerCfg(0), logger.NewTestLogger(t))

	result, err := inv.Invoke(context.Background(), &GenerationRequest{Message: "syarat buat ktp"})
	require.NoError(t, err)
	assert.Equal(t, "ktp_requirements", result.Intent)
	assert.Equal(t, int64(2), primary.calls.Load(), "primary gets its full retry budget first")
	assert.Equal(t, int64(1), fallback.calls.Load())
}

func TestInvoke_BothProvidersFail(t *testing.T) {
	down := func() (*models.GenerationResult, error) {
		return nil, commonerrors.NewModelUnavailableError(errors.New("down"))
	}
	primary := &fakeProvider{name: "primary", fn: down}
	fallback := &fakeProvider{name: "fallback", fn: down}
	inv := NewInvoker(primary, fallback, providerCfg(0), providerCfg(0), logger.NewTestLogger(t))

	_, err := inv.Invoke(context.Background(), &GenerationRequest{Message: "halo"})
	require.Error(t, err)

	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodeModelUnavailable, stdErr.Code)
}

func TestInvoke_NonRetryableAbortsRetries(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func() (*models.GenerationResult, error) {
		return nil, errors.New("request rejected")
	}}
	inv := NewInvoker(primary, nil, providerCfg(3), config.ProviderConfig{}, logger.NewTestLogger(t))

	_, err := inv.Invoke(context.Background(), &GenerationRequest{Message: "halo"})
	require.Error(t, err)
	assert.Equal(t, int64(1), primary.calls.Load())
}

func TestInvoke_NoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func() (*models.GenerationResult, error) {
		return nil, commonerrors.NewModelUnavailableError(errors.New("down"))
	}}
	inv := NewInvoker(primary, nil, providerCfg(0), config.ProviderConfig{}, logger.NewTestLogger(t))

	_, err := inv.Invoke(context.Background(), &GenerationRequest{Message: "halo"})
	require.Error(t, err)

	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodeModelUnavailable, stdErr.Code)
}

func TestInvoke_PreferenceRoutesToFallbackFirst(t *testing.T) {
	primary := &fakeProvider{name: "primary", model: "gemini-2.0-flash", fn: okResult}
	fallback := &fakeProvider{name: "fallback", model: "claude-haiku-4-5", fn: okResult}
	inv := NewInvoker(primary, fallback, providerCfg(0), providerCfg(0), logger.NewTestLogger(t))

	_, err := inv.Invoke(context.Background(), &GenerationRequest{
		Message:         "syarat buat ktp",
		ModelPreference: "claude-haiku-4-5",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), primary.calls.Load())
	assert.Equal(t, int64(1), fallback.calls.Load())
}

func TestInvoke_UnknownPreferenceKeepsConfiguredOrder(t *testing.T) {
	primary := &fakeProvider{name: "primary", model: "gemini-2.0-flash", fn: okResult}
	fallback := &fakeProvider{name: "fallback", model: "claude-haiku-4-5", fn: okResult}
	inv := NewInvoker(primary, fallback, providerCfg(0), providerCfg(0), logger.NewTestLogger(t))

	_, err := inv.Invoke(context.Background(), &GenerationRequest{
		Message:         "syarat buat ktp",
		ModelPreference: "gpt-oss",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), primary.calls.Load())
	assert.Equal(t, int64(0), fallback.calls.Load())
}

func TestInvoke_KeepsCallerTraceID(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: okResult}
	inv := NewInvoker(primary, nil, providerCfg(0), config.ProviderConfig{}, logger.NewTestLogger(t))

	result, err := inv.Invoke(context.Background(), &GenerationRequest{
		Message: "syarat buat ktp",
		TraceID: "trace-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "trace-123", result.TraceID)
}

func TestNewProvider_UnknownKind(t *testing.T) {
	_, err := NewProvider("primary", config.ProviderConfig{Kind: "mystery"}, logger.NewTestLogger(t))
	assert.Error(t, err)
}

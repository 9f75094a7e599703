// internal/pipeline/model-invoke/http_provider_test.go
package modelinvoke

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/models"
)

func gatewayCfg(url string, timeoutMs int) config.ProviderConfig {
	return config.ProviderConfig{
		Kind:        "genai_http",
		BaseURL:     url,
		APIKey:      "gw-key",
		Model:       "gemma-3-27b",
		MaxTokens:   1024,
		Temperature: 0.4,
		Timeout:     timeoutMs,
	}
}

func TestHTTPProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer gw-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemma-3-27b", req["model"])
		assert.Contains(t, req["system"], "PENGETAHUAN")

		messages := req["messages"].([]interface{})
		require.Len(t, messages, 3, "history plus current message")

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": `{"response":"Jam layanan 08.00-15.00.","intent":"office_hours","confidence":0.85}`,
			"usage":   map[string]int64{"inputTokens": 200, "outputTokens": 40},
		})
	}))
	t.Cleanup(server.Close)

	provider := NewHTTPProvider("primary", gatewayCfg(server.URL, 2000), logger.NewTestLogger(t))
	result, err := provider.Generate(context.Background(), &GenerationRequest{
		Message: "jam buka kantor desa?",
		History: []models.ConversationTurn{
			{Role: "user", Content: "halo"},
			{Role: "assistant", Content: "Halo, ada yang bisa dibantu?"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "office_hours", result.Intent)
	assert.Equal(t, "gemma-3-27b", result.Model)
	assert.Equal(t, int64(200), result.InputTokens)
	assert.Equal(t, int64(40), result.OutputTokens)
}

func TestHTTPProvider_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	provider := NewHTTPProvider("primary", gatewayCfg(server.URL, 2000), logger.NewTestLogger(t))
	_, err := provider.Generate(context.Background(), &GenerationRequest{Message: "halo"})

	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodeModelUnavailable, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestHTTPProvider_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	provider := NewHTTPProvider("primary", gatewayCfg(server.URL, 50), logger.NewTestLogger(t))
	_, err := provider.Generate(context.Background(), &GenerationRequest{Message: "halo"})

	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodeUpstreamTimeout, stdErr.Code)
}

func TestEstimateCost(t *testing.T) {
	cost := estimateCost("claude-haiku-4-5-20251001", 1_000_000, 500_000)
	assert.InDelta(t, 0.80+2.00, cost, 1e-9)
	assert.Zero(t, estimateCost("unknown-model", 1000, 1000))
}

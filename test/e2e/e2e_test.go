// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygads/govconnect-sub008/internal/admin"
	"github.com/mygads/govconnect-sub008/internal/common/config"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/ingest"
	"github.com/mygads/govconnect-sub008/internal/models"
	goldenset "github.com/mygads/govconnect-sub008/internal/pipeline/golden-set"
	knowledgeretrieval "github.com/mygads/govconnect-sub008/internal/pipeline/knowledge-retrieval"
	modelinvoke "github.com/mygads/govconnect-sub008/internal/pipeline/model-invoke"
	"github.com/mygads/govconnect-sub008/internal/pipeline/orchestrator"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
	responseformat "github.com/mygads/govconnect-sub008/internal/pipeline/response-format"
	"github.com/mygads/govconnect-sub008/internal/pipeline/takeover"
	"github.com/mygads/govconnect-sub008/pkg/registry"
)

// fakeSearchHandler mimics the knowledge search service.
func fakeSearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		results := []map[string]interface{}{}
		if strings.Contains(strings.ToLower(req.Query), "ktp") {
			results = append(results, map[string]interface{}{
				"sourceId":   "kb-ktp-1",
				"sourceType": "knowledge",
				"score":      0.91,
				"category":   "kependudukan",
				"snippet":    "Syarat KTP baru: fotokopi Kartu Keluarga, usia 17 tahun, datang ke kantor desa.",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results":      results,
			"total":        len(results),
			"searchTimeMs": 4,
		})
	}
}

// fakeGatewayHandler mimics the GenAI gateway, answering with the JSON
// envelope the parser expects, routed on the user's last message.
func fakeGatewayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		message := ""
		if len(req.Messages) > 0 {
			message = strings.ToLower(req.Messages[len(req.Messages)-1].Content)
		}

		envelope := map[string]interface{}{
			"response":   "Maaf, saya belum menemukan jawaban untuk pertanyaan itu.",
			"intent":     "general",
			"confidence": 0.4,
			"sentiment":  "neutral",
			"language":   "id",
		}
		switch {
		case strings.Contains(message, "ktp"):
			envelope["response"] = "Syarat membuat KTP baru: fotokopi Kartu Keluarga dan usia minimal 17 tahun."
			envelope["guidanceText"] = "Datang ke kantor desa membawa fotokopi KK."
			envelope["intent"] = "ktp_requirements"
			envelope["confidence"] = 0.92
		case strings.Contains(message, "jam"):
			envelope["response"] = "Kantor desa buka Senin sampai Jumat pukul 08.00-15.00."
			envelope["intent"] = "service_hours"
			envelope["confidence"] = 0.9
		}

		content, _ := json.Marshal(envelope)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": string(content),
			"usage":   map[string]int64{"inputTokens": 120, "outputTokens": 60},
		})
	}
}

// memRunStore keeps golden-set runs in memory.
type memRunStore struct {
	mu   sync.Mutex
	runs []*models.GoldenSetRun
}

func (m *memRunStore) SaveRun(ctx context.Context, run *models.GoldenSetRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRunStore) ListRuns(ctx context.Context, limit int) ([]*models.GoldenSetRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, nil
}

func (m *memRunStore) GetRun(ctx context.Context, id string) (*models.GoldenSetRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, nil
}

type testEnv struct {
	ingest    http.Handler
	admin     http.Handler
	pipeline  *orchestrator.Orchestrator
	guard     *rateguard.Guard
	tracker   *takeover.Tracker
	evaluator *goldenset.Evaluator
	runs      *memRunStore
}

func writeRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intent-registry.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"intents": [
			{
				"id": "greeting",
				"keywords": ["halo", "selamat pagi"],
				"cannedReply": "Halo! Ada yang bisa saya bantu?"
			},
			{"id": "ktp_requirements", "keywords": ["ktp"]},
			{"id": "service_hours", "keywords": ["jam buka"]}
		]
	}`), 0o644))
	return path
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "golden-set.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{
			"id": "gs-1",
			"query": "Apa syarat membuat KTP?",
			"expectedIntent": "ktp_requirements",
			"expectedKeywords": ["fotokopi", "kartu keluarga"]
		},
		{
			"id": "gs-2",
			"query": "jam berapa kantor desa buka?",
			"expectedIntent": "service_hours",
			"expectedKeywords": ["08.00"]
		},
		{
			"id": "gs-3",
			"query": "bagaimana cuaca besok?",
			"expectedIntent": "weather",
			"expectedKeywords": ["cerah"]
		}
	]`), 0o644))
	return path
}

func newEnv(t *testing.T, searchURL, gatewayURL string, guardCfg *rateguard.Config) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	log := logger.NewTestLogger(t)

	if guardCfg == nil {
		guardCfg = &rateguard.Config{
			Window:                  time.Minute,
			MaxPerWindow:            50,
			AutoBlacklistViolations: 10,
			Cooldown:                time.Minute,
			SpamWindow:              10 * time.Second,
			MaxIdentical:            20,
			BanDuration:             time.Minute,
		}
	}
	guard := rateguard.NewGuard(rdb, guardCfg, log)
	tracker := takeover.NewTracker(rdb, 30*time.Minute, log)

	cache := knowledgeretrieval.NewCache(rdb, time.Minute, log)
	retriever := knowledgeretrieval.NewRetriever(
		knowledgeretrieval.NewClient(searchURL, "test-key", 2*time.Second, log),
		cache,
		log,
	)

	providerCfg := config.ProviderConfig{
		Kind:              "genai_http",
		BaseURL:           gatewayURL,
		Model:             "gemini-2.0-flash",
		MaxTokens:         1024,
		Temperature:       0.7,
		Timeout:           2000,
		RequestsPerMinute: 600,
		MaxRetries:        1,
	}
	primary, err := modelinvoke.NewProvider("primary", providerCfg, log)
	require.NoError(t, err)
	invoker := modelinvoke.NewInvoker(primary, nil, providerCfg, config.ProviderConfig{}, log)

	reg, err := registry.Load(writeRegistry(t))
	require.NoError(t, err)

	pipeline := orchestrator.New(
		guard, tracker, retriever, invoker,
		responseformat.NewFormatter(log), nil, reg,
		orchestrator.Settings{TopK: 5, MinScore: 0.5},
		log,
	)

	runs := &memRunStore{}
	evaluator := goldenset.NewEvaluator(pipeline, runs, config.EvaluationConfig{
		CorpusPath:       writeCorpus(t),
		IntentThreshold:  0.8,
		KeywordThreshold: 0.7,
		OverallThreshold: 0.75,
		Concurrency:      3,
	}, log)

	adminServer := admin.NewServer(admin.Options{
		ServiceName: "message-orchestrator",
		Addr:        ":0",
		Guard:       guard,
		Cache:       cache,
		Tracker:     tracker,
		Pipeline:    pipeline,
		Evaluator:   evaluator,
		Runs:        runs,
		Logger:      log,
	})

	return &testEnv{
		ingest:    ingest.NewServer(":0", pipeline, log).Handler(),
		admin:     adminServer.Handler(),
		pipeline:  pipeline,
		guard:     guard,
		tracker:   tracker,
		evaluator: evaluator,
		runs:      runs,
	}
}

func (e *testEnv) send(t *testing.T, body string) (*httptest.ResponseRecorder, *models.ProcessMessageResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	e.ingest.ServeHTTP(rec, req)

	var result models.ProcessMessageResult
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	}
	return rec, &result
}

func (e *testEnv) adminDo(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	e.admin.ServeHTTP(rec, req)
	return rec
}

func messageBody(sender, message string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"userId":    sender,
		"villageId": "desa-a",
		"message":   message,
		"channel":   models.ChannelWhatsApp,
	})
	return string(payload)
}

func TestWhatsAppQuestionAnsweredWithKnowledge(t *testing.T) {
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, nil)

	rec, result := env.send(t, messageBody("628123", "Apa syarat membuat KTP?"))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, result.Success)
	assert.Equal(t, "ktp_requirements", result.Intent)
	assert.Contains(t, result.Response, "KTP")
	assert.Contains(t, result.GuidanceText, "kantor desa")
	assert.True(t, result.Metadata.HasKnowledge)
	require.NotNil(t, result.Metadata.KnowledgeConfidence)
	assert.InDelta(t, 0.91, *result.Metadata.KnowledgeConfidence, 0.001)
	assert.NotEmpty(t, result.Metadata.TraceID)
}

func TestGreetingShortCircuitsModel(t *testing.T) {
	gateway := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			t.Error("model gateway must not be called for canned greetings")
		}
	}())
	defer gateway.Close()
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	env := newEnv(t, search.URL, gateway.URL, nil)

	rec, result := env.send(t, messageBody("628123", "Halo"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, result.Success)
	assert.Equal(t, "greeting", result.Intent)
	assert.Equal(t, "Halo! Ada yang bisa saya bantu?", result.Response)
}

func TestTakeoverSilencesAssistant(t *testing.T) {
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, nil)

	rec := env.adminDo(t, http.MethodPost, "/api/v1/takeover/start?tenant=desa-a",
		`{"senderId": "628123", "operatorId": "op-1", "reason": "eskalasi"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, result := env.send(t, messageBody("628123", "Apa syarat membuat KTP?"))
	assert.True(t, result.Success)
	assert.Equal(t, "human_takeover", result.Intent)
	assert.Empty(t, result.Response)

	rec = env.adminDo(t, http.MethodPost, "/api/v1/takeover/end?tenant=desa-a", `{"senderId": "628123"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, result = env.send(t, messageBody("628123", "Apa syarat membuat KTP?"))
	assert.Equal(t, "ktp_requirements", result.Intent)
	assert.Contains(t, result.Response, "KTP")
}

func TestRetrievalOutageStillAnswers(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, nil)

	_, result := env.send(t, messageBody("628123", "Apa syarat membuat KTP?"))
	assert.True(t, result.Success)
	assert.Equal(t, "ktp_requirements", result.Intent)
	assert.False(t, result.Metadata.HasKnowledge)
}

func TestRateLimitRejectsWithWarning(t *testing.T) {
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, &rateguard.Config{
		Window:                  time.Minute,
		MaxPerWindow:            2,
		AutoBlacklistViolations: 10,
		Cooldown:                time.Minute,
		SpamWindow:              10 * time.Second,
		MaxIdentical:            20,
		BanDuration:             time.Minute,
	})

	_, first := env.send(t, messageBody("628999", "Apa syarat membuat KTP nomor 1?"))
	assert.True(t, first.Success)
	_, second := env.send(t, messageBody("628999", "Apa syarat membuat KTP nomor 2?"))
	assert.True(t, second.Success)

	_, third := env.send(t, messageBody("628999", "Apa syarat membuat KTP nomor 3?"))
	assert.False(t, third.Success)
	assert.Equal(t, "RATE_LIMITED", third.Error)
	assert.Contains(t, third.Response, "tunggu")

	// Subsequent floods are dropped without repeating the warning.
	_, fourth := env.send(t, messageBody("628999", "Apa syarat membuat KTP nomor 4?"))
	assert.False(t, fourth.Success)
	assert.Empty(t, fourth.Response)

	// A different sender is unaffected.
	_, other := env.send(t, messageBody("628777", "Apa syarat membuat KTP?"))
	assert.True(t, other.Success)
}

func TestIdenticalSpamSuperseded(t *testing.T) {
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, &rateguard.Config{
		Window:                  time.Minute,
		MaxPerWindow:            50,
		AutoBlacklistViolations: 10,
		Cooldown:                time.Minute,
		SpamWindow:              10 * time.Second,
		MaxIdentical:            2,
		BanDuration:             time.Minute,
	})

	_, first := env.send(t, messageBody("628123", "halo jam buka?"))
	assert.True(t, first.Success)
	_, second := env.send(t, messageBody("628123", "halo jam buka?"))
	assert.True(t, second.Success)

	_, third := env.send(t, messageBody("628123", "halo jam buka?"))
	assert.False(t, third.Success)
	assert.Equal(t, "SUPERSEDED", third.Error)
	assert.Empty(t, third.Response)
}

func TestGoldenSetRunThroughAdmin(t *testing.T) {
	search := httptest.NewServer(fakeSearchHandler())
	defer search.Close()
	gateway := httptest.NewServer(fakeGatewayHandler())
	defer gateway.Close()
	env := newEnv(t, search.URL, gateway.URL, nil)

	rec := env.adminDo(t, http.MethodPost, "/api/v1/golden-set/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var run models.GoldenSetRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, 3, run.ItemCount)
	// gs-1 and gs-2 hit, gs-3 (weather) misses.
	assert.InDelta(t, 2.0/3.0, run.IntentAccuracy, 0.001)
	assert.False(t, run.Passed)

	rec = env.adminDo(t, http.MethodGet, fmt.Sprintf("/api/v1/golden-set/runs/%s", run.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// internal/admin/server_test.go
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygads/govconnect-sub008/internal/common/auth"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/models"
	knowledgeretrieval "github.com/mygads/govconnect-sub008/internal/pipeline/knowledge-retrieval"
	modelinvoke "github.com/mygads/govconnect-sub008/internal/pipeline/model-invoke"
	"github.com/mygads/govconnect-sub008/internal/pipeline/orchestrator"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
	responseformat "github.com/mygads/govconnect-sub008/internal/pipeline/response-format"
	"github.com/mygads/govconnect-sub008/internal/pipeline/takeover"
	"github.com/mygads/govconnect-sub008/pkg/registry"
)

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, req *models.RetrievalRequest) *models.RetrievalResponse {
	return &models.RetrievalResponse{Results: []models.RetrievalResult{}}
}

type stubGenerator struct{}

func (stubGenerator) Invoke(ctx context.Context, req *modelinvoke.GenerationRequest) (*models.GenerationResult, error) {
	return &models.GenerationResult{Response: "ok", Intent: "general"}, nil
}

type stubEvaluator struct {
	run *models.GoldenSetRun
	err error
}

func (s *stubEvaluator) Run(ctx context.Context) (*models.GoldenSetRun, error) {
	return s.run, s.err
}

type memRuns struct {
	runs []*models.GoldenSetRun
}

func (m *memRuns) SaveRun(ctx context.Context, run *models.GoldenSetRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) ListRuns(ctx context.Context, limit int) ([]*models.GoldenSetRun, error) {
	return m.runs, nil
}

func (m *memRuns) GetRun(ctx context.Context, id string) (*models.GoldenSetRun, error) {
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, nil
}

type stubValidator struct {
	active bool
	err    error
}

func (s *stubValidator) ValidateToken(ctx context.Context, token string) (*auth.Introspection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.Introspection{Active: s.active}, nil
}

func testServer(t *testing.T, opts func(*Options)) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	log := logger.NewTestLogger(t)

	guard := rateguard.NewGuard(rdb, &rateguard.Config{
		Window:       time.Minute,
		MaxPerWindow: 20,
		Cooldown:     time.Minute,
		SpamWindow:   10 * time.Second,
		MaxIdentical: 5,
		BanDuration:  time.Minute,
	}, log)
	cache := knowledgeretrieval.NewCache(rdb, time.Hour, log)
	tracker := takeover.NewTracker(rdb, 30*time.Minute, log)

	regPath := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(regPath, []byte(`{"intents": []}`), 0o644))
	reg, err := registry.Load(regPath)
	require.NoError(t, err)

	pipeline := orchestrator.New(
		guard, tracker, stubRetriever{}, stubGenerator{},
		responseformat.NewFormatter(log), nil, reg,
		orchestrator.Settings{TopK: 5, MinScore: 0.5}, log,
	)

	options := Options{
		ServiceName: "message-orchestrator",
		Addr:        ":0",
		Guard:       guard,
		Cache:       cache,
		Tracker:     tracker,
		Pipeline:    pipeline,
		Evaluator:   &stubEvaluator{run: &models.GoldenSetRun{ID: "run-1", ItemCount: 1}},
		Runs:        &memRuns{runs: []*models.GoldenSetRun{{ID: "run-1"}}},
		Logger:      log,
	}
	if opts != nil {
		opts(&options)
	}
	return NewServer(options)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "message-orchestrator")
}

func TestCacheModeToggle(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/cache/mode", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "true")

	rec = doJSON(t, h, http.MethodPut, "/api/v1/cache/mode", cacheModeRequest{Enabled: false})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.cache.Enabled())
}

func TestCacheClear(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/cache/clear?tenant=desa-a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "desa-a")
}

func TestGuardConfigRoundTrip(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/rate-limit/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view guardConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 20, view.MaxPerWindow)

	view.MaxPerWindow = 5
	rec = doJSON(t, h, http.MethodPut, "/api/v1/rate-limit/config", view)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.guard.Config().MaxPerWindow)
}

func TestGuardConfigRejectsInvalid(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodPut, "/api/v1/rate-limit/config", guardConfigView{MaxPerWindow: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlacklistCRUD(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/blacklist?tenant=desa-a", blacklistAddRequest{
		SenderID: "628999", Reason: "abuse",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/blacklist?tenant=desa-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.BlacklistEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "628999", entries[0].SenderID)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/blacklist/628999?tenant=desa-a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/blacklist?tenant=desa-a", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestBanListAndRemoval(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	for i := 0; i < 6; i++ {
		s.guard.Admit(context.Background(), "desa-a", "628777", "promo murah", time.Now())
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/bans?tenant=desa-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bans []models.SpamBan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bans))
	require.Len(t, bans, 1)
	assert.Equal(t, "628777", bans[0].SenderID)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/bans/628777?tenant=desa-a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/bans?tenant=desa-a", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPut, "/api/v1/settings", settingsView{SilentDrop: true, TopK: 3, MinScore: 0.6})
	require.Equal(t, http.StatusOK, rec.Code)

	settings := s.pipeline.Settings()
	assert.True(t, settings.SilentDrop)
	assert.Equal(t, 3, settings.TopK)
}

func TestTakeoverLifecycle(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/takeover/start?tenant=desa-a", takeoverRequest{
		SenderID: "628111", OperatorID: "op-1", Reason: "eskalasi",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Second claim conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/takeover/start?tenant=desa-a", takeoverRequest{
		SenderID: "628111", OperatorID: "op-2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/takeover/628111?tenant=desa-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(models.ModeTakeover))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/takeover/end?tenant=desa-a", takeoverRequest{SenderID: "628111"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/takeover/end?tenant=desa-a", takeoverRequest{SenderID: "628111"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGoldenSetEndpoints(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/golden-set/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")

	rec = doJSON(t, h, http.MethodGet, "/api/v1/golden-set/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/golden-set/runs/run-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/golden-set/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGoldenSetRunConflict(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Evaluator = &stubEvaluator{err: errors.New("golden-set run already in progress")}
	})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/golden-set/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuth_RejectsWithoutToken(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.AuthEnabled = true
		o.Validator = &stubValidator{active: true}
	})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/settings", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Probes stay open.
	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_AcceptsActiveToken(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.AuthEnabled = true
		o.Validator = &stubValidator{active: true}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsInactiveToken(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.AuthEnabled = true
		o.Validator = &stubValidator{active: false}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// internal/admin/server.go
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mygads/govconnect-sub008/internal/models"
	knowledgeretrieval "github.com/mygads/govconnect-sub008/internal/pipeline/knowledge-retrieval"
	"github.com/mygads/govconnect-sub008/internal/pipeline/orchestrator"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
	"github.com/mygads/govconnect-sub008/internal/pipeline/takeover"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// OperatorNotifier receives takeover alerts.
type OperatorNotifier interface {
	TakeoverStarted(tenantID, senderID, operatorID string)
}

// Server is the operator control surface consumed by the dashboard.
type Server struct {
	serviceName string
	addr        string
	authEnabled bool
	validator   TokenValidator

	guard     *rateguard.Guard
	cache     *knowledgeretrieval.Cache
	tracker   *takeover.Tracker
	pipeline  *orchestrator.Orchestrator
	evaluator Evaluator
	runs      models.GoldenSetStore
	notifier  OperatorNotifier

	httpServer *http.Server
	logger     Logger
}

// Options bundles the server dependencies.
type Options struct {
	ServiceName string
	Addr        string
	AuthEnabled bool
	Validator   TokenValidator

	Guard     *rateguard.Guard
	Cache     *knowledgeretrieval.Cache
	Tracker   *takeover.Tracker
	Pipeline  *orchestrator.Orchestrator
	Evaluator Evaluator
	Runs      models.GoldenSetStore
	Notifier  OperatorNotifier

	Logger Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		serviceName: opts.ServiceName,
		addr:        opts.Addr,
		authEnabled: opts.AuthEnabled,
		validator:   opts.Validator,
		guard:       opts.Guard,
		cache:       opts.Cache,
		tracker:     opts.Tracker,
		pipeline:    opts.Pipeline,
		evaluator:   opts.Evaluator,
		runs:        opts.Runs,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.authMiddleware(s.routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // golden-set runs answer synchronously
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/cache/mode", s.handleCacheModeGet)
	mux.HandleFunc("PUT /api/v1/cache/mode", s.handleCacheModePut)
	mux.HandleFunc("POST /api/v1/cache/clear", s.handleCacheClear)

	mux.HandleFunc("GET /api/v1/rate-limit/config", s.handleGuardConfigGet)
	mux.HandleFunc("PUT /api/v1/rate-limit/config", s.handleGuardConfigPut)
	mux.HandleFunc("GET /api/v1/rate-limit/stats", s.handleGuardStats)

	mux.HandleFunc("GET /api/v1/blacklist", s.handleBlacklistGet)
	mux.HandleFunc("POST /api/v1/blacklist", s.handleBlacklistPost)
	mux.HandleFunc("DELETE /api/v1/blacklist/{sender}", s.handleBlacklistDelete)
	mux.HandleFunc("GET /api/v1/bans", s.handleBansGet)
	mux.HandleFunc("DELETE /api/v1/bans/{sender}", s.handleBanDelete)

	mux.HandleFunc("GET /api/v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /api/v1/settings", s.handleSettingsPut)

	mux.HandleFunc("POST /api/v1/takeover/start", s.handleTakeoverStart)
	mux.HandleFunc("POST /api/v1/takeover/end", s.handleTakeoverEnd)
	mux.HandleFunc("GET /api/v1/takeover/{sender}", s.handleTakeoverStatus)

	mux.HandleFunc("POST /api/v1/golden-set/run", s.handleGoldenSetRun)
	mux.HandleFunc("GET /api/v1/golden-set/runs", s.handleGoldenSetHistory)
	mux.HandleFunc("GET /api/v1/golden-set/runs/{id}", s.handleGoldenSetGet)

	return mux
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Admin surface listening", map[string]interface{}{
		"address": s.addr,
		"auth":    s.authEnabled,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

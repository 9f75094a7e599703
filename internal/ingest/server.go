// internal/ingest/server.go
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/validation"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Pipeline processes one normalized inbound message.
type Pipeline interface {
	Process(ctx context.Context, input *models.ProcessMessageInput) *models.ProcessMessageResult
}

// maxBodyBytes bounds one inbound payload, message text plus history.
const maxBodyBytes = 1 << 20

// Server is the transport surface channel adapters deliver normalized
// messages to. It validates the payload shape and hands the message to the
// pipeline synchronously; the adapter owns delivery of the returned reply.
type Server struct {
	addr       string
	pipeline   Pipeline
	logger     Logger
	httpServer *http.Server
}

func NewServer(addr string, pipeline Pipeline, logger Logger) *Server {
	s := &Server{
		addr:     addr,
		pipeline: pipeline,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/v1/messages", s.handleMessage)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validation.ValidateInboundMessage(payload); err != nil {
		var stdErr *commonerrors.StandardError
		if errors.As(err, &stdErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": stdErr.Details,
				"code":  string(stdErr.Code),
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var input models.ProcessMessageInput
	if err := json.Unmarshal(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Evaluation replays only ever originate from the evaluator in-process.
	input.IsEvaluation = false
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = time.Now().UTC()
	}

	result := s.pipeline.Process(r.Context(), &input)
	writeJSON(w, http.StatusOK, result)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Message ingest listening", map[string]interface{}{
		"address": s.addr,
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

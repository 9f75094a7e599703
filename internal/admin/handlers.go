// internal/admin/handlers.go
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/models"
	"github.com/mygads/govconnect-sub008/internal/pipeline/orchestrator"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func tenantParam(r *http.Request) string {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		return orchestrator.DefaultTenant
	}
	return tenant
}

// --- health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.serviceName,
	})
}

// --- cache ---

type cacheModeRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleCacheModeGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheModeRequest{Enabled: s.cache.Enabled()})
}

func (s *Server) handleCacheModePut(w http.ResponseWriter, r *http.Request) {
	var req cacheModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.cache.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, cacheModeRequest{Enabled: s.cache.Enabled()})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	removed, err := s.cache.Clear(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":  tenant,
		"removed": removed,
	})
}

// --- rate guard ---

type guardConfigView struct {
	WindowMs                int64 `json:"windowMs"`
	MaxPerWindow            int   `json:"maxPerWindow"`
	AutoBlacklistViolations int   `json:"autoBlacklistViolations"`
	CooldownMs              int64 `json:"cooldownMs"`
	SpamWindowMs            int64 `json:"spamWindowMs"`
	MaxIdentical            int   `json:"maxIdentical"`
	BanDurationMs           int64 `json:"banDurationMs"`
}

func (s *Server) handleGuardConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg := s.guard.Config()
	writeJSON(w, http.StatusOK, guardConfigView{
		WindowMs:                cfg.Window.Milliseconds(),
		MaxPerWindow:            cfg.MaxPerWindow,
		AutoBlacklistViolations: cfg.AutoBlacklistViolations,
		CooldownMs:              cfg.Cooldown.Milliseconds(),
		SpamWindowMs:            cfg.SpamWindow.Milliseconds(),
		MaxIdentical:            cfg.MaxIdentical,
		BanDurationMs:           cfg.BanDuration.Milliseconds(),
	})
}

func (s *Server) handleGuardConfigPut(w http.ResponseWriter, r *http.Request) {
	var view guardConfigView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if view.WindowMs <= 0 || view.MaxPerWindow <= 0 {
		writeError(w, http.StatusBadRequest, "windowMs and maxPerWindow must be positive")
		return
	}
	s.guard.SetConfig(&rateguard.Config{
		Window:                  time.Duration(view.WindowMs) * time.Millisecond,
		MaxPerWindow:            view.MaxPerWindow,
		AutoBlacklistViolations: view.AutoBlacklistViolations,
		Cooldown:                time.Duration(view.CooldownMs) * time.Millisecond,
		SpamWindow:              time.Duration(view.SpamWindowMs) * time.Millisecond,
		MaxIdentical:            view.MaxIdentical,
		BanDuration:             time.Duration(view.BanDurationMs) * time.Millisecond,
	})
	s.logger.Info("Guard configuration updated", map[string]interface{}{
		"max_per_window": view.MaxPerWindow,
		"window_ms":      view.WindowMs,
	})
	s.handleGuardConfigGet(w, r)
}

func (s *Server) handleGuardStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Stats())
}

// --- blacklist ---

type blacklistAddRequest struct {
	SenderID string `json:"senderId"`
	Reason   string `json:"reason"`
	TTLMs    int64  `json:"ttlMs,omitempty"`
}

func (s *Server) handleBlacklistGet(w http.ResponseWriter, r *http.Request) {
	entries, err := s.guard.ListBlacklist(r.Context(), tenantParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBlacklistPost(w http.ResponseWriter, r *http.Request) {
	var req blacklistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "senderId required")
		return
	}

	var ttl *time.Duration
	if req.TTLMs > 0 {
		d := time.Duration(req.TTLMs) * time.Millisecond
		ttl = &d
	}
	if err := s.guard.AddToBlacklist(r.Context(), tenantParam(r), req.SenderID, req.Reason, ttl); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"senderId": req.SenderID})
}

func (s *Server) handleBlacklistDelete(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("sender")
	if err := s.guard.RemoveFromBlacklist(r.Context(), tenantParam(r), senderID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBansGet(w http.ResponseWriter, r *http.Request) {
	bans, err := s.guard.ListBans(r.Context(), tenantParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bans)
}

func (s *Server) handleBanDelete(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("sender")
	if err := s.guard.RemoveBan(r.Context(), tenantParam(r), senderID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- pipeline settings ---

type settingsView struct {
	SilentDrop bool    `json:"silentDrop"`
	TopK       int     `json:"topK"`
	MinScore   float64 `json:"minScore"`
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings := s.pipeline.Settings()
	writeJSON(w, http.StatusOK, settingsView{
		SilentDrop: settings.SilentDrop,
		TopK:       settings.TopK,
		MinScore:   settings.MinScore,
	})
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var view settingsView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if view.TopK <= 0 {
		writeError(w, http.StatusBadRequest, "topK must be positive")
		return
	}
	s.pipeline.UpdateSettings(orchestrator.Settings{
		SilentDrop: view.SilentDrop,
		TopK:       view.TopK,
		MinScore:   view.MinScore,
	})
	s.handleSettingsGet(w, r)
}

// --- takeover ---

type takeoverRequest struct {
	SenderID   string `json:"senderId"`
	OperatorID string `json:"operatorId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleTakeoverStart(w http.ResponseWriter, r *http.Request) {
	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SenderID == "" || req.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "senderId and operatorId required")
		return
	}

	tenant := tenantParam(r)
	err := s.tracker.Start(r.Context(), tenant, req.SenderID, req.OperatorID, req.Reason)
	if errors.Is(err, commonerrors.ErrAlreadyInTakeover) {
		writeError(w, http.StatusConflict, "conversation already taken over")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.notifier != nil {
		go s.notifier.TakeoverStarted(tenant, req.SenderID, req.OperatorID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTakeoverEnd(w http.ResponseWriter, r *http.Request) {
	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "senderId required")
		return
	}

	err := s.tracker.End(r.Context(), tenantParam(r), req.SenderID)
	if errors.Is(err, commonerrors.ErrNotInTakeover) {
		writeError(w, http.StatusNotFound, "conversation not in takeover")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTakeoverStatus(w http.ResponseWriter, r *http.Request) {
	conv, err := s.tracker.Status(r.Context(), tenantParam(r), r.PathValue("sender"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil {
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(models.ModeAIActive)})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// --- golden set ---

// Evaluator triggers golden-set runs.
type Evaluator interface {
	Run(ctx context.Context) (*models.GoldenSetRun, error)
}

func (s *Server) handleGoldenSetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.evaluator.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGoldenSetHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.GoldenSetRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGoldenSetGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

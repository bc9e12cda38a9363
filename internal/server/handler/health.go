package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PairCounter reports how many pairs the instrument graph currently holds.
// The graph implements it.
type PairCounter interface {
	Len() int
}

// HealthHandler reports liveness plus enough operational context to tell an
// idle process from a wedged one: the run mode, uptime and how much of the
// pair universe the feed has registered.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	pairs     PairCounter
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pairs may be nil when no graph is
// running in this mode.
func NewHealthHandler(mode string, startedAt time.Time, pairs PairCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: startedAt,
		pairs:     pairs,
		logger:    logger,
	}
}

// HealthCheck reports process status, run mode, uptime and the registered
// pair count. A live or scan process answering with zero pairs minutes after
// boot means discovery failed.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	resp := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	}
	if h.pairs != nil {
		resp["pairs"] = h.pairs.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

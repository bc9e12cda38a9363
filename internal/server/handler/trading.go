package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// TradingController is the slice of the engine the trading-control endpoints
// need.
type TradingController interface {
	Config() domain.LiveTradingConfig
	UpdateConfig(ctx context.Context, patch domain.ConfigPatch) (domain.LiveTradingConfig, error)
	Start(ctx context.Context) (domain.LiveTradingConfig, error)
	Stop(ctx context.Context) (domain.LiveTradingConfig, error)
	State() domain.LiveTradingState
	ClearBreaker(ctx context.Context)
}

// TradingHandler serves the operator control surface: session state, live
// configuration, start/stop, and the circuit breaker.
type TradingHandler struct {
	engine TradingController
	audit  domain.AuditStore // may be nil
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(engine TradingController, audit domain.AuditStore, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{engine: engine, audit: audit, logger: logger}
}

// GetState returns the current risk/session state.
// GET /api/trading/state
func (h *TradingHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State())
}

// GetConfig returns the live trading configuration.
// GET /api/trading/config
func (h *TradingHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// UpdateConfig applies a partial configuration update. Invalid patches leave
// the running configuration untouched and return 422.
// PUT /api/trading/config
func (h *TradingHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg, err := h.engine.UpdateConfig(r.Context(), patch)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "config update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}

	h.auditLog(r, "config_updated", map[string]any{"enabled": cfg.Enabled})
	writeJSON(w, http.StatusOK, cfg)
}

// Start enables live execution.
// POST /api/trading/start
func (h *TradingHandler) Start(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.Start(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start trading")
		return
	}
	h.auditLog(r, "trading_started", nil)
	writeJSON(w, http.StatusOK, cfg)
}

// Stop disables live execution. The scan loop keeps running.
// POST /api/trading/stop
func (h *TradingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.Stop(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop trading")
		return
	}
	h.auditLog(r, "trading_stopped", nil)
	writeJSON(w, http.StatusOK, cfg)
}

// ClearBreaker re-arms approvals after a circuit-breaker trip. Deliberately
// a separate endpoint from config updates so clearing is always an explicit
// operator action.
// POST /api/trading/breaker/clear
func (h *TradingHandler) ClearBreaker(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearBreaker(r.Context())
	h.auditLog(r, "breaker_cleared", nil)
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *TradingHandler) auditLog(r *http.Request, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["remote_addr"] = r.RemoteAddr
	if err := h.audit.Log(r.Context(), event, detail); err != nil {
		h.logger.WarnContext(r.Context(), "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

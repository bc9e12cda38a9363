package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// TradeHandler serves live-trade history endpoints.
type TradeHandler struct {
	store  domain.TradeStore // may be nil in storeless wiring
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{store: store, logger: logger}
}

// ListRecent returns the latest trades, newest first.
// GET /api/trades
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "trade history is not available in this mode")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(trades),
		"trades": trades,
	})
}

// Get returns a single trade by ID, legs included.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "trade history is not available in this mode")
		return
	}
	id := pathParam(r, "id")
	trade, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// ListUnhealthy returns trades stranded in partial_failure.
// GET /api/trades/unhealthy
func (h *TradeHandler) ListUnhealthy(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "trade history is not available in this mode")
		return
	}
	trades, err := h.store.ListUnhealthy(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list unhealthy trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list unhealthy trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(trades),
		"trades": trades,
	})
}

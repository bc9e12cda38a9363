package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// Scanner runs an on-demand detector pass. The engine implements it.
type Scanner interface {
	ScanNow(ctx context.Context) []domain.Opportunity
}

// OpportunityHandler serves detected-opportunity endpoints.
type OpportunityHandler struct {
	scanner Scanner
	store   domain.OpportunityStore // may be nil in storeless wiring
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(scanner Scanner, store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{scanner: scanner, store: store, logger: logger}
}

// ScanNow triggers a fresh detector pass and returns the results. It never
// executes anything.
// POST /api/scan
func (h *OpportunityHandler) ScanNow(w http.ResponseWriter, r *http.Request) {
	opps := h.scanner.ScanNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(opps),
		"opportunities": opps,
	})
}

// ListRecent returns the stored opportunity history, newest first.
// GET /api/opportunities
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "opportunity history is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	opps, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(opps),
		"opportunities": opps,
	})
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// EventsHandler replays durable trade events from the signal bus stream so
// dashboards can catch up after a disconnect without replaying the database.
type EventsHandler struct {
	bus    domain.SignalBus // may be nil in storeless wiring
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// List reads trade events after last_id ("0" for the beginning). Each entry
// carries the stream ID to pass back as the next last_id.
// GET /api/events?last_id=0&limit=100
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotFound, "event stream is not available in this mode")
		return
	}

	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := h.bus.StreamRead(r.Context(), "trades", lastID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "event stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	type event struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	events := make([]event, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, event{ID: m.ID, Payload: json.RawMessage(m.Payload)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

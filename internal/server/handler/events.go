package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// EventHandler serves the emitted-event audit log over HTTP.
type EventHandler struct {
	store  domain.EventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler backed by the given store.
func NewEventHandler(store domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: store, logger: logger}
}

// eventResponse is the HTTP shape of one audit row. Payload is inlined as
// raw JSON so clients see the original wire record.
type eventResponse struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Kind          string          `json:"kind"`
	Category      string          `json:"category"`
	Price         float64         `json:"price"`
	Direction     string          `json:"direction"`
	PercentChange float64         `json:"percent_change"`
	Volume        int64           `json:"volume"`
	VWAP          float64         `json:"vwap"`
	Record        json.RawMessage `json:"record"`
	DetectedAt    string          `json:"detected_at"`
}

type listEventsResponse struct {
	Events []eventResponse `json:"events"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ListEvents returns audit rows for one symbol, newest first.
// GET /api/events/{symbol}?limit=50&offset=0&since=...&until=...
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	opts := parseListOpts(r)

	rows, err := h.store.ListBySymbol(r.Context(), symbol, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	total, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	out := make([]eventResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventResponse{
			ID:            row.ID,
			Ticker:        row.Symbol,
			Kind:          string(row.Kind),
			Category:      string(row.Category),
			Price:         row.Price,
			Direction:     string(row.Direction),
			PercentChange: row.PercentChange,
			Volume:        row.Volume,
			VWAP:          row.VWAP,
			Record:        json.RawMessage(row.Payload),
			DetectedAt:    row.DetectedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: out,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

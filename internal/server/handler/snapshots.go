package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/marketpulse/engine/internal/domain"
)

// SnapshotHandler serves the durable snapshot stream over HTTP so
// out-of-process consumers can catch up after a disconnect without speaking
// the bus protocol themselves.
type SnapshotHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler reading from the given stream.
func NewSnapshotHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{bus: bus, stream: stream, logger: logger}
}

type snapshotEntry struct {
	ID       string          `json:"id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type listSnapshotsResponse struct {
	Snapshots []snapshotEntry `json:"snapshots"`
	NextAfter string          `json:"next_after"`
}

// ListSnapshots returns stream entries after the given ID, oldest first.
// Clients page by passing the response's next_after back as after.
// GET /api/snapshots?after=0-0&count=50
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := strings.TrimSpace(q.Get("after"))
	if after == "" {
		after = "0-0"
	}

	count := 50
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	if count > 500 {
		count = 500
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: snapshot stream read failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read snapshot stream")
		return
	}

	out := make([]snapshotEntry, 0, len(msgs))
	next := after
	for _, msg := range msgs {
		out = append(out, snapshotEntry{ID: msg.ID, Snapshot: json.RawMessage(msg.Payload)})
		next = msg.ID
	}

	writeJSON(w, http.StatusOK, listSnapshotsResponse{Snapshots: out, NextAfter: next})
}

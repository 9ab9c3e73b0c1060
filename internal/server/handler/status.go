package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// PipelineStats exposes live counters from the running pipeline. It is
// implemented by the app layer so the handler needs no direct wiring into
// queue and buffer internals.
type PipelineStats interface {
	QueueLen() int
	QueueOverflow() uint64
	BufferLen(category domain.Category) int
	BufferOverflow(category domain.Category) uint64
	FeedStats() (received, dropped uint64)
	SchedulerCycles() (total, skipped uint64)
	SessionPhase() string
	ClientCount() int
}

// StatusHandler serves pipeline status and counters.
type StatusHandler struct {
	stats     PipelineStats
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(stats PipelineStats, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{stats: stats, startedAt: startedAt, logger: logger}
}

// Status reports queue depth, buffer occupancy, feed throughput, and the
// current session phase.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	received, dropped := h.stats.FeedStats()
	cycles, skipped := h.stats.SchedulerCycles()

	buffers := make(map[string]map[string]any, len(domain.Categories))
	for _, c := range domain.Categories {
		buffers[string(c)] = map[string]any{
			"len":      h.stats.BufferLen(c),
			"overflow": h.stats.BufferOverflow(c),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_phase":  h.stats.SessionPhase(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"queue": map[string]any{
			"len":      h.stats.QueueLen(),
			"overflow": h.stats.QueueOverflow(),
		},
		"buffers": buffers,
		"feed": map[string]any{
			"ticks_received": received,
			"ticks_dropped":  dropped,
		},
		"scheduler": map[string]any{
			"cycles":         cycles,
			"cycles_skipped": skipped,
		},
		"subscribers": h.stats.ClientCount(),
	})
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marketpulse/engine/internal/domain"
)

// UniverseHandler manages the operator-defined core watch set.
type UniverseHandler struct {
	cache  domain.UniverseCache
	logger *slog.Logger
}

// NewUniverseHandler creates a UniverseHandler backed by the given cache.
func NewUniverseHandler(cache domain.UniverseCache, logger *slog.Logger) *UniverseHandler {
	return &UniverseHandler{cache: cache, logger: logger}
}

// ListCore returns the current core symbols.
// GET /api/universe/core
func (h *UniverseHandler) ListCore(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.cache.CoreSymbols(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list core symbols failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list core symbols")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

// AddCore adds symbols to the core watch set.
// POST /api/universe/core  {"symbols":["AAPL","TSLA"]}
func (h *UniverseHandler) AddCore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var symbols []string
	for _, s := range body.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "no symbols provided")
		return
	}

	if err := h.cache.AddCoreSymbols(r.Context(), symbols...); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: add core symbols failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to add core symbols")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": len(symbols)})
}

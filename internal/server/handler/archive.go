package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// Archive key layout, shared with the retention archiver.
const (
	archivePrefix    = "archive/events/"
	archiveExtension = ".jsonl"
)

// ArchiveHandler serves the cold-storage event archives the retention cron
// produced, so aged history stays reachable after the audit rows are gone.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler backed by the given reader.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

type archiveEntry struct {
	Date         string `json:"date"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	LastModified string `json:"last_modified"`
}

type listArchivesResponse struct {
	Archives []archiveEntry `json:"archives"`
	Total    int            `json:"total"`
}

// ListArchives returns every archived day, newest first.
// GET /api/archive
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.reader.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	out := make([]archiveEntry, 0, len(infos))
	for _, info := range infos {
		date := strings.TrimSuffix(strings.TrimPrefix(info.Path, archivePrefix), archiveExtension)
		out = append(out, archiveEntry{
			Date:         date,
			Path:         info.Path,
			SizeBytes:    info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	// Dates are zero-padded, so lexicographic order is chronological.
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })

	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: out, Total: len(out)})
}

// DownloadArchive streams one day's JSONL archive.
// GET /api/archive/{date}
func (h *ArchiveHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.PathValue("date"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	path := archivePrefix + date + archiveExtension
	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no archive for "+date)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive download failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", date+archiveExtension))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

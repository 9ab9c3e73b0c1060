package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// EventArchiver implements domain.Archiver by querying the audit store for
// aged rows, serializing them to JSONL, uploading the file, and deleting the
// rows only after the upload succeeded. A failed upload leaves the rows in
// place for the next retention pass.
type EventArchiver struct {
	writer domain.BlobWriter
	store  domain.EventStore
}

// NewEventArchiver creates an EventArchiver.
func NewEventArchiver(writer domain.BlobWriter, store domain.EventStore) *EventArchiver {
	return &EventArchiver{writer: writer, store: store}
}

// ArchiveEvents moves every audit row detected before the cutoff to object
// storage and returns the number archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive events delete: %w", err)
	}
	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// cutoff date:
//
//	archive/events/2026-08-26.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", before.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)

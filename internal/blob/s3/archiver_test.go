package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

type stubStore struct {
	domain.EventStore
	rows      []domain.EventRow
	listErr   error
	deleteErr error
	deleted   []time.Time
}

func (s *stubStore) ListBefore(_ context.Context, before time.Time) ([]domain.EventRow, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.rows, nil
}

func (s *stubStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleted = append(s.deleted, before)
	return int64(len(s.rows)), nil
}

type stubWriter struct {
	paths       []string
	contentType string
	body        []byte
	err         error
}

func (w *stubWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.contentType = contentType
	w.body = body
	return nil
}

func (w *stubWriter) PutMultipart(context.Context, string, io.Reader, int64) error {
	return errors.New("not implemented")
}

func sampleRows() []domain.EventRow {
	return []domain.EventRow{
		{ID: "ev-1", Symbol: "AMZN", Kind: domain.KindHighLow, Category: domain.CategoryHighs, Price: 113},
		{ID: "ev-2", Symbol: "NVDA", Kind: domain.KindSurge, Category: domain.CategorySurging, Price: 900},
	}
}

func TestArchiveEventsUploadsJSONLThenDeletes(t *testing.T) {
	store := &stubStore{rows: sampleRows()}
	writer := &stubWriter{}
	arch := NewEventArchiver(writer, store)

	cutoff := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	n, err := arch.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Equal(t, []string{"archive/events/2025-06-02.jsonl"}, writer.paths)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	require.Equal(t, []time.Time{cutoff}, store.deleted)

	// One JSON object per line.
	var lines int
	scanner := bufio.NewScanner(bytes.NewReader(writer.body))
	for scanner.Scan() {
		var row domain.EventRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	store := &stubStore{}
	writer := &stubWriter{}
	arch := NewEventArchiver(writer, store)

	n, err := arch.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.paths, "no upload for an empty batch")
	assert.Empty(t, store.deleted)
}

func TestArchiveEventsFailedUploadKeepsRows(t *testing.T) {
	store := &stubStore{rows: sampleRows()}
	writer := &stubWriter{err: errors.New("bucket gone")}
	arch := NewEventArchiver(writer, store)

	_, err := arch.ArchiveEvents(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, store.deleted, "rows must survive a failed upload")
}

func TestArchiveEventsListFailure(t *testing.T) {
	store := &stubStore{listErr: errors.New("pg down")}
	arch := NewEventArchiver(&stubWriter{}, store)

	_, err := arch.ArchiveEvents(context.Background(), time.Now())
	assert.Error(t, err)
}

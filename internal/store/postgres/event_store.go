package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketpulse/engine/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, symbol, kind, category, price, direction,
	percent_change, volume, vwap, payload, detected_at`

func scanEventRows(rows pgx.Rows) ([]domain.EventRow, error) {
	var out []domain.EventRow
	for rows.Next() {
		var r domain.EventRow
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.Kind, &r.Category, &r.Price, &r.Direction,
			&r.PercentChange, &r.Volume, &r.VWAP, &r.Payload, &r.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertBatch inserts audit rows efficiently using pgx Batch. Rows whose
// event ID was already persisted are silently skipped via ON CONFLICT
// DO NOTHING, so retried cycles never duplicate history.
func (s *EventStore) InsertBatch(ctx context.Context, rows []domain.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO events (
			id, symbol, kind, category, price, direction,
			percent_change, volume, vwap, payload, detected_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	for _, r := range rows {
		batch.Queue(query,
			r.ID, r.Symbol, r.Kind, r.Category, r.Price, r.Direction,
			r.PercentChange, r.Volume, r.VWAP, r.Payload, r.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListBySymbol returns audit rows for one symbol, newest first, with
// pagination and optional time filtering.
func (s *EventStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.EventRow, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", symbol, err)
	}
	defer rows.Close()

	out, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for %s: %w", symbol, err)
	}
	return out, nil
}

// ListBefore returns every audit row detected before the cutoff, oldest
// first, for archival.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.EventRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE detected_at < $1 ORDER BY detected_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %v: %w", before, err)
	}
	defer rows.Close()

	out, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events before %v: %w", before, err)
	}
	return out, nil
}

// DeleteBefore removes audit rows detected before the cutoff and returns the
// number deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM events WHERE detected_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %v: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of audit rows.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}

var _ domain.EventStore = (*EventStore)(nil)

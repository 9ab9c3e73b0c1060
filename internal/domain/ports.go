package domain

import (
	"context"
	"io"
	"time"
)

// SubscriberDirectory lists the currently connected subscribers. The emission
// scheduler computes one filtered view per subscriber per cycle.
type SubscriberDirectory interface {
	Subscribers(ctx context.Context) []string
}

// FilterService answers per-subscriber universe/filter membership tests. A
// failure for one subscriber must never block delivery to the others in the
// same cycle, so implementations report a plain bool.
type FilterService interface {
	Matches(ctx context.Context, subscriberID string, rec WireRecord) bool
}

// BroadcastTransport delivers a serialized snapshot to one subscriber.
type BroadcastTransport interface {
	Emit(ctx context.Context, subscriberID string, payload []byte) error
}

// UniverseCache stores the operator-defined core watch set and per-subscriber
// symbol filters.
type UniverseCache interface {
	CoreSymbols(ctx context.Context) ([]string, error)
	AddCoreSymbols(ctx context.Context, symbols ...string) error
	SetSubscriberFilter(ctx context.Context, subscriberID string, symbols []string) error
	SubscriberFilter(ctx context.Context, subscriberID string) ([]string, error)
}

// EventRow is the flat persisted form of an emitted wire record.
type EventRow struct {
	ID            string
	Symbol        string
	Kind          EventKind
	Category      Category
	Price         float64
	Direction     Direction
	PercentChange float64
	Volume        int64
	VWAP          float64
	Payload       []byte // full wire record as JSON
	DetectedAt    time.Time
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the audit log of emitted events.
type EventStore interface {
	InsertBatch(ctx context.Context, rows []EventRow) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]EventRow, error)
	ListBefore(ctx context.Context, before time.Time) ([]EventRow, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for emitted
// snapshots, so consumers outside this process can follow the feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged event rows from the database to cold storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}

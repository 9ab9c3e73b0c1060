package pipeline

import (
	"sync"

	"github.com/marketpulse/engine/internal/domain"
)

// ring is one bounded category buffer. When full, Push drops the oldest
// record, never the newest, and never blocks.
type ring struct {
	buf      []domain.WireRecord
	head     int
	size     int
	overflow uint64
}

func (r *ring) push(rec domain.WireRecord) {
	n := len(r.buf)
	if r.size == n {
		// Overwrite the oldest slot.
		r.buf[r.head] = rec
		r.head = (r.head + 1) % n
		r.overflow++
		return
	}
	r.buf[(r.head+r.size)%n] = rec
	r.size++
}

func (r *ring) drain(clear bool) []domain.WireRecord {
	if r.size == 0 {
		return nil
	}
	out := make([]domain.WireRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	if clear {
		for i := range r.buf {
			r.buf[i] = nil
		}
		r.head = 0
		r.size = 0
	}
	return out
}

// Buffer is the pull-model holding area between the conversion workers and
// the emission scheduler. Nothing is forwarded to subscribers until the
// scheduler drains it, so a slow or absent broadcast layer can never apply
// backpressure to ingestion: the rings fill to capacity and drop oldest.
type Buffer struct {
	mu    sync.Mutex
	rings map[domain.Category]*ring
}

// NewBuffer creates a Buffer with one ring of the given capacity per known
// category.
func NewBuffer(capacity int) *Buffer {
	rings := make(map[domain.Category]*ring, len(domain.Categories))
	for _, c := range domain.Categories {
		rings[c] = &ring{buf: make([]domain.WireRecord, capacity)}
	}
	return &Buffer{rings: rings}
}

// Push appends a record to its category ring. It never blocks; on a full
// ring the oldest record is dropped and the category's overflow counter
// incremented. Unknown categories are an error.
func (b *Buffer) Push(category domain.Category, rec domain.WireRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[category]
	if !ok {
		return domain.ErrUnknownCategory
	}
	r.push(rec)
	return nil
}

// Drain returns the current contents of one category in insertion order,
// clearing the ring when clear is true.
func (b *Buffer) Drain(category domain.Category, clear bool) []domain.WireRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[category]
	if !ok {
		return nil
	}
	return r.drain(clear)
}

// DrainAll drains every category at once.
func (b *Buffer) DrainAll(clear bool) map[domain.Category][]domain.WireRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[domain.Category][]domain.WireRecord, len(b.rings))
	for c, r := range b.rings {
		out[c] = r.drain(clear)
	}
	return out
}

// Len returns the number of buffered records for a category.
func (b *Buffer) Len(category domain.Category) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rings[category]; ok {
		return r.size
	}
	return 0
}

// Overflow returns the cumulative overflow count for a category.
func (b *Buffer) Overflow(category domain.Category) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rings[category]; ok {
		return r.overflow
	}
	return 0
}

// Package queue implements the thread-safe priority holding area between the
// detectors and the conversion worker pool.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/marketpulse/engine/internal/domain"
)

// QueuedEvent wraps an event with its computed priority and arrival order.
// It exists only while the event sits in the queue.
type QueuedEvent struct {
	Event      domain.Event
	Priority   float64
	EnqueuedAt time.Time
	seq        uint64
}

// less orders the tree so that the front item is the highest-priority event,
// with ties broken by arrival order (FIFO within a priority band).
func less(a, b QueuedEvent) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// PriorityQueue is a bounded, thread-safe ordered queue. Add never blocks:
// past capacity the lowest-priority pending event is dropped and the
// overflow counter incremented. Only Collect blocks, and only up to its
// timeout.
type PriorityQueue struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[QueuedEvent]
	capacity int
	scorer   Scorer
	seq      uint64
	overflow uint64
	closed   bool
	notify   chan struct{} // closed and replaced on every Add, to wake collectors
	logger   *slog.Logger
}

// New creates a PriorityQueue with the given hard capacity.
func New(capacity int, scorer Scorer, logger *slog.Logger) *PriorityQueue {
	return &PriorityQueue{
		tree:     btree.NewBTreeG[QueuedEvent](less),
		capacity: capacity,
		scorer:   scorer,
		notify:   make(chan struct{}),
		logger:   logger.With(slog.String("component", "priority_queue")),
	}
}

// Add scores the event and inserts it. It returns domain.ErrQueueClosed
// after Shutdown. When the queue is at capacity the lowest-priority pending
// event is dropped, never the producer blocked.
func (q *PriorityQueue) Add(ev domain.Event) error {
	now := time.Now().UTC()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	q.seq++
	item := QueuedEvent{
		Event:      ev,
		Priority:   q.scorer.Score(ev),
		EnqueuedAt: now,
		seq:        q.seq,
	}
	q.tree.Set(item)

	if q.tree.Len() > q.capacity {
		if worst, ok := q.tree.Max(); ok {
			q.tree.Delete(worst)
			q.overflow++
		}
	}

	// Wake any blocked collectors.
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
	return nil
}

// Collect pops up to max events whose kind is in kinds (nil means all),
// blocking up to timeout while the queue has nothing matching. A partial or
// empty result at timeout is valid, not an error. After Shutdown, Collect
// first drains what remains and then returns domain.ErrQueueClosed.
func (q *PriorityQueue) Collect(ctx context.Context, max int, timeout time.Duration, kinds []domain.EventKind) ([]QueuedEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		out := q.takeLocked(max, kinds)
		closed := q.closed
		wait := q.notify
		q.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		if closed {
			return nil, domain.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-wait:
			// New event arrived (or shutdown); re-check.
		}
	}
}

// takeLocked removes and returns up to max matching events in priority
// order. Non-matching events stay queued. Caller holds q.mu.
func (q *PriorityQueue) takeLocked(max int, kinds []domain.EventKind) []QueuedEvent {
	if q.tree.Len() == 0 {
		return nil
	}

	var matched []QueuedEvent
	q.tree.Scan(func(item QueuedEvent) bool {
		if kindMatches(item.Event.Meta().Kind, kinds) {
			matched = append(matched, item)
		}
		return len(matched) < max
	})
	for _, item := range matched {
		q.tree.Delete(item)
	}
	return matched
}

func kindMatches(k domain.EventKind, kinds []domain.EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// Shutdown stops accepting events and wakes all blocked collectors. It is
// idempotent. Events still queued remain collectable until drained.
func (q *PriorityQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
	q.notify = make(chan struct{})
	q.logger.Info("priority queue shut down",
		slog.Int("pending", q.tree.Len()),
		slog.Uint64("overflow_total", q.overflow),
	)
}

// Len returns the number of pending events.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Overflow returns how many events were dropped at capacity.
func (q *PriorityQueue) Overflow() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

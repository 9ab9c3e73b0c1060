package pipeline

import (
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

const activityBuckets = 60

// ActivityTracker maintains the rolling tick counters and the session event
// totals that go out with every snapshot. Tick counts live in 60 one-second
// buckets so the 10s and 60s windows are exact without keeping per-tick
// timestamps.
type ActivityTracker struct {
	mu         sync.Mutex
	buckets    [activityBuckets]int
	bucketAt   [activityBuckets]int64 // unix second each bucket last counted
	totalHighs int
	totalLows  int
	now        func() time.Time
}

// NewActivityTracker creates an ActivityTracker. now is injectable for tests
// and defaults to time.Now when nil.
func NewActivityTracker(now func() time.Time) *ActivityTracker {
	if now == nil {
		now = time.Now
	}
	return &ActivityTracker{now: now}
}

// RecordTick counts one inbound tick against the current second.
func (a *ActivityTracker) RecordTick() {
	sec := a.now().Unix()
	idx := int(sec % activityBuckets)

	a.mu.Lock()
	if a.bucketAt[idx] != sec {
		a.buckets[idx] = 0
		a.bucketAt[idx] = sec
	}
	a.buckets[idx]++
	a.mu.Unlock()
}

// RecordEvent bumps the session total matching the event kind. Only new
// highs and lows contribute to the totals.
func (a *ActivityTracker) RecordEvent(ev domain.Event) {
	hl, ok := ev.(domain.HighLowEvent)
	if !ok {
		return
	}
	a.mu.Lock()
	if hl.IsHigh {
		a.totalHighs++
	} else {
		a.totalLows++
	}
	a.mu.Unlock()
}

// Summary reports the current session totals and rolling tick counts.
func (a *ActivityTracker) Summary() domain.ActivitySummary {
	sec := a.now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	var ticks10, ticks60 int
	for i := 0; i < activityBuckets; i++ {
		age := sec - a.bucketAt[i]
		if age < 0 || age >= activityBuckets {
			continue
		}
		ticks60 += a.buckets[i]
		if age < 10 {
			ticks10 += a.buckets[i]
		}
	}
	return domain.ActivitySummary{
		TotalHighs: a.totalHighs,
		TotalLows:  a.totalLows,
		Ticks10Sec: ticks10,
		Ticks60Sec: ticks60,
	}
}

// Reset clears the session totals. Rolling tick counts are left alone since
// they describe feed throughput, not session state.
func (a *ActivityTracker) Reset() {
	a.mu.Lock()
	a.totalHighs = 0
	a.totalLows = 0
	a.mu.Unlock()
}

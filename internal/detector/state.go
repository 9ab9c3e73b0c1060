// Package detector implements per-symbol session state tracking and the
// three event detectors (session high/low, price/volume surge, multi-window
// trend), coordinated by Detector.
package detector

import (
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// pricePoint is one observation in a symbol's rolling surge window.
type pricePoint struct {
	price  float64
	volume int64
	at     time.Time
}

// surgeState tracks the active-surge flag and TTL dedup for one symbol.
type surgeState struct {
	active     bool
	expiresAt  time.Time
	dailyCount int
	magnitude  float64
	trigger    domain.TriggerType
}

// windowState is one trend scoring window: a decayed average of directional
// price moves plus the direction it last resolved to.
type windowState struct {
	score     float64
	direction domain.Direction // "" until the score first clears hysteresis
}

// trendState tracks the three scoring windows and flip bookkeeping for one
// symbol.
type trendState struct {
	short, medium, long windowState

	age              int     // ticks since the last medium-window flip
	extremeSinceFlip float64 // best price in the trend direction since the flip
	retracing        bool    // a retracement event has fired for this pullback
}

// symbolState is the per-symbol state mutated by the detectors. It is owned
// by the detector subsystem and never escapes it; the coordinator holds
// st.mu for the whole of one tick so ticks for the same symbol are
// serialized while different symbols never contend.
type symbolState struct {
	mu sync.Mutex

	seeded      bool
	sessionHigh float64 // running extrema, absorb every accepted tick
	sessionLow  float64
	lastPrice   float64
	lastVolume  int64
	lastUpdate  time.Time

	// Emitted extremes: the values session high/low events were last
	// emitted at. percent_change is measured against these.
	emittedHigh   float64
	emittedLow    float64
	emittedHighAt time.Time
	emittedLowAt  time.Time
	highCount     int
	lowCount      int

	window []pricePoint // rolling surge window
	surge  surgeState
	trend  trendState
}

// seed initializes the state from the first tick of a session. No event is
// emitted for the seed tick; it only establishes the extrema.
func (st *symbolState) seed(t domain.Tick) {
	st.seeded = true
	st.sessionHigh = t.Price
	st.sessionLow = t.Price
	st.emittedHigh = t.Price
	st.emittedLow = t.Price
	st.lastPrice = t.Price
	st.lastVolume = t.Volume
	st.lastUpdate = t.Timestamp
}

// absorb folds an accepted tick into the running state after the detectors
// have inspected it. The extrema absorb the price unconditionally, so
// sessionLow <= lastPrice <= sessionHigh holds after every update.
func (st *symbolState) absorb(t domain.Tick) {
	if t.Price > st.sessionHigh {
		st.sessionHigh = t.Price
	}
	if t.Price < st.sessionLow {
		st.sessionLow = t.Price
	}
	st.lastPrice = t.Price
	st.lastVolume = t.Volume
	st.lastUpdate = t.Timestamp
}

// Store holds one symbolState per tracked symbol. Lookup takes a read lock;
// state mutation is guarded by the per-symbol mutex.
type Store struct {
	mu     sync.RWMutex
	states map[string]*symbolState
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[string]*symbolState)}
}

// get returns the state for symbol, creating it on first sight.
func (s *Store) get(symbol string) *symbolState {
	s.mu.RLock()
	st, ok := s.states[symbol]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[symbol]; ok {
		return st
	}
	st = &symbolState{}
	s.states[symbol] = st
	return st
}

// Reset drops all per-symbol state. Called on session transitions so the
// next tick of every symbol seeds fresh extrema and counters.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*symbolState)
}

// Extrema returns the running session extrema for symbol. ok is false when
// the symbol has not been seen this session.
func (s *Store) Extrema(symbol string) (high, low float64, ok bool) {
	s.mu.RLock()
	st, found := s.states[symbol]
	s.mu.RUnlock()
	if !found {
		return 0, 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessionHigh, st.sessionLow, st.seeded
}

// SurgeDailyCount returns the session surge count for symbol.
func (s *Store) SurgeDailyCount(symbol string) int {
	s.mu.RLock()
	st, found := s.states[symbol]
	s.mu.RUnlock()
	if !found {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.surge.dailyCount
}

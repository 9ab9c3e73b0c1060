// Package domain defines the core types and interfaces shared across the
// marketpulse engine: ticks, detected events, wire records, session phases,
// and the collaborator interfaces implemented by the cache, store, blob, and
// transport layers.
package domain

import "time"

// Tick is a single market update for one symbol. Ticks are ephemeral: they
// flow through the detector pipeline and are never persisted.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	VWAP      float64
	Timestamp time.Time
}

// Valid reports whether the tick carries usable values. Malformed ticks are
// rejected at the detector boundary so one bad symbol cannot corrupt state.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0 && t.Volume >= 0 && !t.Timestamp.IsZero()
}

package domain

import "time"

// SessionPhase is the current market session phase. Phases advance strictly
// forward through the trading day; extrema and counters reset on transitions.
type SessionPhase int

const (
	PhasePreMarket SessionPhase = iota
	PhaseRegular
	PhaseAfterHours
	PhaseClosed
)

// String returns the phase name used in logs and wire payloads.
func (p SessionPhase) String() string {
	switch p {
	case PhasePreMarket:
		return "pre_market"
	case PhaseRegular:
		return "regular"
	case PhaseAfterHours:
		return "after_hours"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionTransition is emitted by the session manager whenever the phase
// changes. Detectors consume it to clear per-symbol extrema and counters.
type SessionTransition struct {
	From SessionPhase
	To   SessionPhase
	At   time.Time
}

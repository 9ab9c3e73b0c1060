// Package session tracks the market session phase and signals phase
// transitions to the detector layer.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// Listener is notified on every phase transition. Listeners are invoked
// synchronously in registration order; they are expected to be fast (clearing
// in-memory state).
type Listener func(domain.SessionTransition)

// Schedule holds the four daily phase boundaries as "HH:MM" strings local to
// Location.
type Schedule struct {
	PreMarketOpen   string
	RegularOpen     string
	RegularClose    string
	AfterHoursClose string
	Location        string
}

// Manager is a timestamp-driven state machine over the daily phase cycle
// PRE_MARKET -> REGULAR -> AFTER_HOURS -> CLOSED -> PRE_MARKET. Transitions
// are monotonic and idempotent: re-observing the current phase is a no-op,
// and wall time moving backwards (e.g. an NTP correction) never induces a
// spurious transition.
type Manager struct {
	mu        sync.RWMutex
	phase     domain.SessionPhase
	observed  time.Time // latest timestamp seen, for monotonicity
	listeners []Listener

	loc      *time.Location
	preOpen  int // minutes from midnight
	regOpen  int
	regClose int
	ahClose  int
	interval time.Duration
	logger   *slog.Logger
}

// NewManager creates a Manager from the given schedule. The initial phase is
// derived from now so a process started mid-session begins in the right
// phase without firing a transition.
func NewManager(sched Schedule, checkInterval time.Duration, now time.Time, logger *slog.Logger) (*Manager, error) {
	loc, err := time.LoadLocation(sched.Location)
	if err != nil {
		return nil, fmt.Errorf("session: load location %q: %w", sched.Location, err)
	}

	m := &Manager{
		loc:      loc,
		interval: checkInterval,
		logger:   logger.With(slog.String("component", "session_manager")),
	}
	if m.preOpen, err = parseClock(sched.PreMarketOpen); err != nil {
		return nil, fmt.Errorf("session: pre_market_open: %w", err)
	}
	if m.regOpen, err = parseClock(sched.RegularOpen); err != nil {
		return nil, fmt.Errorf("session: regular_open: %w", err)
	}
	if m.regClose, err = parseClock(sched.RegularClose); err != nil {
		return nil, fmt.Errorf("session: regular_close: %w", err)
	}
	if m.ahClose, err = parseClock(sched.AfterHoursClose); err != nil {
		return nil, fmt.Errorf("session: after_hours_close: %w", err)
	}

	m.phase = m.phaseFor(now)
	m.observed = now
	return m, nil
}

// parseClock converts "HH:MM" to minutes from midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Subscribe registers a transition listener. Must be called before Run.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Phase returns the current session phase.
func (m *Manager) Phase() domain.SessionPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// phaseFor derives the phase at the given wall time from the schedule.
func (m *Manager) phaseFor(t time.Time) domain.SessionPhase {
	local := t.In(m.loc)
	min := local.Hour()*60 + local.Minute()
	switch {
	case min < m.preOpen:
		return domain.PhaseClosed
	case min < m.regOpen:
		return domain.PhasePreMarket
	case min < m.regClose:
		return domain.PhaseRegular
	case min < m.ahClose:
		return domain.PhaseAfterHours
	default:
		return domain.PhaseClosed
	}
}

// Observe advances the state machine to the phase implied by ts. Timestamps
// earlier than the latest one already observed are discarded so an
// out-of-order clock cannot roll the phase back.
func (m *Manager) Observe(ts time.Time) {
	m.mu.Lock()
	if ts.Before(m.observed) {
		m.mu.Unlock()
		return
	}
	m.observed = ts

	next := m.phaseFor(ts)
	if next == m.phase {
		m.mu.Unlock()
		return
	}

	tr := domain.SessionTransition{From: m.phase, To: next, At: ts}
	m.phase = next
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("session transition",
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()),
		slog.Time("at", tr.At),
	)
	for _, l := range listeners {
		l(tr)
	}
}

// Run drives Observe from a wall-clock ticker until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("session manager started", slog.String("phase", m.Phase().String()))
	defer m.logger.Info("session manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.Observe(now)
		}
	}
}

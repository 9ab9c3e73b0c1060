package detector

import (
	"context"
	"log/slog"

	"github.com/marketpulse/engine/internal/domain"
)

// PhaseFunc reports the current session phase. Detection is skipped entirely
// while the market is closed.
type PhaseFunc func() domain.SessionPhase

// Sink receives every event a tick produced. It must not block: the queue
// behind it relies on bounded-drop semantics, never on backpressure.
type Sink func(domain.Event)

// Config bundles the three detector configurations.
type Config struct {
	HighLow HighLowConfig
	Surge   SurgeConfig
	Trend   TrendConfig
}

// Detector routes each tick through the high/low, surge, and trend detectors
// in that fixed order and forwards resulting events to the sink. A failure in
// one detector never prevents the other two from running, and never affects
// other symbols.
type Detector struct {
	store   *Store
	highlow *HighLow
	surge   *Surge
	trend   *Trend
	phase   PhaseFunc
	sink    Sink
	logger  *slog.Logger
}

// New creates a Detector with a fresh state store.
func New(cfg Config, phase PhaseFunc, sink Sink, logger *slog.Logger) *Detector {
	return &Detector{
		store:   NewStore(),
		highlow: NewHighLow(cfg.HighLow),
		surge:   NewSurge(cfg.Surge),
		trend:   NewTrend(cfg.Trend),
		phase:   phase,
		sink:    sink,
		logger:  logger.With(slog.String("component", "detector")),
	}
}

// Store exposes the state store for session reset wiring and tests.
func (d *Detector) Store() *Store {
	return d.store
}

// OnSessionTransition clears all per-symbol state. Registered with the
// session manager.
func (d *Detector) OnSessionTransition(tr domain.SessionTransition) {
	d.store.Reset()
	d.logger.Info("detector state reset",
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()),
	)
}

// HandleTick runs one tick through all three detectors. Malformed ticks are
// logged and skipped; the pipeline continues for every other symbol and tick.
func (d *Detector) HandleTick(ctx context.Context, t domain.Tick) {
	if !t.Valid() {
		d.logger.Warn("skipping invalid tick",
			slog.String("symbol", t.Symbol),
			slog.Float64("price", t.Price),
		)
		return
	}
	if d.phase() == domain.PhaseClosed {
		return
	}

	st := d.store.get(t.Symbol)
	st.mu.Lock()

	if !st.seeded {
		// First tick of a session seeds the extrema without emitting.
		st.seed(t)
		d.inspectSurge(st, t)
		st.mu.Unlock()
		return
	}

	events := make([]domain.Event, 0, 3)
	if ev := d.inspectHighLow(st, t); ev != nil {
		events = append(events, *ev)
	}
	if ev := d.inspectSurge(st, t); ev != nil {
		events = append(events, *ev)
	}
	if ev := d.inspectTrend(st, t); ev != nil {
		events = append(events, *ev)
	}
	st.absorb(t)
	st.mu.Unlock()

	for _, ev := range events {
		d.sink(ev)
	}
}

// The inspect wrappers contain per-detector failures: a panic in one
// detector is logged and treated as "no event" so the remaining detectors
// still run for this tick.

func (d *Detector) inspectHighLow(st *symbolState, t domain.Tick) (ev *domain.HighLowEvent) {
	defer d.contain(t, "highlow")
	return d.highlow.Inspect(st, t)
}

func (d *Detector) inspectSurge(st *symbolState, t domain.Tick) (ev *domain.SurgeEvent) {
	defer d.contain(t, "surge")
	return d.surge.Inspect(st, t)
}

func (d *Detector) inspectTrend(st *symbolState, t domain.Tick) (ev *domain.TrendEvent) {
	defer d.contain(t, "trend")
	return d.trend.Inspect(st, t)
}

func (d *Detector) contain(t domain.Tick, which string) {
	if r := recover(); r != nil {
		d.logger.Error("detector failure, tick skipped for this detector",
			slog.String("detector", which),
			slog.String("symbol", t.Symbol),
			slog.Any("panic", r),
		)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// SchedulerConfig holds the emission cadence.
type SchedulerConfig struct {
	Interval      time.Duration
	SignalChannel string
	SignalStream  string
}

// Scheduler drives the fixed-cadence emission cycle. Every interval it
// drains the buffer, assembles one snapshot, persists the records to the
// audit store, publishes to the signal bus, and delivers a filtered view to
// each connected subscriber. All sinks are optional; a nil one is skipped.
type Scheduler struct {
	cfg      SchedulerConfig
	buffer   *Buffer
	activity *ActivityTracker
	bcast    broadcaster
	store    domain.EventStore
	bus      domain.SignalBus
	logger   *slog.Logger

	cycles  atomic.Uint64
	skipped atomic.Uint64
}

// NewScheduler creates a Scheduler. directory, filter, and transport must be
// set together or not at all; store and bus are independent optional sinks.
func NewScheduler(
	cfg SchedulerConfig,
	buffer *Buffer,
	activity *ActivityTracker,
	directory domain.SubscriberDirectory,
	filter domain.FilterService,
	transport domain.BroadcastTransport,
	store domain.EventStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Scheduler {
	log := logger.With(slog.String("component", "emission_scheduler"))
	return &Scheduler{
		cfg:      cfg,
		buffer:   buffer,
		activity: activity,
		bcast: broadcaster{
			directory: directory,
			filter:    filter,
			transport: transport,
			logger:    log,
		},
		store:  store,
		bus:    bus,
		logger: log,
	}
}

// Run executes cycles until ctx is cancelled. A cycle that overruns the
// interval is logged and the missed ticks coalesce into the next cycle; two
// cycles never run concurrently.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("emission scheduler started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("emission scheduler stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			s.Cycle(ctx)
			if elapsed := time.Since(start); elapsed > s.cfg.Interval {
				s.logger.Warn("emission cycle overran interval",
					slog.Duration("elapsed", elapsed),
					slog.Duration("interval", s.cfg.Interval),
				)
			}
		}
	}
}

// Cycle performs one full drain-assemble-deliver pass. It is exported so
// shutdown can run one final flush after the workers have drained the queue.
func (s *Scheduler) Cycle(ctx context.Context) {
	s.cycles.Add(1)
	snap := s.assemble()
	if snap.Empty() {
		s.skipped.Add(1)
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("snapshot marshal failed", slog.String("error", err.Error()))
		return
	}

	s.persist(ctx, snap)
	s.publish(ctx, payload)
	s.bcast.broadcast(ctx, snap, payload)
}

// assemble drains every category and splits the directional ones.
func (s *Scheduler) assemble() domain.Snapshot {
	drained := s.buffer.DrainAll(true)
	snap := domain.Snapshot{
		Highs:    drained[domain.CategoryHighs],
		Lows:     drained[domain.CategoryLows],
		Trending: splitByDirection(drained[domain.CategoryTrending]),
		Surging:  splitByDirection(drained[domain.CategorySurging]),
	}
	if s.activity != nil {
		snap.Activity = s.activity.Summary()
	}
	return snap
}

// splitByDirection buckets records into up/down sections. Trending records
// carry arrow directions, surging records carry plain ones; both map the
// same way.
func splitByDirection(recs []domain.WireRecord) domain.DirectionalRecords {
	var out domain.DirectionalRecords
	for _, rec := range recs {
		switch rec.Direction() {
		case string(domain.DirectionDown), arrowDown:
			out.Down = append(out.Down, rec)
		default:
			out.Up = append(out.Up, rec)
		}
	}
	return out
}

// persist appends the cycle's records to the audit store. Rows that fail to
// flatten are logged and skipped; a store error loses only audit history,
// never delivery.
func (s *Scheduler) persist(ctx context.Context, snap domain.Snapshot) {
	if s.store == nil {
		return
	}
	var rows []domain.EventRow
	appendRows := func(category domain.Category, recs []domain.WireRecord) {
		for _, rec := range recs {
			row, err := RowFromRecord(category, rec)
			if err != nil {
				s.logger.Warn("audit row skipped",
					slog.String("category", string(category)),
					slog.String("error", err.Error()),
				)
				continue
			}
			rows = append(rows, row)
		}
	}
	appendRows(domain.CategoryHighs, snap.Highs)
	appendRows(domain.CategoryLows, snap.Lows)
	appendRows(domain.CategoryTrending, append(snap.Trending.Up, snap.Trending.Down...))
	appendRows(domain.CategorySurging, append(snap.Surging.Up, snap.Surging.Down...))

	if len(rows) == 0 {
		return
	}
	if err := s.store.InsertBatch(ctx, rows); err != nil {
		s.logger.Error("audit insert failed",
			slog.Int("rows", len(rows)),
			slog.String("error", err.Error()),
		)
	}
}

// publish fans the snapshot out on the signal bus channel and stream.
func (s *Scheduler) publish(ctx context.Context, payload []byte) {
	if s.bus == nil {
		return
	}
	if s.cfg.SignalChannel != "" {
		if err := s.bus.Publish(ctx, s.cfg.SignalChannel, payload); err != nil {
			s.logger.Error("signal publish failed", slog.String("error", err.Error()))
		}
	}
	if s.cfg.SignalStream != "" {
		if err := s.bus.StreamAppend(ctx, s.cfg.SignalStream, payload); err != nil {
			s.logger.Error("signal stream append failed", slog.String("error", err.Error()))
		}
	}
}

// Cycles returns how many cycles have run and how many were skipped empty.
func (s *Scheduler) Cycles() (total, skipped uint64) {
	return s.cycles.Load(), s.skipped.Load()
}

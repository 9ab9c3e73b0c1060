package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketpulse/engine/internal/detector"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/feed"
	"github.com/marketpulse/engine/internal/pipeline"
	"github.com/marketpulse/engine/internal/queue"
	"github.com/marketpulse/engine/internal/server"
	"github.com/marketpulse/engine/internal/server/handler"
	"github.com/marketpulse/engine/internal/server/ws"
	"github.com/marketpulse/engine/internal/session"
	"github.com/marketpulse/engine/internal/universe"
)

const (
	// snapshotChannel and snapshotStream are the signal bus destinations for
	// emitted snapshots in full mode.
	snapshotChannel = "ch:snapshots"
	snapshotStream  = "stream:snapshots"

	// universeRefreshInterval is how often the in-process core symbol set is
	// reloaded from the universe cache.
	universeRefreshInterval = 30 * time.Second
)

// PipelineMode runs ingestion, detection, and broadcast entirely in memory:
// no audit store, no signal bus, no cold storage.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode")
	return a.runPipeline(ctx, deps)
}

// FullMode runs the pipeline with the audit store, signal bus, and the
// retention cron attached.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runPipeline(ctx, deps)
}

// RelayMode runs a broadcast replica: no feed, no detection, no storage. It
// follows the snapshots another instance publishes on the signal bus and
// serves its own WebSocket subscribers, so the broadcast surface scales
// horizontally.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode")
	cfg := a.cfg

	hub := ws.NewHub(deps.UniverseCache, a.logger)
	relay := pipeline.NewRelay(pipeline.RelayConfig{
		Channel: snapshotChannel,
		Stream:  snapshotStream,
	}, deps.SignalBus, hub, hub, hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })

	if cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Universe:  handler.NewUniverseHandler(deps.UniverseCache, a.logger),
			Snapshots: handler.NewSnapshotHandler(deps.SignalBus, snapshotStream, a.logger),
		}
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, handlers, hub, a.logger)
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	hub.Shutdown()
	return err
}

// runPipeline wires the tick-to-snapshot pipeline and blocks until shutdown.
// Optional dependencies (EventStore, SignalBus, Archiver) are attached when
// the mode wired them and skipped otherwise.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	startedAt := time.Now().UTC()

	// Session manager.
	mgr, err := session.NewManager(session.Schedule{
		PreMarketOpen:   cfg.Session.PreMarketOpen,
		RegularOpen:     cfg.Session.RegularOpen,
		RegularClose:    cfg.Session.RegularClose,
		AfterHoursClose: cfg.Session.AfterHoursClose,
		Location:        cfg.Session.Location,
	}, cfg.Session.CheckInterval.Duration, time.Now(), a.logger)
	if err != nil {
		return err
	}

	// Core universe set, kept fresh from the cache.
	coreSet := universe.NewSet(cfg.Feed.CoreSymbols)
	refresher := universe.NewRefresher(coreSet, deps.UniverseCache, universeRefreshInterval, a.logger)

	// Priority queue.
	q := queue.New(cfg.Queue.Capacity, queue.Scorer{
		CoreBoost: cfg.Queue.CoreBoost,
		IsCore:    coreSet.Contains,
	}, a.logger)

	// Activity tracking and detection.
	activity := pipeline.NewActivityTracker(nil)
	det := detector.New(detector.Config{
		HighLow: detector.HighLowConfig{
			MinPriceChange: cfg.Detector.HighLow.MinPriceChange,
			MinVolume:      cfg.Detector.HighLow.MinVolume,
			ReversalWindow: cfg.Detector.HighLow.ReversalWindow.Duration,
			ReversalRatio:  cfg.Detector.HighLow.ReversalRatio,
		},
		Surge: detector.SurgeConfig{
			Window:            cfg.Detector.Surge.Window.Duration,
			PriceMagnitudePct: cfg.Detector.Surge.PriceMagnitudePct,
			VolumeMultiplier:  cfg.Detector.Surge.VolumeMultiplier,
			TTL:               cfg.Detector.Surge.TTL.Duration,
			StrongThreshold:   cfg.Detector.Surge.StrongThreshold,
			MaxDailyPerSymbol: cfg.Detector.Surge.MaxDailyPerSymbol,
		},
		Trend: detector.TrendConfig{
			ShortWindow:    cfg.Detector.Trend.ShortWindow,
			MediumWindow:   cfg.Detector.Trend.MediumWindow,
			LongWindow:     cfg.Detector.Trend.LongWindow,
			Hysteresis:     cfg.Detector.Trend.Hysteresis,
			RetracementPct: cfg.Detector.Trend.RetracementPct,
		},
	}, mgr.Phase, func(ev domain.Event) {
		activity.RecordEvent(ev)
		if err := q.Add(ev); err != nil {
			a.logger.Debug("event dropped after shutdown", slog.String("error", err.Error()))
		}
	}, a.logger)

	mgr.Subscribe(det.OnSessionTransition)
	mgr.Subscribe(func(domain.SessionTransition) { activity.Reset() })

	// Conversion pool and buffer.
	buf := pipeline.NewBuffer(cfg.Pipeline.BufferCapacity)
	pool := pipeline.NewPool(pipeline.PoolConfig{
		Workers:        cfg.Pipeline.Workers,
		CollectMax:     cfg.Pipeline.CollectMax,
		CollectTimeout: cfg.Pipeline.CollectTimeout.Duration,
	}, q, buf, a.logger)

	// Broadcast hub and emission scheduler.
	hub := ws.NewHub(deps.UniverseCache, a.logger)
	scheduler := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Interval:      cfg.Pipeline.EmitInterval.Duration,
		SignalChannel: snapshotChannel,
		SignalStream:  snapshotStream,
	}, buf, activity, hub, hub, hub, deps.EventStore, deps.SignalBus, a.logger)

	// Tick feed.
	tickFeed := feed.NewTickFeed(cfg.Feed.WSURL, cfg.Feed.Symbols, func(ctx context.Context, t domain.Tick) {
		activity.RecordTick()
		det.HandleTick(ctx, t)
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error {
		defer tickFeed.Close()
		return tickFeed.Run(gctx)
	})
	g.Go(func() error { return scheduler.Run(gctx) })

	// The pool outlives the group context so in-flight events survive
	// shutdown: it exits only after the queue is shut down and drained.
	g.Go(func() error { return pool.Run(context.WithoutCancel(gctx)) })
	g.Go(func() error {
		<-gctx.Done()
		tickFeed.Close()
		q.Shutdown()
		return nil
	})

	// Retention cron, full mode only.
	if deps.Archiver != nil {
		retention := pipeline.NewRetentionRunner(deps.Archiver, cfg.Pipeline.ArchiveRetentionDays, a.logger)
		g.Go(func() error { return retention.RunCron(gctx, cfg.Pipeline.ArchiveCron) })
	}

	// API server.
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = a.buildServer(deps, q, buf, tickFeed, scheduler, mgr, hub, startedAt)
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// Final flush: the workers have drained the queue by now; emit whatever
	// reached the buffer so converted events are not lost.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	scheduler.Cycle(flushCtx)
	cancel()
	hub.Shutdown()

	return err
}

// pipelineStats adapts the live pipeline components to the status handler.
type pipelineStats struct {
	queue     *queue.PriorityQueue
	buffer    *pipeline.Buffer
	feed      *feed.TickFeed
	scheduler *pipeline.Scheduler
	session   *session.Manager
	hub       *ws.Hub
}

func (s *pipelineStats) QueueLen() int                            { return s.queue.Len() }
func (s *pipelineStats) QueueOverflow() uint64                    { return s.queue.Overflow() }
func (s *pipelineStats) BufferLen(c domain.Category) int          { return s.buffer.Len(c) }
func (s *pipelineStats) BufferOverflow(c domain.Category) uint64  { return s.buffer.Overflow(c) }
func (s *pipelineStats) FeedStats() (received, dropped uint64)    { return s.feed.Stats() }
func (s *pipelineStats) SchedulerCycles() (total, skipped uint64) { return s.scheduler.Cycles() }
func (s *pipelineStats) SessionPhase() string                     { return s.session.Phase().String() }
func (s *pipelineStats) ClientCount() int                         { return s.hub.ClientCount() }

func (a *App) buildServer(
	deps *Dependencies,
	q *queue.PriorityQueue,
	buf *pipeline.Buffer,
	tickFeed *feed.TickFeed,
	scheduler *pipeline.Scheduler,
	mgr *session.Manager,
	hub *ws.Hub,
	startedAt time.Time,
) *server.Server {
	stats := &pipelineStats{
		queue:     q,
		buffer:    buf,
		feed:      tickFeed,
		scheduler: scheduler,
		session:   mgr,
		hub:       hub,
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(stats, startedAt, a.logger),
	}
	if deps.EventStore != nil {
		handlers.Events = handler.NewEventHandler(deps.EventStore, a.logger)
	}
	if deps.UniverseCache != nil {
		handlers.Universe = handler.NewUniverseHandler(deps.UniverseCache, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	if deps.SignalBus != nil {
		handlers.Snapshots = handler.NewSnapshotHandler(deps.SignalBus, snapshotStream, a.logger)
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)
}

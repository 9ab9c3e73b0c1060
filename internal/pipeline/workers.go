package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/queue"
)

// PoolConfig holds the conversion worker pool parameters.
type PoolConfig struct {
	Workers        int
	CollectMax     int
	CollectTimeout time.Duration
}

// Pool is the fixed-size conversion worker pool. Each worker loops on
// PriorityQueue.Collect, converts the typed events it received to wire
// records, and pushes them into the buffer. Conversion failures are logged
// and the event dropped; nothing partial is ever forwarded.
type Pool struct {
	cfg    PoolConfig
	queue  *queue.PriorityQueue
	buffer *Buffer
	logger *slog.Logger
}

// NewPool creates a Pool reading from q and writing to buf.
func NewPool(cfg PoolConfig, q *queue.PriorityQueue, buf *Buffer, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		queue:  q,
		buffer: buf,
		logger: logger.With(slog.String("component", "conversion_pool")),
	}
}

// Run starts the workers and blocks until they all exit. Workers exit when
// the queue is shut down and drained, or when ctx is cancelled; a worker
// always finishes converting its current batch before exiting, so dequeued
// events are never lost.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("conversion pool started", slog.Int("workers", p.cfg.Workers))
	defer p.logger.Info("conversion pool stopped")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(gctx, worker)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	log := p.logger.With(slog.Int("worker", worker))
	for {
		items, err := p.queue.Collect(ctx, p.cfg.CollectMax, p.cfg.CollectTimeout, nil)
		if len(items) > 0 {
			p.convertBatch(items, log)
		}
		switch {
		case err == nil:
			// Timeout with no items is a normal idle cycle.
		case errors.Is(err, domain.ErrQueueClosed):
			log.Debug("queue closed, worker exiting")
			return nil
		default:
			return err
		}
	}
}

// convertBatch converts every item in the batch, even when earlier ones
// fail.
func (p *Pool) convertBatch(items []queue.QueuedEvent, log *slog.Logger) {
	for _, item := range items {
		category, rec, err := Convert(item.Event)
		if err != nil {
			log.Warn("conversion failed, event dropped", slog.String("error", err.Error()))
			continue
		}
		if err := p.buffer.Push(category, rec); err != nil {
			log.Warn("buffer push failed, record dropped",
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
		}
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/marketpulse/engine/internal/domain"
)

// defaultCatchUpBatch bounds how many stream entries one read returns.
const defaultCatchUpBatch = 128

// RelayConfig names the signal bus destinations the relay follows.
type RelayConfig struct {
	Channel      string
	Stream       string
	CatchUpBatch int
}

// Relay turns a process into a broadcast replica: it follows the snapshots an
// emission scheduler elsewhere publishes on the signal bus and delivers them
// to this process's own subscribers. Delivery is driven by the durable
// stream, so entries missed while a pub/sub wakeup was in flight are still
// forwarded in order; the channel subscription only decides when to read.
type Relay struct {
	cfg    RelayConfig
	bus    domain.SignalBus
	bcast  broadcaster
	logger *slog.Logger

	lastID    string
	forwarded atomic.Uint64
}

// NewRelay creates a Relay that fans snapshots out through the given
// directory, filter, and transport.
func NewRelay(
	cfg RelayConfig,
	bus domain.SignalBus,
	directory domain.SubscriberDirectory,
	filter domain.FilterService,
	transport domain.BroadcastTransport,
	logger *slog.Logger,
) *Relay {
	if cfg.CatchUpBatch <= 0 {
		cfg.CatchUpBatch = defaultCatchUpBatch
	}
	log := logger.With(slog.String("component", "bus_relay"))
	return &Relay{
		cfg: cfg,
		bus: bus,
		bcast: broadcaster{
			directory: directory,
			filter:    filter,
			transport: transport,
			logger:    log,
		},
		logger: log,
		lastID: "0-0",
	}
}

// Run follows the bus until ctx is cancelled. The relay starts at the current
// stream tail; snapshots published before startup are not replayed.
func (r *Relay) Run(ctx context.Context) error {
	// Seek before subscribing: an entry appended between the two is picked up
	// by the next wakeup instead of being skipped.
	if err := r.seekTail(ctx); err != nil {
		return err
	}
	sub, err := r.bus.Subscribe(ctx, r.cfg.Channel)
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.cfg.Channel, err)
	}

	r.logger.Info("bus relay started",
		slog.String("channel", r.cfg.Channel),
		slog.String("stream", r.cfg.Stream),
		slog.String("start_id", r.lastID),
	)
	defer r.logger.Info("bus relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub:
			if !ok {
				return fmt.Errorf("relay: subscription to %s closed", r.cfg.Channel)
			}
			if err := r.forward(ctx); err != nil {
				r.logger.Warn("stream read failed", slog.String("error", err.Error()))
			}
		}
	}
}

// seekTail walks the retained stream to find the newest entry ID without
// delivering anything.
func (r *Relay) seekTail(ctx context.Context) error {
	for {
		msgs, err := r.bus.StreamRead(ctx, r.cfg.Stream, r.lastID, r.cfg.CatchUpBatch)
		if err != nil {
			return fmt.Errorf("relay: seek stream %s: %w", r.cfg.Stream, err)
		}
		if len(msgs) == 0 {
			return nil
		}
		r.lastID = msgs[len(msgs)-1].ID
	}
}

// forward drains every stream entry past lastID and broadcasts each snapshot.
// A malformed payload is skipped, not fatal.
func (r *Relay) forward(ctx context.Context) error {
	for {
		msgs, err := r.bus.StreamRead(ctx, r.cfg.Stream, r.lastID, r.cfg.CatchUpBatch)
		if err != nil {
			return fmt.Errorf("relay: read stream %s: %w", r.cfg.Stream, err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			r.lastID = msg.ID

			var snap domain.Snapshot
			if err := json.Unmarshal(msg.Payload, &snap); err != nil {
				r.logger.Warn("malformed snapshot skipped",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.bcast.broadcast(ctx, snap, msg.Payload)
			r.forwarded.Add(1)
		}
	}
}

// Forwarded returns how many snapshots the relay has delivered downstream.
func (r *Relay) Forwarded() uint64 {
	return r.forwarded.Load()
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/marketpulse/engine/internal/domain"
)

// broadcaster delivers one snapshot to every connected subscriber, shaped by
// each subscriber's symbol filter. The emission scheduler and the bus relay
// share it so both surfaces apply identical filtering and failure isolation.
type broadcaster struct {
	directory domain.SubscriberDirectory
	filter    domain.FilterService
	transport domain.BroadcastTransport
	logger    *slog.Logger
}

// broadcast delivers a per-subscriber filtered view. One subscriber's
// failure or panic never blocks delivery to the rest of the cycle.
func (b *broadcaster) broadcast(ctx context.Context, snap domain.Snapshot, full []byte) {
	if b.directory == nil || b.transport == nil {
		return
	}
	for _, id := range b.directory.Subscribers(ctx) {
		b.deliver(ctx, id, snap, full)
	}
}

func (b *broadcaster) deliver(ctx context.Context, subscriberID string, snap domain.Snapshot, full []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber delivery panicked",
				slog.String("subscriber", subscriberID),
				slog.Any("panic", r),
			)
		}
	}()

	payload := full
	if b.filter != nil {
		view := b.filterView(ctx, subscriberID, snap)
		if view.Empty() {
			return
		}
		bytes, err := json.Marshal(view)
		if err != nil {
			b.logger.Error("filtered snapshot marshal failed",
				slog.String("subscriber", subscriberID),
				slog.String("error", err.Error()),
			)
			return
		}
		payload = bytes
	}

	if err := b.transport.Emit(ctx, subscriberID, payload); err != nil {
		b.logger.Warn("snapshot delivery failed",
			slog.String("subscriber", subscriberID),
			slog.String("error", err.Error()),
		)
	}
}

// filterView keeps only the records the subscriber's filter admits. The
// activity summary is shared, not filtered.
func (b *broadcaster) filterView(ctx context.Context, subscriberID string, snap domain.Snapshot) domain.Snapshot {
	keep := func(recs []domain.WireRecord) []domain.WireRecord {
		var out []domain.WireRecord
		for _, rec := range recs {
			if b.filter.Matches(ctx, subscriberID, rec) {
				out = append(out, rec)
			}
		}
		return out
	}
	return domain.Snapshot{
		Highs: keep(snap.Highs),
		Lows:  keep(snap.Lows),
		Trending: domain.DirectionalRecords{
			Up:   keep(snap.Trending.Up),
			Down: keep(snap.Trending.Down),
		},
		Surging: domain.DirectionalRecords{
			Up:   keep(snap.Surging.Up),
			Down: keep(snap.Surging.Down),
		},
		Activity: snap.Activity,
	}
}

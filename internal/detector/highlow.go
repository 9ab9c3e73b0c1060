package detector

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
)

// HighLowConfig holds the emission gates for session high/low events.
type HighLowConfig struct {
	// MinPriceChange is the minimum absolute move from the previously
	// emitted extreme for a candidate to become an event.
	MinPriceChange float64
	// MinVolume is the minimum tick volume for emission.
	MinVolume int64
	// ReversalWindow is how recently the opposite extreme must have been
	// emitted for the new event to qualify as a V-reversal.
	ReversalWindow time.Duration
	// ReversalRatio is the minimum intervening swing, in percent of the
	// prior extreme, for reversal tagging.
	ReversalRatio float64
}

// HighLow detects new session highs and lows. The caller must hold the
// symbol state's mutex.
type HighLow struct {
	cfg HighLowConfig
}

// NewHighLow creates a HighLow detector.
func NewHighLow(cfg HighLowConfig) *HighLow {
	return &HighLow{cfg: cfg}
}

// Inspect examines one tick against the symbol's state. It returns a
// HighLowEvent when the tick sets a new session extreme that clears both the
// price-change and volume gates, and nil otherwise. Emitted extremes and
// counts are updated on emission; the running extrema are absorbed later by
// the coordinator.
func (d *HighLow) Inspect(st *symbolState, t domain.Tick) *domain.HighLowEvent {
	switch {
	case t.Price > st.sessionHigh:
		return d.inspectHigh(st, t)
	case t.Price < st.sessionLow:
		return d.inspectLow(st, t)
	default:
		return nil
	}
}

func (d *HighLow) inspectHigh(st *symbolState, t domain.Tick) *domain.HighLowEvent {
	old := st.emittedHigh
	if t.Price-old < d.cfg.MinPriceChange || t.Volume < d.cfg.MinVolume {
		return nil
	}

	st.highCount++
	ev := &domain.HighLowEvent{
		EventMeta: domain.EventMeta{
			ID:            uuid.New().String(),
			Symbol:        t.Symbol,
			Kind:          domain.KindHighLow,
			Price:         t.Price,
			Direction:     domain.DirectionUp,
			PercentChange: (t.Price - old) / old * 100,
			Volume:        t.Volume,
			VWAP:          t.VWAP,
			DetectedAt:    t.Timestamp,
		},
		IsHigh:      true,
		Count:       st.highCount,
		SessionHigh: t.Price,
		SessionLow:  st.sessionLow,
	}
	ev.Reversal = d.reversal(st.emittedLow, st.emittedLowAt, t, "V-bottom")

	st.emittedHigh = t.Price
	st.emittedHighAt = t.Timestamp
	return ev
}

func (d *HighLow) inspectLow(st *symbolState, t domain.Tick) *domain.HighLowEvent {
	old := st.emittedLow
	if old-t.Price < d.cfg.MinPriceChange || t.Volume < d.cfg.MinVolume {
		return nil
	}

	st.lowCount++
	ev := &domain.HighLowEvent{
		EventMeta: domain.EventMeta{
			ID:            uuid.New().String(),
			Symbol:        t.Symbol,
			Kind:          domain.KindHighLow,
			Price:         t.Price,
			Direction:     domain.DirectionDown,
			PercentChange: (t.Price - old) / old * 100,
			Volume:        t.Volume,
			VWAP:          t.VWAP,
			DetectedAt:    t.Timestamp,
		},
		IsHigh:      false,
		Count:       st.lowCount,
		SessionHigh: st.sessionHigh,
		SessionLow:  t.Price,
	}
	ev.Reversal = d.reversal(st.emittedHigh, st.emittedHighAt, t, "V-top")

	st.emittedLow = t.Price
	st.emittedLowAt = t.Timestamp
	return ev
}

// reversal returns ReversalInfo when the opposite extreme was emitted within
// the reversal window and the intervening swing is large enough. A new low
// shortly after a high is a V-top; a new high shortly after a low is a
// V-bottom.
func (d *HighLow) reversal(prevPrice float64, prevAt time.Time, t domain.Tick, typ string) *domain.ReversalInfo {
	if prevAt.IsZero() || prevPrice <= 0 {
		return nil
	}
	span := t.Timestamp.Sub(prevAt)
	if span < 0 || span > d.cfg.ReversalWindow {
		return nil
	}
	swing := t.Price - prevPrice
	if swing < 0 {
		swing = -swing
	}
	if swing/prevPrice*100 < d.cfg.ReversalRatio {
		return nil
	}
	return &domain.ReversalInfo{
		Type:          typ,
		TimeSpan:      span.Seconds(),
		PreviousPrice: prevPrice,
	}
}

package queue

import "github.com/marketpulse/engine/internal/domain"

// Base weights per event kind. Both-trigger surges outrank single-trigger
// ones; high/low and trend sit between.
const (
	baseHighLow     = 10.0
	baseTrend       = 8.0
	baseSurgeSingle = 6.0
	baseSurgeBoth   = 12.0

	reversalBonus    = 10.0
	strongSurgeBonus = 5.0
	strongTrendBonus = 3.0

	// percentChangeCap bounds the percent-change contribution so one
	// outlier move cannot dominate the queue forever.
	percentChangeCap = 50.0
)

// CoreFunc reports whether a symbol belongs to the operator-defined core
// watch universe.
type CoreFunc func(symbol string) bool

// Scorer computes insertion priorities. The formula is a monotonic policy,
// not a numeric contract: core-universe membership adds a fixed boost and
// event significance adds a bounded score.
type Scorer struct {
	CoreBoost float64
	IsCore    CoreFunc
}

// Score returns the priority for an event.
func (s Scorer) Score(ev domain.Event) float64 {
	meta := ev.Meta()

	p := significance(ev)
	if s.IsCore != nil && s.IsCore(meta.Symbol) {
		p += s.CoreBoost
	}
	return p
}

// significance combines kind weight, magnitude of the move, and event flags.
func significance(ev domain.Event) float64 {
	meta := ev.Meta()

	pct := meta.PercentChange
	if pct < 0 {
		pct = -pct
	}
	if pct > percentChangeCap {
		pct = percentChangeCap
	}

	switch e := ev.(type) {
	case domain.HighLowEvent:
		score := baseHighLow + pct
		if e.Reversal != nil {
			score += reversalBonus
		}
		return score
	case domain.SurgeEvent:
		score := baseSurgeSingle + pct
		if e.Trigger == domain.TriggerPriceAndVolume {
			score = baseSurgeBoth + pct
		}
		if e.Strength == domain.SurgeStrong {
			score += strongSurgeBonus
		}
		return score
	case domain.TrendEvent:
		score := baseTrend + pct
		if e.Strength == domain.TrendStrong {
			score += strongTrendBonus
		}
		return score
	default:
		return pct
	}
}

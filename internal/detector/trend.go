package detector

import (
	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
)

// TrendConfig holds the multi-window trend scoring parameters.
type TrendConfig struct {
	// ShortWindow, MediumWindow, LongWindow are decay lengths in ticks:
	// each window's score is an exponentially decayed average of percent
	// moves with smoothing 1/N.
	ShortWindow  int
	MediumWindow int
	LongWindow   int
	// Hysteresis is the score band around zero a window must clear before
	// its direction resolves, so noise does not flap the direction.
	Hysteresis float64
	// RetracementPct is the pullback against the dominant trend, in
	// percent from the post-flip extreme, that tags a retracement.
	RetracementPct float64
}

// Trend detects medium-window direction flips with short-window confirmation
// and long-window context. The caller must hold the symbol state's mutex.
type Trend struct {
	cfg TrendConfig
}

// NewTrend creates a Trend detector.
func NewTrend(cfg TrendConfig) *Trend {
	return &Trend{cfg: cfg}
}

// Inspect examines one tick. Only a medium-window direction change emits a
// trend event; the short window is used for strength confirmation and the
// long window for context. A pullback beyond RetracementPct against the
// standing trend emits a retracement-tagged event instead of a flip.
func (d *Trend) Inspect(st *symbolState, t domain.Tick) *domain.TrendEvent {
	if !st.seeded || st.lastPrice <= 0 {
		return nil
	}
	move := (t.Price - st.lastPrice) / st.lastPrice * 100

	tr := &st.trend
	updateWindow(&tr.short, move, d.cfg.ShortWindow, d.cfg.Hysteresis)
	prevDir := tr.medium.direction
	updateWindow(&tr.medium, move, d.cfg.MediumWindow, d.cfg.Hysteresis)
	updateWindow(&tr.long, move, d.cfg.LongWindow, d.cfg.Hysteresis)

	tr.age++
	flipped := tr.medium.direction != prevDir && tr.medium.direction != "" && prevDir != ""

	if flipped {
		tr.age = 0
		tr.extremeSinceFlip = t.Price
		tr.retracing = false
		return d.event(st, t, false)
	}

	// First resolution (direction appearing out of the hysteresis band)
	// also counts as a flip for emission purposes.
	if prevDir == "" && tr.medium.direction != "" {
		tr.age = 0
		tr.extremeSinceFlip = t.Price
		tr.retracing = false
		return d.event(st, t, false)
	}

	if ev := d.inspectRetracement(st, t); ev != nil {
		return ev
	}
	return nil
}

// inspectRetracement tracks the post-flip extreme and fires once per
// pullback episode when price pulls back beyond RetracementPct without a
// direction flip.
func (d *Trend) inspectRetracement(st *symbolState, t domain.Tick) *domain.TrendEvent {
	tr := &st.trend
	if tr.medium.direction == "" || tr.extremeSinceFlip <= 0 || d.cfg.RetracementPct <= 0 {
		return nil
	}

	var pullback float64
	switch tr.medium.direction {
	case domain.DirectionUp:
		if t.Price > tr.extremeSinceFlip {
			tr.extremeSinceFlip = t.Price
			tr.retracing = false
			return nil
		}
		pullback = (tr.extremeSinceFlip - t.Price) / tr.extremeSinceFlip * 100
	case domain.DirectionDown:
		if t.Price < tr.extremeSinceFlip {
			tr.extremeSinceFlip = t.Price
			tr.retracing = false
			return nil
		}
		pullback = (t.Price - tr.extremeSinceFlip) / tr.extremeSinceFlip * 100
	}

	if tr.retracing || pullback < d.cfg.RetracementPct {
		return nil
	}
	tr.retracing = true
	return d.event(st, t, true)
}

// event assembles a TrendEvent from the current window state.
func (d *Trend) event(st *symbolState, t domain.Tick, retracement bool) *domain.TrendEvent {
	tr := &st.trend
	dir := tr.medium.direction

	strength := domain.TrendWeak
	if tr.short.direction == dir {
		strength = domain.TrendModerate
		short := tr.short.score
		if short < 0 {
			short = -short
		}
		if short >= 2*d.cfg.Hysteresis {
			strength = domain.TrendStrong
		}
	}

	pos := domain.VWAPBelow
	if t.VWAP > 0 && t.Price >= t.VWAP {
		pos = domain.VWAPAbove
	}

	return &domain.TrendEvent{
		EventMeta: domain.EventMeta{
			ID:            uuid.New().String(),
			Symbol:        t.Symbol,
			Kind:          domain.KindTrend,
			Price:         t.Price,
			Direction:     dir,
			PercentChange: tr.medium.score,
			Volume:        t.Volume,
			VWAP:          t.VWAP,
			DetectedAt:    t.Timestamp,
		},
		Strength: strength,
		TrendAge: tr.age,
		VWAPPos:  pos,
		Scores: domain.TrendScores{
			Short:  tr.short.score,
			Medium: tr.medium.score,
			Long:   tr.long.score,
		},
		Retracement: retracement,
	}
}

// updateWindow folds one percent move into a window's decayed score and
// resolves its direction with hysteresis: the direction only changes when
// the score crosses zero by more than the band.
func updateWindow(w *windowState, move float64, n int, hysteresis float64) {
	alpha := 1.0 / float64(n)
	w.score = w.score*(1-alpha) + move*alpha

	// Inside the band the previous direction is kept.
	switch {
	case w.score > hysteresis:
		w.direction = domain.DirectionUp
	case w.score < -hysteresis:
		w.direction = domain.DirectionDown
	}
}

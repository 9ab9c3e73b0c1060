package detector

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
)

// SurgeConfig holds the surge detection thresholds.
type SurgeConfig struct {
	// Window is the rolling lookback for price change and trailing volume.
	Window time.Duration
	// PriceMagnitudePct triggers a price surge when the move across the
	// window exceeds it (in percent).
	PriceMagnitudePct float64
	// VolumeMultiplier triggers a volume surge when tick volume exceeds
	// this multiple of the trailing window average.
	VolumeMultiplier float64
	// TTL is how long a surge stays active; re-triggers inside the TTL
	// update the daily count instead of emitting a new event.
	TTL time.Duration
	// StrongThreshold classifies strength: magnitude x volume ratio at or
	// above it is strong.
	StrongThreshold float64
	// MaxDailyPerSymbol caps surge events per symbol per session.
	MaxDailyPerSymbol int
}

// minWindowPoints is the minimum number of prior observations before the
// trailing volume average is considered meaningful.
const minWindowPoints = 3

// Surge detects transient price/volume anomalies over a short rolling
// window. The caller must hold the symbol state's mutex.
type Surge struct {
	cfg SurgeConfig
}

// NewSurge creates a Surge detector.
func NewSurge(cfg SurgeConfig) *Surge {
	return &Surge{cfg: cfg}
}

// Inspect examines one tick. It returns a SurgeEvent when a fresh surge
// fires, and nil when nothing fired or an active surge absorbed the
// re-trigger (bumping the daily count instead).
func (d *Surge) Inspect(st *symbolState, t domain.Tick) *domain.SurgeEvent {
	trigger, magnitude, volRatio := d.evaluate(st, t)
	d.record(st, t)
	if trigger == "" {
		return nil
	}

	// Session cap: once the cap is reached nothing more fires today.
	if st.surge.dailyCount >= d.cfg.MaxDailyPerSymbol {
		return nil
	}
	st.surge.dailyCount++

	// Re-trigger inside the TTL refreshes the active surge without
	// producing another event.
	if st.surge.active && t.Timestamp.Before(st.surge.expiresAt) {
		st.surge.expiresAt = t.Timestamp.Add(d.cfg.TTL)
		st.surge.magnitude = magnitude
		st.surge.trigger = trigger
		return nil
	}

	st.surge = surgeState{
		active:     true,
		expiresAt:  t.Timestamp.Add(d.cfg.TTL),
		dailyCount: st.surge.dailyCount,
		magnitude:  magnitude,
		trigger:    trigger,
	}

	dir := domain.DirectionUp
	pct := d.windowChangePct(st, t)
	if pct < 0 {
		dir = domain.DirectionDown
	}

	strength := domain.SurgeWeak
	if magnitude*volRatio >= d.cfg.StrongThreshold {
		strength = domain.SurgeStrong
	}

	return &domain.SurgeEvent{
		EventMeta: domain.EventMeta{
			ID:            uuid.New().String(),
			Symbol:        t.Symbol,
			Kind:          domain.KindSurge,
			Price:         t.Price,
			Direction:     dir,
			PercentChange: pct,
			Volume:        t.Volume,
			VWAP:          t.VWAP,
			DetectedAt:    t.Timestamp,
		},
		Magnitude:   magnitude,
		Trigger:     trigger,
		Strength:    strength,
		ExpiresAt:   st.surge.expiresAt,
		DailyCount:  st.surge.dailyCount,
		VolumeRatio: volRatio,
	}
}

// evaluate decides what (if anything) fired, before the current tick enters
// the window.
func (d *Surge) evaluate(st *symbolState, t domain.Tick) (domain.TriggerType, float64, float64) {
	pct := d.windowChangePct(st, t)
	absPct := pct
	if absPct < 0 {
		absPct = -absPct
	}
	priceFired := absPct >= d.cfg.PriceMagnitudePct

	volRatio := 0.0
	volFired := false
	if avg := d.trailingVolumeAvg(st, t.Timestamp); avg > 0 {
		volRatio = float64(t.Volume) / avg
		volFired = volRatio >= d.cfg.VolumeMultiplier
	}

	switch {
	case priceFired && volFired:
		// Both firing at once is scored highest downstream.
		return domain.TriggerPriceAndVolume, absPct, volRatio
	case priceFired:
		return domain.TriggerPrice, absPct, maxf(volRatio, 1)
	case volFired:
		return domain.TriggerVolume, volRatio, volRatio
	default:
		return "", 0, volRatio
	}
}

// windowChangePct is the signed percent move from the oldest in-window
// observation to the current tick.
func (d *Surge) windowChangePct(st *symbolState, t domain.Tick) float64 {
	cutoff := t.Timestamp.Add(-d.cfg.Window)
	for _, p := range st.window {
		if !p.at.Before(cutoff) && p.price > 0 {
			return (t.Price - p.price) / p.price * 100
		}
	}
	return 0
}

// trailingVolumeAvg averages the in-window volumes prior to now. Returns 0
// when there is not enough history to be meaningful.
func (d *Surge) trailingVolumeAvg(st *symbolState, now time.Time) float64 {
	cutoff := now.Add(-d.cfg.Window)
	var sum int64
	var n int
	for _, p := range st.window {
		if !p.at.Before(cutoff) {
			sum += p.volume
			n++
		}
	}
	if n < minWindowPoints {
		return 0
	}
	return float64(sum) / float64(n)
}

// record appends the tick to the rolling window and trims expired points.
// Expiry bookkeeping for the active surge also happens here so a stale
// surge does not dedup a fresh one.
func (d *Surge) record(st *symbolState, t domain.Tick) {
	if st.surge.active && !t.Timestamp.Before(st.surge.expiresAt) {
		st.surge.active = false
	}

	st.window = append(st.window, pricePoint{price: t.Price, volume: t.Volume, at: t.Timestamp})
	cutoff := t.Timestamp.Add(-d.cfg.Window)
	i := 0
	for i < len(st.window) && st.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.window = st.window[i:]
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

package detector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

var baseTime = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

// eventCollector is a thread-safe Sink for tests.
type eventCollector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *eventCollector) sink(ev domain.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) all() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *eventCollector) ofKind(kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range c.all() {
		if ev.Meta().Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config where all three detectors can fire with
// modest inputs. Individual tests override thresholds to isolate one
// detector.
func testConfig() Config {
	return Config{
		HighLow: HighLowConfig{
			MinPriceChange: 0.5,
			MinVolume:      100,
			ReversalWindow: 5 * time.Minute,
			ReversalRatio:  1.0,
		},
		Surge: SurgeConfig{
			Window:            time.Minute,
			PriceMagnitudePct: 2.0,
			VolumeMultiplier:  3.0,
			TTL:               30 * time.Second,
			StrongThreshold:   10,
			MaxDailyPerSymbol: 5,
		},
		Trend: TrendConfig{
			ShortWindow:    3,
			MediumWindow:   5,
			LongWindow:     10,
			Hysteresis:     0.05,
			RetracementPct: 1.0,
		},
	}
}

// quietSurge raises surge thresholds so only high/low and trend logic is
// exercised.
func quietSurge(cfg *Config) {
	cfg.Surge.PriceMagnitudePct = 1e9
	cfg.Surge.VolumeMultiplier = 1e9
}

// quietTrend raises the hysteresis band so trend direction never resolves.
func quietTrend(cfg *Config) {
	cfg.Trend.Hysteresis = 1e9
}

func quietHighLow(cfg *Config) {
	cfg.HighLow.MinPriceChange = 1e9
}

func newTestDetector(cfg Config, phase domain.SessionPhase) (*Detector, *eventCollector) {
	col := &eventCollector{}
	det := New(cfg, func() domain.SessionPhase { return phase }, col.sink, testLogger())
	return det, col
}

func tick(symbol string, price float64, volume int64, offset time.Duration) domain.Tick {
	return domain.Tick{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		VWAP:      price,
		Timestamp: baseTime.Add(offset),
	}
}

func TestSeedTickEmitsNothing(t *testing.T) {
	det, col := newTestDetector(testConfig(), domain.PhaseRegular)

	det.HandleTick(context.Background(), tick("AMZN", 100, 500, 0))

	assert.Empty(t, col.all())
	high, low, ok := det.Store().Extrema("AMZN")
	require.True(t, ok)
	assert.Equal(t, 100.0, high)
	assert.Equal(t, 100.0, low)
}

func TestNewSessionHigh(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	det.HandleTick(context.Background(), tick("AMZN", 100, 500, 0))
	det.HandleTick(context.Background(), tick("AMZN", 113, 500, 10*time.Second))

	events := col.ofKind(domain.KindHighLow)
	require.Len(t, events, 1)

	ev, ok := events[0].(domain.HighLowEvent)
	require.True(t, ok)
	assert.True(t, ev.IsHigh)
	assert.Equal(t, domain.DirectionUp, ev.Direction)
	assert.Equal(t, 113.0, ev.Price)
	assert.Equal(t, 113.0, ev.SessionHigh)
	assert.Equal(t, 100.0, ev.SessionLow)
	assert.Equal(t, 1, ev.Count)
	assert.InDelta(t, 13.0, ev.PercentChange, 0.001)
	assert.Nil(t, ev.Reversal)
}

func TestHighGatedByEmittedExtreme(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("AMZN", 100, 500, 0))
	det.HandleTick(ctx, tick("AMZN", 113, 500, 10*time.Second))
	// New session high, but only 0.2 above the last emitted high.
	det.HandleTick(ctx, tick("AMZN", 113.2, 500, 20*time.Second))
	// Clears the gate against the emitted high of 113.
	det.HandleTick(ctx, tick("AMZN", 114, 500, 30*time.Second))

	events := col.ofKind(domain.KindHighLow)
	require.Len(t, events, 2)

	second, ok := events[1].(domain.HighLowEvent)
	require.True(t, ok)
	assert.Equal(t, 114.0, second.Price)
	assert.Equal(t, 2, second.Count)
	assert.InDelta(t, (114.0-113.0)/113.0*100, second.PercentChange, 0.001)

	// The running extrema absorbed the in-between tick regardless.
	high, low, ok := det.Store().Extrema("AMZN")
	require.True(t, ok)
	assert.Equal(t, 114.0, high)
	assert.Equal(t, 100.0, low)
}

func TestHighGatedByVolume(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	det.HandleTick(context.Background(), tick("AMZN", 100, 500, 0))
	det.HandleTick(context.Background(), tick("AMZN", 113, 10, 10*time.Second))

	assert.Empty(t, col.ofKind(domain.KindHighLow))

	// The quiet tick still advanced the session high.
	high, _, ok := det.Store().Extrema("AMZN")
	require.True(t, ok)
	assert.Equal(t, 113.0, high)
}

func TestNewSessionLow(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	det.HandleTick(context.Background(), tick("NVDA", 100, 500, 0))
	det.HandleTick(context.Background(), tick("NVDA", 97, 500, 10*time.Second))

	events := col.ofKind(domain.KindHighLow)
	require.Len(t, events, 1)

	ev, ok := events[0].(domain.HighLowEvent)
	require.True(t, ok)
	assert.False(t, ev.IsHigh)
	assert.Equal(t, domain.DirectionDown, ev.Direction)
	assert.InDelta(t, -3.0, ev.PercentChange, 0.001)
	assert.Equal(t, 97.0, ev.SessionLow)
	assert.Equal(t, 100.0, ev.SessionHigh)
}

func TestReversalTagging(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("TSLA", 100, 500, 0))
	det.HandleTick(ctx, tick("TSLA", 97, 500, 10*time.Second))
	det.HandleTick(ctx, tick("TSLA", 113, 500, 20*time.Second))

	events := col.ofKind(domain.KindHighLow)
	require.Len(t, events, 2)

	low, ok := events[0].(domain.HighLowEvent)
	require.True(t, ok)
	assert.Nil(t, low.Reversal, "no prior opposite emission, no reversal")

	high, ok := events[1].(domain.HighLowEvent)
	require.True(t, ok)
	require.NotNil(t, high.Reversal)
	assert.Equal(t, "V-bottom", high.Reversal.Type)
	assert.Equal(t, 97.0, high.Reversal.PreviousPrice)
	assert.InDelta(t, 10.0, high.Reversal.TimeSpan, 0.001)
}

func TestReversalOutsideWindow(t *testing.T) {
	cfg := testConfig()
	cfg.HighLow.ReversalWindow = 5 * time.Second
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("TSLA", 100, 500, 0))
	det.HandleTick(ctx, tick("TSLA", 97, 500, 10*time.Second))
	det.HandleTick(ctx, tick("TSLA", 113, 500, 60*time.Second))

	events := col.ofKind(domain.KindHighLow)
	require.Len(t, events, 2)
	high, ok := events[1].(domain.HighLowEvent)
	require.True(t, ok)
	assert.Nil(t, high.Reversal)
}

func TestPriceSurge(t *testing.T) {
	cfg := testConfig()
	quietHighLow(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	det.HandleTick(context.Background(), tick("GME", 100, 100, 0))
	det.HandleTick(context.Background(), tick("GME", 103, 100, time.Second))

	events := col.ofKind(domain.KindSurge)
	require.Len(t, events, 1)

	ev, ok := events[0].(domain.SurgeEvent)
	require.True(t, ok)
	assert.Equal(t, domain.TriggerPrice, ev.Trigger)
	assert.Equal(t, domain.DirectionUp, ev.Direction)
	assert.InDelta(t, 3.0, ev.PercentChange, 0.001)
	assert.Equal(t, 1, ev.DailyCount)
	assert.Equal(t, baseTime.Add(time.Second+30*time.Second), ev.ExpiresAt)
}

func TestVolumeSurge(t *testing.T) {
	cfg := testConfig()
	quietHighLow(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	// Build the trailing volume baseline with flat prices.
	det.HandleTick(ctx, tick("GME", 100, 100, 0))
	det.HandleTick(ctx, tick("GME", 100, 100, time.Second))
	det.HandleTick(ctx, tick("GME", 100, 100, 2*time.Second))
	det.HandleTick(ctx, tick("GME", 100, 1000, 3*time.Second))

	events := col.ofKind(domain.KindSurge)
	require.Len(t, events, 1)

	ev, ok := events[0].(domain.SurgeEvent)
	require.True(t, ok)
	assert.Equal(t, domain.TriggerVolume, ev.Trigger)
	assert.InDelta(t, 10.0, ev.VolumeRatio, 0.001)
	assert.Equal(t, domain.SurgeStrong, ev.Strength)
}

func TestSurgeTTLDedup(t *testing.T) {
	cfg := testConfig()
	quietHighLow(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("GME", 100, 100, 0))
	det.HandleTick(ctx, tick("GME", 103, 100, time.Second))
	// Re-trigger well inside the 30s TTL: count bumps, no second event.
	det.HandleTick(ctx, tick("GME", 107, 100, 5*time.Second))

	assert.Len(t, col.ofKind(domain.KindSurge), 1)
	assert.Equal(t, 2, det.Store().SurgeDailyCount("GME"))
}

func TestSurgeDailyCap(t *testing.T) {
	cfg := testConfig()
	cfg.Surge.MaxDailyPerSymbol = 2
	quietHighLow(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("GME", 100, 100, 0))
	det.HandleTick(ctx, tick("GME", 103, 100, time.Second))
	det.HandleTick(ctx, tick("GME", 107, 100, 5*time.Second))
	// Third trigger is over the cap and is dropped entirely.
	det.HandleTick(ctx, tick("GME", 112, 100, 10*time.Second))

	assert.Len(t, col.ofKind(domain.KindSurge), 1)
	assert.Equal(t, 2, det.Store().SurgeDailyCount("GME"))
}

func TestTrendFlip(t *testing.T) {
	cfg := testConfig()
	quietHighLow(&cfg)
	quietSurge(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	price := 100.0
	det.HandleTick(ctx, tick("AAPL", price, 200, 0))

	// Rising ticks resolve the medium window upward.
	for i := 1; i <= 3; i++ {
		price *= 1.01
		det.HandleTick(ctx, tick("AAPL", price, 200, time.Duration(i)*time.Second))
	}
	// Falling ticks drag the score through the hysteresis band.
	for i := 4; i <= 7; i++ {
		price *= 0.99
		det.HandleTick(ctx, tick("AAPL", price, 200, time.Duration(i)*time.Second))
	}

	events := col.ofKind(domain.KindTrend)
	require.GreaterOrEqual(t, len(events), 2)

	first, ok := events[0].(domain.TrendEvent)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionUp, first.Direction)
	assert.False(t, first.Retracement)
	assert.Equal(t, 0, first.TrendAge)

	var sawDown bool
	for _, raw := range events[1:] {
		ev := raw.(domain.TrendEvent)
		if ev.Direction == domain.DirectionDown && !ev.Retracement {
			sawDown = true
		}
	}
	assert.True(t, sawDown, "falling ticks should flip the medium window down")
}

func TestTrendRetracement(t *testing.T) {
	cfg := testConfig()
	cfg.Trend.RetracementPct = 1.0
	quietHighLow(&cfg)
	quietSurge(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	price := 100.0
	det.HandleTick(ctx, tick("AAPL", price, 200, 0))
	for i := 1; i <= 5; i++ {
		price *= 1.01
		det.HandleTick(ctx, tick("AAPL", price, 200, time.Duration(i)*time.Second))
	}
	peak := price

	// Pull back 1.5% from the peak without flipping the trend.
	det.HandleTick(ctx, tick("AAPL", peak*0.985, 200, 6*time.Second))
	// A further drift down inside the same pullback stays silent.
	det.HandleTick(ctx, tick("AAPL", peak*0.982, 200, 7*time.Second))

	events := col.ofKind(domain.KindTrend)
	require.GreaterOrEqual(t, len(events), 2)

	last := events[len(events)-1].(domain.TrendEvent)
	assert.True(t, last.Retracement)
	assert.Equal(t, domain.DirectionUp, last.Direction, "trend direction survives the pullback")

	var retracements int
	for _, raw := range events {
		if raw.(domain.TrendEvent).Retracement {
			retracements++
		}
	}
	assert.Equal(t, 1, retracements, "one event per pullback episode")
}

func TestClosedPhaseSkipsTicks(t *testing.T) {
	det, col := newTestDetector(testConfig(), domain.PhaseClosed)

	det.HandleTick(context.Background(), tick("AMZN", 100, 500, 0))

	assert.Empty(t, col.all())
	_, _, ok := det.Store().Extrema("AMZN")
	assert.False(t, ok)
}

func TestInvalidTickSkipped(t *testing.T) {
	det, col := newTestDetector(testConfig(), domain.PhaseRegular)

	det.HandleTick(context.Background(), domain.Tick{Symbol: "", Price: 100, Volume: 1, Timestamp: baseTime})
	det.HandleTick(context.Background(), tick("AMZN", -5, 500, 0))

	assert.Empty(t, col.all())
}

func TestSessionTransitionResetsState(t *testing.T) {
	cfg := testConfig()
	quietSurge(&cfg)
	quietTrend(&cfg)
	det, col := newTestDetector(cfg, domain.PhaseRegular)

	ctx := context.Background()
	det.HandleTick(ctx, tick("AMZN", 100, 500, 0))
	det.HandleTick(ctx, tick("AMZN", 113, 500, 10*time.Second))
	require.Len(t, col.ofKind(domain.KindHighLow), 1)

	det.OnSessionTransition(domain.SessionTransition{
		From: domain.PhaseRegular,
		To:   domain.PhaseAfterHours,
		At:   baseTime.Add(time.Hour),
	})

	_, _, ok := det.Store().Extrema("AMZN")
	assert.False(t, ok)

	// The next tick seeds fresh extrema and emits nothing, even though it
	// is far above the pre-reset emitted high.
	det.HandleTick(ctx, tick("AMZN", 150, 500, 2*time.Hour))
	assert.Len(t, col.ofKind(domain.KindHighLow), 1)
	high, low, ok := det.Store().Extrema("AMZN")
	require.True(t, ok)
	assert.Equal(t, 150.0, high)
	assert.Equal(t, 150.0, low)
}

func TestConcurrentTicksKeepExtremaConsistent(t *testing.T) {
	det, _ := newTestDetector(testConfig(), domain.PhaseRegular)

	const (
		producers      = 8
		symbolCount    = 1000
		ticksPerWorker = 2000
	)
	symbols := make([]string, symbolCount)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%04d", i)
	}

	// Every producer walks the whole symbol set in its own randomized order,
	// so hot symbols are hit from several goroutines at once.
	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			for i := 0; i < ticksPerWorker; i++ {
				sym := symbols[rng.Intn(symbolCount)]
				price := 80 + rng.Float64()*40
				det.HandleTick(context.Background(), tick(sym, price, 500, time.Duration(i)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	seen := 0
	for _, sym := range symbols {
		high, low, ok := det.Store().Extrema(sym)
		if !ok {
			continue
		}
		seen++
		assert.GreaterOrEqual(t, high, low, sym)
		assert.GreaterOrEqual(t, high, 80.0, sym)
		assert.LessOrEqual(t, low, 120.0, sym)
	}
	// With 16k random draws over 1k symbols nearly every symbol is touched.
	assert.Greater(t, seen, symbolCount*9/10)
}

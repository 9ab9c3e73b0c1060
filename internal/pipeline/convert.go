// Package pipeline implements the downstream half of the engine: typed
// events are converted to flat wire records by a worker pool, buffered per
// category in bounded rings, and emitted to subscribers on a timed cycle.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// Convert crosses the typed-event/wire-record boundary. It is the only place
// in the engine where that happens: upstream of it nothing but typed events
// exists, downstream nothing but flat records. The switch over the event
// union is exhaustive; anything else is a conversion failure and the event
// is dropped by the caller.
func Convert(ev domain.Event) (domain.Category, domain.WireRecord, error) {
	meta := ev.Meta()
	if meta.ID == "" || meta.Symbol == "" || meta.Price <= 0 {
		return "", nil, fmt.Errorf("convert: malformed event %q (symbol=%q price=%v)", meta.ID, meta.Symbol, meta.Price)
	}

	switch e := ev.(type) {
	case domain.HighLowEvent:
		return convertHighLow(e)
	case domain.SurgeEvent:
		return convertSurge(e)
	case domain.TrendEvent:
		return convertTrend(e)
	default:
		return "", nil, fmt.Errorf("convert: unknown event kind %q", meta.Kind)
	}
}

func convertHighLow(e domain.HighLowEvent) (domain.Category, domain.WireRecord, error) {
	category := domain.CategoryLows
	label := fmt.Sprintf("LOW #%d", e.Count)
	if e.IsHigh {
		category = domain.CategoryHighs
		label = fmt.Sprintf("HIGH #%d", e.Count)
	}

	rec := domain.WireRecord{
		"event_id":       e.ID,
		"ticker":         e.Symbol,
		"price":          e.Price,
		"direction":      string(e.Direction),
		"percent_change": e.PercentChange,
		"volume":         e.Volume,
		"vwap":           e.VWAP,
		"count":          e.Count,
		"label":          label,
		"session_high":   e.SessionHigh,
		"session_low":    e.SessionLow,
		"reversal":       e.Reversal != nil,
		"detected_at":    e.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Reversal != nil {
		rec["reversal_info"] = map[string]any{
			"type":           e.Reversal.Type,
			"time_span":      e.Reversal.TimeSpan,
			"previous_price": e.Reversal.PreviousPrice,
		}
	} else {
		rec["reversal_info"] = nil
	}
	return category, rec, nil
}

func convertSurge(e domain.SurgeEvent) (domain.Category, domain.WireRecord, error) {
	if e.Trigger == "" {
		return "", nil, fmt.Errorf("convert: surge %s missing trigger type", e.ID)
	}
	rec := domain.WireRecord{
		"event_id":       e.ID,
		"ticker":         e.Symbol,
		"price":          e.Price,
		"direction":      string(e.Direction),
		"percent_change": e.PercentChange,
		"volume":         e.Volume,
		"vwap":           e.VWAP,
		"trigger_type":   string(e.Trigger),
		"magnitude":      e.Magnitude,
		"strength":       string(e.Strength),
		"surge_age":      time.Since(e.DetectedAt).Seconds(),
		"surge_count":    e.DailyCount,
		"expires_at":     e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"volume_ratio":   e.VolumeRatio,
		"detected_at":    e.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
	return domain.CategorySurging, rec, nil
}

// Trend arrows used in the wire payload for trending entries.
const (
	arrowUp   = "↑"
	arrowDown = "↓"
)

func convertTrend(e domain.TrendEvent) (domain.Category, domain.WireRecord, error) {
	arrow := arrowUp
	if e.Direction == domain.DirectionDown {
		arrow = arrowDown
	}
	rec := domain.WireRecord{
		"event_id":       e.ID,
		"ticker":         e.Symbol,
		"price":          e.Price,
		"direction":      arrow,
		"percent_change": e.PercentChange,
		"volume":         e.Volume,
		"vwap":           e.VWAP,
		"trend_strength": string(e.Strength),
		"trend_age":      e.TrendAge,
		"vwap_position":  string(e.VWAPPos),
		"score_short":    e.Scores.Short,
		"score_medium":   e.Scores.Medium,
		"score_long":     e.Scores.Long,
		"retracement":    e.Retracement,
		"detected_at":    e.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
	return domain.CategoryTrending, rec, nil
}

// RowFromRecord flattens a wire record into an EventRow for the audit store.
func RowFromRecord(category domain.Category, rec domain.WireRecord) (domain.EventRow, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.EventRow{}, fmt.Errorf("pipeline: marshal record: %w", err)
	}

	row := domain.EventRow{
		Category: category,
		Payload:  payload,
	}
	row.ID, _ = rec["event_id"].(string)
	row.Symbol = rec.Ticker()
	row.Price, _ = rec["price"].(float64)
	row.PercentChange, _ = rec["percent_change"].(float64)
	row.Volume, _ = rec["volume"].(int64)
	row.VWAP, _ = rec["vwap"].(float64)

	switch category {
	case domain.CategoryHighs, domain.CategoryLows:
		row.Kind = domain.KindHighLow
	case domain.CategorySurging:
		row.Kind = domain.KindSurge
	case domain.CategoryTrending:
		row.Kind = domain.KindTrend
	}

	switch rec.Direction() {
	case string(domain.DirectionDown), arrowDown:
		row.Direction = domain.DirectionDown
	default:
		row.Direction = domain.DirectionUp
	}

	if ts, ok := rec["detected_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			row.DetectedAt = t
		}
	}
	if row.DetectedAt.IsZero() {
		row.DetectedAt = time.Now().UTC()
	}
	if row.ID == "" || row.Symbol == "" {
		return domain.EventRow{}, fmt.Errorf("pipeline: record missing event_id or ticker")
	}
	return row, nil
}

package domain

import "time"

// EventKind discriminates the event union.
type EventKind string

const (
	KindHighLow EventKind = "highlow"
	KindSurge   EventKind = "surge"
	KindTrend   EventKind = "trend"
)

// Direction is the price direction associated with an event.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// TriggerType identifies what fired a surge.
type TriggerType string

const (
	TriggerPrice          TriggerType = "price"
	TriggerVolume         TriggerType = "volume"
	TriggerPriceAndVolume TriggerType = "price_and_volume"
)

// SurgeStrength classifies a surge by magnitude x volume multiple.
type SurgeStrength string

const (
	SurgeWeak   SurgeStrength = "weak"
	SurgeStrong SurgeStrength = "strong"
)

// TrendStrength classifies a trend flip by short-window confirmation.
type TrendStrength string

const (
	TrendWeak     TrendStrength = "weak"
	TrendModerate TrendStrength = "moderate"
	TrendStrong   TrendStrength = "strong"
)

// VWAPPosition says whether the last price sits above or below VWAP.
type VWAPPosition string

const (
	VWAPAbove VWAPPosition = "above"
	VWAPBelow VWAPPosition = "below"
)

// EventMeta carries the fields common to every detected event. Events are
// immutable once created by a detector and are consumed exactly once by the
// conversion stage.
type EventMeta struct {
	ID            string
	Symbol        string
	Kind          EventKind
	Price         float64
	Direction     Direction
	PercentChange float64
	Volume        int64
	VWAP          float64
	DetectedAt    time.Time
}

// Event is the tagged union of all detector outputs. The interface is sealed:
// only HighLowEvent, SurgeEvent, and TrendEvent implement it, and the
// conversion stage switches exhaustively over those three.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// ReversalInfo annotates a high/low event that rapidly reversed a recent
// opposite extreme (a V-top or V-bottom).
type ReversalInfo struct {
	Type          string  // "V-top" or "V-bottom"
	TimeSpan      float64 // seconds between the two extremes
	PreviousPrice float64
}

// HighLowEvent marks a new session high or low.
type HighLowEvent struct {
	EventMeta
	IsHigh      bool
	Count       int // cumulative highs or lows this session, for "HIGH #3" labels
	SessionHigh float64
	SessionLow  float64
	Reversal    *ReversalInfo
}

// SurgeEvent marks a transient price/volume anomaly. A surge is stale once
// ExpiresAt has passed; re-triggers within the TTL bump DailyCount instead of
// producing duplicate events.
type SurgeEvent struct {
	EventMeta
	Magnitude   float64
	Trigger     TriggerType
	Strength    SurgeStrength
	ExpiresAt   time.Time
	DailyCount  int
	VolumeRatio float64 // volume vs trailing average
}

// TrendScores holds the per-window decayed directional scores.
type TrendScores struct {
	Short  float64
	Medium float64
	Long   float64
}

// TrendEvent marks a medium-window direction flip, or a retracement against
// the dominant trend when Retracement is set.
type TrendEvent struct {
	EventMeta
	Strength    TrendStrength
	TrendAge    int // ticks since the last direction flip
	VWAPPos     VWAPPosition
	Scores      TrendScores
	Retracement bool
}

func (e HighLowEvent) Meta() EventMeta { return e.EventMeta }
func (e SurgeEvent) Meta() EventMeta   { return e.EventMeta }
func (e TrendEvent) Meta() EventMeta   { return e.EventMeta }

func (HighLowEvent) isEvent() {}
func (SurgeEvent) isEvent()   {}
func (TrendEvent) isEvent()   {}

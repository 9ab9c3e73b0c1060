package domain

// Category buckets converted records in the pull-model event buffer. Each
// category is an independent bounded ring with its own overflow counter.
type Category string

const (
	CategoryHighs    Category = "highs"
	CategoryLows     Category = "lows"
	CategoryTrending Category = "trending"
	CategorySurging  Category = "surging"
)

// Categories lists every buffer category in emission order.
var Categories = []Category{CategoryHighs, CategoryLows, CategoryTrending, CategorySurging}

// WireRecord is a flat, wire-safe view of a converted event. Values are
// primitives (or nested maps of primitives for reversal_info) only; nothing
// downstream of the conversion stage ever holds a reference back into
// detector state.
type WireRecord map[string]any

// Ticker returns the record's symbol, or "" when absent or malformed.
func (r WireRecord) Ticker() string {
	s, _ := r["ticker"].(string)
	return s
}

// Direction returns the record's direction field, or "" when absent.
func (r WireRecord) Direction() string {
	s, _ := r["direction"].(string)
	return s
}

// DirectionalRecords splits records by direction for the trending and
// surging sections of a snapshot.
type DirectionalRecords struct {
	Up   []WireRecord `json:"up"`
	Down []WireRecord `json:"down"`
}

// ActivitySummary is the rolling activity section of a snapshot.
type ActivitySummary struct {
	TotalHighs int `json:"total_highs"`
	TotalLows  int `json:"total_lows"`
	Ticks10Sec int `json:"ticks_10sec"`
	Ticks60Sec int `json:"ticks_60sec"`
}

// Snapshot is the payload one emission cycle hands to the broadcast
// transport, shaped per subscriber after filtering.
type Snapshot struct {
	Highs    []WireRecord       `json:"highs"`
	Lows     []WireRecord       `json:"lows"`
	Trending DirectionalRecords `json:"trending"`
	Surging  DirectionalRecords `json:"surging"`
	Activity ActivitySummary    `json:"activity"`
}

// Empty reports whether the snapshot carries no records at all. Empty
// snapshots are still valid cycles; they are simply not delivered.
func (s Snapshot) Empty() bool {
	return len(s.Highs) == 0 && len(s.Lows) == 0 &&
		len(s.Trending.Up) == 0 && len(s.Trending.Down) == 0 &&
		len(s.Surging.Up) == 0 && len(s.Surging.Down) == 0
}

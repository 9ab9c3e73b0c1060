// Package config defines the top-level configuration for the marketpulse
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETPULSE_* environment variables.
type Config struct {
	Session  SessionConfig  `toml:"session"`
	Detector DetectorConfig `toml:"detector"`
	Queue    QueueConfig    `toml:"queue"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Feed     FeedConfig     `toml:"feed"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SessionConfig holds the market session schedule. Transition times are local
// to Location and given as "HH:MM" strings; they are configuration, never
// computed from exchange calendars.
type SessionConfig struct {
	PreMarketOpen   string   `toml:"pre_market_open"`
	RegularOpen     string   `toml:"regular_open"`
	RegularClose    string   `toml:"regular_close"`
	AfterHoursClose string   `toml:"after_hours_close"`
	Location        string   `toml:"location"`
	CheckInterval   duration `toml:"check_interval"`
}

// DetectorConfig groups the thresholds for the three event detectors.
type DetectorConfig struct {
	HighLow HighLowConfig `toml:"highlow"`
	Surge   SurgeConfig   `toml:"surge"`
	Trend   TrendConfig   `toml:"trend"`
}

// HighLowConfig holds session high/low detection thresholds.
type HighLowConfig struct {
	MinPriceChange float64  `toml:"min_price_change"`
	MinVolume      int64    `toml:"min_volume"`
	ReversalWindow duration `toml:"reversal_window"`
	ReversalRatio  float64  `toml:"reversal_ratio"`
}

// SurgeConfig holds price/volume surge detection thresholds.
type SurgeConfig struct {
	Window            duration `toml:"window"`
	PriceMagnitudePct float64  `toml:"price_magnitude_pct"`
	VolumeMultiplier  float64  `toml:"volume_multiplier"`
	TTL               duration `toml:"ttl"`
	StrongThreshold   float64  `toml:"strong_threshold"`
	MaxDailyPerSymbol int      `toml:"max_daily_per_symbol"`
}

// TrendConfig holds multi-window trend detection parameters. Window sizes are
// decay half-lives in ticks; hysteresis is the score band around zero that a
// flip must clear.
type TrendConfig struct {
	ShortWindow    int     `toml:"short_window"`
	MediumWindow   int     `toml:"medium_window"`
	LongWindow     int     `toml:"long_window"`
	Hysteresis     float64 `toml:"hysteresis"`
	RetracementPct float64 `toml:"retracement_pct"`
}

// QueueConfig holds priority queue parameters.
type QueueConfig struct {
	Capacity  int     `toml:"capacity"`
	CoreBoost float64 `toml:"core_boost"`
}

// PipelineConfig holds conversion, buffering, emission, and archive
// parameters.
type PipelineConfig struct {
	Workers              int      `toml:"workers"`
	CollectMax           int      `toml:"collect_max"`
	CollectTimeout       duration `toml:"collect_timeout"`
	BufferCapacity       int      `toml:"buffer_capacity"`
	EmitInterval         duration `toml:"emit_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// FeedConfig holds the upstream tick feed parameters.
type FeedConfig struct {
	WSURL       string   `toml:"ws_url"`
	Symbols     []string `toml:"symbols"`
	CoreSymbols []string `toml:"core_symbols"`
}

// ServerConfig holds the subscriber-facing WebSocket server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event audit
// store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Session: SessionConfig{
			PreMarketOpen:   "04:00",
			RegularOpen:     "09:30",
			RegularClose:    "16:00",
			AfterHoursClose: "20:00",
			Location:        "America/New_York",
			CheckInterval:   duration{time.Second},
		},
		Detector: DetectorConfig{
			HighLow: HighLowConfig{
				MinPriceChange: 0.05,
				MinVolume:      500,
				ReversalWindow: duration{60 * time.Second},
				ReversalRatio:  0.5,
			},
			Surge: SurgeConfig{
				Window:            duration{10 * time.Second},
				PriceMagnitudePct: 2.0,
				VolumeMultiplier:  3.0,
				TTL:               duration{30 * time.Second},
				StrongThreshold:   10.0,
				MaxDailyPerSymbol: 50,
			},
			Trend: TrendConfig{
				ShortWindow:    20,
				MediumWindow:   60,
				LongWindow:     240,
				Hysteresis:     0.15,
				RetracementPct: 1.5,
			},
		},
		Queue: QueueConfig{
			Capacity:  10_000,
			CoreBoost: 25,
		},
		Pipeline: PipelineConfig{
			Workers:              4,
			CollectMax:           64,
			CollectTimeout:       duration{250 * time.Millisecond},
			BufferCapacity:       1000,
			EmitInterval:         duration{time.Second},
			ArchiveRetentionDays: 7,
			ArchiveCron:          "0 3 * * *",
		},
		Feed: FeedConfig{
			WSURL: "wss://ticks.example.com/v1/stream",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8090,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketpulse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketpulse-archive",
			ForcePathStyle: true,
		},
		Mode:     "pipeline",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. Pipeline runs
// detection and broadcast in memory, full attaches the storage-backed
// surfaces, and relay serves subscribers from another instance's signal bus
// without running detection at all.
var validModes = map[string]bool{
	"pipeline": true,
	"full":     true,
	"relay":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: pipeline, full, relay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Session schedule.
	for _, f := range []struct{ name, val string }{
		{"pre_market_open", c.Session.PreMarketOpen},
		{"regular_open", c.Session.RegularOpen},
		{"regular_close", c.Session.RegularClose},
		{"after_hours_close", c.Session.AfterHoursClose},
	} {
		if _, err := time.Parse("15:04", f.val); err != nil {
			errs = append(errs, fmt.Sprintf("session: %s must be HH:MM, got %q", f.name, f.val))
		}
	}
	if _, err := time.LoadLocation(c.Session.Location); err != nil {
		errs = append(errs, fmt.Sprintf("session: unknown location %q", c.Session.Location))
	}

	// Detector thresholds.
	if c.Detector.HighLow.MinPriceChange < 0 {
		errs = append(errs, "detector.highlow: min_price_change must be >= 0")
	}
	if c.Detector.HighLow.MinVolume < 0 {
		errs = append(errs, "detector.highlow: min_volume must be >= 0")
	}
	if c.Detector.Surge.Window.Duration <= 0 {
		errs = append(errs, "detector.surge: window must be positive")
	}
	if c.Detector.Surge.TTL.Duration <= 0 {
		errs = append(errs, "detector.surge: ttl must be positive")
	}
	if c.Detector.Surge.MaxDailyPerSymbol < 1 {
		errs = append(errs, "detector.surge: max_daily_per_symbol must be >= 1")
	}
	if c.Detector.Trend.ShortWindow < 1 || c.Detector.Trend.MediumWindow < 1 || c.Detector.Trend.LongWindow < 1 {
		errs = append(errs, "detector.trend: window sizes must be >= 1")
	}
	if c.Detector.Trend.Hysteresis < 0 {
		errs = append(errs, "detector.trend: hysteresis must be >= 0")
	}

	// Queue and pipeline.
	if c.Queue.Capacity < 1 {
		errs = append(errs, "queue: capacity must be >= 1")
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, "pipeline: workers must be >= 1")
	}
	if c.Pipeline.CollectMax < 1 {
		errs = append(errs, "pipeline: collect_max must be >= 1")
	}
	if c.Pipeline.BufferCapacity < 1 {
		errs = append(errs, "pipeline: buffer_capacity must be >= 1")
	}
	if c.Pipeline.EmitInterval.Duration <= 0 {
		errs = append(errs, "pipeline: emit_interval must be positive")
	}

	// Feed. Relay mode never connects upstream.
	if strings.ToLower(c.Mode) != "relay" && c.Feed.WSURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}

	// Server.
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Relay mode follows another instance's signal bus, so Redis is required.
	if strings.ToLower(c.Mode) == "relay" && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, "redis: addr must not be empty in relay mode")
	}

	// Postgres is only required in full mode.
	if strings.ToLower(c.Mode) == "full" && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETPULSE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETPULSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Session ──
	setStr(&cfg.Session.PreMarketOpen, "MARKETPULSE_SESSION_PRE_MARKET_OPEN")
	setStr(&cfg.Session.RegularOpen, "MARKETPULSE_SESSION_REGULAR_OPEN")
	setStr(&cfg.Session.RegularClose, "MARKETPULSE_SESSION_REGULAR_CLOSE")
	setStr(&cfg.Session.AfterHoursClose, "MARKETPULSE_SESSION_AFTER_HOURS_CLOSE")
	setStr(&cfg.Session.Location, "MARKETPULSE_SESSION_LOCATION")

	// ── Detector ──
	setFloat64(&cfg.Detector.HighLow.MinPriceChange, "MARKETPULSE_HIGHLOW_MIN_PRICE_CHANGE")
	setInt64(&cfg.Detector.HighLow.MinVolume, "MARKETPULSE_HIGHLOW_MIN_VOLUME")
	setFloat64(&cfg.Detector.Surge.PriceMagnitudePct, "MARKETPULSE_SURGE_PRICE_MAGNITUDE_PCT")
	setFloat64(&cfg.Detector.Surge.VolumeMultiplier, "MARKETPULSE_SURGE_VOLUME_MULTIPLIER")
	setDuration(&cfg.Detector.Surge.TTL, "MARKETPULSE_SURGE_TTL")
	setInt(&cfg.Detector.Surge.MaxDailyPerSymbol, "MARKETPULSE_SURGE_MAX_DAILY_PER_SYMBOL")
	setFloat64(&cfg.Detector.Trend.Hysteresis, "MARKETPULSE_TREND_HYSTERESIS")

	// ── Queue / pipeline ──
	setInt(&cfg.Queue.Capacity, "MARKETPULSE_QUEUE_CAPACITY")
	setFloat64(&cfg.Queue.CoreBoost, "MARKETPULSE_QUEUE_CORE_BOOST")
	setInt(&cfg.Pipeline.Workers, "MARKETPULSE_PIPELINE_WORKERS")
	setDuration(&cfg.Pipeline.EmitInterval, "MARKETPULSE_PIPELINE_EMIT_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "MARKETPULSE_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "MARKETPULSE_PIPELINE_ARCHIVE_CRON")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "MARKETPULSE_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "MARKETPULSE_FEED_SYMBOLS")
	setStringSlice(&cfg.Feed.CoreSymbols, "MARKETPULSE_FEED_CORE_SYMBOLS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARKETPULSE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKETPULSE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MARKETPULSE_SERVER_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETPULSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETPULSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETPULSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETPULSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETPULSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETPULSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETPULSE_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "MARKETPULSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETPULSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETPULSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETPULSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETPULSE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MARKETPULSE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETPULSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETPULSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETPULSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETPULSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETPULSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETPULSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETPULSE_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETPULSE_MODE")
	setStr(&cfg.LogLevel, "MARKETPULSE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

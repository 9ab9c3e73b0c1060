package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/marketpulse/engine/internal/blob/s3"
	"github.com/marketpulse/engine/internal/cache/memory"
	"github.com/marketpulse/engine/internal/cache/redis"
	"github.com/marketpulse/engine/internal/config"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/store/postgres"
)

// Dependencies bundles the external dependencies the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Universe and fan-out
	UniverseCache domain.UniverseCache
	SignalBus     domain.SignalBus

	// Audit persistence (full mode only)
	EventStore domain.EventStore

	// Cold storage (full mode only)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them with a cleanup function for shutdown. Pipeline mode
// gets an in-memory universe only; relay mode adds Redis; full mode adds
// Redis, Postgres, and S3.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if mode != "full" && mode != "relay" {
		// Pipeline mode: in-memory universe, no persistence, no Redis.
		deps.UniverseCache = memory.NewUniverseCache(cfg.Feed.CoreSymbols...)
		return deps, cleanup, nil
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	universeCache := redis.NewUniverseCache(redisClient)
	deps.UniverseCache = universeCache
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// Seed the core symbol set from configuration.
	if len(cfg.Feed.CoreSymbols) > 0 {
		if err := universeCache.AddCoreSymbols(ctx, cfg.Feed.CoreSymbols...); err != nil {
			logger.Warn("wire: seed core symbols failed", slog.String("error", err.Error()))
		}
	}

	if mode == "relay" {
		// The relay only consumes the bus; no audit store, no cold storage.
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.EventStore = postgres.NewEventStore(pgClient.Pool())

	// --- S3 cold storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}

	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.BlobReader = s3blob.NewReader(s3Client)
	deps.Archiver = s3blob.NewEventArchiver(deps.BlobWriter, deps.EventStore)

	return deps, cleanup, nil
}

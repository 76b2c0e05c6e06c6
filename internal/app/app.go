// Package app builds the archiver's components from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/analytics"
	"xrpl-nft-archiver/internal/archive"
	"xrpl-nft-archiver/internal/config"
	"xrpl-nft-archiver/internal/extract"
	"xrpl-nft-archiver/internal/fetcher"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/pipeline"
	"xrpl-nft-archiver/internal/retry"
	"xrpl-nft-archiver/internal/storage"
	chstore "xrpl-nft-archiver/internal/storage/clickhouse"
	"xrpl-nft-archiver/internal/storage/memory"
	"xrpl-nft-archiver/internal/storage/migrations"
	pgstore "xrpl-nft-archiver/internal/storage/postgres"
	"xrpl-nft-archiver/internal/storage/s3store"
	"xrpl-nft-archiver/internal/tokenapi"
	"xrpl-nft-archiver/internal/xrpl"
)

// Stores holds every storage implementation.
type Stores struct {
	Archive  storage.ObjectStore
	Failures storage.ObjectStore
	// Index, Progress and Events fall back to memory when no database is configured.
	Index    storage.AssetIndex
	Progress storage.ProgressStore
	Events   storage.ExtractionEventStore
}

// App is the wired component graph.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Stores  *Stores

	RPC         *xrpl.HTTPClient
	Lookup      *tokenapi.Client
	Fetcher     *fetcher.Fetcher
	Writer      *archive.Writer
	Engine      *extract.Engine
	Resolver    *identity.Resolver
	Pipeline    *pipeline.Pipeline
	Coordinator *retry.Coordinator
	Emitter     *analytics.Emitter

	cleanup func()
}

// New builds the application. Close releases it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stores, cleanup, err := CreateStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(cfg.Service.MetricsNamespace),
		Stores:  stores,
		cleanup: cleanup,
	}

	a.RPC = xrpl.NewHTTPClient(cfg.XRPL.RPCEndpoint,
		xrpl.WithTimeout(cfg.XRPL.Timeout),
		xrpl.WithMaxRetries(cfg.XRPL.MaxRetries),
	)
	a.Lookup = tokenapi.NewClient(cfg.Lookup)
	a.Fetcher = fetcher.New(cfg.Fetcher, fetcher.WithMetrics(a.Metrics))
	a.Writer = archive.NewWriter(stores.Archive,
		archive.WithAssetIndex(stores.Index),
		archive.WithMetrics(a.Metrics),
		archive.WithMaxImagePixels(cfg.Imaging.MaxPixels),
	)
	a.Engine = extract.New(a.Fetcher, a.Writer, extract.WithMetrics(a.Metrics))
	a.Resolver = identity.NewResolver(a.RPC, a.Lookup, cfg.Identity)

	a.Pipeline = pipeline.New(a.Resolver, a.Engine).WithMetrics(a.Metrics)
	if cfg.Analytics.Enabled {
		a.Emitter = analytics.NewEmitter(stores.Events, cfg.Analytics.Config, logger.Named("analytics"), a.Metrics)
		a.Pipeline.WithEmitter(a.Emitter)
	}

	a.Coordinator = retry.NewCoordinator(stores.Failures, a.Pipeline, cfg.Retry,
		retry.WithMetadataProber(a.Writer),
		retry.WithMetrics(a.Metrics),
	)

	logger.Info("application wired",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Storage.PostgresDSN != ""),
		zap.Bool("clickhouse", cfg.Storage.ClickhouseDSN != ""),
		zap.String("race_policy", string(cfg.Fetcher.RacePolicy)),
	)
	return a, nil
}

// Close flushes the emitter and closes database connections.
func (a *App) Close() {
	a.Emitter.Close()
	if a.cleanup != nil {
		a.cleanup()
	}
}

// CreateStores builds the object stores for the configured backend, and the
// Postgres and ClickHouse stores when their DSNs are set.
func CreateStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stores := &Stores{
		Index:    memory.NewAssetIndex(),
		Progress: memory.NewProgressStore(),
		Events:   memory.NewExtractionEventStore(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Backend {
	case config.BackendS3:
		archiveStore, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.Archive.Bucket,
			Prefix:   cfg.Archive.Prefix,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("archive store: %w", err)
		}
		failureStore, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.Failures.Bucket,
			Prefix:   cfg.Failures.Prefix,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failure store: %w", err)
		}
		stores.Archive, stores.Failures = archiveStore, failureStore
	default:
		logger.Warn("using in-memory object stores; nothing is persisted")
		stores.Archive, stores.Failures = memory.NewObjectStore(), memory.NewObjectStore()
	}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		if cfg.Storage.AutoMigrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		stores.Index = pgstore.NewAssetIndex(pool)
		stores.Progress = pgstore.NewProgressStore(pool)
	}

	if dsn := cfg.Storage.ClickhouseDSN; dsn != "" {
		var conn *chstore.Conn
		var err error
		if cfg.Storage.AutoMigrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, dsn)
		} else {
			conn, err = chstore.NewConn(ctx, dsn)
		}
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.Events = chstore.NewExtractionEventStore(conn)
	}

	return stores, cleanup, nil
}

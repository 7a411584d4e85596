package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/cache"
	"github.com/docanvil/docanvil/internal/config"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/engine"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/pipeline"
	"github.com/docanvil/docanvil/internal/runstore"
)

// loadConfig loads the configuration file plus environment overrides; the
// --verbose flag forces debug logging on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger builds the CLI logger from config.
func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "docanvil",
	})
}

// openDatabase opens the run history database from config.
func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	var driver string
	switch cfg.Database.Driver {
	case "sqlite":
		driver = "sqlite3"
	case "postgres":
		driver = "postgres"
	default:
		return nil, "", fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := sql.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	}

	return db, cfg.Database.Driver, nil
}

// openRunStore opens and migrates the run history store. The returned
// cleanup closes the underlying database.
func openRunStore(ctx context.Context, cfg *config.Config) (*runstore.Store, func(), error) {
	db, driver, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := runstore.New(db, driver)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate run history: %w", err)
	}

	return store, func() { db.Close() }, nil
}

// openCache builds the result cache client from config. Returns nil when
// caching is disabled.
func openCache(cfg *config.Config, logger *observability.Logger) cache.Client {
	if !cfg.Cache.Enabled {
		return nil
	}

	if cfg.Cache.Driver == "redis" {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, falling back to in-memory cache")
			return cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
		return client
	}

	return cache.NewMemoryClient(cfg.Cache.MaxEntries)
}

// buildRunner assembles the conversion runner from config. A nil recorder
// disables run history.
func buildRunner(cfg *config.Config, logger *observability.Logger, recorder orchestrator.RunRecorder, cacheClient cache.Client) *orchestrator.Runner {
	bundle := artifact.NewResolver(logger).Resolve(cfg.Artifacts.Dir)
	eng := engine.NewSubprocess(cfg.Engine.Command, cfg.Engine.WorkDir, logger)

	return orchestrator.NewRunner(orchestrator.RunnerConfig{
		Bundle:   bundle,
		Builder:  pipeline.NewBuilder(nil, logger),
		Adapter:  convert.NewAdapter(eng, logger),
		Cache:    cacheClient,
		Recorder: recorder,
		Logger:   logger,
		CacheTTL: cfg.Cache.TTL,
	})
}

// requestedCapabilities maps the pipeline config toggles to capabilities.
func requestedCapabilities(p config.PipelineConfig) []artifact.Capability {
	var caps []artifact.Capability
	if p.TableStructure {
		caps = append(caps, artifact.TableStructure)
	}
	if p.OCR {
		caps = append(caps, artifact.OCR)
	}
	if p.FigureClassification {
		caps = append(caps, artifact.FigureClassification)
	}
	if p.CodeFormula {
		caps = append(caps, artifact.CodeFormula)
	}
	if p.Chunking {
		caps = append(caps, artifact.Chunking)
	}
	return caps
}

// pipelineRequest maps the pipeline config to a per-run request.
func pipelineRequest(p config.PipelineConfig) pipeline.Request {
	return pipeline.Request{
		Capabilities: requestedCapabilities(p),
		Device:       pipeline.Device(p.Device),
		OCRLanguages: p.OCRLanguages,
		Threads:      p.Threads,
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
	}
}

// runTimeout returns the engine timeout from config, bounded to sane values.
func runTimeout(p config.PipelineConfig) time.Duration {
	if p.Timeout <= 0 {
		return 10 * time.Minute
	}
	return p.Timeout
}

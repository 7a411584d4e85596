// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/docanvil/docanvil/cmd/docanvil-api/handlers"
	"github.com/docanvil/docanvil/cmd/docanvil-api/middleware"
	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/cache"
	"github.com/docanvil/docanvil/internal/config"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/engine"
	"github.com/docanvil/docanvil/internal/metrics"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/pipeline"
	"github.com/docanvil/docanvil/internal/runstore"
)

// NewRouter creates the main API router with all routes configured. The
// returned cleanup closes the database and cache connections.
func NewRouter(logger *observability.Logger, cfg *config.Config) (http.Handler, func(), error) {
	db, driver, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := runstore.New(db, driver)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate run history: %w", err)
	}

	cacheClient := openCache(cfg, logger)

	uploadDir := filepath.Join(os.TempDir(), "docanvil-uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create upload dir: %w", err)
	}

	m := metrics.New("docanvil-api")

	// Service dependencies
	bundle := artifact.NewResolver(logger).Resolve(cfg.Artifacts.Dir)
	eng := engine.NewSubprocess(cfg.Engine.Command, cfg.Engine.WorkDir, logger)
	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Bundle:   bundle,
		Builder:  pipeline.NewBuilder(nil, logger),
		Adapter:  convert.NewAdapter(eng, logger),
		Cache:    cacheClient,
		Recorder: store,
		Metrics:  m,
		Logger:   logger,
		CacheTTL: cfg.Cache.TTL,
	})

	// Handlers
	conversionHandler := handlers.NewConversionHandler(logger, runner, store, cfg, uploadDir, cfg.Batch.Workers)
	modelsHandler := handlers.NewModelsHandler(logger, bundle)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(m.Middleware)
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"docanvil"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			APIKey:  cfg.Auth.APIKey,
		}))

		r.Route("/conversions", func(r chi.Router) {
			r.Post("/", conversionHandler.Create)
			r.Get("/", conversionHandler.List)
			r.Get("/{runID}", conversionHandler.Get)
		})

		r.Get("/models", modelsHandler.List)
	})

	cleanup := func() {
		if cacheClient != nil {
			cacheClient.Close()
		}
		db.Close()
	}

	return r, cleanup, nil
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

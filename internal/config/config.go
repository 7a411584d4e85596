// Package config provides unified configuration loading for docanvil.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docanvil.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Engine        EngineConfig        `yaml:"engine"`
	Output        OutputConfig        `yaml:"output"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Batch         BatchConfig         `yaml:"batch"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings for the API binary.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ArtifactsConfig holds model artifact location settings.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// PipelineConfig holds default capability toggles for conversion runs.
// CLI flags and API request fields override these per run.
type PipelineConfig struct {
	TableStructure       bool          `yaml:"table_structure"`
	OCR                  bool          `yaml:"ocr"`
	FigureClassification bool          `yaml:"figure_classification"`
	Chunking             bool          `yaml:"chunking"`
	CodeFormula          bool          `yaml:"code_formula"`
	Device               string        `yaml:"device"` // auto, gpu or cpu
	OCRLanguages         []string      `yaml:"ocr_languages"`
	Threads              int           `yaml:"threads"`
	ChunkSize            int           `yaml:"chunk_size"`
	ChunkOverlap         int           `yaml:"chunk_overlap"`
	RetryWithoutOCR      bool          `yaml:"retry_without_ocr"`
	Timeout              time.Duration `yaml:"timeout"`
}

// EngineConfig holds external conversion engine settings.
type EngineConfig struct {
	Command string `yaml:"command"`
	WorkDir string `yaml:"work_dir"`
}

// OutputConfig holds output artifact settings.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	WriteSummary bool   `yaml:"write_summary"`
	TablesXLSX   bool   `yaml:"tables_xlsx"`
	FigureImages bool   `yaml:"figure_images"`
}

// DatabaseConfig holds run history database settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds conversion result cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BatchConfig holds batch conversion settings.
type BatchConfig struct {
	Workers int `yaml:"workers"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   30 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Dir: defaultArtifactsDir(),
		},
		Pipeline: PipelineConfig{
			TableStructure:       true,
			OCR:                  false,
			FigureClassification: false,
			Chunking:             false,
			CodeFormula:          false,
			Device:               "auto",
			OCRLanguages:         []string{"en"},
			Threads:              8,
			ChunkSize:            512,
			ChunkOverlap:         64,
			RetryWithoutOCR:      false,
			Timeout:              10 * time.Minute,
		},
		Engine: EngineConfig{
			Command: "docanvil-engine",
			WorkDir: os.TempDir(),
		},
		Output: OutputConfig{
			Dir:          "output",
			WriteSummary: true,
			TablesXLSX:   false,
			FigureImages: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         filepath.Join(os.TempDir(), "docanvil.db"),
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Driver:     "memory",
			TTL:        1 * time.Hour,
			MaxEntries: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Batch: BatchConfig{
			Workers: 2,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
		Auth: AuthConfig{
			Enabled: false,
		},
	}
}

// defaultArtifactsDir returns the conventional model artifact location.
func defaultArtifactsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "docanvil", "models")
	}
	return "models"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	switch c.Pipeline.Device {
	case "auto", "gpu", "cpu":
	default:
		return fmt.Errorf("invalid pipeline device: %s", c.Pipeline.Device)
	}

	if c.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}

	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch workers must be at least 1")
	}

	if c.Engine.Command == "" {
		return fmt.Errorf("engine command must not be empty")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	// DOCLING_ARTIFACTS_PATH is the engine's own convention for the model
	// root; the docanvil-specific name wins when both are set.
	if v := os.Getenv("DOCLING_ARTIFACTS_PATH"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}

	if v := os.Getenv("ENGINE_COMMAND"); v != "" {
		cfg.Engine.Command = v
	}

	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}

	if v := os.Getenv("FORCE_CPU"); v == "true" || v == "1" {
		cfg.Pipeline.Device = "cpu"
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		addr := strings.TrimPrefix(v, "redis://")
		cfg.Cache.Redis.Addr = addr
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = v
	}
}

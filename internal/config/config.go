// Package config defines all configuration structures for GradeSim.  No I/O
// or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// PredictorConfig selects the fitted model and its randomness toggles.
// ParameterVariability and ResidualVariability apply to predict only; an
// experiment always draws both, since the decomposition needs them.
type PredictorConfig struct {
	Version              string  `mapstructure:"version"` // "none" | "vigor" | "harvest_priority" | "quality"
	Categories           int     `mapstructure:"categories"`
	ModelFile            string  `mapstructure:"model_file"`
	ParameterVariability bool    `mapstructure:"parameter_variability"`
	ResidualVariability  bool    `mapstructure:"residual_variability"`
	DbhVariance          float64 `mapstructure:"dbh_variance"`
}

// OutputConfig controls where records and reports go.
type OutputConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	Format  string `mapstructure:"format"` // "text" | "json" | "table"
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
	Output string `mapstructure:"output"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxWork caps the cost of one HTTP request: R×max_trees×(N+M×n) tree
	// evaluations for an experiment, N and draws×n for a sample request, the
	// replicate count for a prediction.
	MaxWork int64 `mapstructure:"max_work"`

	// RateLimit is the per-client request rate of /api/v1; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// KafkaConfig holds the realization event producer and collector settings.
type KafkaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Brokers          []string      `mapstructure:"brokers"`
	Topic            string        `mapstructure:"topic"`
	DeadLetterTopic  string        `mapstructure:"dead_letter_topic"`
	GroupID          string        `mapstructure:"group_id"`
	AutoOffsetReset  string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	ProducerRetries  int           `mapstructure:"producer_retries"`
	BatchSize        int           `mapstructure:"batch_size"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	Compression      string        `mapstructure:"compression"`
	AutoCreateTopics bool          `mapstructure:"auto_create_topics"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// SQLiteConfig holds the local realization store settings.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RedisConfig holds the population cache connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds S3-compatible archive parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// RetentionDays expires archived runs; 0 keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.  Every command and
// infrastructure component reads its settings from the relevant sub-struct.
type Config struct {
	Experiment decomposition.Experiment  `mapstructure:"experiment"`
	Population inventory.GeneratorConfig `mapstructure:"population"`
	Predictor  PredictorConfig           `mapstructure:"predictor"`
	Output     OutputConfig              `mapstructure:"output"`
	Log        LogConfig                 `mapstructure:"log"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Server     ServerConfig              `mapstructure:"server"`
	Kafka      KafkaConfig               `mapstructure:"kafka"`
	Database   DatabaseConfig            `mapstructure:"postgres"`
	SQLite     SQLiteConfig              `mapstructure:"sqlite"`
	Redis      RedisConfig               `mapstructure:"redis"`
	MinIO      MinIOConfig               `mapstructure:"minio"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// Experiment sizes are checked against the population by the engine; here
// only the values that make no sense on their own are rejected.
func (c *Config) Validate() error {
	// Experiment
	e := c.Experiment
	if e.PopulationSize < 1 {
		return fmt.Errorf("config: experiment.population_size must be ≥ 1, got %d", e.PopulationSize)
	}
	if e.OuterTrials < 1 {
		return fmt.Errorf("config: experiment.outer_trials must be ≥ 1, got %d", e.OuterTrials)
	}
	if e.InnerTrials < 1 {
		return fmt.Errorf("config: experiment.inner_trials must be ≥ 1, got %d", e.InnerTrials)
	}
	if e.SampleSize < 1 || e.SampleSize > e.PopulationSize {
		return fmt.Errorf("config: experiment.sample_size %d is out of range [1, %d]", e.SampleSize, e.PopulationSize)
	}
	if _, err := inventory.ParseSamplerKind(string(e.Sampler)); err != nil {
		return fmt.Errorf("config: experiment.sampler: %w", err)
	}

	// Population
	if err := c.Population.Validate(); err != nil {
		return fmt.Errorf("config: population: %w", err)
	}

	// Predictor
	if _, err := forest.ParseVersionKind(c.Predictor.Version); err != nil {
		return fmt.Errorf("config: predictor.version: %w", err)
	}
	if c.Predictor.ModelFile == "" && c.Predictor.Categories != forest.DefaultCategories {
		return fmt.Errorf("config: predictor.categories must be %d for the reference model, got %d",
			forest.DefaultCategories, c.Predictor.Categories)
	}
	if c.Predictor.DbhVariance < 0 {
		return fmt.Errorf("config: predictor.dbh_variance must be ≥ 0, got %g", c.Predictor.DbhVariance)
	}

	// Output
	switch c.Output.Format {
	case "text", "json", "table":
	default:
		return fmt.Errorf("config: output.format %q is invalid; expected text|json|table", c.Output.Format)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must be ≥ 0, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 0 {
		return fmt.Errorf("config: server.rate_burst must be ≥ 0, got %d", c.Server.RateBurst)
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// Database
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: postgres.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: postgres.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: postgres.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: postgres.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: postgres.max_conns must be ≥ 1, got %d", c.Database.MaxConns)
		}
	}

	// SQLite
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		return fmt.Errorf("config: sqlite.path is required")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}

	// MinIO
	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
		if c.MinIO.RetentionDays < 0 {
			return fmt.Errorf("config: minio.retention_days must be ≥ 0, got %d", c.MinIO.RetentionDays)
		}
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

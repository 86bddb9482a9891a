package config

import (
	"time"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultPredictorVersion = "none"
	DefaultOutputFormat     = "text"
	DefaultCSVPath          = "realizations.csv"

	DefaultServerPort    = 8080
	DefaultServerMode    = "release"
	DefaultServerMaxWork = int64(50_000_000)
	DefaultServerBurst   = 5

	DefaultMetricsNamespace  = "gradesim"
	DefaultMetricsListenAddr = ":9090"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaTopic   = "gradesim.realizations"
	DefaultKafkaGroupID = "gradesim-collector"

	DefaultDBHost      = "localhost"
	DefaultDBPort      = 5432
	DefaultDBName      = "gradesim"
	DefaultDBMaxConns  = 10
	DefaultDBBatchSize = 50

	DefaultSQLitePath = "gradesim.db"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "gradesim:"
	DefaultRedisTTL       = 24 * time.Hour

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "gradesim-runs"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults fills zero-value fields in cfg with well-known defaults.
// It must be called after unmarshalling raw config data and before Validate()
// so that optional-but-defaulted fields are never seen as missing.
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with the default of the
// reference scenario: N=1000 units of 2 to 22 trees, R=100, M=1000, n=10 and
// five grade categories.  Explicit values always win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Experiment ────────────────────────────────────────────────────────────
	def := decomposition.DefaultExperiment()
	if cfg.Experiment.PopulationSize == 0 {
		cfg.Experiment.PopulationSize = def.PopulationSize
	}
	if cfg.Experiment.OuterTrials == 0 {
		cfg.Experiment.OuterTrials = def.OuterTrials
	}
	if cfg.Experiment.InnerTrials == 0 {
		cfg.Experiment.InnerTrials = def.InnerTrials
	}
	if cfg.Experiment.SampleSize == 0 {
		cfg.Experiment.SampleSize = def.SampleSize
	}
	if cfg.Experiment.Seed == 0 {
		cfg.Experiment.Seed = def.Seed
	}
	if cfg.Experiment.Sampler == "" {
		cfg.Experiment.Sampler = def.Sampler
	}
	if cfg.Experiment.MaxSampleRetries == 0 {
		cfg.Experiment.MaxSampleRetries = def.MaxSampleRetries
	}

	// ── Predictor ─────────────────────────────────────────────────────────────
	if cfg.Predictor.Version == "" {
		cfg.Predictor.Version = DefaultPredictorVersion
	}
	if cfg.Predictor.Categories == 0 {
		cfg.Predictor.Categories = forest.DefaultCategories
	}

	// ── Population ────────────────────────────────────────────────────────────
	pop := inventory.DefaultGeneratorConfig()
	if cfg.Population.MinTrees == 0 && cfg.Population.MaxTrees == 0 {
		cfg.Population.MinTrees = pop.MinTrees
		cfg.Population.MaxTrees = pop.MaxTrees
	}
	if cfg.Population.DbhMin == 0 && cfg.Population.DbhMax == 0 {
		cfg.Population.DbhMin = pop.DbhMin
		cfg.Population.DbhMax = pop.DbhMax
	}
	if len(cfg.Population.Species) == 0 {
		cfg.Population.Species = pop.Species
	}
	if cfg.Population.Covariate == "" {
		// Trees carry the covariate the predictor version reads.
		if v, err := forest.ParseVersionKind(cfg.Predictor.Version); err == nil {
			cfg.Population.Covariate = v
		}
	}

	// ── Output ────────────────────────────────────────────────────────────────
	if cfg.Output.Format == "" {
		cfg.Output.Format = DefaultOutputFormat
	}
	if cfg.Output.CSVPath == "" {
		cfg.Output.CSVPath = DefaultCSVPath
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = DefaultMetricsListenAddr
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxWork == 0 {
		cfg.Server.MaxWork = DefaultServerMaxWork
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = DefaultServerBurst
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.BatchSize == 0 {
		cfg.Database.BatchSize = DefaultDBBatchSize
	}

	// ── SQLite ────────────────────────────────────────────────────────────────
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}
	// DB is an int; 0 is a valid explicit value so we cannot distinguish "not
	// set" from "set to 0".  We leave it as-is (0 is also the default).

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

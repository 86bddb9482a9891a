package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/application/simulation"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/postgres"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/redis"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/sqlite"
	"github.com/turtacn/GradeSim/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/GradeSim/internal/infrastructure/storage/minio"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// RecordStore lists and removes stored runs.
type RecordStore interface {
	ListRecords(ctx context.Context, runID string) ([]decomposition.RealizationRecord, error)
	ListRuns(ctx context.Context) ([]decomposition.RunInfo, error)
	DeleteRun(ctx context.Context, runID string) error
}

// infrastructure holds the clients of every enabled backend.
type infrastructure struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *prometheus.SimulationMetrics

	pg           *pgxpool.Pool
	realizations *repositories.RealizationRepository
	sqlite       *sqlite.Store
	redis        *redis.Client
	populations  *redis.PopulationCache
	minio        *minio.MinIOClient
	archive      *minio.RunArchive
	producer     *kafka.Producer
}

// Close releases every client in reverse order of construction.
func (i *infrastructure) Close() {
	if i.producer != nil {
		if err := i.producer.Close(); err != nil {
			i.logger.WithError(err).Warn("kafka producer close failed")
		}
	}
	if i.minio != nil {
		_ = i.minio.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.sqlite != nil {
		_ = i.sqlite.Close()
	}
	if i.pg != nil {
		i.pg.Close()
	}
}

// initInfrastructure connects to the backends cfg enables.  metrics may be
// nil.
func initInfrastructure(ctx context.Context, cfg *config.Config, logger logging.Logger, metrics *prometheus.SimulationMetrics) (*infrastructure, error) {
	infra := &infrastructure{cfg: cfg, logger: logger, metrics: metrics}

	if cfg.Database.Enabled {
		pool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.pg = pool
		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(postgres.ConnString(cfg.Database)); err != nil {
				infra.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		infra.realizations = repositories.NewRealizationRepository(pool, logger)
	}

	if cfg.SQLite.Enabled {
		store, err := sqlite.Open(cfg.SQLite.Path, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		infra.sqlite = store
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.redis = client
		var observer redis.CacheObserver
		if metrics != nil {
			observer = metrics
		}
		infra.populations = redis.NewPopulationCache(client, cfg.Redis.DefaultTTL, logger, observer,
			redis.WithPrefix(cfg.Redis.KeyPrefix))
	}

	if cfg.MinIO.Enabled {
		client, err := minio.NewMinIOClient(cfg.MinIO, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.minio = client
		infra.archive = minio.NewRunArchive(client, logger)
	}

	if cfg.Kafka.Enabled {
		if cfg.Kafka.AutoCreateTopics {
			if err := ensureTopics(ctx, cfg.Kafka, logger); err != nil {
				infra.Close()
				return nil, fmt.Errorf("kafka topics: %w", err)
			}
		}
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Source:           "gradesim",
			MaxRetries:       cfg.Kafka.ProducerRetries,
			BatchSize:        cfg.Kafka.BatchSize,
			WriteTimeout:     cfg.Kafka.WriteTimeout,
			CompressionCodec: cfg.Kafka.Compression,
		}, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		infra.producer = producer
	}

	logger.Debug("infrastructure initialized",
		logging.Bool("postgres", infra.pg != nil),
		logging.Bool("sqlite", infra.sqlite != nil),
		logging.Bool("redis", infra.redis != nil),
		logging.Bool("minio", infra.minio != nil),
		logging.Bool("kafka", infra.producer != nil))
	return infra, nil
}

// ensureTopics creates the record and dead-letter topics under their
// configured names.
func ensureTopics(ctx context.Context, kc config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(kc.Brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()

	topics := kafka.DefaultTopics()
	topics[0].Name = kc.Topic
	if kc.DeadLetterTopic != "" {
		topics[1].Name = kc.DeadLetterTopic
	} else {
		topics = topics[:1]
	}
	return tm.EnsureTopics(ctx, topics)
}

// dependencies exposes the enabled clients to the simulation service.
// Disabled backends stay nil interfaces.
func (i *infrastructure) dependencies() simulation.Dependencies {
	deps := simulation.Dependencies{
		BatchSize: i.cfg.Database.BatchSize,
		Logger:    i.logger,
	}
	if i.populations != nil {
		deps.Populations = i.populations
	}
	if i.producer != nil {
		deps.Publisher = i.producer
	}
	if i.sqlite != nil {
		deps.Repositories = append(deps.Repositories, simulation.Repository{Name: "sqlite", Repo: i.sqlite})
	}
	if i.realizations != nil {
		deps.Repositories = append(deps.Repositories, simulation.Repository{Name: "postgres", Repo: i.realizations})
	}
	if i.archive != nil {
		deps.Archiver = i.archive
	}
	if i.metrics != nil {
		deps.Observer = i.metrics
		deps.Exports = i.metrics
	}
	return deps
}

// recordStore prefers the local SQLite store over PostgreSQL.
func (i *infrastructure) recordStore() (RecordStore, error) {
	switch {
	case i.sqlite != nil:
		return i.sqlite, nil
	case i.realizations != nil:
		return i.realizations, nil
	default:
		return nil, errors.Configuration("no record store is enabled; set sqlite.enabled or postgres.enabled")
	}
}

// newMetrics registers the simulation metrics on a fresh registry.
func newMetrics(cfg config.MetricsConfig, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.SimulationMetrics, error) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewSimulationMetrics(collector), nil
}

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/config"
)

// validConfig returns a Config that passes Validate() with every optional
// backend disabled.
func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Rejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero outer trials", func(c *config.Config) { c.Experiment.OuterTrials = -1 }, "experiment.outer_trials"},
		{"zero inner trials", func(c *config.Config) { c.Experiment.InnerTrials = -3 }, "experiment.inner_trials"},
		{"sample larger than population", func(c *config.Config) { c.Experiment.SampleSize = 1001 }, "experiment.sample_size"},
		{"unknown sampler", func(c *config.Config) { c.Experiment.Sampler = "bernoulli" }, "experiment.sampler"},
		{"bad dbh range", func(c *config.Config) { c.Population.DbhMax = 10 }, "population"},
		{"unknown version", func(c *config.Config) { c.Predictor.Version = "height" }, "predictor.version"},
		{"reference categories", func(c *config.Config) { c.Predictor.Categories = 3 }, "predictor.categories"},
		{"negative dbh variance", func(c *config.Config) { c.Predictor.DbhVariance = -1 }, "predictor.dbh_variance"},
		{"output format", func(c *config.Config) { c.Output.Format = "xml" }, "output.format"},
		{"server port", func(c *config.Config) { c.Server.Port = 70000 }, "server.port"},
		{"server mode", func(c *config.Config) { c.Server.Mode = "production" }, "server.mode"},
		{"kafka brokers", func(c *config.Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"postgres user", func(c *config.Config) { c.Database.Enabled = true }, "postgres.user"},
		{"sqlite path", func(c *config.Config) { c.SQLite.Enabled = true; c.SQLite.Path = "" }, "sqlite.path"},
		{"redis db", func(c *config.Config) { c.Redis.Enabled = true; c.Redis.DB = -1 }, "redis.db"},
		{"minio bucket", func(c *config.Config) { c.MinIO.Enabled = true; c.MinIO.Bucket = "" }, "minio.bucket"},
		{"log level", func(c *config.Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "text" }, "log.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Validate_EnabledBackends(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Database.Enabled = true
	cfg.Database.User = "gradesim"
	cfg.SQLite.Enabled = true
	cfg.Redis.Enabled = true
	cfg.MinIO.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_ModelFileAllowsOtherCategories(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Predictor.ModelFile = "model.yaml"
	cfg.Predictor.Categories = 3
	assert.NoError(t, cfg.Validate())
}

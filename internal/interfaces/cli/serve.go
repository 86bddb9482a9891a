package cli

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/application/simulation"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/postgres"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	httpapi "github.com/turtacn/GradeSim/internal/interfaces/http"
	"github.com/turtacn/GradeSim/internal/interfaces/http/handlers"
	"github.com/turtacn/GradeSim/internal/interfaces/http/middleware"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve experiments and stored runs over HTTP",
		Long: "Starts the HTTP API with /healthz, /readyz and /metrics next to the\n" +
			"/api/v1 experiment, prediction, sample and run endpoints.  Edits to\n" +
			"the config file update the experiment size cap without a restart.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	f := cmd.Flags()
	f.Int("port", 0, "listen port")
	f.Int64("max-work", 0, "largest tree-evaluation cost accepted per request")
	f.Float64("rate-limit", 0, "requests per second per client on /api/v1 (0 = unlimited)")
	bindConfigKey(f, "port", "server.port")
	bindConfigKey(f, "max-work", "server.max_work")
	bindConfigKey(f, "rate-limit", "server.rate_limit")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg, logger := cliCtx.Config, cliCtx.Logger
	ctx := cmd.Context()

	gin.SetMode(cfg.Server.Mode)

	collector, metrics, err := newMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}

	infra, err := initInfrastructure(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer infra.Close()

	simulations := handlers.NewSimulationHandler(simulation.NewService(infra.dependencies()), handlers.Defaults{
		Experiment: cfg.Experiment,
		Population: cfg.Population,
		Predictor:  cfg.Predictor,
	}, cfg.Server.MaxWork)

	routes := httpapi.RouterConfig{
		HealthHandler:     handlers.NewHealthHandler(Version, infra.healthCheckers()...),
		SimulationHandler: simulations,
		Logging:           middleware.DefaultLoggingConfig(),
		Logger:            logger,
		Observer:          metrics,
		MetricsHandler:    collector.Handler(),
	}
	if store, err := infra.recordStore(); err == nil {
		routes.RunHandler = handlers.NewRunHandler(store)
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewClientLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 10*time.Minute)
		defer limiter.Stop()
		routes.RateLimiter = limiter
		routes.RateLimit = middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit,
			BurstSize:         cfg.Server.RateBurst,
		}
	}

	if cliCtx.ConfigPath != "" {
		config.Watch(cliCtx.ConfigPath, func(next *config.Config) {
			simulations.SetMaxWork(next.Server.MaxWork)
			logger.Info("configuration reloaded", logging.Int64("max_work", next.Server.MaxWork))
		})
	}

	server := httpapi.NewServer(cfg.Server, httpapi.NewRouter(routes), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := server.Stop(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// healthCheckers returns a readiness check per connected backend.
func (i *infrastructure) healthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if i.pg != nil {
		checks = append(checks, handlers.CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error {
			return postgres.HealthCheck(ctx, i.pg, i.logger)
		}})
	}
	if i.redis != nil {
		checks = append(checks, handlers.CheckFunc{Component: "redis", Fn: i.redis.Ping})
	}
	if i.minio != nil {
		checks = append(checks, handlers.CheckFunc{Component: "minio", Fn: func(ctx context.Context) error {
			_, err := i.minio.HealthCheck(ctx)
			return err
		}})
	}
	return checks
}

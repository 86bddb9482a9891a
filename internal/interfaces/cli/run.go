package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/application/simulation"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/prometheus"
)

func newRunCmd() *cobra.Command {
	var keepRecords bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a variance decomposition experiment",
		Long: "Draws the population once, then runs the outer sampling trials with\n" +
			"the inner predictor realizations and reports the mean variance\n" +
			"components next to the empirical variance of the estimation error.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, keepRecords)
		},
	}

	f := cmd.Flags()
	f.Int("population-size", 0, "number of inventory units N")
	f.Int("outer-trials", 0, "number of sampling trials R")
	f.Int("inner-trials", 0, "predictor realizations per trial M")
	f.Int("sample-size", 0, "units per sample n")
	f.Uint64("seed", 0, "root seed of every random stream")
	f.Int("workers", 0, "parallel inner realizations (0 = GOMAXPROCS)")
	f.String("sampler", "", "sampling scheme (shuffle, rejection)")
	f.Int("max-sample-retries", 0, "retry budget of the rejection sampler")
	f.String("run-id", "", "identifier of the run (default: random UUID)")
	f.String("predictor-version", "", "predictor version (none, vigor, harvest_priority, quality)")
	f.String("model-file", "", "YAML file with fitted model parameters")
	f.Float64("dbh-variance", 0, "variance of the dbh measurement error")
	f.StringSlice("species", nil, "species of the generated trees")
	f.String("csv", "", "path of the record table")
	f.BoolVar(&keepRecords, "records", false, "include every record in json output")

	for flag, key := range map[string]string{
		"population-size":    "experiment.population_size",
		"outer-trials":       "experiment.outer_trials",
		"inner-trials":       "experiment.inner_trials",
		"sample-size":        "experiment.sample_size",
		"seed":               "experiment.seed",
		"workers":            "experiment.workers",
		"sampler":            "experiment.sampler",
		"max-sample-retries": "experiment.max_sample_retries",
		"run-id":             "experiment.run_id",
		"predictor-version":  "predictor.version",
		"model-file":         "predictor.model_file",
		"dbh-variance":       "predictor.dbh_variance",
		"species":            "population.species",
		"csv":                "output.csv_path",
	} {
		bindConfigKey(f, flag, key)
	}
	return cmd
}

func runExperiment(cmd *cobra.Command, keepRecords bool) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg, logger := cliCtx.Config, cliCtx.Logger
	ctx := cmd.Context()

	var metrics *prometheus.SimulationMetrics
	if cfg.Metrics.Enabled {
		collector, m, err := newMetrics(cfg.Metrics, logger)
		if err != nil {
			return err
		}
		metrics = m
		srv := startMetricsServer(cfg.Metrics.ListenAddr, collector.Handler(), logger)
		defer shutdownServer(srv, 5*time.Second, logger)
	}

	infra, err := initInfrastructure(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer infra.Close()

	svc := simulation.NewService(infra.dependencies())
	res, err := svc.RunExperiment(ctx, &simulation.RunInput{
		Experiment:  cfg.Experiment,
		Population:  cfg.Population,
		Predictor:   cfg.Predictor,
		CSVPath:     cfg.Output.CSVPath,
		KeepRecords: keepRecords,
	})
	if err != nil {
		return err
	}
	return PrintResult(cmd, runReport{res})
}

// runReport prints a run as a header and its summary table.
type runReport struct {
	*simulation.RunResult
}

func (r runReport) String() string {
	e := r.Experiment
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: N=%d R=%d M=%d n=%d seed=%d sampler=%s\n",
		r.RunID, e.PopulationSize, e.OuterTrials, e.InnerTrials, e.SampleSize, e.Seed, e.Sampler)
	fmt.Fprintf(&sb, "sinks: %s", strings.Join(r.Sinks, ", "))
	if r.CSVPath != "" {
		fmt.Fprintf(&sb, " (table: %s)", r.CSVPath)
	}
	if r.ArchiveLocation != "" {
		fmt.Fprintf(&sb, " (archived: %s)", r.ArchiveLocation)
	}
	fmt.Fprintf(&sb, "\nelapsed: %s, population cached: %t\n\n", r.Elapsed.Round(time.Millisecond), r.PopulationCached)
	sb.WriteString(FormatTable(r.Summary.TableHeaders(), r.Summary.TableRows()))
	return strings.TrimRight(sb.String(), "\n")
}

func (r runReport) TableHeaders() []string { return r.Summary.TableHeaders() }
func (r runReport) TableRows() [][]string  { return r.Summary.TableRows() }

// MarshalJSON keeps the json output flat.
func (r runReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.RunResult)
}

// startMetricsServer serves handler on addr until shutdownServer.
func startMetricsServer(addr string, handler http.Handler, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	logger.Info("metrics server listening", logging.String("addr", addr))
	return srv
}

func shutdownServer(srv *http.Server, timeout time.Duration, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("server shutdown error")
	}
}

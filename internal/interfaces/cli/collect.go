package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/application/export"
	"github.com/turtacn/GradeSim/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

func newCollectCmd() *cobra.Command {
	var (
		runID   string
		trials  int
		timeout time.Duration
		store   bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Rebuild a run summary from the realization event stream",
		Long: "Consumes realization events with the configured consumer group and folds\n" +
			"the records of one run into a summary.  Without --run-id the first run\n" +
			"seen is followed.  With --store the records are also saved to the enabled\n" +
			"record store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg, logger := cliCtx.Config, cliCtx.Logger
			if !cfg.Kafka.Enabled {
				return errors.Configuration("collect needs kafka.enabled")
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var sink export.Sink
			if store {
				local := *cfg
				local.Kafka.Enabled = false
				local.Redis.Enabled = false
				local.MinIO.Enabled = false
				infra, err := initInfrastructure(ctx, &local, logger, nil)
				if err != nil {
					return err
				}
				defer infra.Close()
				deps := infra.dependencies()
				if len(deps.Repositories) == 0 {
					return errors.Configuration("--store needs sqlite.enabled or postgres.enabled")
				}
				sink = export.NewRepositorySink(deps.Repositories[0].Repo, deps.BatchSize)
			}

			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:         cfg.Kafka.Brokers,
				GroupID:         cfg.Kafka.GroupID,
				Topic:           cfg.Kafka.Topic,
				AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
				DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
			}, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			collector := export.NewCollector(runID, trials, sink)
			if err := consumer.Consume(ctx, collectHandler(collector)); err != nil {
				return err
			}
			if sink != nil {
				// The run context may already be done; flushing uses a fresh one.
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := sink.Close(flushCtx); err != nil {
					return err
				}
			}

			summary, err := collector.Summary()
			if err != nil {
				return err
			}
			logger.Info("collection finished",
				logging.String("run_id", collector.RunID()),
				logging.Int("trials", summary.Trials),
				logging.Int64("processed", consumer.Processed()),
				logging.Int64("failed", consumer.Failed()))
			return PrintResult(cmd, summary)
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run to collect (default: the first run seen)")
	f.IntVar(&trials, "trials", 0, "stop after this many trials (0 = until interrupted)")
	f.DurationVar(&timeout, "timeout", 0, "stop after this long (0 = no limit)")
	f.BoolVar(&store, "store", false, "save collected records to the record store")
	return cmd
}

// collectHandler feeds realization events to c and stops the consumer once
// c is done.  Other event types are skipped.
func collectHandler(c *export.Collector) kafka.EnvelopeHandler {
	return func(ctx context.Context, env *kafka.EventEnvelope) error {
		if env.EventType != export.EventTypeRealization {
			return nil
		}
		var rec decomposition.RealizationRecord
		if err := env.DecodePayload(&rec); err != nil {
			return err
		}
		done, err := c.Collect(ctx, rec)
		if err != nil {
			return err
		}
		if done {
			return kafka.ErrStopConsuming
		}
		return nil
	}
}

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and remove stored runs",
		Long: "Reads the SQLite store when sqlite.enabled, otherwise PostgreSQL.\n" +
			"Archived record tables are handled when minio.enabled.",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd(), newRunsFetchCmd())
	return cmd
}

// withInfrastructure runs fn against the stores of cfg; Kafka and Redis are
// never needed here.
func withInfrastructure(cmd *cobra.Command, fn func(ctx context.Context, infra *infrastructure, cliCtx *CLIContext) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	local := *cliCtx.Config
	local.Kafka.Enabled = false
	local.Redis.Enabled = false

	ctx := cmd.Context()
	infra, err := initInfrastructure(ctx, &local, cliCtx.Logger, nil)
	if err != nil {
		return err
	}
	defer infra.Close()
	return fn(ctx, infra, cliCtx)
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInfrastructure(cmd, func(ctx context.Context, infra *infrastructure, _ *CLIContext) error {
				store, err := infra.recordStore()
				if err != nil {
					return err
				}
				runs, err := store.ListRuns(ctx)
				if err != nil {
					return err
				}
				return PrintResult(cmd, runTable(runs))
			})
		},
	}
}

type runTable []decomposition.RunInfo

func (t runTable) TableHeaders() []string {
	return []string{"run_id", "categories", "trials", "created_at"}
}

func (t runTable) TableRows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		rows[i] = []string{r.RunID, strconv.Itoa(r.Categories), strconv.Itoa(r.Trials), r.CreatedAt.Format(time.RFC3339)}
	}
	return rows
}

func newRunsShowCmd() *cobra.Command {
	var records bool

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Summarize a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInfrastructure(cmd, func(ctx context.Context, infra *infrastructure, _ *CLIContext) error {
				store, err := infra.recordStore()
				if err != nil {
					return err
				}
				recs, err := store.ListRecords(ctx, args[0])
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					return errors.NotFound(fmt.Sprintf("run %s not found", args[0]))
				}
				if records {
					return PrintResult(cmd, decomposition.RecordTable(recs))
				}
				summary := decomposition.NewSummary(args[0], recs[0].Categories())
				for _, r := range recs {
					summary.Add(r)
				}
				return PrintResult(cmd, summary.Finalize())
			})
		},
	}
	cmd.Flags().BoolVar(&records, "records", false, "print every record instead of the summary")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a stored run and its archived tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInfrastructure(cmd, func(ctx context.Context, infra *infrastructure, cliCtx *CLIContext) error {
				runID := args[0]
				deleted := false
				if store, err := infra.recordStore(); err == nil {
					if err := store.DeleteRun(ctx, runID); err != nil && !errors.IsNotFound(err) {
						return err
					} else if err == nil {
						deleted = true
					}
				}
				if infra.archive != nil {
					n, err := infra.archive.DeleteRun(ctx, runID)
					if err != nil {
						return err
					}
					cliCtx.Logger.Debug("archived objects removed", logging.String("run_id", runID), logging.Int("objects", n))
					deleted = deleted || n > 0
				}
				if !deleted {
					return errors.NotFound(fmt.Sprintf("run %s not found", runID))
				}
				PrintSuccess(cmd, "deleted run "+runID)
				return nil
			})
		},
	}
}

func newRunsFetchCmd() *cobra.Command {
	var (
		dest   string
		urls   bool
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch RUN_ID",
		Short: "Download the archived record tables of a run",
		Long: "Downloads every archived table of RUN_ID into --dest.  With --url the\n" +
			"tables are not downloaded; a presigned GET link is printed for each.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInfrastructure(cmd, func(ctx context.Context, infra *infrastructure, _ *CLIContext) error {
				if infra.archive == nil {
					return errors.Configuration("fetch needs minio.enabled")
				}
				objects, err := infra.archive.List(ctx, args[0])
				if err != nil {
					return err
				}
				if len(objects) == 0 {
					return errors.NotFound(fmt.Sprintf("run %s has no archived tables", args[0]))
				}
				for _, obj := range objects {
					if urls {
						link, err := infra.archive.PresignedURL(ctx, obj.ObjectKey, expiry)
						if err != nil {
							return err
						}
						fmt.Fprintln(cmd.OutOrStdout(), link)
						continue
					}
					path := filepath.Join(dest, filepath.FromSlash(obj.ObjectKey))
					if err := infra.archive.Fetch(ctx, obj.ObjectKey, path); err != nil {
						return err
					}
					PrintSuccess(cmd, path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dest, "dest", ".", "directory to download into")
	cmd.Flags().BoolVar(&urls, "url", false, "print presigned download links instead of downloading")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "lifetime of the presigned links")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the population cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cliCtx.Config.Redis.Enabled {
				return errors.Configuration("cache clear needs redis.enabled")
			}
			local := config.Config{Redis: cliCtx.Config.Redis}
			infra, err := initInfrastructure(cmd.Context(), &local, cliCtx.Logger, nil)
			if err != nil {
				return err
			}
			defer infra.Close()
			n, err := infra.populations.Invalidate(cmd.Context())
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("removed %d cached population(s)", n))
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, buildInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}

// buildInfo holds version information injected at build time.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func (b buildInfo) String() string {
	return fmt.Sprintf("gradesim %s (commit: %s, built: %s)", b.Version, b.Commit, b.BuildDate)
}

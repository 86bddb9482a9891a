package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/infrastructure/database/postgres"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: "Applies, rolls back and inspects the embedded schema migrations of the\n" +
			"realization store.  Every subcommand except versions needs postgres.enabled.",
	}
	cmd.AddCommand(
		newMigrateUpCmd(),
		newMigrateDownCmd(),
		newMigrateStatusCmd(),
		newMigrateForceCmd(),
		newMigrateVersionsCmd(),
	)
	return cmd
}

// databaseURL returns the migrator URL of the configured database.
func databaseURL(cmd *cobra.Command) (string, *CLIContext, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return "", nil, err
	}
	if !cliCtx.Config.Database.Enabled {
		return "", nil, errors.Configuration("migrate needs postgres.enabled")
	}
	return postgres.ConnString(cliCtx.Config.Database), cliCtx, nil
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, cliCtx, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(url); err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "migrate up failed")
			}
			cliCtx.Logger.Info("migrations applied")
			PrintSuccess(cmd, "schema is up to date")
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return errors.InvalidParam(fmt.Sprintf("--steps must be ≥ 1, got %d", steps))
			}
			url, cliCtx, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigration(url, steps); err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "migrate down failed")
			}
			cliCtx.Logger.Info("migrations rolled back", logging.Int("steps", steps))
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

// schemaStatus is the printable state of the schema.
type schemaStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Latest  uint `json:"latest"`
}

func (s schemaStatus) String() string {
	state := "clean"
	if s.Dirty {
		state = "dirty"
	}
	return fmt.Sprintf("version %d of %d (%s)", s.Version, s.Latest, state)
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := postgres.MigrationStatus(url)
			if err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "migrate status failed")
			}
			status := schemaStatus{Version: version, Dirty: dirty}
			if versions, err := postgres.MigrationVersions(); err == nil && len(versions) > 0 {
				status.Latest = versions[len(versions)-1]
			}
			return PrintResult(cmd, status)
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < -1 {
				return errors.InvalidParam(fmt.Sprintf("invalid version %q", args[0]))
			}
			url, cliCtx, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			if err := postgres.ForceMigrationVersion(url, version); err != nil {
				return errors.Wrap(err, errors.CodeDatabaseError, "migrate force failed")
			}
			cliCtx.Logger.Warn("schema version forced", logging.Int("version", version))
			PrintSuccess(cmd, fmt.Sprintf("schema version set to %d", version))
			return nil
		},
	}
}

// versionList prints one embedded migration version per line.
type versionList []uint

func (v versionList) TableHeaders() []string { return []string{"version"} }

func (v versionList) TableRows() [][]string {
	rows := make([][]string, len(v))
	for i, n := range v {
		rows[i] = []string{strconv.FormatUint(uint64(n), 10)}
	}
	return rows
}

func newMigrateVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the embedded migration versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := postgres.MigrationVersions()
			if err != nil {
				return errors.Wrap(err, errors.CodeInternal, "cannot read embedded migrations")
			}
			return PrintResult(cmd, versionList(versions))
		},
	}
}

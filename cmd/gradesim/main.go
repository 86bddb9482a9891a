// Command gradesim runs nested Monte Carlo variance decomposition
// experiments for tree grade volume predictions.
package main

import (
	"os"

	"github.com/turtacn/GradeSim/internal/interfaces/cli"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute prints the error itself.
	if err := cli.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration problems to 2 and everything else to 1.
func exitCode(err error) int {
	if errors.IsConfiguration(err) {
		return 2
	}
	return 1
}

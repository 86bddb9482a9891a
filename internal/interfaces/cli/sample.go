package cli

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/GradeSim/internal/application/simulation"
)

func newSampleCmd() *cobra.Command {
	var in simulation.SampleInput

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw samples of unit indices without replacement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			exp := cliCtx.Config.Experiment
			in.PopulationSize = exp.PopulationSize
			in.SampleSize = exp.SampleSize
			in.Seed = exp.Seed
			in.Sampler = string(exp.Sampler)
			in.MaxRetries = exp.MaxSampleRetries

			svc := simulation.NewService(simulation.Dependencies{Logger: cliCtx.Logger})
			res, err := svc.DrawSample(cmd.Context(), &in)
			if err != nil {
				return err
			}
			return PrintResult(cmd, sampleReport{res})
		},
	}

	f := cmd.Flags()
	f.IntVar(&in.Draws, "draws", 1, "number of independent samples")
	f.Int("population-size", 0, "number of inventory units N")
	f.Int("sample-size", 0, "units per sample n")
	f.Uint64("seed", 0, "root seed")
	f.String("sampler", "", "sampling scheme (shuffle, rejection)")
	f.Int("max-retries", 0, "retry budget of the rejection sampler")
	bindConfigKey(f, "population-size", "experiment.population_size")
	bindConfigKey(f, "sample-size", "experiment.sample_size")
	bindConfigKey(f, "seed", "experiment.seed")
	bindConfigKey(f, "sampler", "experiment.sampler")
	bindConfigKey(f, "max-retries", "experiment.max_sample_retries")
	return cmd
}

type sampleReport struct {
	*simulation.SampleResult
}

func (r sampleReport) String() string {
	lines := make([]string, len(r.Samples))
	for i, s := range r.Samples {
		lines[i] = strings.Join(indexStrings(s), " ")
	}
	return strings.Join(lines, "\n")
}

func (r sampleReport) TableHeaders() []string { return []string{"draw", "units"} }

func (r sampleReport) TableRows() [][]string {
	rows := make([][]string, len(r.Samples))
	for i, s := range r.Samples {
		rows[i] = []string{strconv.Itoa(i), strings.Join(indexStrings(s), ",")}
	}
	return rows
}

func (r sampleReport) MarshalJSON() ([]byte, error) { return json.Marshal(r.SampleResult) }

func indexStrings(idx []int) []string {
	out := make([]string, len(idx))
	for i, v := range idx {
		out[i] = strconv.Itoa(v)
	}
	return out
}

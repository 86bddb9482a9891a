package simulation

import (
	"context"
	"fmt"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/internal/domain/predictor"
	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

const (
	// MaxPredictReplicates bounds one prediction request.
	MaxPredictReplicates = 1_000_000
	// MaxReturnedDraws is the largest replicate count whose draws are returned.
	MaxReturnedDraws = 1000
)

// PredictInput evaluates the predictor for one tree.
type PredictInput struct {
	Predictor config.PredictorConfig `json:"predictor"`
	Species   string                 `json:"species"`
	Dbh       float64                `json:"dbh"`

	// CovariateLevel is the 1-based class of the version's covariate; 0
	// means the tree carries none.
	CovariateLevel int `json:"covariate_level,omitempty"`

	// Replicates is the number of predictor calls; < 1 means one.
	Replicates int    `json:"replicates,omitempty"`
	Seed       uint64 `json:"seed"`
}

// PredictResult holds the replicate mean and, for small requests, each draw.
type PredictResult struct {
	Version    forest.VersionKind `json:"version"`
	Species    forest.Species     `json:"species"`
	Dbh        float64            `json:"dbh"`
	Replicates int                `json:"replicates"`
	Mean       []float64          `json:"mean"`
	Draws      [][]float64        `json:"draws,omitempty"`
}

func (s *serviceImpl) Predict(_ context.Context, input *PredictInput) (*PredictResult, error) {
	if input == nil {
		return nil, errors.Configuration("predict input is required")
	}
	species, err := forest.ParseSpecies(input.Species)
	if err != nil {
		return nil, errors.Configuration(err.Error())
	}
	replicates := input.Replicates
	if replicates < 1 {
		replicates = 1
	}
	if replicates > MaxPredictReplicates {
		return nil, errors.Configuration(fmt.Sprintf("replicates must be <= %d, got %d", MaxPredictReplicates, replicates))
	}

	model, err := BuildModel(input.Predictor, []forest.Species{species})
	if err != nil {
		return nil, err
	}
	var cov forest.Covariate
	if input.CovariateLevel != 0 {
		if cov, err = forest.NewCovariate(model.Version, input.CovariateLevel); err != nil {
			return nil, errors.Configuration(err.Error())
		}
	}
	tree, err := inventory.NewTree(species, input.Dbh, cov)
	if err != nil {
		return nil, err
	}

	p, err := predictor.NewGradeVolumePredictor(model, predictor.Config{
		ParameterVariability: input.Predictor.ParameterVariability,
		ResidualVariability:  input.Predictor.ResidualVariability,
		DbhVariance:          input.Predictor.DbhVariance,
	})
	if err != nil {
		return nil, err
	}
	streams := decomposition.Streams{Seed: input.Seed}
	if err := p.RedrawParameters(streams.Rand(decomposition.StreamParameters, 0, 0)); err != nil {
		return nil, err
	}

	res := &PredictResult{
		Version:    model.Version,
		Species:    species,
		Dbh:        input.Dbh,
		Replicates: replicates,
		Mean:       make([]float64, p.Categories()),
	}
	for i := 0; i < replicates; i++ {
		out, err := p.Predict(tree, streams.Rand(decomposition.StreamInner, 0, i))
		if err != nil {
			return nil, err
		}
		for g, v := range out {
			res.Mean[g] += (v - res.Mean[g]) / float64(i+1)
		}
		if replicates <= MaxReturnedDraws {
			res.Draws = append(res.Draws, out.Clone())
		}
	}
	return res, nil
}

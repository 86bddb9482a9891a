package simulation

import (
	"context"
	"fmt"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// MaxSampleDraws bounds one sampling request.
const MaxSampleDraws = 10_000

// SampleInput draws Draws independent samples of SampleSize units out of
// PopulationSize.
type SampleInput struct {
	PopulationSize int    `json:"population_size"`
	SampleSize     int    `json:"sample_size"`
	Draws          int    `json:"draws,omitempty"`
	Seed           uint64 `json:"seed"`
	Sampler        string `json:"sampler,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
}

// SampleResult lists the drawn index sets in draw order.
type SampleResult struct {
	Sampler inventory.SamplerKind `json:"sampler"`
	Samples [][]int               `json:"samples"`
}

func (s *serviceImpl) DrawSample(_ context.Context, input *SampleInput) (*SampleResult, error) {
	if input == nil {
		return nil, errors.Configuration("sample input is required")
	}
	kind, err := inventory.ParseSamplerKind(input.Sampler)
	if err != nil {
		return nil, err
	}
	sampler, err := inventory.NewSampler(kind, input.MaxRetries)
	if err != nil {
		return nil, err
	}
	draws := input.Draws
	if draws < 1 {
		draws = 1
	}
	if draws > MaxSampleDraws {
		return nil, errors.Configuration(fmt.Sprintf("draws must be <= %d, got %d", MaxSampleDraws, draws))
	}

	streams := decomposition.Streams{Seed: input.Seed}
	res := &SampleResult{Sampler: kind, Samples: make([][]int, 0, draws)}
	for i := 0; i < draws; i++ {
		idx, err := sampler.Draw(input.SampleSize, input.PopulationSize, streams.Rand(decomposition.StreamSample, i, 0))
		if err != nil {
			return nil, err
		}
		res.Samples = append(res.Samples, idx)
	}
	return res, nil
}

// Package decomposition runs the nested Monte Carlo experiment that splits
// the variance of a Horvitz–Thompson total into a sampling part and a model
// part.
package decomposition

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// Experiment holds the sizes and seed of one run.
type Experiment struct {
	// RunID labels records and exports; generated when empty.
	RunID string `json:"run_id,omitempty" mapstructure:"run_id"`

	// PopulationSize is N.  Zero means "whatever the population holds".
	PopulationSize int `json:"population_size" mapstructure:"population_size"`

	// OuterTrials is R.
	OuterTrials int `json:"outer_trials" mapstructure:"outer_trials"`

	// InnerTrials is M.
	InnerTrials int `json:"inner_trials" mapstructure:"inner_trials"`

	// SampleSize is n.
	SampleSize int `json:"sample_size" mapstructure:"sample_size"`

	// Seed drives every random stream of the run.
	Seed uint64 `json:"seed" mapstructure:"seed"`

	// Workers bounds the parallel inner loop; < 1 means GOMAXPROCS.
	Workers int `json:"workers" mapstructure:"workers"`

	// Sampler selects the without-replacement strategy.
	Sampler inventory.SamplerKind `json:"sampler" mapstructure:"sampler"`

	// MaxSampleRetries is the collision budget of the rejection sampler.
	MaxSampleRetries int `json:"max_sample_retries" mapstructure:"max_sample_retries"`
}

// DefaultExperiment returns R=100, M=1000, n=10 over N=1000 units.
func DefaultExperiment() Experiment {
	return Experiment{
		PopulationSize:   1000,
		OuterTrials:      100,
		InnerTrials:      1000,
		SampleSize:       10,
		Seed:             20240101,
		Sampler:          inventory.SamplerShuffle,
		MaxSampleRetries: inventory.DefaultMaxRetries,
	}
}

// Validate checks the sizes against a population of populationSize units.
func (e Experiment) Validate(populationSize int) error {
	if e.PopulationSize != 0 && e.PopulationSize != populationSize {
		return errors.Configuration(fmt.Sprintf("experiment expects %d units, population holds %d", e.PopulationSize, populationSize))
	}
	switch {
	case populationSize < 1:
		return errors.Configuration("population is empty")
	case e.OuterTrials < 1:
		return errors.Configuration(fmt.Sprintf("outer trials must be >= 1, got %d", e.OuterTrials))
	case e.InnerTrials < 1:
		return errors.Configuration(fmt.Sprintf("inner trials must be >= 1, got %d", e.InnerTrials))
	case e.SampleSize < 1:
		return errors.Configuration(fmt.Sprintf("sample size must be >= 1, got %d", e.SampleSize))
	case e.SampleSize > populationSize:
		return errors.Configuration(fmt.Sprintf("sample size %d exceeds population size %d", e.SampleSize, populationSize))
	case e.SampleSize == 1 && populationSize > 1:
		return errors.Configuration("sample size 1 leaves the design variance undefined")
	}
	if _, err := inventory.NewSampler(e.Sampler, e.MaxSampleRetries); err != nil {
		return err
	}
	return nil
}

func (e Experiment) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ─────────────────────────────────────────────────────────────────────────────
// Random streams
// ─────────────────────────────────────────────────────────────────────────────

// StreamPurpose identifies a consumer of randomness.
type StreamPurpose uint64

const (
	StreamPopulation StreamPurpose = iota + 1
	StreamTruth
	StreamParameters
	StreamSample
	StreamInner
)

// Streams derives an independent PCG stream per (purpose, trial, inner id)
// from one seed, so results do not depend on scheduling.
type Streams struct {
	Seed uint64
}

// Rand returns the stream for purpose at (trial, inner).
func (s Streams) Rand(purpose StreamPurpose, trial, inner int) *rand.Rand {
	hi := splitmix64(s.Seed ^ splitmix64(uint64(purpose)))
	lo := splitmix64(hi ^ (uint64(uint32(trial))<<32 | uint64(uint32(inner))))
	return rand.New(rand.NewPCG(hi, lo))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

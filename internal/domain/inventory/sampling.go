package inventory

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// DefaultMaxRetries is the collision budget of the rejection sampler.
const DefaultMaxRetries = 10000

// Sample is a fixed-size set of unit indices drawn without replacement,
// tagged with the inner realization it is evaluated under.
type Sample struct {
	Indices     []int `json:"indices"`
	Realization int   `json:"realization"`
}

// Size returns n.
func (s Sample) Size() int { return len(s.Indices) }

// WithRealization returns s tagged with inner id m.  Indices are shared.
func (s Sample) WithRealization(m int) Sample {
	s.Realization = m
	return s
}

// SamplerKind names a without-replacement strategy.
type SamplerKind string

const (
	SamplerShuffle   SamplerKind = "shuffle"
	SamplerRejection SamplerKind = "rejection"
)

// ParseSamplerKind converts a case-insensitive sampler name; empty means shuffle.
func ParseSamplerKind(s string) (SamplerKind, error) {
	switch SamplerKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", SamplerShuffle:
		return SamplerShuffle, nil
	case SamplerRejection:
		return SamplerRejection, nil
	}
	return "", errors.Configuration(fmt.Sprintf("unknown sampler %q", s))
}

// Sampler draws sampleSize distinct indices uniformly from [0, populationSize).
type Sampler interface {
	Draw(sampleSize, populationSize int, rng *rand.Rand) ([]int, error)
}

// NewSampler returns the sampler of the given kind.  maxRetries applies to
// the rejection sampler only; values < 1 select DefaultMaxRetries.
func NewSampler(kind SamplerKind, maxRetries int) (Sampler, error) {
	switch kind {
	case SamplerShuffle, "":
		return ShuffleSampler{}, nil
	case SamplerRejection:
		if maxRetries < 1 {
			maxRetries = DefaultMaxRetries
		}
		return RejectionSampler{MaxRetries: maxRetries}, nil
	}
	return nil, errors.Configuration(fmt.Sprintf("unknown sampler %q", kind))
}

// DrawSample draws with the default partial shuffle.
func DrawSample(sampleSize, populationSize int, rng *rand.Rand) ([]int, error) {
	return ShuffleSampler{}.Draw(sampleSize, populationSize, rng)
}

func checkSampleArgs(sampleSize, populationSize int, rng *rand.Rand) error {
	if populationSize < 1 {
		return errors.Configuration(fmt.Sprintf("population size must be >= 1, got %d", populationSize))
	}
	if sampleSize > populationSize {
		return errors.Configuration(fmt.Sprintf("sample size %d exceeds population size %d", sampleSize, populationSize))
	}
	if sampleSize < 1 {
		return errors.Configuration(fmt.Sprintf("sample size must be >= 1, got %d", sampleSize))
	}
	if rng == nil {
		return errors.Configuration("sampling requires a random source")
	}
	return nil
}

// ShuffleSampler runs the first sampleSize steps of a Fisher–Yates shuffle
// over a virtual identity permutation, touching O(sampleSize) memory.
type ShuffleSampler struct{}

// Draw implements Sampler.
func (ShuffleSampler) Draw(sampleSize, populationSize int, rng *rand.Rand) ([]int, error) {
	if err := checkSampleArgs(sampleSize, populationSize, rng); err != nil {
		return nil, err
	}
	swapped := make(map[int]int, sampleSize)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, sampleSize)
	for i := 0; i < sampleSize; i++ {
		j := i + rng.IntN(populationSize-i)
		vi, vj := at(i), at(j)
		out[i] = vj
		swapped[j] = vi
	}
	return out, nil
}

// RejectionSampler draws uniformly and retries on collision.  It gives up
// with ExhaustionError after MaxRetries collisions.
type RejectionSampler struct {
	MaxRetries int
}

// Draw implements Sampler.
func (s RejectionSampler) Draw(sampleSize, populationSize int, rng *rand.Rand) ([]int, error) {
	if err := checkSampleArgs(sampleSize, populationSize, rng); err != nil {
		return nil, err
	}
	seen := make(map[int]struct{}, sampleSize)
	out := make([]int, 0, sampleSize)
	retries := 0
	for len(out) < sampleSize {
		idx := rng.IntN(populationSize)
		if _, dup := seen[idx]; dup {
			retries++
			if retries > s.MaxRetries {
				return nil, errors.Exhaustion("sampling without replacement exceeded retry budget").
					WithDetail(fmt.Sprintf("drawn=%d of %d, population=%d, retries=%d", len(out), sampleSize, populationSize, s.MaxRetries))
			}
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out, nil
}

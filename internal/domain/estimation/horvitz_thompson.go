// Package estimation implements the Horvitz–Thompson estimator of a
// vector-valued population total under simple random sampling without
// replacement, and the model-based variance across replicated estimates.
package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// Estimate accumulates per-unit totals of an equal-probability sample.
type Estimate struct {
	populationSize int
	categories     int
	unitTotals     [][]float64
}

// NewEstimate returns an empty estimate for a population of N units and
// k-vector outcomes.
func NewEstimate(populationSize, categories int) (*Estimate, error) {
	if populationSize < 1 {
		return nil, errors.Configuration(fmt.Sprintf("population size must be >= 1, got %d", populationSize))
	}
	if categories < 1 {
		return nil, errors.Configuration(fmt.Sprintf("categories must be >= 1, got %d", categories))
	}
	return &Estimate{populationSize: populationSize, categories: categories}, nil
}

// AddUnit records the total of one sampled unit.  The slice is copied.
func (e *Estimate) AddUnit(total []float64) error {
	if len(total) != e.categories {
		return errors.InvalidParam(fmt.Sprintf("unit total has %d components, want %d", len(total), e.categories))
	}
	if len(e.unitTotals) == e.populationSize {
		return errors.Configuration(fmt.Sprintf("sample already holds all %d population units", e.populationSize))
	}
	if err := RequireFinite("unit total", total); err != nil {
		return err
	}
	e.unitTotals = append(e.unitTotals, append([]float64(nil), total...))
	return nil
}

// SampleSize returns n.
func (e *Estimate) SampleSize() int { return len(e.unitTotals) }

// SamplingFraction returns f = n/N, the common inclusion probability.
func (e *Estimate) SamplingFraction() float64 {
	return float64(len(e.unitTotals)) / float64(e.populationSize)
}

// Total returns (N/n)·Σ y_i, or zeros for an empty sample.
func (e *Estimate) Total() []float64 {
	out := make([]float64, e.categories)
	n := len(e.unitTotals)
	if n == 0 {
		return out
	}
	for _, y := range e.unitTotals {
		floats.Add(out, y)
	}
	floats.Scale(float64(e.populationSize)/float64(n), out)
	return out
}

// Variance returns the design-based variance N²(1−f)s²/n per component.  It
// is exactly zero for a census and NaN when fewer than two units are sampled
// from a larger population.
func (e *Estimate) Variance() []float64 {
	out := make([]float64, e.categories)
	n := len(e.unitTotals)
	if n == e.populationSize {
		return out
	}
	if n < 2 {
		for g := range out {
			out[g] = math.NaN()
		}
		return out
	}
	N := float64(e.populationSize)
	factor := N * N * (1 - e.SamplingFraction()) / float64(n)
	column := make([]float64, n)
	for g := range out {
		for i, y := range e.unitTotals {
			column[i] = y[g]
		}
		out[g] = factor * stat.Variance(column, nil)
	}
	return out
}

// ModelVariance returns the per-component sample variance across replicated
// total estimates.  Fewer than two replicates give zeros.
func ModelVariance(replicates [][]float64) []float64 {
	if len(replicates) == 0 {
		return nil
	}
	k := len(replicates[0])
	out := make([]float64, k)
	if len(replicates) < 2 {
		return out
	}
	column := make([]float64, len(replicates))
	for g := range out {
		for m, r := range replicates {
			column[m] = r[g]
		}
		out[g] = stat.Variance(column, nil)
	}
	return out
}

// MeanVector returns the component-wise mean of equal-length vectors.
func MeanVector(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vectors)), out)
	return out
}

// RequireFinite returns NumericDegeneracy when any component is NaN or ±Inf.
func RequireFinite(label string, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.NumericDegeneracy(label + " is not finite").
				WithDetail(fmt.Sprintf("component %d = %g", i, x))
		}
	}
	return nil
}

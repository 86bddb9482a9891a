package estimation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/pkg/errors"
)

func estimateOf(t *testing.T, N int, units ...[]float64) *Estimate {
	t.Helper()
	e, err := NewEstimate(N, len(units[0]))
	require.NoError(t, err)
	for _, u := range units {
		require.NoError(t, e.AddUnit(u))
	}
	return e
}

func TestEstimate_Census(t *testing.T) {
	units := [][]float64{{1, 2}, {3, 6}, {0.5, 0}, {10, 1}}
	e := estimateOf(t, 4, units...)
	assert.Equal(t, 1.0, e.SamplingFraction())
	assert.InDeltaSlice(t, []float64{14.5, 9}, e.Total(), 1e-12)
	assert.Equal(t, []float64{0, 0}, e.Variance())
}

func TestEstimate_TotalAndVariance(t *testing.T) {
	e := estimateOf(t, 4, []float64{1, 2}, []float64{3, 6})
	assert.Equal(t, 2, e.SampleSize())
	assert.InDeltaSlice(t, []float64{8, 16}, e.Total(), 1e-12)
	// N²(1−f)/n = 16·0.5/2 = 4; s² = 2 and 8.
	assert.InDeltaSlice(t, []float64{8, 32}, e.Variance(), 1e-12)
}

func TestEstimate_SingleUnitVarianceIsNaN(t *testing.T) {
	e := estimateOf(t, 10, []float64{1, 2, 3})
	for _, v := range e.Variance() {
		assert.True(t, math.IsNaN(v))
	}
	one := estimateOf(t, 1, []float64{4})
	assert.Equal(t, []float64{0}, one.Variance())
	assert.Equal(t, []float64{4}, one.Total())
}

func TestEstimate_DesignUnbiasedOverAllSamples(t *testing.T) {
	y := []float64{2, 7, 1, 9, 4}
	const n = 2
	N := len(y)
	var truth float64
	for _, v := range y {
		truth += v
	}

	var totals, variances []float64
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			e := estimateOf(t, N, []float64{y[i]}, []float64{y[j]})
			totals = append(totals, e.Total()[0])
			variances = append(variances, e.Variance()[0])
		}
	}
	meanTotal := MeanVector(wrap(totals))[0]
	assert.InDelta(t, truth, meanTotal, 1e-9)

	var trueVar float64
	for _, tot := range totals {
		trueVar += (tot - truth) * (tot - truth)
	}
	trueVar /= float64(len(totals))
	assert.InDelta(t, trueVar, MeanVector(wrap(variances))[0], 1e-9)
}

func wrap(xs []float64) [][]float64 {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = []float64{x}
	}
	return out
}

func TestEstimate_Errors(t *testing.T) {
	_, err := NewEstimate(0, 5)
	assert.True(t, errors.IsConfiguration(err))
	_, err = NewEstimate(5, 0)
	assert.True(t, errors.IsConfiguration(err))

	e, err := NewEstimate(1, 2)
	require.NoError(t, err)
	assert.Error(t, e.AddUnit([]float64{1}))
	err = e.AddUnit([]float64{1, math.Inf(1)})
	assert.True(t, errors.IsNumericDegeneracy(err))
	require.NoError(t, e.AddUnit([]float64{1, 1}))
	assert.True(t, errors.IsConfiguration(e.AddUnit([]float64{1, 1})))

	empty, err := NewEstimate(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, empty.Total())
}

func TestModelVariance(t *testing.T) {
	assert.Nil(t, ModelVariance(nil))
	assert.Equal(t, []float64{0, 0}, ModelVariance([][]float64{{3, 4}}))
	got := ModelVariance([][]float64{{1, 10}, {3, 10}, {5, 10}})
	assert.InDeltaSlice(t, []float64{4, 0}, got, 1e-12)
}

func TestMeanVector(t *testing.T) {
	assert.Nil(t, MeanVector(nil))
	assert.InDeltaSlice(t, []float64{2, 5}, MeanVector([][]float64{{1, 4}, {3, 6}}), 1e-12)
}

func TestRequireFinite(t *testing.T) {
	assert.NoError(t, RequireFinite("x", []float64{0, 1, -2}))
	err := RequireFinite("x", []float64{0, math.NaN()})
	require.Error(t, err)
	assert.True(t, errors.IsNumericDegeneracy(err))
	assert.Contains(t, err.Error(), "component 1")
}

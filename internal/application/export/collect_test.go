package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/pkg/errors"
)

func collectRecord(runID string, trial int, est float64) decomposition.RealizationRecord {
	return decomposition.RealizationRecord{
		RunID:                        runID,
		Trial:                        trial,
		TrueTotal:                    []float64{100, 50},
		EstimatedTotal:               []float64{est, 50},
		EstimatedVarianceUncorrected: []float64{4, 1},
		EstimatedVarianceCorrected:   []float64{9, 1},
		SamplingVariancePart:         []float64{3, 1},
		ModelVariancePart:            []float64{6, 0},
	}
}

func TestCollector_LocksOntoFirstRun(t *testing.T) {
	ctx := context.Background()
	mem := &MemorySink{}
	c := NewCollector("", 2, mem)

	done, err := c.Collect(ctx, collectRecord("a", 1, 102))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = c.Collect(ctx, collectRecord("b", 0, 90))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = c.Collect(ctx, collectRecord("a", 1, 102))
	require.NoError(t, err)
	assert.False(t, done, "a repeated trial is not counted")

	done, err = c.Collect(ctx, collectRecord("a", 0, 98))
	require.NoError(t, err)
	assert.True(t, done)

	assert.Equal(t, "a", c.RunID())
	assert.Len(t, mem.Records(), 2)

	sum, err := c.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Trials)
	assert.InDelta(t, 100.0, sum.MeanEstimatedTotal[0], 1e-12)
	assert.InDelta(t, 8.0, sum.EmpiricalErrorVariance[0], 1e-12)
	assert.InDelta(t, 1.0, sum.Coverage[0], 1e-12)
}

func TestCollector_Empty(t *testing.T) {
	_, err := NewCollector("a", 0, nil).Summary()
	assert.True(t, errors.IsNotFound(err))
}

func TestCollector_CategoryMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewCollector("a", 0, nil)
	_, err := c.Collect(ctx, collectRecord("a", 0, 100))
	require.NoError(t, err)

	bad := collectRecord("a", 1, 100)
	bad.TrueTotal = []float64{1}
	_, err = c.Collect(ctx, bad)
	assert.Error(t, err)

	sum, err := c.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Trials)
}

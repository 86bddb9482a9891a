package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(runID string, trial int, k int) decomposition.RealizationRecord {
	vec := func(base float64) []float64 {
		out := make([]float64, k)
		for g := range out {
			out[g] = base + float64(trial*10+g)
		}
		return out
	}
	return decomposition.RealizationRecord{
		RunID:                        runID,
		Trial:                        trial,
		TrueTotal:                    vec(1000),
		EstimatedTotal:               vec(990),
		EstimatedVarianceUncorrected: vec(50),
		EstimatedVarianceCorrected:   vec(60),
		SamplingVariancePart:         vec(40),
		ModelVariancePart:            vec(20),
	}
}

func TestStore_SaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recs := []decomposition.RealizationRecord{record("run-a", 0, 3), record("run-a", 1, 3)}

	n, err := s.SaveRecords(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.ListRecords(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestStore_NaNRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := record("run-nan", 0, 2)
	rec.EstimatedVarianceUncorrected[1] = math.NaN()

	_, err := s.SaveRecords(ctx, []decomposition.RealizationRecord{rec})
	require.NoError(t, err)

	got, err := s.ListRecords(ctx, "run-nan")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].EstimatedVarianceUncorrected[1]))
	assert.Equal(t, rec.EstimatedVarianceUncorrected[0], got[0].EstimatedVarianceUncorrected[0])
}

func TestStore_RejectsMixedCategories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRecords(ctx, []decomposition.RealizationRecord{record("run-b", 0, 5)})
	require.NoError(t, err)

	_, err = s.SaveRecords(ctx, []decomposition.RealizationRecord{record("run-b", 1, 4)})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	got, err := s.ListRecords(ctx, "run-b")
	require.NoError(t, err)
	assert.Len(t, got, 1, "the rejected batch is rolled back")
}

func TestStore_DuplicateTrialRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRecords(ctx, []decomposition.RealizationRecord{record("run-c", 0, 2), record("run-c", 0, 2)})
	assert.Error(t, err)

	_, err = s.ListRecords(ctx, "run-c")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestStore_ListAndDeleteRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRecords(ctx, []decomposition.RealizationRecord{
		record("run-d", 0, 2), record("run-d", 1, 2), record("run-d", 2, 2),
	})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-d", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Categories)
	assert.Equal(t, 3, runs[0].Trials)
	assert.False(t, runs[0].CreatedAt.IsZero())

	require.NoError(t, s.DeleteRun(ctx, "run-d"))
	_, err = s.ListRecords(ctx, "run-d")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "records cascade with the run")
	assert.True(t, errors.IsCode(s.DeleteRun(ctx, "run-d"), errors.ErrCodeNotFound))
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.SaveRecords(context.Background(), []decomposition.RealizationRecord{record("run-e", 0, 1)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ListRecords(context.Background(), "run-e")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

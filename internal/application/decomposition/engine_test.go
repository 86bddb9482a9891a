package decomposition

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/internal/domain/predictor"
	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type sliceSink struct {
	mu      sync.Mutex
	records []RealizationRecord
	failAt  int
}

func newSliceSink() *sliceSink { return &sliceSink{failAt: -1} }

func (s *sliceSink) Write(_ context.Context, rec RealizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Trial == s.failAt {
		return errors.New(errors.ErrCodeDatabaseError, "sink unavailable")
	}
	s.records = append(s.records, rec)
	return nil
}

type countingObserver struct {
	started, finished, completed, inner int
	failed                              []string
}

func (o *countingObserver) ExperimentStarted()  { o.started++ }
func (o *countingObserver) ExperimentFinished() { o.finished++ }
func (o *countingObserver) TrialCompleted(_ time.Duration, inner int) {
	o.completed++
	o.inner += inner
}
func (o *countingObserver) TrialFailed(code string) { o.failed = append(o.failed, code) }

// constantPredictor returns the same outcome for every tree.
type constantPredictor struct {
	out forest.Outcome
}

func (p constantPredictor) Categories() int { return len(p.out) }
func (p constantPredictor) Predict(predictor.TreeRecord, *rand.Rand) (forest.Outcome, error) {
	return p.out.Clone(), nil
}
func (p constantPredictor) ResidualCovariance() mat.Symmetric {
	return mat.NewSymDense(len(p.out), nil)
}
func (p constantPredictor) RedrawParameters(*rand.Rand) error { return nil }

func testPopulation(t *testing.T, size int, cfg inventory.GeneratorConfig) *inventory.Population {
	t.Helper()
	pop, err := inventory.GeneratePopulation(size, Streams{Seed: 99}.Rand(StreamPopulation, 0, 0), cfg)
	require.NoError(t, err)
	return pop
}

func smallExperiment() Experiment {
	return Experiment{
		RunID:       "test-run",
		OuterTrials: 4,
		InnerTrials: 25,
		SampleSize:  6,
		Seed:        424242,
		Workers:     4,
		Sampler:     inventory.SamplerShuffle,
	}
}

func referencePair(t *testing.T, version forest.VersionKind, cfg predictor.Config) (*predictor.GradeVolumePredictor, *predictor.GradeVolumePredictor) {
	t.Helper()
	truth, est, err := NewPredictorPair(predictor.ReferenceModel(version, nil), cfg)
	require.NoError(t, err)
	return truth, est
}

func runSmall(t *testing.T, pop *inventory.Population, exp Experiment, cfg predictor.Config) ([]RealizationRecord, *Summary) {
	t.Helper()
	truth, est := referencePair(t, forest.VersionNone, cfg)
	engine, err := NewEngine(pop, truth, est, exp)
	require.NoError(t, err)
	sink := newSliceSink()
	summary, err := engine.Run(context.Background(), sink)
	require.NoError(t, err)
	return sink.records, summary
}

var fullVariability = predictor.Config{ParameterVariability: true, ResidualVariability: true}

// ─────────────────────────────────────────────────────────────────────────────
// Run
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_RecordInvariants(t *testing.T) {
	pop := testPopulation(t, 60, inventory.DefaultGeneratorConfig())
	exp := smallExperiment()
	records, summary := runSmall(t, pop, exp, fullVariability)

	require.Len(t, records, exp.OuterTrials)
	assert.Equal(t, exp.OuterTrials, summary.Trials)
	for i, rec := range records {
		assert.Equal(t, i, rec.Trial)
		assert.Equal(t, "test-run", rec.RunID)
		require.Equal(t, forest.DefaultCategories, rec.Categories())
		for g := 0; g < rec.Categories(); g++ {
			assert.Greater(t, rec.TrueTotal[g], 0.0)
			assert.Greater(t, rec.EstimatedTotal[g], 0.0)
			assert.GreaterOrEqual(t, rec.EstimatedVarianceUncorrected[g], 0.0)
			assert.GreaterOrEqual(t, rec.SamplingVariancePart[g], 0.0)
			assert.GreaterOrEqual(t, rec.ModelVariancePart[g], 0.0)
			assert.Equal(t, rec.SamplingVariancePart[g]+rec.ModelVariancePart[g], rec.EstimatedVarianceCorrected[g])
		}
	}
}

func TestRun_BitIdenticalAcrossWorkerCounts(t *testing.T) {
	pop := testPopulation(t, 50, inventory.DefaultGeneratorConfig())

	exp := smallExperiment()
	exp.Workers = 1
	sequential, _ := runSmall(t, pop, exp, fullVariability)

	exp.Workers = 8
	parallel, _ := runSmall(t, pop, exp, fullVariability)

	if diff := cmp.Diff(sequential, parallel); diff != "" {
		t.Errorf("records differ between worker counts (-1 +8):\n%s", diff)
	}
}

func TestRun_SameSeedSameTable(t *testing.T) {
	pop := testPopulation(t, 40, inventory.DefaultGeneratorConfig())
	first, _ := runSmall(t, pop, smallExperiment(), fullVariability)
	second, _ := runSmall(t, pop, smallExperiment(), fullVariability)

	rows := func(recs []RealizationRecord) [][]string { return RecordTable(recs).TableRows() }
	if diff := cmp.Diff(rows(first), rows(second)); diff != "" {
		t.Errorf("tables differ:\n%s", diff)
	}

	exp := smallExperiment()
	exp.Seed++
	third, _ := runSmall(t, pop, exp, fullVariability)
	assert.NotEqual(t, first[0].TrueTotal, third[0].TrueTotal)
}

func TestRun_CensusHasNoSamplingVariance(t *testing.T) {
	pop := testPopulation(t, 12, inventory.DefaultGeneratorConfig())
	exp := smallExperiment()
	exp.SampleSize = pop.Size()

	records, _ := runSmall(t, pop, exp, predictor.Config{})

	// Deterministic estimation over the whole population.
	det, err := predictor.NewGradeVolumePredictor(predictor.ReferenceModel(forest.VersionNone, nil), predictor.Config{})
	require.NoError(t, err)
	want := make([]float64, forest.DefaultCategories)
	for _, u := range pop.Units {
		for _, tree := range u.Trees {
			out, err := det.Predict(tree, nil)
			require.NoError(t, err)
			for g, v := range out {
				want[g] += v
			}
		}
	}

	for _, rec := range records {
		for g := range want {
			assert.Zero(t, rec.SamplingVariancePart[g])
			assert.Zero(t, rec.EstimatedVarianceUncorrected[g])
			assert.InDelta(t, 0, rec.ModelVariancePart[g], 1e-12*want[g]*want[g])
			assert.InEpsilon(t, want[g], rec.EstimatedTotal[g], 1e-12)
		}
	}
}

func TestRun_SingleInnerTrialHasNoModelVariance(t *testing.T) {
	pop := testPopulation(t, 30, inventory.DefaultGeneratorConfig())
	exp := smallExperiment()
	exp.InnerTrials = 1

	records, _ := runSmall(t, pop, exp, fullVariability)
	for _, rec := range records {
		for g := range rec.ModelVariancePart {
			assert.Zero(t, rec.ModelVariancePart[g])
			assert.Equal(t, rec.EstimatedVarianceUncorrected[g], rec.EstimatedVarianceCorrected[g])
		}
	}
}

func TestRun_ObserverAndSummary(t *testing.T) {
	pop := testPopulation(t, 30, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionNone, fullVariability)
	obs := &countingObserver{}
	exp := smallExperiment()

	engine, err := NewEngine(pop, truth, est, exp, WithObserver(obs), WithLogger(nil))
	require.NoError(t, err)
	summary, err := engine.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, exp.OuterTrials, obs.completed)
	assert.Equal(t, exp.OuterTrials*exp.InnerTrials, obs.inner)
	assert.Empty(t, obs.failed)
	assert.Len(t, summary.Coverage, forest.DefaultCategories)
	for _, c := range summary.Coverage {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestNewEngine_GeneratesRunID(t *testing.T) {
	pop := testPopulation(t, 10, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionNone, fullVariability)
	exp := smallExperiment()
	exp.RunID = ""

	engine, err := NewEngine(pop, truth, est, exp)
	require.NoError(t, err)
	assert.NotEmpty(t, engine.Experiment().RunID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Failures
// ─────────────────────────────────────────────────────────────────────────────

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	pop := testPopulation(t, 10, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionNone, fullVariability)

	tests := []struct {
		name   string
		mutate func(*Experiment)
	}{
		{"sample larger than population", func(e *Experiment) { e.SampleSize = 11 }},
		{"single unit sample", func(e *Experiment) { e.SampleSize = 1 }},
		{"zero sample", func(e *Experiment) { e.SampleSize = 0 }},
		{"zero outer trials", func(e *Experiment) { e.OuterTrials = 0 }},
		{"zero inner trials", func(e *Experiment) { e.InnerTrials = 0 }},
		{"population size mismatch", func(e *Experiment) { e.PopulationSize = 20 }},
		{"unknown sampler", func(e *Experiment) { e.Sampler = "reservoir" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := smallExperiment()
			tt.mutate(&exp)
			_, err := NewEngine(pop, truth, est, exp)
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err), "got %v", err)
		})
	}

	t.Run("nil collaborators", func(t *testing.T) {
		_, err := NewEngine(nil, truth, est, smallExperiment())
		assert.True(t, errors.IsConfiguration(err))
	})

	t.Run("category mismatch", func(t *testing.T) {
		_, err := NewEngine(pop, truth, constantPredictor{out: forest.Outcome{1, 2, 3}}, smallExperiment())
		assert.True(t, errors.IsConfiguration(err))
	})
}

func TestRun_NumericDegeneracyOnParameterDraw(t *testing.T) {
	pop := testPopulation(t, 20, inventory.DefaultGeneratorConfig())
	model := predictor.ReferenceModel(forest.VersionNone, nil)
	p := model.NumCoefficients()
	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		cov.SetSym(i, i, 0.01)
	}
	cov.SetSym(0, 1, 0.5)
	model.CoefficientCovariance = cov

	truth, est, err := NewPredictorPair(model, fullVariability)
	require.NoError(t, err)
	obs := &countingObserver{}
	engine, err := NewEngine(pop, truth, est, smallExperiment(), WithObserver(obs))
	require.NoError(t, err)

	sink := newSliceSink()
	_, err = engine.Run(context.Background(), sink)
	require.Error(t, err)

	var trialErr *TrialError
	require.True(t, stderrors.As(err, &trialErr))
	assert.Equal(t, 0, trialErr.Trial)
	assert.True(t, errors.IsNumericDegeneracy(err))
	assert.Empty(t, sink.records)
	assert.Equal(t, []string{errors.ErrCodeNumericDegeneracy.String()}, obs.failed)
	assert.Equal(t, 1, obs.finished)
}

func TestRun_NumericDegeneracyOnNonFiniteOutcome(t *testing.T) {
	pop := testPopulation(t, 20, inventory.DefaultGeneratorConfig())
	inf := forest.Outcome{1, math.Inf(1), 1, 1, 1}
	finite := constantPredictor{out: forest.Outcome{1, 1, 1, 1, 1}}

	t.Run("truth", func(t *testing.T) {
		engine, err := NewEngine(pop, constantPredictor{out: inf}, finite, smallExperiment())
		require.NoError(t, err)
		_, err = engine.Run(context.Background(), nil)
		assert.True(t, errors.IsNumericDegeneracy(err), "got %v", err)
	})

	t.Run("estimation", func(t *testing.T) {
		engine, err := NewEngine(pop, finite, constantPredictor{out: inf}, smallExperiment())
		require.NoError(t, err)
		_, err = engine.Run(context.Background(), nil)
		assert.True(t, errors.IsNumericDegeneracy(err), "got %v", err)
	})
}

func TestRun_ExhaustionFromRejectionSampler(t *testing.T) {
	pop := testPopulation(t, 80, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionNone, fullVariability)
	exp := smallExperiment()
	exp.Sampler = inventory.SamplerRejection
	exp.SampleSize = 80
	exp.MaxSampleRetries = 1

	engine, err := NewEngine(pop, truth, est, exp)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), nil)
	require.Error(t, err)

	var trialErr *TrialError
	require.True(t, stderrors.As(err, &trialErr))
	assert.Equal(t, 0, trialErr.Trial)
	assert.True(t, errors.IsExhaustion(err))
}

func TestRun_MissingCovariate(t *testing.T) {
	pop := testPopulation(t, 20, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionVigor, fullVariability)

	engine, err := NewEngine(pop, truth, est, smallExperiment())
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Equal(t, errors.ErrCodeConfiguration, errors.RootCode(err))
}

func TestRun_CovariateVersion(t *testing.T) {
	gen := inventory.DefaultGeneratorConfig()
	gen.Covariate = forest.VersionQuality
	pop := testPopulation(t, 30, gen)
	truth, est := referencePair(t, forest.VersionQuality, fullVariability)

	engine, err := NewEngine(pop, truth, est, smallExperiment())
	require.NoError(t, err)
	sink := newSliceSink()
	_, err = engine.Run(context.Background(), sink)
	require.NoError(t, err)
	assert.Len(t, sink.records, smallExperiment().OuterTrials)
}

func TestRun_SinkFailureReportsTrial(t *testing.T) {
	pop := testPopulation(t, 20, inventory.DefaultGeneratorConfig())
	truth, est := referencePair(t, forest.VersionNone, fullVariability)
	engine, err := NewEngine(pop, truth, est, smallExperiment())
	require.NoError(t, err)

	sink := newSliceSink()
	sink.failAt = 2
	_, err = engine.Run(context.Background(), sink)

	var trialErr *TrialError
	require.True(t, stderrors.As(err, &trialErr))
	assert.Equal(t, 2, trialErr.Trial)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.Len(t, sink.records, 2)
}

// ─────────────────────────────────────────────────────────────────────────────
// End-to-end
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_ReferenceScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("full reference scenario skipped in short mode")
	}
	pop := testPopulation(t, 1000, inventory.DefaultGeneratorConfig())
	exp := DefaultExperiment()
	exp.RunID = "reference"

	records, summary := runSmall(t, pop, exp, fullVariability)
	require.Len(t, records, 100)
	for _, rec := range records {
		require.Len(t, rec.TrueTotal, 5)
		require.Len(t, rec.EstimatedTotal, 5)
		for g := 0; g < 5; g++ {
			assert.GreaterOrEqual(t, rec.TrueTotal[g], 0.0)
			assert.GreaterOrEqual(t, rec.EstimatedTotal[g], 0.0)
			assert.GreaterOrEqual(t, rec.EstimatedVarianceCorrected[g], 0.0)
		}
	}
	assert.Equal(t, 100, summary.Trials)
}

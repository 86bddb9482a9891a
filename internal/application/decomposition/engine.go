package decomposition

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/GradeSim/internal/domain/estimation"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/internal/domain/predictor"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// ParametricPredictor is an outcome predictor whose coefficients can be
// redrawn from their asymptotic distribution.
type ParametricPredictor interface {
	predictor.OutcomePredictor
	RedrawParameters(rng *rand.Rand) error
}

// RecordSink receives each record as soon as its trial completes.
type RecordSink interface {
	Write(ctx context.Context, rec RealizationRecord) error
}

// Observer is notified of run progress; SimulationMetrics implements it.
type Observer interface {
	ExperimentStarted()
	ExperimentFinished()
	TrialCompleted(elapsed time.Duration, innerReplicates int)
	TrialFailed(code string)
}

type nopObserver struct{}

func (nopObserver) ExperimentStarted()                {}
func (nopObserver) ExperimentFinished()               {}
func (nopObserver) TrialCompleted(time.Duration, int) {}
func (nopObserver) TrialFailed(string)                {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// Engine runs the nested Monte Carlo loop over a fixed population.
//
// For each outer trial r the engine
//  1. applies the truth predictor to every tree and sums the true total,
//  2. redraws the estimation predictor's coefficients once,
//  3. draws one sample of units, kept for the whole inner loop,
//  4. evaluates M inner realizations of the sample in parallel, each giving
//     a Horvitz–Thompson total and design variance,
//  5. aggregates them into a RealizationRecord.
type Engine struct {
	population *inventory.Population
	truth      predictor.OutcomePredictor
	estimator  ParametricPredictor
	experiment Experiment
	sampler    inventory.Sampler
	streams    Streams
	logger     logging.Logger
	observer   Observer
}

// NewEngine validates the experiment against the population and predictors.
func NewEngine(pop *inventory.Population, truth predictor.OutcomePredictor, estimator ParametricPredictor, exp Experiment, opts ...Option) (*Engine, error) {
	if pop == nil || truth == nil || estimator == nil {
		return nil, errors.Configuration("population, truth predictor and estimation predictor are required")
	}
	if err := exp.Validate(pop.Size()); err != nil {
		return nil, err
	}
	if truth.Categories() != estimator.Categories() {
		return nil, errors.Configuration(fmt.Sprintf("truth predictor has %d categories, estimation predictor %d",
			truth.Categories(), estimator.Categories()))
	}
	sampler, err := inventory.NewSampler(exp.Sampler, exp.MaxSampleRetries)
	if err != nil {
		return nil, err
	}
	if exp.RunID == "" {
		exp.RunID = uuid.NewString()
	}
	e := &Engine{
		population: pop,
		truth:      truth,
		estimator:  estimator,
		experiment: exp,
		sampler:    sampler,
		streams:    Streams{Seed: exp.Seed},
		logger:     logging.NewNopLogger(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine").With(logging.String("run_id", exp.RunID))
	return e, nil
}

// Experiment returns the validated experiment, including its run id.
func (e *Engine) Experiment() Experiment { return e.experiment }

// Run executes exactly R outer trials, handing each record to sink.  A
// failing trial aborts the run with a *TrialError.  ctx is passed to the sink
// only; the computation itself is not cancellable.
func (e *Engine) Run(ctx context.Context, sink RecordSink) (*Summary, error) {
	exp := e.experiment
	k := e.truth.Categories()
	summary := NewSummary(exp.RunID, k)

	e.observer.ExperimentStarted()
	defer e.observer.ExperimentFinished()

	e.logger.Info("experiment started",
		logging.Int("population_size", e.population.Size()),
		logging.Int("outer_trials", exp.OuterTrials),
		logging.Int("inner_trials", exp.InnerTrials),
		logging.Int("sample_size", exp.SampleSize),
		logging.Uint64("seed", exp.Seed),
		logging.Int("workers", exp.workers()),
		logging.String("sampler", string(exp.Sampler)),
	)
	began := time.Now()

	for r := 0; r < exp.OuterTrials; r++ {
		start := time.Now()
		rec, err := e.RunTrial(r)
		if err != nil {
			e.observer.TrialFailed(errors.RootCode(err).String())
			e.logger.WithError(err).Error("trial aborted", logging.Int("trial", r))
			return summary.Finalize(), &TrialError{Trial: r, Err: err}
		}
		elapsed := time.Since(start)
		e.observer.TrialCompleted(elapsed, exp.InnerTrials)
		e.logger.Debug("trial completed", logging.Int("trial", r), logging.Duration("elapsed", elapsed))

		summary.Add(rec)
		if sink != nil {
			if err := sink.Write(ctx, rec); err != nil {
				e.logger.WithError(err).Error("record export failed", logging.Int("trial", r))
				return summary.Finalize(), &TrialError{Trial: r, Err: err}
			}
		}
	}

	summary.Finalize()
	e.logger.Info("experiment finished",
		logging.Int("trials", summary.Trials),
		logging.Duration("elapsed", time.Since(began)),
		logging.Any("coverage", summary.Coverage),
	)
	return summary, nil
}

// RunTrial executes outer trial r.  Trials are independent given the seed,
// but the estimation predictor's coefficients are shared, so trials must not
// run concurrently.
func (e *Engine) RunTrial(r int) (RealizationRecord, error) {
	exp := e.experiment
	N := e.population.Size()
	k := e.truth.Categories()

	trueTotal, err := e.assignTruth(r)
	if err != nil {
		return RealizationRecord{}, err
	}

	if err := e.estimator.RedrawParameters(e.streams.Rand(StreamParameters, r, 0)); err != nil {
		return RealizationRecord{}, err
	}

	indices, err := e.sampler.Draw(exp.SampleSize, N, e.streams.Rand(StreamSample, r, 0))
	if err != nil {
		return RealizationRecord{}, err
	}
	sample := inventory.Sample{Indices: indices}
	units, err := e.population.Select(sample)
	if err != nil {
		return RealizationRecord{}, err
	}

	M := exp.InnerTrials
	arena := NewOutcomeArena(units, M, k)
	innerTotals := make([][]float64, M)
	innerVariances := make([][]float64, M)
	innerErrs := make([]error, M)

	var g errgroup.Group
	g.SetLimit(exp.workers())
	for m := 0; m < M; m++ {
		g.Go(func() error {
			tagged := sample.WithRealization(m)
			total, variance, err := e.realize(r, tagged, units, arena)
			if err != nil {
				innerErrs[m] = err
				return err
			}
			innerTotals[m] = total
			innerVariances[m] = variance
			return nil
		})
	}
	_ = g.Wait()
	for m, err := range innerErrs {
		if err != nil {
			return RealizationRecord{}, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("inner realization %d failed", m))
		}
	}

	return e.aggregate(r, trueTotal, arena, innerTotals, innerVariances)
}

// assignTruth applies the truth predictor to the whole population.
func (e *Engine) assignTruth(r int) ([]float64, error) {
	arena := NewOutcomeArena(e.population.Units, 1, e.truth.Categories())
	rng := e.streams.Rand(StreamTruth, r, 0)
	for u, unit := range e.population.Units {
		for t, tree := range unit.Trees {
			out, err := e.truth.Predict(tree, rng)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("truth prediction failed for unit %d tree %d", unit.ID, t))
			}
			arena.Store(u, t, 0, out)
		}
	}
	total := arena.LayerTotal(0)
	if err := estimation.RequireFinite("true total", total); err != nil {
		return nil, err
	}
	return total, nil
}

// realize evaluates one inner realization of the sample into its arena layer
// and returns the Horvitz–Thompson total and design variance.
func (e *Engine) realize(r int, sample inventory.Sample, units []inventory.SamplingUnit, arena *OutcomeArena) ([]float64, []float64, error) {
	m := sample.Realization
	rng := e.streams.Rand(StreamInner, r, m)
	est, err := estimation.NewEstimate(e.population.Size(), e.estimator.Categories())
	if err != nil {
		return nil, nil, err
	}
	for slot, unit := range units {
		for t, tree := range unit.Trees {
			out, err := e.estimator.Predict(tree, rng)
			if err != nil {
				return nil, nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("prediction failed for unit %d tree %d", unit.ID, t))
			}
			arena.Store(slot, t, m, out)
		}
		if err := est.AddUnit(arena.UnitTotal(slot, m)); err != nil {
			return nil, nil, err
		}
	}
	return est.Total(), est.Variance(), nil
}

// aggregate folds the M inner realizations into one record.
func (e *Engine) aggregate(r int, trueTotal []float64, arena *OutcomeArena, totals, variances [][]float64) (RealizationRecord, error) {
	k := len(trueTotal)
	M := arena.Layers()

	// Design variance of per-unit totals averaged over the inner loop.
	averaged, err := estimation.NewEstimate(e.population.Size(), k)
	if err != nil {
		return RealizationRecord{}, err
	}
	for slot := 0; slot < arena.Units(); slot++ {
		mean := make([]float64, k)
		for m := 0; m < M; m++ {
			for g, v := range arena.UnitTotal(slot, m) {
				mean[g] += v
			}
		}
		for g := range mean {
			mean[g] /= float64(M)
		}
		if err := averaged.AddUnit(mean); err != nil {
			return RealizationRecord{}, err
		}
	}

	sampling := averaged.Variance()
	model := estimation.ModelVariance(totals)
	corrected := make([]float64, k)
	for g := range corrected {
		corrected[g] = sampling[g] + model[g]
	}
	rec := RealizationRecord{
		RunID:                        e.experiment.RunID,
		Trial:                        r,
		TrueTotal:                    trueTotal,
		EstimatedTotal:               estimation.MeanVector(totals),
		EstimatedVarianceUncorrected: estimation.MeanVector(variances),
		EstimatedVarianceCorrected:   corrected,
		SamplingVariancePart:         sampling,
		ModelVariancePart:            model,
	}
	for i, v := range rec.vectors() {
		if err := estimation.RequireFinite(recordFields[i], v); err != nil {
			return RealizationRecord{}, err
		}
	}
	return rec, nil
}

// NewPredictorPair builds the superpopulation predictor (residual draws only)
// and the estimation predictor configured by cfg from the same model.
func NewPredictorPair(model *predictor.Model, cfg predictor.Config) (*predictor.GradeVolumePredictor, *predictor.GradeVolumePredictor, error) {
	truth, err := predictor.NewGradeVolumePredictor(model, predictor.Config{ResidualVariability: true})
	if err != nil {
		return nil, nil, err
	}
	est, err := predictor.NewGradeVolumePredictor(model, cfg)
	if err != nil {
		return nil, nil, err
	}
	return truth, est, nil
}

// Package simulation is the use-case layer shared by the CLI and the HTTP
// server: it builds the predictors and the population from settings, wires
// the record sinks of a run and executes the decomposition engine.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/application/export"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/internal/domain/predictor"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/redis"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// Service runs experiments and one-off predictor and sampler evaluations.
type Service interface {
	RunExperiment(ctx context.Context, input *RunInput) (*RunResult, error)
	Predict(ctx context.Context, input *PredictInput) (*PredictResult, error)
	DrawSample(ctx context.Context, input *SampleInput) (*SampleResult, error)
}

// PopulationCache returns a stored population or generates and stores it.
type PopulationCache interface {
	GetOrGenerate(ctx context.Context, key redis.PopulationKey, generate func() (*inventory.Population, error)) (*inventory.Population, bool, error)
}

// Repository is a named record store that receives every run.
type Repository struct {
	Name string
	Repo export.RecordRepository
}

// Dependencies are the optional collaborators of a Service.  The zero value
// runs experiments with CSV output only.
type Dependencies struct {
	Populations  PopulationCache
	Publisher    export.EventPublisher
	Repositories []Repository
	BatchSize    int
	Archiver     export.ObjectArchiver
	Observer     decomposition.Observer
	Exports      export.ExportObserver
	Logger       logging.Logger
}

// ─────────────────────────────────────────────────────────────────────────────
// DTOs
// ─────────────────────────────────────────────────────────────────────────────

// RunInput describes one experiment.
type RunInput struct {
	Experiment decomposition.Experiment  `json:"experiment"`
	Population inventory.GeneratorConfig `json:"population"`
	Predictor  config.PredictorConfig    `json:"predictor"`

	// CSVPath receives the record table; empty disables the CSV sink.
	CSVPath string `json:"csv_path,omitempty"`

	// KeepRecords returns every record in RunResult.
	KeepRecords bool `json:"keep_records,omitempty"`
}

// RunResult is the outcome of a completed experiment.
type RunResult struct {
	RunID            string                            `json:"run_id"`
	Experiment       decomposition.Experiment          `json:"experiment"`
	Summary          *decomposition.Summary            `json:"summary"`
	Records          []decomposition.RealizationRecord `json:"records,omitempty"`
	CSVPath          string                            `json:"csv_path,omitempty"`
	ArchiveLocation  string                            `json:"archive_location,omitempty"`
	PopulationCached bool                              `json:"population_cached"`
	Sinks            []string                          `json:"sinks"`
	Elapsed          time.Duration                     `json:"elapsed"`
}

type serviceImpl struct {
	deps   Dependencies
	logger logging.Logger
}

// NewService returns a Service over deps.
func NewService(deps Dependencies) Service {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &serviceImpl{deps: deps, logger: deps.Logger.Named("simulation")}
}

// ─────────────────────────────────────────────────────────────────────────────
// Experiments
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) RunExperiment(ctx context.Context, input *RunInput) (*RunResult, error) {
	if input == nil {
		return nil, errors.Configuration("run input is required")
	}
	started := time.Now()
	exp := input.Experiment
	if exp.RunID == "" {
		exp.RunID = uuid.NewString()
	}
	if exp.PopulationSize < 1 {
		return nil, errors.Configuration(fmt.Sprintf("population size must be >= 1, got %d", exp.PopulationSize))
	}

	model, err := BuildModel(input.Predictor, withGeneratorDefaults(input.Population).Species)
	if err != nil {
		return nil, err
	}
	truth, estimator, err := decomposition.NewPredictorPair(model, predictor.Config{
		ParameterVariability: true,
		ResidualVariability:  true,
		DbhVariance:          input.Predictor.DbhVariance,
	})
	if err != nil {
		return nil, err
	}

	gen := withGeneratorDefaults(input.Population)
	gen.Covariate = model.Version
	pop, cached, err := s.population(ctx, exp, gen)
	if err != nil {
		return nil, err
	}

	engine, err := decomposition.NewEngine(pop, truth, estimator, exp,
		decomposition.WithLogger(s.deps.Logger),
		decomposition.WithObserver(s.deps.Observer))
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:            exp.RunID,
		Experiment:       engine.Experiment(),
		CSVPath:          input.CSVPath,
		PopulationCached: cached,
	}
	sink, memory, err := s.sinks(input)
	if err != nil {
		return nil, err
	}
	result.Sinks = sink.Names()

	summary, runErr := engine.Run(ctx, sink)
	closeErr := sink.Close(ctx)
	result.Summary = summary
	if runErr != nil {
		return result, runErr
	}
	if closeErr != nil {
		return result, closeErr
	}
	if memory != nil {
		result.Records = memory.Records()
	}

	if s.deps.Archiver != nil && input.CSVPath != "" {
		loc, err := export.ArchiveTable(ctx, s.deps.Archiver, exp.RunID, input.CSVPath)
		if err != nil {
			s.logger.WithError(err).Warn("failed to archive record table", logging.String("run_id", exp.RunID))
		} else {
			result.ArchiveLocation = loc
		}
	}

	result.Elapsed = time.Since(started)
	s.logger.Info("experiment completed",
		logging.String("run_id", exp.RunID),
		logging.Int("trials", summary.Trials),
		logging.Bool("population_cached", cached),
		logging.Duration("elapsed", result.Elapsed))
	return result, nil
}

// population generates the run's population from its own seeded stream, or
// fetches it from the cache.
func (s *serviceImpl) population(ctx context.Context, exp decomposition.Experiment, gen inventory.GeneratorConfig) (*inventory.Population, bool, error) {
	generate := func() (*inventory.Population, error) {
		rng := decomposition.Streams{Seed: exp.Seed}.Rand(decomposition.StreamPopulation, 0, 0)
		return inventory.GeneratePopulation(exp.PopulationSize, rng, gen)
	}
	if s.deps.Populations == nil {
		pop, err := generate()
		return pop, false, err
	}
	key := redis.PopulationKey{Size: exp.PopulationSize, Seed: exp.Seed, Generator: gen}
	return s.deps.Populations.GetOrGenerate(ctx, key, generate)
}

// sinks builds the fan-out of one run.  Repository sinks buffer per run, so
// they are created fresh each time.
func (s *serviceImpl) sinks(input *RunInput) (*export.MultiSink, *export.MemorySink, error) {
	var targets []export.Target
	if input.CSVPath != "" {
		csv, err := export.CreateCSVFile(input.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, export.Target{Name: "csv", Sink: csv})
	}
	if s.deps.Publisher != nil {
		targets = append(targets, export.Target{Name: "kafka", Sink: export.NewPublisherSink(s.deps.Publisher)})
	}
	for _, r := range s.deps.Repositories {
		targets = append(targets, export.Target{Name: r.Name, Sink: export.NewRepositorySink(r.Repo, s.deps.BatchSize)})
	}
	var memory *export.MemorySink
	if input.KeepRecords {
		memory = &export.MemorySink{}
		targets = append(targets, export.Target{Name: "memory", Sink: memory})
	}
	return export.NewMultiSink(s.deps.Logger, s.deps.Exports, targets...), memory, nil
}

// withGeneratorDefaults fills the unset ranges and species of gen.
func withGeneratorDefaults(gen inventory.GeneratorConfig) inventory.GeneratorConfig {
	def := inventory.DefaultGeneratorConfig()
	if gen.MinTrees == 0 && gen.MaxTrees == 0 {
		gen.MinTrees, gen.MaxTrees = def.MinTrees, def.MaxTrees
	}
	if gen.DbhMin == 0 && gen.DbhMax == 0 {
		gen.DbhMin, gen.DbhMax = def.DbhMin, def.DbhMax
	}
	if len(gen.Species) == 0 {
		gen.Species = def.Species
	}
	return gen
}

// BuildModel loads pc.ModelFile, or builds the reference model for
// pc.Version over species.
func BuildModel(pc config.PredictorConfig, species []forest.Species) (*predictor.Model, error) {
	if pc.ModelFile != "" {
		return predictor.LoadModel(pc.ModelFile)
	}
	version, err := forest.ParseVersionKind(pc.Version)
	if err != nil {
		return nil, errors.Configuration(err.Error())
	}
	if pc.Categories != 0 && pc.Categories != forest.DefaultCategories {
		return nil, errors.Configuration(fmt.Sprintf("the reference model has %d categories, %d requested",
			forest.DefaultCategories, pc.Categories))
	}
	return predictor.ReferenceModel(version, species), nil
}

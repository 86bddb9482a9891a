package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/application/simulation"
	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// Defaults are the settings a request starts from; fields present in the
// request body replace them.
type Defaults struct {
	Experiment decomposition.Experiment
	Population inventory.GeneratorConfig
	Predictor  config.PredictorConfig
}

// SimulationHandler serves experiments, predictions and samples.
type SimulationHandler struct {
	svc      simulation.Service
	defaults Defaults
	maxWork  atomic.Int64
}

// NewSimulationHandler serves svc.  maxWork caps the cost of one request,
// counted in tree evaluations (see experimentCost and sampleCost); < 1 means
// no cap.
func NewSimulationHandler(svc simulation.Service, defaults Defaults, maxWork int64) *SimulationHandler {
	h := &SimulationHandler{svc: svc, defaults: defaults}
	h.SetMaxWork(maxWork)
	return h
}

// SetMaxWork replaces the request cost cap, e.g. after a config reload.
func (h *SimulationHandler) SetMaxWork(n int64) { h.maxWork.Store(n) }

// MaxWork returns the current request cost cap.
func (h *SimulationHandler) MaxWork() int64 { return h.maxWork.Load() }

// mulSat multiplies non-negative factors, saturating at MaxInt64.  Any
// factor ≤ 0 gives 0.
func mulSat(factors ...int64) int64 {
	out := int64(1)
	for _, f := range factors {
		if f <= 0 {
			return 0
		}
		if out > math.MaxInt64/f {
			return math.MaxInt64
		}
		out *= f
	}
	return out
}

func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// experimentCost bounds the tree evaluations of an experiment: every outer
// trial predicts the whole population once for the truth and every sampled
// unit M times, each unit holding at most maxTrees trees.
func experimentCost(e decomposition.Experiment, maxTrees int) int64 {
	truth := mulSat(int64(e.PopulationSize), int64(maxTrees))
	inner := mulSat(int64(e.InnerTrials), int64(e.SampleSize), int64(maxTrees))
	perTrial := addSat(truth, inner)
	if perTrial == 0 {
		return 0
	}
	return mulSat(int64(e.OuterTrials), perTrial)
}

// sampleCost is the number of indices drawn, at least one draw.
func sampleCost(in *simulation.SampleInput) int64 {
	return mulSat(int64(max(in.Draws, 1)), int64(in.SampleSize))
}

// effectiveMaxTrees is the tree count bound the generator will use for gen.
func effectiveMaxTrees(gen inventory.GeneratorConfig) int {
	if gen.MinTrees == 0 && gen.MaxTrees == 0 {
		return inventory.DefaultGeneratorConfig().MaxTrees
	}
	return gen.MaxTrees
}

func overLimit(c *gin.Context, what string, cost, limit int64) bool {
	if limit <= 0 || cost <= limit {
		return false
	}
	writeAppError(c, errors.Configuration(fmt.Sprintf("%s costs %d, the limit is %d", what, cost, limit)))
	return true
}

// RunExperiment handles POST /api/v1/experiments.  The body is a
// simulation.RunInput; records are returned with ?records=true.
func (h *SimulationHandler) RunExperiment(c *gin.Context) {
	in := simulation.RunInput{
		Experiment: h.defaults.Experiment,
		Population: h.defaults.Population,
		Predictor:  h.defaults.Predictor,
	}
	in.Experiment.RunID = ""
	if !bindJSON(c, &in) {
		return
	}
	// Clients never choose server-side paths.
	in.CSVPath = ""
	in.KeepRecords = c.Query("records") == "true"

	cost := experimentCost(in.Experiment, effectiveMaxTrees(in.Population))
	if overLimit(c, "experiment (R×max_trees×(N+M×n) tree evaluations)", cost, h.MaxWork()) {
		return
	}

	res, err := h.svc.RunExperiment(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Predict handles POST /api/v1/predictions.
func (h *SimulationHandler) Predict(c *gin.Context) {
	in := simulation.PredictInput{
		Predictor:  h.defaults.Predictor,
		Species:    "sugar_maple",
		Dbh:        30,
		Replicates: 1,
		Seed:       h.defaults.Experiment.Seed,
	}
	if !bindJSON(c, &in) {
		return
	}
	if overLimit(c, "prediction (replicates)", int64(in.Replicates), h.MaxWork()) {
		return
	}
	res, err := h.svc.Predict(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DrawSample handles POST /api/v1/samples.
func (h *SimulationHandler) DrawSample(c *gin.Context) {
	e := h.defaults.Experiment
	in := simulation.SampleInput{
		PopulationSize: e.PopulationSize,
		SampleSize:     e.SampleSize,
		Draws:          1,
		Seed:           e.Seed,
		Sampler:        string(e.Sampler),
		MaxRetries:     e.MaxSampleRetries,
	}
	if !bindJSON(c, &in) {
		return
	}
	limit := h.MaxWork()
	if overLimit(c, "population size", int64(in.PopulationSize), limit) ||
		overLimit(c, "sample draw (draws×n indices)", sampleCost(&in), limit) {
		return
	}
	res, err := h.svc.DrawSample(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunStore lists and removes stored runs.
type RunStore interface {
	ListRecords(ctx context.Context, runID string) ([]decomposition.RealizationRecord, error)
	ListRuns(ctx context.Context) ([]decomposition.RunInfo, error)
	DeleteRun(ctx context.Context, runID string) error
}

// RunHandler serves the stored runs.
type RunHandler struct {
	store RunStore
}

// NewRunHandler serves store.
func NewRunHandler(store RunStore) *RunHandler {
	return &RunHandler{store: store}
}

// List handles GET /api/v1/runs.
func (h *RunHandler) List(c *gin.Context) {
	runs, err := h.store.ListRuns(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}
	if runs == nil {
		runs = []decomposition.RunInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Get handles GET /api/v1/runs/:id, the summary of a stored run, or every
// record with ?records=true.
func (h *RunHandler) Get(c *gin.Context) {
	runID := c.Param("id")
	recs, err := h.store.ListRecords(c.Request.Context(), runID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if len(recs) == 0 {
		writeAppError(c, errors.NotFound(fmt.Sprintf("run %s not found", runID)))
		return
	}
	if c.Query("records") == "true" {
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "records": recs})
		return
	}
	summary := decomposition.NewSummary(runID, recs[0].Categories())
	for _, r := range recs {
		summary.Add(r)
	}
	c.JSON(http.StatusOK, summary.Finalize())
}

// Delete handles DELETE /api/v1/runs/:id.
func (h *RunHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package decomposition

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RunInfo describes a run held by a record store.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	Categories int       `json:"categories"`
	Trials     int       `json:"trials"`
	CreatedAt  time.Time `json:"created_at"`
}

// RealizationRecord is the output of one outer trial.  Every vector has k
// components; variances are the diagonal of the k×k covariance.
type RealizationRecord struct {
	RunID                        string    `json:"run_id"`
	Trial                        int       `json:"trial"`
	TrueTotal                    []float64 `json:"true_total"`
	EstimatedTotal               []float64 `json:"estimated_total"`
	EstimatedVarianceUncorrected []float64 `json:"estimated_variance_uncorrected"`
	EstimatedVarianceCorrected   []float64 `json:"estimated_variance_corrected"`
	SamplingVariancePart         []float64 `json:"sampling_variance_part"`
	ModelVariancePart            []float64 `json:"model_variance_part"`
}

// recordFields names the vector fields in column order.
var recordFields = []string{
	"true_total",
	"estimated_total",
	"variance_uncorrected",
	"variance_corrected",
	"sampling_variance",
	"model_variance",
}

// Categories returns k.
func (r RealizationRecord) Categories() int { return len(r.TrueTotal) }

func (r RealizationRecord) vectors() [][]float64 {
	return [][]float64{
		r.TrueTotal,
		r.EstimatedTotal,
		r.EstimatedVarianceUncorrected,
		r.EstimatedVarianceCorrected,
		r.SamplingVariancePart,
		r.ModelVariancePart,
	}
}

// RecordHeader returns the fixed-width column names for k categories:
// trial, then each vector field expanded to field_1..field_k.
func RecordHeader(k int) []string {
	out := make([]string, 0, 1+len(recordFields)*k)
	out = append(out, "trial")
	for _, f := range recordFields {
		for g := 1; g <= k; g++ {
			out = append(out, fmt.Sprintf("%s_%d", f, g))
		}
	}
	return out
}

// Row formats the record in RecordHeader order.  Values use the shortest
// representation that parses back to the same float64.
func (r RealizationRecord) Row() []string {
	k := r.Categories()
	out := make([]string, 0, 1+len(recordFields)*k)
	out = append(out, strconv.Itoa(r.Trial))
	for _, v := range r.vectors() {
		for _, x := range v {
			out = append(out, strconv.FormatFloat(x, 'g', -1, 64))
		}
	}
	return out
}

// RecordTable renders a record slice as a table.
type RecordTable []RealizationRecord

// TableHeaders implements the CLI table printer.
func (t RecordTable) TableHeaders() []string {
	if len(t) == 0 {
		return RecordHeader(0)
	}
	return RecordHeader(t[0].Categories())
}

// TableRows implements the CLI table printer.
func (t RecordTable) TableRows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		rows[i] = r.Row()
	}
	return rows
}

// ─────────────────────────────────────────────────────────────────────────────
// TrialError
// ─────────────────────────────────────────────────────────────────────────────

// TrialError reports the outer trial at which a run aborted.
type TrialError struct {
	Trial int
	Err   error
}

func (e *TrialError) Error() string { return fmt.Sprintf("trial %d: %v", e.Trial, e.Err) }
func (e *TrialError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Summary
// ─────────────────────────────────────────────────────────────────────────────

// Summary aggregates the records of a run.  The empirical variance of the
// estimation error is the reference the mean variance estimates are judged
// against.
type Summary struct {
	RunID  string `json:"run_id"`
	Trials int    `json:"trials"`

	MeanTrueTotal          []float64 `json:"mean_true_total"`
	MeanEstimatedTotal     []float64 `json:"mean_estimated_total"`
	EmpiricalErrorVariance []float64 `json:"empirical_error_variance"`
	MeanUncorrected        []float64 `json:"mean_variance_uncorrected"`
	MeanCorrected          []float64 `json:"mean_variance_corrected"`
	MeanSamplingPart       []float64 `json:"mean_sampling_variance"`
	MeanModelPart          []float64 `json:"mean_model_variance"`

	// Coverage is the share of trials whose 95% interval from the corrected
	// variance contains the true total.
	Coverage []float64 `json:"coverage"`

	errs    [][]float64
	covered []int
}

// NewSummary returns an empty summary for k categories.
func NewSummary(runID string, k int) *Summary {
	return &Summary{
		RunID:              runID,
		MeanTrueTotal:      make([]float64, k),
		MeanEstimatedTotal: make([]float64, k),
		MeanUncorrected:    make([]float64, k),
		MeanCorrected:      make([]float64, k),
		MeanSamplingPart:   make([]float64, k),
		MeanModelPart:      make([]float64, k),
		covered:            make([]int, k),
	}
}

// Add folds one record into the running means.
func (s *Summary) Add(r RealizationRecord) {
	s.Trials++
	n := float64(s.Trials)
	update := func(mean, x []float64) {
		for g := range mean {
			mean[g] += (x[g] - mean[g]) / n
		}
	}
	update(s.MeanTrueTotal, r.TrueTotal)
	update(s.MeanEstimatedTotal, r.EstimatedTotal)
	update(s.MeanUncorrected, r.EstimatedVarianceUncorrected)
	update(s.MeanCorrected, r.EstimatedVarianceCorrected)
	update(s.MeanSamplingPart, r.SamplingVariancePart)
	update(s.MeanModelPart, r.ModelVariancePart)

	e := make([]float64, len(r.TrueTotal))
	for g := range e {
		e[g] = r.EstimatedTotal[g] - r.TrueTotal[g]
		if math.Abs(e[g]) <= 1.96*math.Sqrt(r.EstimatedVarianceCorrected[g]) {
			s.covered[g]++
		}
	}
	s.errs = append(s.errs, e)
}

// Finalize computes the empirical error variance and coverage.
func (s *Summary) Finalize() *Summary {
	k := len(s.MeanTrueTotal)
	s.EmpiricalErrorVariance = make([]float64, k)
	s.Coverage = make([]float64, k)
	if s.Trials == 0 {
		return s
	}
	column := make([]float64, len(s.errs))
	for g := 0; g < k; g++ {
		for i, e := range s.errs {
			column[i] = e[g]
		}
		if len(column) > 1 {
			s.EmpiricalErrorVariance[g] = stat.Variance(column, nil)
		}
		s.Coverage[g] = float64(s.covered[g]) / float64(s.Trials)
	}
	return s
}

// TableHeaders implements the CLI table printer.
func (s *Summary) TableHeaders() []string {
	return []string{"category", "mean_true", "mean_estimate", "empirical_var", "mean_corrected", "mean_uncorrected", "sampling", "model", "coverage"}
}

// TableRows implements the CLI table printer.
func (s *Summary) TableRows() [][]string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'g', 6, 64) }
	rows := make([][]string, len(s.MeanTrueTotal))
	for g := range rows {
		var empirical, coverage float64
		if g < len(s.EmpiricalErrorVariance) {
			empirical = s.EmpiricalErrorVariance[g]
		}
		if g < len(s.Coverage) {
			coverage = s.Coverage[g]
		}
		rows[g] = []string{
			strconv.Itoa(g + 1),
			f(s.MeanTrueTotal[g]),
			f(s.MeanEstimatedTotal[g]),
			f(empirical),
			f(s.MeanCorrected[g]),
			f(s.MeanUncorrected[g]),
			f(s.MeanSamplingPart[g]),
			f(s.MeanModelPart[g]),
			f(coverage),
		}
	}
	return rows
}

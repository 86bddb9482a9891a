package testutil

import (
	"context"
	"sync"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
)

// RecordingSink collects records and can be told to fail.
type RecordingSink struct {
	mu      sync.Mutex
	records []decomposition.RealizationRecord
	closed  bool

	// FailAt makes the Write of the FailAt-th record (1-based) return Err.
	FailAt int
	Err    error
}

// Write implements decomposition.RecordSink.
func (s *RecordingSink) Write(_ context.Context, rec decomposition.RealizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAt > 0 && len(s.records)+1 == s.FailAt {
		return s.Err
	}
	s.records = append(s.records, rec)
	return nil
}

// Close implements export.Sink.
func (s *RecordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of the written records.
func (s *RecordingSink) Records() []decomposition.RealizationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]decomposition.RealizationRecord(nil), s.records...)
}

// Closed reports whether Close was called.
func (s *RecordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Record builds a k-category record whose components are distinct and
// derived from trial.
func Record(runID string, trial, k int) decomposition.RealizationRecord {
	vec := func(base float64) []float64 {
		out := make([]float64, k)
		for g := range out {
			out[g] = base + float64(trial) + float64(g)/10
		}
		return out
	}
	return decomposition.RealizationRecord{
		RunID:                        runID,
		Trial:                        trial,
		TrueTotal:                    vec(1000),
		EstimatedTotal:               vec(995),
		EstimatedVarianceUncorrected: vec(80),
		EstimatedVarianceCorrected:   vec(90),
		SamplingVariancePart:         vec(70),
		ModelVariancePart:            vec(20),
	}
}

package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// Collector rebuilds the summary of one run from records arriving in any
// order, e.g. off the event stream.  Records of other runs are ignored and
// a repeated trial is counted once.
type Collector struct {
	mu      sync.Mutex
	runID   string
	limit   int
	sink    Sink
	seen    map[int]struct{}
	summary *decomposition.Summary
}

// NewCollector follows runID; an empty runID locks onto the first record's
// run.  limit > 0 marks the collection done after that many trials.  sink,
// when not nil, receives every accepted record.
func NewCollector(runID string, limit int, sink Sink) *Collector {
	return &Collector{runID: runID, limit: limit, sink: sink, seen: make(map[int]struct{})}
}

// Collect folds rec in and reports whether the trial limit is reached.
func (c *Collector) Collect(ctx context.Context, rec decomposition.RealizationRecord) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runID == "" {
		c.runID = rec.RunID
	}
	if rec.RunID != c.runID {
		return c.doneLocked(), nil
	}
	if _, dup := c.seen[rec.Trial]; dup {
		return c.doneLocked(), nil
	}
	if c.summary == nil {
		c.summary = decomposition.NewSummary(c.runID, rec.Categories())
	}
	if rec.Categories() != len(c.summary.MeanTrueTotal) {
		return false, errors.InvalidParam(fmt.Sprintf("trial %d has %d categories, run %s has %d",
			rec.Trial, rec.Categories(), c.runID, len(c.summary.MeanTrueTotal)))
	}
	if c.sink != nil {
		if err := c.sink.Write(ctx, rec); err != nil {
			return false, err
		}
	}
	c.seen[rec.Trial] = struct{}{}
	c.summary.Add(rec)
	return c.doneLocked(), nil
}

func (c *Collector) doneLocked() bool {
	return c.limit > 0 && len(c.seen) >= c.limit
}

// RunID is the followed run, empty until the first record arrives.
func (c *Collector) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Summary finalizes and returns the summary so far.  It returns NotFound
// before any record of the run was collected.
func (c *Collector) Summary() (*decomposition.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary == nil {
		return nil, errors.NotFound("no records collected")
	}
	return c.summary.Finalize(), nil
}

// Package export delivers realization records to their destinations: the CSV
// table, the event stream, the results database and the object archive.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// Sink is a record destination that may hold buffered state.
type Sink interface {
	decomposition.RecordSink
	// Close flushes buffered records and releases resources.
	Close(ctx context.Context) error
}

// ─────────────────────────────────────────────────────────────────────────────
// CSV
// ─────────────────────────────────────────────────────────────────────────────

// CSVSink writes the fixed-width record table.  The header is written with the
// first record; every later record must have the same number of categories.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	path   string
	k      int
	rows   int
}

// NewCSVSink writes to w.  w is not closed by Close.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// CreateCSVFile creates (or truncates) path and its parent directories.
func CreateCSVFile(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create csv file")
	}
	s := NewCSVSink(f)
	s.closer = f
	s.path = path
	return s, nil
}

// Path returns the file path, or "" for a writer-backed sink.
func (s *CSVSink) Path() string { return s.path }

// Rows returns the number of records written.
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Write implements decomposition.RecordSink.
func (s *CSVSink) Write(_ context.Context, rec decomposition.RealizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rec.Categories()
	if s.rows == 0 {
		s.k = k
		if err := s.w.Write(decomposition.RecordHeader(k)); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to write csv header")
		}
	} else if k != s.k {
		return errors.InvalidParam(fmt.Sprintf("record has %d categories, table has %d", k, s.k))
	}
	if err := s.w.Write(rec.Row()); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to write csv row")
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to flush csv row")
	}
	s.rows++
	return nil
}

// Close flushes and closes the underlying file, if any.
func (s *CSVSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to close csv sink")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fan-out
// ─────────────────────────────────────────────────────────────────────────────

// ExportObserver counts delivered records per sink.
type ExportObserver interface {
	RecordExported(sink string, n int)
}

// Target is a named sink.
type Target struct {
	Name string
	Sink Sink
}

// MultiSink writes every record to each target in order and stops at the
// first failure.
type MultiSink struct {
	targets  []Target
	logger   logging.Logger
	observer ExportObserver
}

// NewMultiSink fans out to targets; targets with a nil sink are skipped.
func NewMultiSink(logger logging.Logger, observer ExportObserver, targets ...Target) *MultiSink {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &MultiSink{logger: logger.Named("export"), observer: observer}
	for _, t := range targets {
		if t.Sink != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Names lists the active targets.
func (m *MultiSink) Names() []string {
	out := make([]string, len(m.targets))
	for i, t := range m.targets {
		out[i] = t.Name
	}
	return out
}

// Write implements decomposition.RecordSink.
func (m *MultiSink) Write(ctx context.Context, rec decomposition.RealizationRecord) error {
	for _, t := range m.targets {
		if err := t.Sink.Write(ctx, rec); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("export to %s failed", t.Name))
		}
		if m.observer != nil {
			m.observer.RecordExported(t.Name, 1)
		}
	}
	return nil
}

// Close closes every target and returns the first error.
func (m *MultiSink) Close(ctx context.Context) error {
	var first error
	for _, t := range m.targets {
		if err := t.Sink.Close(ctx); err != nil {
			m.logger.WithError(err).Error("failed to close sink", logging.String("sink", t.Name))
			if first == nil {
				first = errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("closing %s failed", t.Name))
			}
		}
	}
	return first
}

// ─────────────────────────────────────────────────────────────────────────────
// Memory
// ─────────────────────────────────────────────────────────────────────────────

// MemorySink keeps records in memory, for the HTTP surface and tests.
type MemorySink struct {
	mu      sync.Mutex
	records []decomposition.RealizationRecord
}

// Write implements decomposition.RecordSink.
func (s *MemorySink) Write(_ context.Context, rec decomposition.RealizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close(context.Context) error { return nil }

// Records returns a copy of the collected records.
func (s *MemorySink) Records() []decomposition.RealizationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]decomposition.RealizationRecord, len(s.records))
	copy(out, s.records)
	return out
}

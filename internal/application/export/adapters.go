package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// EventTypeRealization tags realization events on the stream.
const EventTypeRealization = "gradesim.realization.v1"

// EventPublisher publishes one keyed event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, key, eventType string, payload any) error
}

// PublisherSink streams each record as an event keyed by run id.
type PublisherSink struct {
	pub EventPublisher
}

// NewPublisherSink wraps pub.
func NewPublisherSink(pub EventPublisher) *PublisherSink { return &PublisherSink{pub: pub} }

// Write implements decomposition.RecordSink.
func (s *PublisherSink) Write(ctx context.Context, rec decomposition.RealizationRecord) error {
	return s.pub.PublishEvent(ctx, rec.RunID, EventTypeRealization, rec)
}

// Close implements Sink.  The publisher's lifetime is owned by the caller.
func (s *PublisherSink) Close(context.Context) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Repository
// ─────────────────────────────────────────────────────────────────────────────

// RecordRepository persists batches of records.
type RecordRepository interface {
	SaveRecords(ctx context.Context, recs []decomposition.RealizationRecord) (int64, error)
}

// DefaultBatchSize is the number of records buffered before a repository write.
const DefaultBatchSize = 50

// RepositorySink buffers records and saves them in batches.
type RepositorySink struct {
	mu        sync.Mutex
	repo      RecordRepository
	batchSize int
	buf       []decomposition.RealizationRecord
	saved     int64
}

// NewRepositorySink buffers up to batchSize records; < 1 selects DefaultBatchSize.
func NewRepositorySink(repo RecordRepository, batchSize int) *RepositorySink {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &RepositorySink{repo: repo, batchSize: batchSize}
}

// Write implements decomposition.RecordSink.
func (s *RepositorySink) Write(ctx context.Context, rec decomposition.RealizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, rec)
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush saves any buffered records.
func (s *RepositorySink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Close flushes the remaining buffer.
func (s *RepositorySink) Close(ctx context.Context) error { return s.Flush(ctx) }

// Saved returns the number of records persisted so far.
func (s *RepositorySink) Saved() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *RepositorySink) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	n, err := s.repo.SaveRecords(ctx, s.buf)
	if err != nil {
		return err
	}
	if n != int64(len(s.buf)) {
		return errors.New(errors.CodeDatabaseError, fmt.Sprintf("saved %d of %d records", n, len(s.buf)))
	}
	s.saved += n
	s.buf = s.buf[:0]
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Archive
// ─────────────────────────────────────────────────────────────────────────────

// ObjectArchiver stores a finished artifact and returns its location.
type ObjectArchiver interface {
	Archive(ctx context.Context, objectName string, path string, contentType string) (string, error)
}

// ArchiveTable uploads the CSV at path under runID/<base name>.
func ArchiveTable(ctx context.Context, a ObjectArchiver, runID, path string) (string, error) {
	if a == nil {
		return "", errors.InvalidParam("archiver is nil")
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrap(err, errors.CodeNotFound, "table file not found")
	}
	name := fmt.Sprintf("%s/%s", runID, filepath.Base(path))
	return a.Archive(ctx, name, path, "text/csv")
}

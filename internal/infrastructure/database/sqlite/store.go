// Package sqlite keeps realization records in a local SQLite file so a run
// can be summarized again without re-simulating it.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiment_runs (
	run_id     TEXT PRIMARY KEY,
	categories INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS realization_records (
	run_id                         TEXT    NOT NULL REFERENCES experiment_runs (run_id) ON DELETE CASCADE,
	trial                          INTEGER NOT NULL,
	category                       INTEGER NOT NULL,
	true_total                     REAL,
	estimated_total                REAL,
	estimated_variance_uncorrected REAL,
	estimated_variance_corrected   REAL,
	sampling_variance_part         REAL,
	model_variance_part            REAL,
	PRIMARY KEY (run_id, trial, category)
);`

const (
	insertRunSQL    = `INSERT OR IGNORE INTO experiment_runs (run_id, categories, created_at) VALUES (?, ?, ?)`
	selectRunKSQL   = `SELECT categories FROM experiment_runs WHERE run_id = ?`
	insertRecordSQL = `INSERT INTO realization_records (run_id, trial, category, true_total, estimated_total,
	estimated_variance_uncorrected, estimated_variance_corrected, sampling_variance_part, model_variance_part)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecordsSQL = `SELECT trial, category, true_total, estimated_total,
	estimated_variance_uncorrected, estimated_variance_corrected,
	sampling_variance_part, model_variance_part
FROM realization_records WHERE run_id = ? ORDER BY trial, category`
	selectRunsSQL = `SELECT r.run_id, r.categories, r.created_at, COUNT(DISTINCT rr.trial)
FROM experiment_runs r LEFT JOIN realization_records rr ON rr.run_id = r.run_id
GROUP BY r.run_id ORDER BY r.created_at DESC, r.run_id`
	deleteRunSQL = `DELETE FROM experiment_runs WHERE run_id = ?`
)

// Store is a SQLite-backed record repository.
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if path == "" {
		path = "gradesim.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !stderrors.Is(err, os.ErrExist) {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create database directory")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to open sqlite")
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to create schema")
	}
	logger = logger.Named("sqlite")
	logger.Debug("sqlite store opened", logging.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecords writes recs in one transaction and returns the number of
// records written.  NaN components are stored as NULL.
func (s *Store) SaveRecords(ctx context.Context, recs []decomposition.RealizationRecord) (saved int64, retErr error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to begin transaction")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to prepare insert")
	}
	defer stmt.Close()

	runs := make(map[string]int)
	now := time.Now().UTC().UnixNano()
	for _, rec := range recs {
		k := rec.Categories()
		if k == 0 {
			return 0, errors.InvalidParam(fmt.Sprintf("trial %d has no categories", rec.Trial))
		}
		if _, ok := runs[rec.RunID]; !ok {
			if _, err := tx.ExecContext(ctx, insertRunSQL, rec.RunID, k, now); err != nil {
				return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to register run").WithDetail(rec.RunID)
			}
			var stored int
			if err := tx.QueryRowContext(ctx, selectRunKSQL, rec.RunID).Scan(&stored); err != nil {
				return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to read run").WithDetail(rec.RunID)
			}
			runs[rec.RunID] = stored
		}
		if runs[rec.RunID] != k {
			return 0, errors.InvalidParam(fmt.Sprintf("run %s mixes %d and %d categories", rec.RunID, runs[rec.RunID], k))
		}
		for g := 0; g < k; g++ {
			if _, err := stmt.ExecContext(ctx, rec.RunID, rec.Trial, g,
				nullable(rec.TrueTotal[g]),
				nullable(rec.EstimatedTotal[g]),
				nullable(rec.EstimatedVarianceUncorrected[g]),
				nullable(rec.EstimatedVarianceCorrected[g]),
				nullable(rec.SamplingVariancePart[g]),
				nullable(rec.ModelVariancePart[g]),
			); err != nil {
				return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to insert realization record").
					WithDetail(fmt.Sprintf("run %s trial %d", rec.RunID, rec.Trial))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to commit realization records")
	}
	s.logger.Debug("records saved", logging.Int("records", len(recs)))
	return int64(len(recs)), nil
}

// ListRecords loads every record of runID ordered by trial.
func (s *Store) ListRecords(ctx context.Context, runID string) ([]decomposition.RealizationRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecordsSQL, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to query realization records")
	}
	defer func() { _ = rows.Close() }()

	var out []decomposition.RealizationRecord
	for rows.Next() {
		var (
			trial, category int
			v               [6]sql.NullFloat64
		)
		if err := rows.Scan(&trial, &category, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5]); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to scan realization record")
		}
		if category == 0 || len(out) == 0 || out[len(out)-1].Trial != trial {
			out = append(out, decomposition.RealizationRecord{RunID: runID, Trial: trial})
		}
		rec := &out[len(out)-1]
		rec.TrueTotal = append(rec.TrueTotal, value(v[0]))
		rec.EstimatedTotal = append(rec.EstimatedTotal, value(v[1]))
		rec.EstimatedVarianceUncorrected = append(rec.EstimatedVarianceUncorrected, value(v[2]))
		rec.EstimatedVarianceCorrected = append(rec.EstimatedVarianceCorrected, value(v[3]))
		rec.SamplingVariancePart = append(rec.SamplingVariancePart, value(v[4]))
		rec.ModelVariancePart = append(rec.ModelVariancePart, value(v[5]))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to iterate realization records")
	}
	if len(out) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("run %s has no records", runID))
	}
	return out, nil
}

// ListRuns returns the stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]decomposition.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to query runs")
	}
	defer func() { _ = rows.Close() }()

	var out []decomposition.RunInfo
	for rows.Next() {
		var (
			info    decomposition.RunInfo
			created int64
		)
		if err := rows.Scan(&info.RunID, &info.Categories, &created, &info.Trials); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to scan run")
		}
		info.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to iterate runs")
	}
	return out, nil
}

// DeleteRun removes runID and its records.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, deleteRunSQL, runID)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to delete run").WithDetail(runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(fmt.Sprintf("run %s not found", runID))
	}
	return nil
}

func nullable(x float64) sql.NullFloat64 {
	if math.IsNaN(x) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

func value(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

// Package repositories implements the PostgreSQL persistence of realization
// records.
package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/GradeSim/internal/application/decomposition"
	"github.com/turtacn/GradeSim/internal/infrastructure/database/postgres"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// DB is the subset of *pgxpool.Pool the repository uses.  When the value
// also implements postgres.TxBeginner, SaveRecords runs in one transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// recordColumns is the long layout: one row per (run, trial, category).
var recordColumns = []string{
	"run_id",
	"trial",
	"category",
	"true_total",
	"estimated_total",
	"estimated_variance_uncorrected",
	"estimated_variance_corrected",
	"sampling_variance_part",
	"model_variance_part",
}

const (
	insertRunSQL = `INSERT INTO experiment_runs (run_id, categories) VALUES ($1, $2) ON CONFLICT (run_id) DO NOTHING`

	selectRecordsSQL = `SELECT trial, category, true_total, estimated_total,
	estimated_variance_uncorrected, estimated_variance_corrected,
	sampling_variance_part, model_variance_part
FROM realization_records WHERE run_id = $1 ORDER BY trial, category`

	selectRunsSQL = `SELECT r.run_id, r.categories, r.created_at, COUNT(DISTINCT rr.trial)
FROM experiment_runs r LEFT JOIN realization_records rr ON rr.run_id = r.run_id
GROUP BY r.run_id, r.categories, r.created_at ORDER BY r.created_at DESC`

	deleteRunSQL = `DELETE FROM experiment_runs WHERE run_id = $1`
)

// RealizationRepository persists records with COPY.
type RealizationRepository struct {
	db     DB
	logger logging.Logger
}

// NewRealizationRepository wraps db, usually a *pgxpool.Pool.
func NewRealizationRepository(db DB, logger logging.Logger) *RealizationRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RealizationRepository{db: db, logger: logger.Named("postgres")}
}

// SaveRecords registers the runs of recs and copies every record as k rows.
// It returns the number of records written.
func (r *RealizationRepository) SaveRecords(ctx context.Context, recs []decomposition.RealizationRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	b, ok := r.db.(postgres.TxBeginner)
	if !ok {
		return r.saveRecords(ctx, r.db, recs)
	}
	var saved int64
	err := postgres.WithTransaction(ctx, b, func(tx pgx.Tx) error {
		var err error
		saved, err = r.saveRecords(ctx, tx, recs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// saveRecords registers the runs and copies the long rows through db.
func (r *RealizationRepository) saveRecords(ctx context.Context, db DB, recs []decomposition.RealizationRecord) (int64, error) {

	runs := make(map[string]int)
	var rows [][]any
	for _, rec := range recs {
		k := rec.Categories()
		if k == 0 {
			return 0, errors.New(errors.CodeInvalidParam, fmt.Sprintf("trial %d has no categories", rec.Trial))
		}
		if prev, ok := runs[rec.RunID]; ok && prev != k {
			return 0, errors.New(errors.CodeInvalidParam, fmt.Sprintf("run %s mixes %d and %d categories", rec.RunID, prev, k))
		}
		runs[rec.RunID] = k
		for g := 0; g < k; g++ {
			rows = append(rows, []any{
				rec.RunID,
				rec.Trial,
				g,
				rec.TrueTotal[g],
				rec.EstimatedTotal[g],
				rec.EstimatedVarianceUncorrected[g],
				rec.EstimatedVarianceCorrected[g],
				rec.SamplingVariancePart[g],
				rec.ModelVariancePart[g],
			})
		}
	}

	for runID, k := range runs {
		if _, err := db.Exec(ctx, insertRunSQL, runID, k); err != nil {
			return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to register run").WithDetail(runID)
		}
	}

	n, err := db.CopyFrom(ctx, pgx.Identifier{"realization_records"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabaseError, "failed to copy realization records")
	}

	saved := int64(len(recs))
	if n != int64(len(rows)) {
		saved = 0
		for _, rec := range recs {
			n -= int64(rec.Categories())
			if n < 0 {
				break
			}
			saved++
		}
	}
	r.logger.Debug("records copied", logging.Int64("records", saved), logging.Int("rows", len(rows)))
	return saved, nil
}

// ListRecords loads every record of runID ordered by trial.
func (r *RealizationRepository) ListRecords(ctx context.Context, runID string) ([]decomposition.RealizationRecord, error) {
	rows, err := r.db.Query(ctx, selectRecordsSQL, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to query realization records")
	}
	defer rows.Close()

	var out []decomposition.RealizationRecord
	for rows.Next() {
		var (
			trial, category int
			v               [6]float64
		)
		if err := rows.Scan(&trial, &category, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5]); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to scan realization record")
		}
		if category == 0 || len(out) == 0 || out[len(out)-1].Trial != trial {
			out = append(out, decomposition.RealizationRecord{RunID: runID, Trial: trial})
		}
		rec := &out[len(out)-1]
		rec.TrueTotal = append(rec.TrueTotal, v[0])
		rec.EstimatedTotal = append(rec.EstimatedTotal, v[1])
		rec.EstimatedVarianceUncorrected = append(rec.EstimatedVarianceUncorrected, v[2])
		rec.EstimatedVarianceCorrected = append(rec.EstimatedVarianceCorrected, v[3])
		rec.SamplingVariancePart = append(rec.SamplingVariancePart, v[4])
		rec.ModelVariancePart = append(rec.ModelVariancePart, v[5])
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
func (r *RealizationRepository) ListRuns(ctx context.Context) ([]decomposition.RunInfo, error) {
	rows, err := r.db.Query(ctx, selectRunsSQL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to query runs")
	}
	defer rows.Close()

	var out []decomposition.RunInfo
	for rows.Next() {
		var info decomposition.RunInfo
		if err := rows.Scan(&info.RunID, &info.Categories, &info.CreatedAt, &info.Trials); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to scan run")
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to iterate runs")
	}
	return out, nil
}

// DeleteRun removes runID and, by cascade, its records.
func (r *RealizationRepository) DeleteRun(ctx context.Context, runID string) error {
	tag, err := r.db.Exec(ctx, deleteRunSQL, runID)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to delete run").WithDetail(runID)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound(fmt.Sprintf("run %s not found", runID))
	}
	return nil
}

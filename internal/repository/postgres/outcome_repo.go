package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/crmjobs/internal/repository"
)

var _ repository.OutcomeSink = (*pgOutcomeRepo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
    invocation_id     UUID PRIMARY KEY,
    job_id            TEXT NOT NULL,
    kind              TEXT NOT NULL,
    operation         TEXT NOT NULL,
    object            TEXT NOT NULL DEFAULT '',
    result            TEXT NOT NULL,
    records_processed INTEGER NOT NULL DEFAULT 0,
    records_failed    INTEGER NOT NULL DEFAULT 0,
    success_count     INTEGER NOT NULL DEFAULT 0,
    failed_count      INTEGER NOT NULL DEFAULT 0,
    detail            TEXT NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ NOT NULL,
    finished_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_outcomes_job_id_idx ON job_outcomes (job_id);`

type pgOutcomeRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresOutcomeSink creates a PostgreSQL-backed outcome ledger.
func NewPostgresOutcomeSink(pool *pgxpool.Pool) repository.OutcomeSink {
	return &pgOutcomeRepo{pool: pool}
}

// EnsureSchema creates the outcome table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *pgOutcomeRepo) Record(ctx context.Context, o *repository.Outcome) error {
	query := `
		INSERT INTO job_outcomes (invocation_id, job_id, kind, operation, object, result,
		                          records_processed, records_failed, success_count, failed_count,
		                          detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (invocation_id) DO NOTHING`

	job := o.Job
	_, err := r.pool.Exec(ctx, query,
		o.InvocationID, job.ID, string(job.Kind), string(job.Operation), job.Object, o.Result,
		job.RecordsProcessed, job.RecordsFailed, o.SuccessCount, o.FailedCount,
		o.Detail, o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record outcome: %w", err)
	}
	return nil
}

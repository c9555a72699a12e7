package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

// BackfillRepo persists backfill jobs.
type BackfillRepo struct {
	db *sql.DB
}

const backfillColumns = "id, tenant_id, status, processed_count, target_count, last_error, created_at, updated_at"

// LoadPending returns unfinished jobs, oldest first.
// Jobs left in processing by quota exhaustion or a crash are resumed rather than reset.
func (r *BackfillRepo) LoadPending(ctx context.Context, limit int) ([]store.BackfillJob, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT ` + backfillColumns + `
		FROM backfill_jobs
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, store.BackfillStatusPending, store.BackfillStatusProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending backfill jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.BackfillJob
	for rows.Next() {
		job, err := scanBackfill(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// Save writes progress and status. The WHERE clause refuses to move a finished job.
func (r *BackfillRepo) Save(ctx context.Context, job *store.BackfillJob) error {
	job.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE backfill_jobs
		SET status = $1, processed_count = $2, last_error = $3, updated_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`, job.Status, job.ProcessedCount, job.LastError, job.UpdatedAt, job.ID,
		store.BackfillStatusPending, store.BackfillStatusProcessing)
	if err != nil {
		return fmt.Errorf("save backfill job %s: %w", job.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save backfill job %s: %w", job.ID, store.ErrNotFound)
	}
	return nil
}

// EnqueueBackfill inserts a new pending job.
func (r *BackfillRepo) EnqueueBackfill(ctx context.Context, job *store.BackfillJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backfill_jobs (id, tenant_id, status, processed_count, target_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.TenantID, job.Status, job.ProcessedCount, job.TargetCount, job.CreatedAt, job.CreatedAt)
	return err
}

// GetBackfill returns a job by id.
func (r *BackfillRepo) GetBackfill(ctx context.Context, id uuid.UUID) (*store.BackfillJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+backfillColumns+" FROM backfill_jobs WHERE id = $1", id)
	job, err := scanBackfill(row)
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func scanBackfill(row rowScanner) (*store.BackfillJob, error) {
	var job store.BackfillJob
	if err := row.Scan(
		&job.ID, &job.TenantID, &job.Status, &job.ProcessedCount, &job.TargetCount,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

package postgres

import (
	"context"

	"sellerpilot/internal/store"
)

// RecordRun inserts one job run log row.
func (s *Store) RecordRun(ctx context.Context, run *store.JobRunLog) error {
	query := `
		INSERT INTO job_runs (job_name, run_id, outcome, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		run.Job,
		run.RunID,
		run.Outcome,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	).Scan(&run.ID)
}

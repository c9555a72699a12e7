package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"sellerpilot/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var backfillRowColumns = []string{"id", "tenant_id", "status", "processed_count", "target_count", "last_error", "created_at", "updated_at"}

func TestBackfillLoadPending_OldestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	older, newer := uuid.New(), uuid.New()
	tenantID := uuid.New()
	now := time.Now()

	// The ordering is done by Postgres; here we pin the generated SQL.
	mock.ExpectQuery(`SELECT .* FROM backfill_jobs WHERE status IN \(\$1, \$2\) ORDER BY created_at ASC LIMIT \$3`).
		WithArgs(store.BackfillStatusPending, store.BackfillStatusProcessing, 3).
		WillReturnRows(sqlmock.NewRows(backfillRowColumns).
			AddRow(older.String(), tenantID.String(), "processing", 4, 10, nil, now.Add(-2*time.Hour), now).
			AddRow(newer.String(), tenantID.String(), "pending", 0, 5, nil, now.Add(-time.Hour), now))

	jobs, err := s.Backfills().LoadPending(context.Background(), 3)
	if err != nil {
		t.Fatalf("LoadPending failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != older || jobs[0].Status != store.BackfillStatusProcessing || jobs[0].ProcessedCount != 4 {
		t.Errorf("unexpected first job: %+v", jobs[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBackfillSave_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	job := &store.BackfillJob{ID: uuid.New(), Status: store.BackfillStatusCompleted, ProcessedCount: 5, TargetCount: 5}

	mock.ExpectExec(`UPDATE backfill_jobs SET status = \$1, processed_count = \$2, last_error = \$3, updated_at = \$4 WHERE id = \$5 AND status IN \(\$6, \$7\)`).
		WithArgs(store.BackfillStatusCompleted, 5, nil, sqlmock.AnyArg(), job.ID, store.BackfillStatusPending, store.BackfillStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Backfills().Save(context.Background(), job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBackfillSave_FinishedJobIsNotMoved(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE backfill_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Backfills().Save(context.Background(), &store.BackfillJob{ID: uuid.New(), Status: store.BackfillStatusProcessing})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueBackfill_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	job := &store.BackfillJob{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Status:      store.BackfillStatusPending,
		TargetCount: 20,
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO backfill_jobs`).
		WithArgs(job.ID, job.TenantID, store.BackfillStatusPending, 0, 20, job.CreatedAt, job.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Backfills().EnqueueBackfill(context.Background(), job); err != nil {
		t.Fatalf("EnqueueBackfill failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetBackfill_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM backfill_jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(backfillRowColumns))

	if _, err := s.Backfills().GetBackfill(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

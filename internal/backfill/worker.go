// Package backfill drains the queue of "generate N artifacts for tenant X"
// jobs under a process-wide daily quota.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sellerpilot/internal/logger"
	"sellerpilot/internal/marketplace"
	"sellerpilot/internal/observability"
	"sellerpilot/internal/retry"
	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

// JobName is the scheduler name of the backfill batch.
const JobName = "backfill_batch"

// ErrInvalidJob is returned by Enqueue for a malformed request.
var ErrInvalidJob = errors.New("backfill: invalid job")

// Generator produces artifacts for a tenant's items.
type Generator interface {
	ListBackfillTargets(ctx context.Context, tenantID uuid.UUID, limit int) ([]string, error)
	GenerateArtifact(ctx context.Context, tenantID uuid.UUID, targetID string) (marketplace.Artifact, error)
}

// Config tunes a Worker.
type Config struct {
	BatchSize int
	Retry     retry.Policy
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// BatchResult summarises one ProcessBatch call.
type BatchResult struct {
	JobsProcessed  int
	TotalGenerated int
}

// Worker processes backfill jobs.
type Worker struct {
	repo  store.BackfillRepository
	gen   Generator
	quota *DailyQuota
	cfg   Config
	log   *slog.Logger
}

// NewWorker creates a worker sharing quota with any other worker of the process.
func NewWorker(repo store.BackfillRepository, gen Generator, quota *DailyQuota, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		repo:  repo,
		gen:   gen,
		quota: quota,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "backfill"),
	}
}

// Run is the scheduler job body.
func (w *Worker) Run(ctx context.Context) error {
	_, err := w.ProcessBatch(ctx, w.cfg.BatchSize)
	return err
}

// ProcessBatch works through up to maxJobs unfinished jobs, oldest first.
// When the quota runs out the batch stops and untouched jobs stay as they are.
func (w *Worker) ProcessBatch(ctx context.Context, maxJobs int) (BatchResult, error) {
	var res BatchResult
	log := logger.FromContext(ctx, w.log)

	if w.quota.Remaining() == 0 {
		log.Info("daily backfill quota exhausted, batch skipped")
		return res, nil
	}

	jobs, err := w.repo.LoadPending(ctx, maxJobs)
	if err != nil {
		return res, fmt.Errorf("backfill: load pending: %w", err)
	}

	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]

		if job.Remaining() == 0 {
			job.Status = store.BackfillStatusCompleted
			w.save(ctx, job)
			res.JobsProcessed++
			continue
		}

		grant := w.quota.Reserve(job.Remaining())
		if grant.N == 0 {
			log.Info("daily backfill quota exhausted", "job_id", job.ID.String())
			break
		}

		generated := w.process(ctx, job, grant.N)
		w.quota.Release(grant, grant.N-generated)

		res.JobsProcessed++
		res.TotalGenerated += generated
		w.cfg.Metrics.BackfillGenerated(ctx, generated)

		if w.quota.Remaining() == 0 {
			break
		}
	}

	log.Info("backfill batch finished", "jobs", res.JobsProcessed, "generated", res.TotalGenerated, "quota_remaining", w.quota.Remaining())
	return res, ctx.Err()
}

// process generates up to allowance artifacts for job and returns how many succeeded.
func (w *Worker) process(ctx context.Context, job *store.BackfillJob, allowance int) int {
	log := logger.FromContext(ctx, w.log).With("job_id", job.ID.String(), "tenant_id", job.TenantID.String())

	if job.Status == store.BackfillStatusPending {
		job.Status = store.BackfillStatusProcessing
		if !w.save(ctx, job) {
			return 0
		}
	}

	targets, err := retry.Execute(ctx, w.cfg.Retry, func(ctx context.Context) ([]string, error) {
		return w.gen.ListBackfillTargets(ctx, job.TenantID, allowance)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("backfill job interrupted, left for the next batch", "processed", job.ProcessedCount)
			return 0
		}
		w.fail(ctx, job, fmt.Errorf("list targets: %w", err))
		return 0
	}
	if len(targets) > allowance {
		targets = targets[:allowance]
	}

	generated := 0
	for _, target := range targets {
		err := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context) error {
			_, err := w.gen.GenerateArtifact(ctx, job.TenantID, target)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Info("backfill job interrupted, left for the next batch", "processed", job.ProcessedCount)
				return generated
			}
			w.fail(ctx, job, fmt.Errorf("generate %s: %w", target, err))
			return generated
		}
		job.ProcessedCount++
		generated++
		w.save(ctx, job)
	}

	// Fewer targets than asked for means the tenant has nothing left to backfill.
	if job.Remaining() == 0 || len(targets) < allowance {
		job.Status = store.BackfillStatusCompleted
		w.save(ctx, job)
		log.Info("backfill job completed", "processed", job.ProcessedCount, "target", job.TargetCount)
	}
	return generated
}

func (w *Worker) fail(ctx context.Context, job *store.BackfillJob, err error) {
	msg := err.Error()
	job.Status = store.BackfillStatusFailed
	job.LastError = &msg
	w.save(ctx, job)
	logger.FromContext(ctx, w.log).Warn("backfill job failed",
		"job_id", job.ID.String(), "processed", job.ProcessedCount, "target", job.TargetCount, "error", err)
}

func (w *Worker) save(ctx context.Context, job *store.BackfillJob) bool {
	if err := w.repo.Save(ctx, job); err != nil {
		logger.FromContext(ctx, w.log).Error("failed to save backfill job", "job_id", job.ID.String(), "error", err)
		return false
	}
	return true
}

// Enqueue validates and stores a new pending job.
func Enqueue(ctx context.Context, admin store.BackfillAdmin, tenantID uuid.UUID, targetCount int) (*store.BackfillJob, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidJob)
	}
	if targetCount <= 0 {
		return nil, fmt.Errorf("%w: target count must be positive", ErrInvalidJob)
	}

	now := time.Now().UTC()
	job := &store.BackfillJob{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Status:      store.BackfillStatusPending,
		TargetCount: targetCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := admin.EnqueueBackfill(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

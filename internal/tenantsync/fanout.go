// Package tenantsync runs per-tenant work across every tenant: one pool pass,
// then a single retry pass over the tenants that failed transiently.
package tenantsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sellerpilot/internal/logger"
	"sellerpilot/internal/observability"
	"sellerpilot/internal/pool"
	"sellerpilot/internal/retry"
	"sellerpilot/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config bounds a fan-out.
type Config struct {
	Concurrency int
	TaskTimeout time.Duration
	// RetryDelay is waited once before the retry pass.
	RetryDelay time.Duration
	Retry      retry.Policy
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 5,
		TaskTimeout: 10 * time.Minute,
		RetryDelay:  30 * time.Second,
		Retry:       retry.DefaultPolicy,
	}
}

// TaskFunc does one tenant's share of a job.
type TaskFunc func(ctx context.Context, tenant store.Tenant) error

// Summary is the outcome of one fan-out.
type Summary struct {
	Job       string
	Tenants   int
	Succeeded int
	Failed    int
	// Retried is the number of tenants that went through the retry pass.
	Retried int
	// Errors holds each finally-failed tenant exactly once.
	Errors []pool.ItemError[store.Tenant]
}

// Runner fans a TaskFunc out over tenants.
type Runner struct {
	tenants store.TenantRepository
	cfg     Config
	log     *slog.Logger
	tracer  trace.Tracer

	// wait is replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner.
func NewRunner(tenants store.TenantRepository, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		tenants: tenants,
		cfg:     cfg,
		log:     cfg.Logger.With("component", "tenantsync"),
		tracer:  otel.Tracer("sellerpilot/tenantsync"),
		wait:    waitFor,
	}
}

// FanOut runs task for every tenant matching filter. Per-tenant failures never
// fail the fan-out; only an unreadable tenant list does.
func (r *Runner) FanOut(ctx context.Context, job string, filter store.TenantFilter, task TaskFunc) (Summary, error) {
	log := logger.FromContext(ctx, r.log).With("job", job)
	sum := Summary{Job: job}

	tenants, err := r.tenants.ListAll(ctx, filter)
	if err != nil {
		return sum, fmt.Errorf("tenantsync: list tenants for %s: %w", job, err)
	}
	sum.Tenants = len(tenants)
	if len(tenants) == 0 {
		log.Info("no tenants to process")
		return sum, nil
	}

	worker := r.worker(job, task)

	first := pool.RunAll(ctx, tenants, worker, r.cfg.Concurrency, r.cfg.TaskTimeout)
	sum.Succeeded = first.Succeeded

	var again []store.Tenant
	for _, e := range first.Errors {
		if retry.IsPermanent(e.Err) {
			sum.Errors = append(sum.Errors, e)
			continue
		}
		again = append(again, e.Item)
	}

	if first.Err != nil && len(again) > 0 {
		log.Warn("fan-out interrupted, retry pass skipped", "count", len(again), "error", first.Err)
		for _, e := range first.Errors {
			if !retry.IsPermanent(e.Err) {
				sum.Errors = append(sum.Errors, e)
			}
		}
		again = nil
	}

	if len(again) > 0 {
		log.Warn("retrying failed tenants", "count", len(again), "delay", r.cfg.RetryDelay.String())
		sum.Retried = len(again)

		if err := r.wait(ctx, r.cfg.RetryDelay); err != nil {
			for _, e := range first.Errors {
				if !retry.IsPermanent(e.Err) {
					sum.Errors = append(sum.Errors, e)
				}
			}
		} else {
			// Each retried tenant gets a fresh per-task timeout.
			second := pool.RunAll(ctx, again, worker, r.cfg.Concurrency, r.cfg.TaskTimeout)
			sum.Succeeded += second.Succeeded
			sum.Errors = append(sum.Errors, second.Errors...)
		}
	}
	sum.Failed = len(sum.Errors)

	for _, e := range sum.Errors {
		log.Warn("tenant failed", "tenant_id", e.Item.ID.String(), "tenant", e.Item.Name, "error", e.Err)
		r.cfg.Metrics.TenantTask(ctx, job, "error")
	}
	for i := 0; i < sum.Succeeded; i++ {
		r.cfg.Metrics.TenantTask(ctx, job, "ok")
	}

	log.Info("fan-out finished",
		"tenants", sum.Tenants,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"retried", sum.Retried,
	)
	return sum, nil
}

// worker wraps task with backoff and a span per tenant.
func (r *Runner) worker(job string, task TaskFunc) pool.Worker[store.Tenant] {
	return func(ctx context.Context, t store.Tenant) error {
		ctx, span := r.tracer.Start(ctx, "tenant."+job, trace.WithAttributes(
			attribute.String("job.name", job),
			attribute.String("tenant.id", t.ID.String()),
		))
		defer span.End()

		err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
			return task(ctx, t)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package tenantsync

import (
	"context"
	"time"

	"sellerpilot/internal/marketplace"
	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

// Job names as registered in the scheduler.
const (
	JobReviewSync   = "review_sync"
	JobProductSync  = "product_sync"
	JobDialogueSync = "dialogue_sync"
	JobExport       = "spreadsheet_export"
	JobStaleSweep   = "stale_sweep"
)

// Marketplace is what the sync jobs need from the marketplace gateway.
type Marketplace interface {
	SyncTenant(ctx context.Context, tenantID uuid.UUID, mode marketplace.SyncMode, r marketplace.DateRange) (marketplace.SyncResult, error)
	ExportTenant(ctx context.Context, tenantID uuid.UUID) (marketplace.ExportResult, error)
	SweepStale(ctx context.Context, tenantID uuid.UUID) (marketplace.SweepResult, error)
}

// Lookback windows of the incremental syncs. The review window overlaps the
// hourly cadence so a late run does not leave a gap.
const (
	reviewLookback   = 2 * time.Hour
	dialogueLookback = 24 * time.Hour
)

// Jobs binds the tenant fan-out jobs to a marketplace client.
type Jobs struct {
	runner *Runner
	mp     Marketplace
	now    func() time.Time
}

// NewJobs creates the job bodies.
func NewJobs(runner *Runner, mp Marketplace) *Jobs {
	return &Jobs{runner: runner, mp: mp, now: time.Now}
}

var activeTenants = store.TenantFilter{ActiveOnly: true}

// ReviewSync refreshes recent reviews of every active tenant.
func (j *Jobs) ReviewSync(ctx context.Context) error {
	return j.sync(ctx, JobReviewSync, marketplace.SyncReviews, reviewLookback)
}

// ProductSync refreshes the full product catalogue of every active tenant.
func (j *Jobs) ProductSync(ctx context.Context) error {
	return j.sync(ctx, JobProductSync, marketplace.SyncProducts, 0)
}

// DialogueSync refreshes recent buyer chats of every active tenant.
func (j *Jobs) DialogueSync(ctx context.Context) error {
	return j.sync(ctx, JobDialogueSync, marketplace.SyncDialogues, dialogueLookback)
}

// Export writes every active tenant's state to its spreadsheet.
func (j *Jobs) Export(ctx context.Context) error {
	_, err := j.runner.FanOut(ctx, JobExport, activeTenants, func(ctx context.Context, t store.Tenant) error {
		_, err := j.mp.ExportTenant(ctx, t.ID)
		return err
	})
	return err
}

// StaleSweep moves every active tenant's stale items to their next state.
func (j *Jobs) StaleSweep(ctx context.Context) error {
	_, err := j.runner.FanOut(ctx, JobStaleSweep, activeTenants, func(ctx context.Context, t store.Tenant) error {
		_, err := j.mp.SweepStale(ctx, t.ID)
		return err
	})
	return err
}

func (j *Jobs) sync(ctx context.Context, job string, mode marketplace.SyncMode, lookback time.Duration) error {
	var r marketplace.DateRange
	if lookback > 0 {
		now := j.now()
		r = marketplace.DateRange{From: now.Add(-lookback), To: now}
	}

	_, err := j.runner.FanOut(ctx, job, activeTenants, func(ctx context.Context, t store.Tenant) error {
		_, err := j.mp.SyncTenant(ctx, t.ID, mode, r)
		return err
	})
	return err
}

package tenantsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"sellerpilot/internal/marketplace"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncCall struct {
	tenant uuid.UUID
	mode   marketplace.SyncMode
	r      marketplace.DateRange
}

type fakeMarketplace struct {
	mu      sync.Mutex
	syncs   []syncCall
	exports []uuid.UUID
	sweeps  []uuid.UUID
}

func (f *fakeMarketplace) SyncTenant(_ context.Context, id uuid.UUID, mode marketplace.SyncMode, r marketplace.DateRange) (marketplace.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, syncCall{tenant: id, mode: mode, r: r})
	return marketplace.SyncResult{Fetched: 1}, nil
}

func (f *fakeMarketplace) ExportTenant(_ context.Context, id uuid.UUID) (marketplace.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, id)
	return marketplace.ExportResult{Rows: 1}, nil
}

func (f *fakeMarketplace) SweepStale(_ context.Context, id uuid.UUID) (marketplace.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, id)
	return marketplace.SweepResult{}, nil
}

func TestJobs_ReviewSyncUsesLookbackWindow(t *testing.T) {
	repo := &fakeTenants{tenants: tenants("alpha", "bravo")}
	r, _ := newTestRunner(repo, 2, time.Second)
	mp := &fakeMarketplace{}
	jobs := NewJobs(r, mp)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	jobs.now = func() time.Time { return now }

	require.NoError(t, jobs.ReviewSync(context.Background()))

	require.Len(t, mp.syncs, 2)
	for _, c := range mp.syncs {
		assert.Equal(t, marketplace.SyncReviews, c.mode)
		assert.Equal(t, now.Add(-2*time.Hour), c.r.From)
		assert.Equal(t, now, c.r.To)
	}
	assert.True(t, repo.filter.ActiveOnly)
}

func TestJobs_ProductSyncIsFull(t *testing.T) {
	r, _ := newTestRunner(&fakeTenants{tenants: tenants("alpha")}, 1, time.Second)
	mp := &fakeMarketplace{}

	require.NoError(t, NewJobs(r, mp).ProductSync(context.Background()))

	require.Len(t, mp.syncs, 1)
	assert.Equal(t, marketplace.SyncProducts, mp.syncs[0].mode)
	assert.True(t, mp.syncs[0].r.From.IsZero())
}

func TestJobs_DialogueExportSweep(t *testing.T) {
	ts := tenants("alpha", "bravo", "charlie")
	r, _ := newTestRunner(&fakeTenants{tenants: ts}, 2, time.Second)
	mp := &fakeMarketplace{}
	jobs := NewJobs(r, mp)

	require.NoError(t, jobs.DialogueSync(context.Background()))
	require.NoError(t, jobs.Export(context.Background()))
	require.NoError(t, jobs.StaleSweep(context.Background()))

	assert.Len(t, mp.syncs, 3)
	assert.Equal(t, marketplace.SyncDialogues, mp.syncs[0].mode)
	assert.ElementsMatch(t, []uuid.UUID{ts[0].ID, ts[1].ID, ts[2].ID}, mp.exports)
	assert.ElementsMatch(t, []uuid.UUID{ts[0].ID, ts[1].ID, ts[2].ID}, mp.sweeps)
}

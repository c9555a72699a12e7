package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// None of these may panic.
	m.JobRun(ctx, "review-sync", "ok", time.Second)
	m.TenantTask(ctx, "review-sync", "failed")
	m.SequenceTransition(ctx, "advanced")
	m.BackfillGenerated(ctx, 3)
	if err := m.ObserveQuota(func() int64 { return 1 }); err != nil {
		t.Errorf("ObserveQuota on nil metrics returned %v", err)
	}
}

func TestMetrics_ExportedThroughPrometheus(t *testing.T) {
	handler, shutdown, err := InitMetrics("sellerpilot-test")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.JobRun(ctx, "backfill", "ok", 250*time.Millisecond)
	m.JobRun(ctx, "backfill", "skipped", 0)
	m.BackfillGenerated(ctx, 7)
	if err := m.ObserveQuota(func() int64 { return 7 }); err != nil {
		t.Fatalf("ObserveQuota failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	for _, want := range []string{"sellerpilot_job_runs", "sellerpilot_backfill_generated", "sellerpilot_backfill_quota_used", `outcome="skipped"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output, got:\n%s", want, body)
		}
	}
}

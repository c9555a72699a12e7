package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all sellerpilot instruments.
const MeterName = "sellerpilot"

// Metrics holds the orchestration instruments.
// A nil *Metrics is valid and records nothing, which keeps tests free of setup.
type Metrics struct {
	meter               metric.Meter
	jobRuns             metric.Int64Counter
	jobDuration         metric.Float64Histogram
	tenantTasks         metric.Int64Counter
	sequenceTransitions metric.Int64Counter
	backfillGenerated   metric.Int64Counter
}

// NewMetrics registers the instruments on the global MeterProvider.
// Call it after InitMetrics so the Prometheus exporter sees them.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{meter: meter}

	var err error
	if m.jobRuns, err = meter.Int64Counter("sellerpilot.job.runs",
		metric.WithDescription("Job run attempts by outcome (ok, error, skipped)")); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("sellerpilot.job.duration",
		metric.WithDescription("Wall time of job runs"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.tenantTasks, err = meter.Int64Counter("sellerpilot.tenant.tasks",
		metric.WithDescription("Per-tenant task results of fan-out jobs")); err != nil {
		return nil, err
	}
	if m.sequenceTransitions, err = meter.Int64Counter("sellerpilot.sequence.transitions",
		metric.WithDescription("Follow-up sequence tick outcomes")); err != nil {
		return nil, err
	}
	if m.backfillGenerated, err = meter.Int64Counter("sellerpilot.backfill.generated",
		metric.WithDescription("Artifacts generated by backfill jobs")); err != nil {
		return nil, err
	}

	return m, nil
}

// JobRun records one run (or skip) of a named job.
func (m *Metrics) JobRun(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome))
	m.jobRuns.Add(ctx, 1, attrs)
	if outcome != "skipped" {
		m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("job", job)))
	}
}

// TenantTask records the final result of one tenant inside a fan-out job.
func (m *Metrics) TenantTask(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.tenantTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome)))
}

// SequenceTransition records what a sequencer tick did to one sequence.
func (m *Metrics) SequenceTransition(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.sequenceTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// BackfillGenerated records generated artifacts.
func (m *Metrics) BackfillGenerated(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backfillGenerated.Add(ctx, int64(n))
}

// ObserveQuota exposes the daily backfill quota usage as an observable gauge.
func (m *Metrics) ObserveQuota(used func() int64) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("sellerpilot.backfill.quota.used",
		metric.WithDescription("Backfill units consumed in the current quota window"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(used())
			return nil
		}),
	)
	return err
}

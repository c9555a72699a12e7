// Package scheduler is the job registry: named recurring jobs, each woken on its
// own cadence and each protected by a run-guard against overlapping execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sellerpilot/internal/logger"
	"sellerpilot/internal/observability"
	"sellerpilot/internal/schedule"
	"sellerpilot/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrUnknownJob is returned for a job name that was never registered.
	ErrUnknownJob = errors.New("scheduler: unknown job")

	// ErrDuplicateJob is returned when a name is registered twice.
	ErrDuplicateJob = errors.New("scheduler: job already registered")

	// ErrStopped is returned by Trigger once Stop has begun.
	ErrStopped = errors.New("scheduler: registry stopped")
)

// DefaultFallbackDelay re-arms a self-rescheduling job after a fatal error.
const DefaultFallbackDelay = 5 * time.Minute

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) error

// Trigger selects how a job is woken: FixedCron or SelfRescheduling.
type Trigger interface {
	kind() string
}

// FixedCron wakes the job on a static cron cadence.
type FixedCron struct {
	Spec string
}

func (FixedCron) kind() string { return "cron" }

// DelayFunc returns how long to wait after a run that finished at now.
type DelayFunc func(now time.Time) time.Duration

// SelfRescheduling runs the job, then re-arms a one-shot timer for Delay(now).
// After a fatal error the timer is armed for Fallback instead.
type SelfRescheduling struct {
	Delay    DelayFunc
	Fallback time.Duration
}

func (SelfRescheduling) kind() string { return "adaptive" }

// Adaptive builds a SelfRescheduling trigger from an interval policy.
func Adaptive(p *schedule.Policy, fallback time.Duration) SelfRescheduling {
	return SelfRescheduling{Delay: p.NextDelay, Fallback: fallback}
}

// RunRecorder persists run logs. store/postgres implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *store.JobRunLog) error
}

// Config holds the registry's collaborators. Only Logger is strongly recommended;
// every other field has a usable default.
type Config struct {
	Guard    Guard
	Recorder RunRecorder
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Location *time.Location
	Now      func() time.Time
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name       string
	Trigger    string
	Schedule   string
	Running    bool
	LastStart  *time.Time
	LastFinish *time.Time
	LastError  string
	NextRun    *time.Time
	Runs       int
	Skips      int
}

type job struct {
	name    string
	trigger Trigger
	cadence *schedule.Cadence
	body    JobFunc

	mu     sync.Mutex
	status JobStatus
}

func (j *job) update(fn func(s *JobStatus)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.status)
}

func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Registry owns the registered jobs and their wake-up loops.
type Registry struct {
	cfg    Config
	log    *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	jobs     map[string]*job
	baseCtx  context.Context
	cancel   context.CancelFunc
	started  bool
	stopping bool

	loops    sync.WaitGroup
	inFlight sync.WaitGroup
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Guard == nil {
		cfg.Guard = NewMemoryGuard()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "scheduler"),
		tracer:  otel.Tracer("sellerpilot/scheduler"),
		jobs:    make(map[string]*job),
		baseCtx: context.Background(),
	}
}

// Register adds a named job. It must be called before Start.
func (r *Registry) Register(name string, trigger Trigger, body JobFunc) error {
	if name == "" {
		return errors.New("scheduler: empty job name")
	}
	if body == nil {
		return fmt.Errorf("scheduler: job %q has no body", name)
	}

	j := &job{name: name, trigger: trigger, body: body}
	j.status = JobStatus{Name: name}

	switch t := trigger.(type) {
	case FixedCron:
		c, err := schedule.ParseCadence(t.Spec, r.cfg.Location)
		if err != nil {
			return fmt.Errorf("scheduler: job %q: %w", name, err)
		}
		j.cadence = c
		j.status.Trigger = t.kind()
		j.status.Schedule = t.Spec
	case SelfRescheduling:
		if t.Delay == nil {
			return fmt.Errorf("scheduler: job %q: self-rescheduling trigger without delay", name)
		}
		if t.Fallback <= 0 {
			t.Fallback = DefaultFallbackDelay
			j.trigger = t
		}
		j.status.Trigger = t.kind()
		j.status.Schedule = "adaptive"
	default:
		return fmt.Errorf("scheduler: job %q: unsupported trigger %T", name, trigger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.jobs[name] = j
	return nil
}

// Start launches one wake-up loop per job. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.baseCtx, r.cancel = context.WithCancel(ctx)

	for _, j := range r.jobs {
		r.loops.Add(1)
		switch j.trigger.(type) {
		case FixedCron:
			go r.cronLoop(r.baseCtx, j)
		case SelfRescheduling:
			go r.adaptiveLoop(r.baseCtx, j)
		}
		r.log.Info("job scheduled", "job", j.name, "trigger", j.status.Trigger, "schedule", j.status.Schedule)
	}
}

// Stop cancels the loops and waits for in-flight runs to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopping = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.loops.Wait()
	r.inFlight.Wait()
}

// RunOnce runs the named job synchronously under its guard.
// ran is false when the job was already running; that is not an error.
func (r *Registry) RunOnce(ctx context.Context, name string) (ran bool, err error) {
	j, err := r.lookup(name)
	if err != nil {
		return false, err
	}
	return r.execute(ctx, j)
}

// Trigger acquires the guard for the named job and runs it in the background.
// started is false when the job was already running. After Stop it returns ErrStopped.
func (r *Registry) Trigger(name string) (started bool, err error) {
	j, err := r.lookup(name)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	release, ok, err := r.acquire(ctx, j)
	if err != nil || !ok {
		return false, err
	}

	// inFlight.Add must not race with the Wait in Stop.
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		release()
		return false, ErrStopped
	}
	r.inFlight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inFlight.Done()
		r.runAcquired(ctx, j, release)
	}()
	return true, nil
}

// Status lists all jobs sorted by name.
func (r *Registry) Status() []JobStatus {
	r.mu.Lock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (r *Registry) lookup(name string) (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

// cronLoop fires the job at each cadence activation. Runs are dispatched
// asynchronously, so a run that outlasts its interval meets the guard on the next tick.
func (r *Registry) cronLoop(ctx context.Context, j *job) {
	defer r.loops.Done()

	for {
		next := j.cadence.Next(r.cfg.Now())
		j.update(func(s *JobStatus) { s.NextRun = &next })

		timer := time.NewTimer(next.Sub(r.cfg.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.inFlight.Add(1)
		go func() {
			defer r.inFlight.Done()
			r.execute(ctx, j)
		}()
	}
}

// adaptiveLoop runs the job immediately, then re-arms itself after each run.
func (r *Registry) adaptiveLoop(ctx context.Context, j *job) {
	defer r.loops.Done()
	trig := j.trigger.(SelfRescheduling)

	for {
		_, err := r.execute(ctx, j)
		if ctx.Err() != nil {
			return
		}

		delay := trig.Fallback
		if err == nil {
			delay = trig.Delay(r.cfg.Now())
		}
		if delay <= 0 {
			delay = trig.Fallback
		}

		next := r.cfg.Now().Add(delay)
		j.update(func(s *JobStatus) { s.NextRun = &next })
		r.log.Debug("job re-armed", "job", j.name, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// execute acquires the guard and runs the body synchronously.
func (r *Registry) execute(ctx context.Context, j *job) (bool, error) {
	release, ok, err := r.acquire(ctx, j)
	if err != nil || !ok {
		return false, err
	}
	return true, r.runAcquired(ctx, j, release)
}

func (r *Registry) acquire(ctx context.Context, j *job) (func(), bool, error) {
	release, ok, err := r.cfg.Guard.Acquire(ctx, j.name)
	if err != nil {
		r.log.Error("run-guard unavailable", "job", j.name, "error", err)
		return nil, false, fmt.Errorf("scheduler: guard for %s: %w", j.name, err)
	}
	if !ok {
		r.log.Info("job skipped: already running", "job", j.name)
		j.update(func(s *JobStatus) { s.Skips++ })
		r.cfg.Metrics.JobRun(ctx, j.name, string(store.RunOutcomeSkipped), 0)
		now := r.cfg.Now()
		r.record(j.name, uuid.New(), store.RunOutcomeSkipped, nil, now, now)
		return nil, false, nil
	}
	return release, true, nil
}

// runAcquired runs the body while holding the guard. The guard is released
// on every exit path, including a panic in the body.
func (r *Registry) runAcquired(ctx context.Context, j *job, release func()) (err error) {
	defer release()

	runID := uuid.New()
	ctx = logger.WithRunID(ctx, runID.String())
	log := logger.FromContext(ctx, r.log).With("job", j.name)

	ctx, span := r.tracer.Start(ctx, "job."+j.name,
		trace.WithAttributes(
			attribute.String("job.name", j.name),
			attribute.String("job.run_id", runID.String()),
		),
	)
	defer span.End()

	started := r.cfg.Now()
	j.update(func(s *JobStatus) {
		s.Running = true
		s.LastStart = &started
	})
	log.Info("job started")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", j.name, p)
		}

		finished := r.cfg.Now()
		elapsed := finished.Sub(started)
		outcome := store.RunOutcomeOK
		var errText *string
		if err != nil {
			outcome = store.RunOutcomeError
			msg := err.Error()
			errText = &msg
			span.RecordError(err)
			span.SetStatus(codes.Error, msg)
			log.Error("job failed", "error", err, "elapsed", elapsed.String())
		} else {
			log.Info("job finished", "elapsed", elapsed.String())
		}

		j.update(func(s *JobStatus) {
			s.Running = false
			s.LastFinish = &finished
			s.Runs++
			s.LastError = ""
			if errText != nil {
				s.LastError = *errText
			}
		})
		r.cfg.Metrics.JobRun(ctx, j.name, string(outcome), elapsed)
		r.record(j.name, runID, outcome, errText, started, finished)
	}()

	return j.body(ctx)
}

func (r *Registry) record(name string, runID uuid.UUID, outcome store.RunOutcome, errText *string, started, finished time.Time) {
	if r.cfg.Recorder == nil {
		return
	}
	// The job's context may already be cancelled at shutdown; the log row should still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := &store.JobRunLog{
		Job:        name,
		RunID:      runID,
		Outcome:    outcome,
		Error:      errText,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err := r.cfg.Recorder.RecordRun(ctx, run); err != nil {
		r.log.Warn("failed to record job run", "job", name, "error", err)
	}
}

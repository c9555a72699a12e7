// Package main is the entry point for the sellerpilot scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sellerpilot/internal/auth"
	"sellerpilot/internal/backfill"
	"sellerpilot/internal/config"
	"sellerpilot/internal/controller"
	"sellerpilot/internal/lease"
	"sellerpilot/internal/logger"
	"sellerpilot/internal/marketplace"
	"sellerpilot/internal/observability"
	"sellerpilot/internal/retry"
	"sellerpilot/internal/schedule"
	"sellerpilot/internal/scheduler"
	"sellerpilot/internal/sequencer"
	"sellerpilot/internal/store/postgres"
	"sellerpilot/internal/tenantsync"
)

// adminStore joins the pieces of the Postgres store the admin API reads.
type adminStore struct {
	*postgres.Store
	*postgres.BackfillRepo
}

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: sellerpilot.yaml in current directory)")
	flag.Parse()

	if err := run(*configPath, *migrateFlag); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func run(configPath string, migrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.New(cfg.LogLevel)
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer db.Close()

	if migrate {
		lg.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		lg.Info("migrations completed")
	}
	if version, dirty, err := postgres.SchemaVersion(db.DB()); err != nil {
		lg.Warn("failed to read schema version", "error", err)
	} else if dirty {
		return fmt.Errorf("schema version %d is dirty; fix the failed migration first", version)
	} else {
		lg.Info("database schema", "version", version)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "sellerpilot-scheduler", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			lg.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("sellerpilot-scheduler")
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			lg.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to register instruments: %w", err)
	}

	guard, err := newGuard(ctx, cfg, lg)
	if err != nil {
		return err
	}

	loc := cfg.Location()
	registry := scheduler.New(scheduler.Config{
		Guard:    guard,
		Recorder: db,
		Logger:   lg,
		Metrics:  metrics,
		Location: loc,
	})

	mp := marketplace.NewClient(cfg.MarketplaceURL, cfg.MarketplaceToken)
	retryPolicy := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}

	// Tenant fan-out jobs
	runner := tenantsync.NewRunner(db, tenantsync.Config{
		Concurrency: cfg.SyncConcurrency,
		TaskTimeout: cfg.SyncTaskTimeout,
		RetryDelay:  cfg.SyncRetryDelay,
		Retry:       retryPolicy,
		Logger:      lg,
		Metrics:     metrics,
	})
	syncJobs := tenantsync.NewJobs(runner, mp)

	policy, err := schedule.NewPolicy(loc, cfg.DialogueTiers)
	if err != nil {
		return fmt.Errorf("invalid dialogue tiers: %w", err)
	}

	// Follow-up sequencer
	sequences := db.Sequences()
	seq, err := sequencer.New(sequences, sequences, mp, sequencer.Config{
		ActiveFrom:   cfg.SequencerActiveFrom,
		ActiveTo:     cfg.SequencerActiveTo,
		Location:     loc,
		SendInterval: cfg.SequencerSendInterval,
		BatchLimit:   cfg.SequencerBatchLimit,
		Logger:       lg,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	// Backfill queue
	backfills := db.Backfills()
	quota := backfill.NewDailyQuota(cfg.BackfillDailyLimit, loc)
	if err := metrics.ObserveQuota(func() int64 { return int64(quota.Used()) }); err != nil {
		lg.Warn("failed to register quota gauge", "error", err)
	}
	worker := backfill.NewWorker(backfills, mp, quota, backfill.Config{
		BatchSize: cfg.BackfillBatchSize,
		Retry:     retryPolicy,
		Logger:    lg,
		Metrics:   metrics,
	})

	jobs := []struct {
		name    string
		trigger scheduler.Trigger
		body    scheduler.JobFunc
	}{
		{tenantsync.JobReviewSync, scheduler.FixedCron{Spec: cfg.Cron.ReviewSync}, syncJobs.ReviewSync},
		{tenantsync.JobProductSync, scheduler.FixedCron{Spec: cfg.Cron.ProductSync}, syncJobs.ProductSync},
		{tenantsync.JobDialogueSync, scheduler.Adaptive(policy, cfg.DialogueFallbackDelay), syncJobs.DialogueSync},
		{tenantsync.JobExport, scheduler.FixedCron{Spec: cfg.Cron.Export}, syncJobs.Export},
		{tenantsync.JobStaleSweep, scheduler.FixedCron{Spec: cfg.Cron.StaleSweep}, syncJobs.StaleSweep},
		{sequencer.JobName, scheduler.FixedCron{Spec: cfg.Cron.Sequencer}, seq.Run},
		{backfill.JobName, scheduler.FixedCron{Spec: cfg.Cron.Backfill}, worker.Run},
	}
	for _, j := range jobs {
		if err := registry.Register(j.name, j.trigger, j.body); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}

	registry.Start(ctx)
	lg.Info("scheduler started", "jobs", len(jobs), "lock_backend", cfg.LockBackend, "timezone", loc.String())

	// Admin API
	srv := controller.New(fmt.Sprintf(":%d", cfg.HTTPPort), controller.Deps{
		Store:      adminStore{Store: db, BackfillRepo: backfills},
		Jobs:       registry,
		Sequences:  sequencer.NewAdmin(sequences),
		AdminToken: cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		lg.Warn("ADMIN_TOKEN is empty; admin routes are disabled")
	} else {
		lg.Info("admin routes enabled", "token_sha256_prefix", auth.HashToken(cfg.AdminToken)[:12])
	}

	// Prometheus scrape endpoint
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics server stopped", "error", err)
		}
	}()

	lg.Info("admin API starting", "port", cfg.HTTPPort, "metrics_port", cfg.MetricsPort)
	serveErr := srv.Run(ctx)

	// Graceful shutdown: stop accepting triggers, then wait for running jobs.
	lg.Info("shutting down scheduler")
	stop()
	registry.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("metrics server forced to shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("admin API: %w", serveErr)
	}
	lg.Info("scheduler exited properly")
	return nil
}

func newGuard(ctx context.Context, cfg *config.Config, lg *slog.Logger) (scheduler.Guard, error) {
	if cfg.LockBackend != config.LockRedis {
		return scheduler.NewMemoryGuard(), nil
	}

	client, err := lease.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s/%d", host, os.Getpid())
	return lease.NewRedisGuard(client, cfg.LeaseTTL, owner, lg), nil
}

// Package config loads the scheduler settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sellerpilot/internal/schedule"

	"github.com/spf13/viper"
)

// Lock backends for the job run-guard.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Admin API and Prometheus ports
	HTTPPort    int
	MetricsPort int

	// Bearer token for the admin API; empty disables the authenticated routes
	AdminToken string

	LogLevel     string
	OTELEndpoint string

	// Whole-hour UTC offset of the operating timezone
	TimezoneOffsetHours int

	MarketplaceURL   string
	MarketplaceToken string

	// Tenant fan-out
	SyncConcurrency int
	SyncTaskTimeout time.Duration
	SyncRetryDelay  time.Duration

	// Backoff executor
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Self-rescheduling dialogue sync
	DialogueTiers         []schedule.Tier
	DialogueFallbackDelay time.Duration

	BackfillBatchSize  int
	BackfillDailyLimit int

	SequencerActiveFrom   int
	SequencerActiveTo     int
	SequencerSendInterval time.Duration
	SequencerBatchLimit   int

	// Run-guard backend
	LockBackend string
	RedisAddr   string
	LeaseTTL    time.Duration

	Cron CronConfig
}

// CronConfig holds the fixed cadences, standard 5-field cron expressions.
type CronConfig struct {
	ReviewSync  string
	ProductSync string
	Export      string
	Backfill    string
	Sequencer   string
	StaleSweep  string
}

// Location returns the operating timezone.
func (c *Config) Location() *time.Location {
	return schedule.FixedZone(c.TimezoneOffsetHours)
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"database_url":            "DATABASE_URL",
	"http_port":               "PORT",
	"metrics_port":            "METRICS_PORT",
	"admin_token":             "ADMIN_TOKEN",
	"log_level":               "LOG_LEVEL",
	"otel_endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
	"timezone_offset_hours":   "TIMEZONE_OFFSET_HOURS",
	"marketplace_url":         "MARKETPLACE_URL",
	"marketplace_token":       "MARKETPLACE_TOKEN",
	"sync_concurrency":        "SYNC_CONCURRENCY",
	"sync_task_timeout":       "SYNC_TASK_TIMEOUT",
	"sync_retry_delay":        "SYNC_RETRY_DELAY",
	"retry_max_attempts":      "RETRY_MAX_ATTEMPTS",
	"retry_base_delay":        "RETRY_BASE_DELAY",
	"dialogue_tiers":          "DIALOGUE_TIERS",
	"dialogue_fallback_delay": "DIALOGUE_FALLBACK_DELAY",
	"backfill_batch_size":     "BACKFILL_BATCH_SIZE",
	"backfill_daily_limit":    "BACKFILL_DAILY_LIMIT",
	"sequencer_active_from":   "SEQUENCER_ACTIVE_FROM",
	"sequencer_active_to":     "SEQUENCER_ACTIVE_TO",
	"sequencer_send_interval": "SEQUENCER_SEND_INTERVAL",
	"sequencer_batch_limit":   "SEQUENCER_BATCH_LIMIT",
	"lock_backend":            "LOCK_BACKEND",
	"redis_addr":              "REDIS_ADDR",
	"lease_ttl":               "LEASE_TTL",
	"cron_review_sync":        "CRON_REVIEW_SYNC",
	"cron_product_sync":       "CRON_PRODUCT_SYNC",
	"cron_export":             "CRON_EXPORT",
	"cron_backfill":           "CRON_BACKFILL",
	"cron_sequencer":          "CRON_SEQUENCER",
	"cron_stale_sweep":        "CRON_STALE_SWEEP",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6262)
	v.SetDefault("metrics_port", 6263)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("timezone_offset_hours", 3)
	v.SetDefault("marketplace_url", "http://localhost:7070")
	v.SetDefault("sync_concurrency", 5)
	v.SetDefault("sync_task_timeout", "10m")
	v.SetDefault("sync_retry_delay", "30s")
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay", "1s")
	v.SetDefault("dialogue_tiers", "06:00-09:00=15m,09:00-18:00=5m,18:00-21:00=15m,21:00-06:00=60m")
	v.SetDefault("dialogue_fallback_delay", "5m")
	v.SetDefault("backfill_batch_size", 5)
	v.SetDefault("backfill_daily_limit", 500)
	v.SetDefault("sequencer_active_from", 9)
	v.SetDefault("sequencer_active_to", 21)
	v.SetDefault("sequencer_send_interval", "3s")
	v.SetDefault("sequencer_batch_limit", 200)
	v.SetDefault("lock_backend", LockMemory)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("lease_ttl", "30m")
	v.SetDefault("cron_review_sync", "0 * * * *")
	v.SetDefault("cron_product_sync", "0 4 * * *")
	v.SetDefault("cron_export", "0 6 * * *")
	v.SetDefault("cron_backfill", "*/5 * * * *")
	v.SetDefault("cron_sequencer", "*/30 * * * *")
	v.SetDefault("cron_stale_sweep", "15,45 * * * *")
}

// Load reads configuration from the YAML file at path (if non-empty) and then
// from environment variables; the environment wins. With an empty path a
// sellerpilot.yaml in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("sellerpilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:           v.GetString("database_url"),
		HTTPPort:              v.GetInt("http_port"),
		MetricsPort:           v.GetInt("metrics_port"),
		AdminToken:            v.GetString("admin_token"),
		LogLevel:              v.GetString("log_level"),
		OTELEndpoint:          v.GetString("otel_endpoint"),
		TimezoneOffsetHours:   v.GetInt("timezone_offset_hours"),
		MarketplaceURL:        strings.TrimRight(v.GetString("marketplace_url"), "/"),
		MarketplaceToken:      v.GetString("marketplace_token"),
		SyncConcurrency:       v.GetInt("sync_concurrency"),
		SyncTaskTimeout:       v.GetDuration("sync_task_timeout"),
		SyncRetryDelay:        v.GetDuration("sync_retry_delay"),
		RetryMaxAttempts:      v.GetInt("retry_max_attempts"),
		RetryBaseDelay:        v.GetDuration("retry_base_delay"),
		DialogueFallbackDelay: v.GetDuration("dialogue_fallback_delay"),
		BackfillBatchSize:     v.GetInt("backfill_batch_size"),
		BackfillDailyLimit:    v.GetInt("backfill_daily_limit"),
		SequencerActiveFrom:   v.GetInt("sequencer_active_from"),
		SequencerActiveTo:     v.GetInt("sequencer_active_to"),
		SequencerSendInterval: v.GetDuration("sequencer_send_interval"),
		SequencerBatchLimit:   v.GetInt("sequencer_batch_limit"),
		LockBackend:           strings.ToLower(v.GetString("lock_backend")),
		RedisAddr:             v.GetString("redis_addr"),
		LeaseTTL:              v.GetDuration("lease_ttl"),
		Cron: CronConfig{
			ReviewSync:  v.GetString("cron_review_sync"),
			ProductSync: v.GetString("cron_product_sync"),
			Export:      v.GetString("cron_export"),
			Backfill:    v.GetString("cron_backfill"),
			Sequencer:   v.GetString("cron_sequencer"),
			StaleSweep:  v.GetString("cron_stale_sweep"),
		},
	}

	tiers, err := schedule.ParseTiers(stringList(v.Get("dialogue_tiers")))
	if err != nil {
		return nil, fmt.Errorf("invalid dialogue_tiers: %w", err)
	}
	cfg.DialogueTiers = tiers

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if c.TimezoneOffsetHours < -12 || c.TimezoneOffsetHours > 14 {
		return fmt.Errorf("invalid timezone_offset_hours: %d", c.TimezoneOffsetHours)
	}

	positive := map[string]int{
		"sync_concurrency":      c.SyncConcurrency,
		"retry_max_attempts":    c.RetryMaxAttempts,
		"backfill_batch_size":   c.BackfillBatchSize,
		"backfill_daily_limit":  c.BackfillDailyLimit,
		"sequencer_batch_limit": c.SequencerBatchLimit,
	}
	for key, n := range positive {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, n)
		}
	}
	if c.SyncTaskTimeout <= 0 {
		return fmt.Errorf("sync_task_timeout must be positive")
	}

	if c.SequencerActiveFrom < 0 || c.SequencerActiveTo > 24 || c.SequencerActiveFrom >= c.SequencerActiveTo {
		return fmt.Errorf("invalid sequencer active window [%d, %d)", c.SequencerActiveFrom, c.SequencerActiveTo)
	}

	if _, err := schedule.NewPolicy(c.Location(), c.DialogueTiers); err != nil {
		return fmt.Errorf("invalid dialogue_tiers: %w", err)
	}

	for key, spec := range map[string]string{
		"cron_review_sync":  c.Cron.ReviewSync,
		"cron_product_sync": c.Cron.ProductSync,
		"cron_export":       c.Cron.Export,
		"cron_backfill":     c.Cron.Backfill,
		"cron_sequencer":    c.Cron.Sequencer,
		"cron_stale_sweep":  c.Cron.StaleSweep,
	} {
		if _, err := schedule.ParseCadence(spec, nil); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.LockBackend {
	case LockMemory:
	case LockRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for lock_backend=redis")
		}
	default:
		return fmt.Errorf("invalid lock_backend: %q (must be %q or %q)", c.LockBackend, LockMemory, LockRedis)
	}
	return nil
}

// stringList accepts either a YAML list or a comma-separated string.
func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return strings.Split(v, ",")
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Package config loads process configuration from the environment.
// A .env file (loaded by the caller via godotenv) may seed the variables;
// explicit environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnforcementModeEnforce makes policy decisions binding. Any other value
// computes decisions but treats require_approval as advisory.
const EnforcementModeEnforce = "enforce"

// Config is the resolved process configuration.
type Config struct {
	DatabaseURL string
	HTTPPort    string

	// Policy
	KillSwitchExternalWrite bool
	EnforcementMode         string

	// Egress
	EgressMaxRequestsPerHour int

	// Promotion loop
	PromotionLoopEnabled bool

	// Run worker
	WorkerCount        int
	WorkerPollInterval time.Duration
	WorkerBatchLimit   int
	RunLeaseTTL        time.Duration
	LeaseSweepInterval time.Duration

	// Daily snapshot cron expression.
	SnapshotCron string
}

// Load reads configuration from the environment, applying defaults.
// DATABASE_URL is the only required variable.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		KillSwitchExternalWrite:  os.Getenv("POLICY_KILL_SWITCH_EXTERNAL_WRITE") == "1",
		EnforcementMode:          getEnv("POLICY_ENFORCEMENT_MODE", EnforcementModeEnforce),
		EgressMaxRequestsPerHour: getEnvInt("EGRESS_MAX_REQUESTS_PER_HOUR", 100),
		PromotionLoopEnabled:     os.Getenv("PROMOTION_LOOP_ENABLED") == "1",
		WorkerCount:              getEnvInt("WORKER_COUNT", 2),
		WorkerPollInterval:       getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		WorkerBatchLimit:         getEnvInt("WORKER_BATCH_LIMIT", 10),
		RunLeaseTTL:              getEnvDuration("RUN_LEASE_TTL", 10*time.Minute),
		LeaseSweepInterval:       getEnvDuration("LEASE_SWEEP_INTERVAL", time.Minute),
		SnapshotCron:             getEnv("SNAPSHOT_CRON", "5 0 * * *"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EgressMaxRequestsPerHour <= 0 {
		return nil, fmt.Errorf("EGRESS_MAX_REQUESTS_PER_HOUR must be positive, got %d", cfg.EgressMaxRequestsPerHour)
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("WORKER_COUNT must not be negative, got %d", cfg.WorkerCount)
	}

	return cfg, nil
}

// Enforced reports whether policy decisions are binding.
func (c *Config) Enforced() bool {
	return c.EnforcementMode == EnforcementModeEnforce
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

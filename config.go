package docket

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Config holds configuration for a Docket coordinator.
type Config struct {
	// LeaseName is the key of the control lease record that serializes
	// claim and reconcile across processes.
	LeaseName string

	// LeaseTTL is how long an acquired control lease stays valid.
	LeaseTTL time.Duration

	// StaleAfter is how long a job may hold PROCESSING before
	// reconciliation forces it to FAILED.
	StaleAfter time.Duration

	// ReconcileInterval is how often the reconciler runs after its
	// startup pass.
	ReconcileInterval time.Duration

	// PollInterval bounds how long the claim loop sleeps when the queue
	// is empty and no wake signal arrives.
	PollInterval time.Duration

	// ProcessTimeout is the execution deadline handed to the external
	// processor for a single job. Zero means unlimited.
	ProcessTimeout time.Duration

	// RetentionDays is how long a soft-deleted job is kept before the
	// retention sweeper purges it.
	RetentionDays int

	// RetentionSchedule is the cron spec for the retention sweeper.
	// Descriptors such as "@every 10m" are accepted.
	RetentionSchedule string

	// PurgeRate caps permanent deletions per second during a sweep.
	// Zero disables pacing.
	PurgeRate float64

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseName:         "docket-queue-control",
		LeaseTTL:          30 * time.Second,
		StaleAfter:        30 * time.Minute,
		ReconcileInterval: 30 * time.Second,
		PollInterval:      5 * time.Second,
		ProcessTimeout:    15 * time.Minute,
		RetentionDays:     30,
		RetentionSchedule: "@every 10m",
		PurgeRate:         20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// RetentionWindow returns RetentionDays as a duration.
func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// retentionParser accepts standard five-field specs and descriptors.
var retentionParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.LeaseName == "":
		return fmt.Errorf("docket: config: lease name is required")
	case c.LeaseTTL <= 0:
		return fmt.Errorf("docket: config: lease ttl must be positive, got %s", c.LeaseTTL)
	case c.StaleAfter <= 0:
		return fmt.Errorf("docket: config: stale threshold must be positive, got %s", c.StaleAfter)
	case c.ReconcileInterval <= 0:
		return fmt.Errorf("docket: config: reconcile interval must be positive, got %s", c.ReconcileInterval)
	case c.PollInterval <= 0:
		return fmt.Errorf("docket: config: poll interval must be positive, got %s", c.PollInterval)
	case c.ProcessTimeout < 0:
		return fmt.Errorf("docket: config: process timeout must not be negative, got %s", c.ProcessTimeout)
	case c.RetentionDays < 0:
		return fmt.Errorf("docket: config: retention days must not be negative, got %d", c.RetentionDays)
	case c.PurgeRate < 0:
		return fmt.Errorf("docket: config: purge rate must not be negative, got %v", c.PurgeRate)
	}
	if _, err := retentionParser.Parse(c.RetentionSchedule); err != nil {
		return fmt.Errorf("docket: config: retention schedule %q: %w", c.RetentionSchedule, err)
	}
	return nil
}

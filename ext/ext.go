package ext

import (
	"context"
	"time"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Admission and processing hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a submission is admitted. duplicate is true
// when the submission resolved to an existing job.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job, duplicate bool) error
}

// JobClaimed is called after a job is promoted to PROCESSING.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job reaches COMPLETED.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called after a job reaches FAILED through the worker.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// JobRecovered is called when reconciliation fails a stale PROCESSING job.
type JobRecovered interface {
	OnJobRecovered(ctx context.Context, j *job.Job, err error) error
}

// JobDemoted is called when reconciliation moves an extra PROCESSING job
// back to PENDING.
type JobDemoted interface {
	OnJobDemoted(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Deletion hooks
// ──────────────────────────────────────────────────

// JobSoftDeleted is called after a job is soft-deleted.
type JobSoftDeleted interface {
	OnJobSoftDeleted(ctx context.Context, j *job.Job) error
}

// JobRestored is called after a soft-deleted job is restored.
type JobRestored interface {
	OnJobRestored(ctx context.Context, j *job.Job) error
}

// JobPurged is called after a job record is permanently removed, either
// on request or by the retention sweeper.
type JobPurged interface {
	OnJobPurged(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Verification hooks
// ──────────────────────────────────────────────────

// VerificationCompleted is called after verification succeeds.
type VerificationCompleted interface {
	OnVerificationCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// VerificationFailed is called after verification fails.
type VerificationFailed interface {
	OnVerificationFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

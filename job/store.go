package job

import (
	"context"
	"time"

	"github.com/xraph/docket/id"
)

// ListOpts controls pagination and filtering for job list queries.
// Results are ordered by (created_at, queued_at, job_id).
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Statuses filters by status. Empty means all statuses.
	Statuses []Status
	// Deleted filters on the soft-delete flag. Nil means both.
	Deleted *bool
	// DeletedOrStamped selects jobs that are soft-deleted or carry a
	// deleted_at stamp, the retention scan predicate. It overrides Deleted.
	DeletedOrStamped bool
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Statuses filters by status. Empty means all statuses.
	Statuses []Status
	// Deleted filters on the soft-delete flag. Nil means both.
	Deleted *bool
}

// ClaimOpts parameterizes an atomic claim.
type ClaimOpts struct {
	// Owner is recorded as owner_id on the claimed job.
	Owner string
	// Now is the claim instant stamped as processing_started_at.
	Now time.Time
	// RequireIdle makes the claim fail (return nil) when any job already
	// holds PROCESSING. Backends evaluate this as close to atomically with
	// the claim as they can.
	RequireIdle bool
}

// Position is one entry of a FIFO ranking.
type Position struct {
	JobID    id.JobID
	Position int
}

// Store defines the persistence contract for jobs. Every mutation is a
// single conditional operation evaluated by the backend; callers never
// read-then-write.
type Store interface {
	// InsertJob persists a new job. It returns docket.ErrJobAlreadyExists
	// when the ID is taken and docket.ErrDedupeKeyInUse when another live
	// job holds the same dedupe key.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID, soft-deleted or not.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindByDedupeKey returns the live (not soft-deleted) job holding key,
	// or docket.ErrJobNotFound.
	FindByDedupeKey(ctx context.Context, key string) (*Job, error)

	// UpdateJob applies patch to the job only if it currently satisfies
	// cond, and returns the updated record. It returns docket.ErrJobNotFound
	// when no record has the ID and docket.ErrConflict when the record
	// exists but does not satisfy cond.
	UpdateJob(ctx context.Context, jobID id.JobID, cond Condition, patch Patch) (*Job, error)

	// ClaimNext atomically selects the oldest claimable job by
	// (created_at, queued_at, job_id) and moves it to PROCESSING in the
	// same operation. It returns nil, nil when nothing is claimable.
	ClaimNext(ctx context.Context, opts ClaimOpts) (*Job, error)

	// ListJobs returns jobs matching opts in FIFO order.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// SetQueuePositions writes each position onto its job, but only where
	// the job is still pending and not soft-deleted. It returns how many
	// records were written.
	SetQueuePositions(ctx context.Context, positions []Position) (int64, error)

	// ClearStaleQueuePositions removes queue_position from every job that
	// is not pending or is soft-deleted. It returns how many were cleared.
	ClearStaleQueuePositions(ctx context.Context) (int64, error)

	// DeleteJob permanently removes the job if it satisfies cond. It
	// returns false, nil when the record is already gone and
	// docket.ErrConflict when it exists but does not satisfy cond.
	DeleteJob(ctx context.Context, jobID id.JobID, cond Condition) (bool, error)
}

// LegacyNormalizer is implemented by backends that may hold records
// written before the canonical schema: lowercase or historical status
// spellings and missing soft-delete or verification fields.
type LegacyNormalizer interface {
	// NormalizeLegacy rewrites legacy records in place and returns how
	// many were modified.
	NormalizeLegacy(ctx context.Context) (int64, error)
}

// Package job defines the job entity, its status state machine, and the
// conditional store interface.
//
// # Job Entity
//
// A [Job] is one submitted document. It progresses through:
//
//	PENDING → PROCESSING → COMPLETED
//	PENDING → PROCESSING → FAILED → PENDING (resubmission or stale requeue)
//	PROCESSING → PENDING (reconciliation demotion of an extra active job)
//
// Soft delete and verification are orthogonal to the primary status.
// Verification runs only after COMPLETED:
//
//	not_started → processing → completed | failed
//
// # Conditional Updates
//
// Every mutation is expressed as a [Condition] plus a [Patch] and applied
// by the store in one atomic operation. A zero-match result is a lost race
// and surfaces as docket.ErrConflict; callers never assume success.
//
// # Legacy Statuses
//
// Stored statuses pass through [ParseStatus], which folds historical
// spellings ("uploaded", "complete", "success", "error", lowercase forms)
// into the closed enumeration. [StatusAliases] gives store filters every
// raw spelling so records that predate migration are still matched.
package job

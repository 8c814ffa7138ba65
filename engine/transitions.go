package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/queue"
)

// maxErrorMessage bounds the failure text stored on a job.
const maxErrorMessage = 2000

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

// ClaimNext promotes the oldest claimable job to PROCESSING. It returns
// nil, nil when the control lease is held elsewhere, when a job is
// already processing, or when the queue is empty.
func (eng *Engine) ClaimNext(ctx context.Context) (*job.Job, error) {
	var claimed *job.Job
	ran, err := eng.claimLease.Do(ctx, func(ctx context.Context) error {
		n, err := eng.store.CountJobs(ctx, job.CountOpts{Statuses: []job.Status{job.StatusProcessing}})
		if err != nil {
			return fmt.Errorf("count processing: %w", err)
		}
		if n > 0 {
			return nil
		}

		j, err := eng.store.ClaimNext(ctx, job.ClaimOpts{
			Owner:       eng.ownerID,
			Now:         eng.now(),
			RequireIdle: true,
		})
		if err != nil {
			return err
		}
		if j == nil {
			return nil
		}
		claimed = j

		if _, err := queue.Reposition(ctx, eng.store); err != nil {
			eng.logger.Warn("reposition after claim failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docket: claim: %w", err)
	}
	if !ran {
		eng.logger.Debug("claim skipped, control lease held elsewhere")
		return nil, nil
	}
	if claimed == nil {
		return nil, nil
	}

	eng.logger.Info("job claimed",
		slog.String("job_id", claimed.ID.String()),
		slog.String("owner_id", eng.ownerID),
	)
	eng.extensions.EmitJobClaimed(ctx, claimed)
	return claimed, nil
}

// ──────────────────────────────────────────────────
// Extraction outcome
// ──────────────────────────────────────────────────

// Complete moves a PROCESSING job to COMPLETED with its extraction output.
// It does not check which claim the job is under; workers record through
// CompleteClaim.
func (eng *Engine) Complete(ctx context.Context, jobID id.JobID, output json.RawMessage) error {
	return eng.complete(ctx, jobID, job.Condition{Statuses: []job.Status{job.StatusProcessing}}, output)
}

// CompleteClaim completes the job a worker claimed. It fails with
// docket.ErrConflict when the job has since been recovered and claimed
// again, so a stale worker never overwrites the newer attempt.
func (eng *Engine) CompleteClaim(ctx context.Context, claimed *job.Job, output json.RawMessage) error {
	return eng.complete(ctx, claimed.ID, claimCondition(claimed), output)
}

func (eng *Engine) complete(ctx context.Context, jobID id.JobID, cond job.Condition, output json.RawMessage) error {
	if err := eng.validateOutput(output); err != nil {
		eng.logger.Warn("extraction output does not match schema",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}

	now := eng.now()
	j, err := eng.store.UpdateJob(ctx, jobID, cond,
		job.Patch{
			Now:                now,
			Status:             job.Ptr(job.StatusCompleted),
			CompletedAt:        job.Ptr(now),
			Output:             output,
			ClearQueuePosition: true,
			ErrorMessage:       job.Ptr(""),
		},
	)
	if err != nil {
		return eng.classify(ctx, "complete", jobID, err, processingOnly)
	}

	eng.logger.Info("job completed",
		slog.String("job_id", jobID.String()),
		slog.Duration("elapsed", j.ProcessingDuration()),
	)
	eng.extensions.EmitJobCompleted(ctx, j, j.ProcessingDuration())
	return nil
}

// Fail moves a PROCESSING job to FAILED and records cause. Like Complete
// it ignores the claim; workers record through FailClaim.
func (eng *Engine) Fail(ctx context.Context, jobID id.JobID, cause error) error {
	return eng.fail(ctx, jobID, job.Condition{Statuses: []job.Status{job.StatusProcessing}}, cause)
}

// FailClaim fails the job a worker claimed, with the same stale-claim
// guard as CompleteClaim.
func (eng *Engine) FailClaim(ctx context.Context, claimed *job.Job, cause error) error {
	return eng.fail(ctx, claimed.ID, claimCondition(claimed), cause)
}

func (eng *Engine) fail(ctx context.Context, jobID id.JobID, cond job.Condition, cause error) error {
	msg := errorMessage(cause)
	now := eng.now()
	j, err := eng.store.UpdateJob(ctx, jobID, cond,
		job.Patch{
			Now:                now,
			Status:             job.Ptr(job.StatusFailed),
			ErrorMessage:       job.Ptr(msg),
			CompletedAt:        job.Ptr(now),
			IncRetryCount:      true,
			ClearQueuePosition: true,
		},
	)
	if err != nil {
		return eng.classify(ctx, "fail", jobID, err, processingOnly)
	}

	eng.logger.Warn("job failed",
		slog.String("job_id", jobID.String()),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", msg),
	)
	eng.extensions.EmitJobFailed(ctx, j, cause)
	return nil
}

// claimCondition pins an outcome to the claim that produced it: the job
// must still be PROCESSING under the same processing_started_at stamp.
// A recovery clears the stamp and a re-claim writes a new one.
func claimCondition(claimed *job.Job) job.Condition {
	return job.Condition{
		Statuses:            []job.Status{job.StatusProcessing},
		PinProcessingStart:  true,
		ProcessingStartedAt: claimed.ProcessingStartedAt,
	}
}

// ──────────────────────────────────────────────────
// Verification
// ──────────────────────────────────────────────────

// BeginVerification marks a COMPLETED job's verification as processing.
// Verification that has not started or has failed may begin; a second
// concurrent begin loses with docket.ErrConflict.
func (eng *Engine) BeginVerification(ctx context.Context, jobID id.JobID) error {
	now := eng.now()
	_, err := eng.store.UpdateJob(ctx, jobID,
		job.Condition{
			Statuses:       []job.Status{job.StatusCompleted},
			VerificationIn: []job.VerificationStatus{job.VerificationNotStarted, job.VerificationFailed},
		},
		job.Patch{
			Now:                   now,
			ResetVerification:     true,
			VerificationStatus:    job.Ptr(job.VerificationProcessing),
			VerificationStartedAt: job.Ptr(now),
		},
	)
	if err != nil {
		return eng.classify(ctx, "begin verification", jobID, err, func(j *job.Job) bool {
			return j.Status == job.StatusCompleted && j.VerificationStatus != job.VerificationCompleted
		})
	}
	eng.logger.Debug("verification started", slog.String("job_id", jobID.String()))
	return nil
}

// FinishVerification records a successful verification result. A result
// object carrying a boolean details_ready copies it into the job's
// metadata, so {"details_ready": false} holds the job in FORMAT_RESULT
// until MarkDetailsReady.
func (eng *Engine) FinishVerification(ctx context.Context, jobID id.JobID, result json.RawMessage) error {
	now := eng.now()
	patch := job.Patch{
		Now:                     now,
		VerificationStatus:      job.Ptr(job.VerificationCompleted),
		VerificationCompletedAt: job.Ptr(now),
		VerificationError:       job.Ptr(""),
		VerificationResult:      result,
	}
	if ready, ok := detailsFlag(result); ok {
		patch.Metadata = map[string]string{job.MetaDetailsReady: strconv.FormatBool(ready)}
	}
	j, err := eng.store.UpdateJob(ctx, jobID, verifyingCondition(), patch)
	if err != nil {
		return eng.classify(ctx, "finish verification", jobID, err, verifying)
	}

	elapsed := verificationElapsed(j)
	eng.logger.Info("verification completed",
		slog.String("job_id", jobID.String()),
		slog.Duration("elapsed", elapsed),
	)
	eng.extensions.EmitVerificationCompleted(ctx, j, elapsed)
	return nil
}

// FailVerification records a failed verification. The job stays
// COMPLETED; verification may be started again.
func (eng *Engine) FailVerification(ctx context.Context, jobID id.JobID, cause error) error {
	msg := errorMessage(cause)
	now := eng.now()
	j, err := eng.store.UpdateJob(ctx, jobID, verifyingCondition(),
		job.Patch{
			Now:                     now,
			VerificationStatus:      job.Ptr(job.VerificationFailed),
			VerificationCompletedAt: job.Ptr(now),
			VerificationError:       job.Ptr(msg),
		},
	)
	if err != nil {
		return eng.classify(ctx, "fail verification", jobID, err, verifying)
	}

	eng.logger.Warn("verification failed",
		slog.String("job_id", jobID.String()),
		slog.String("error", msg),
	)
	eng.extensions.EmitVerificationFailed(ctx, j, cause)
	return nil
}

// MarkDetailsReady flags the formatted details of a verified job as
// available, moving it from FORMAT_RESULT to DONE. Marking a job that is
// already ready is a no-op write.
func (eng *Engine) MarkDetailsReady(ctx context.Context, jobID id.JobID) error {
	verified := func(j *job.Job) bool {
		return j.Status == job.StatusCompleted && j.VerificationStatus == job.VerificationCompleted && !j.IsDeleted
	}
	_, err := eng.store.UpdateJob(ctx, jobID,
		job.Condition{
			Statuses:       []job.Status{job.StatusCompleted},
			Deleted:        job.Ptr(false),
			VerificationIn: []job.VerificationStatus{job.VerificationCompleted},
		},
		job.Patch{
			Now:      eng.now(),
			Metadata: map[string]string{job.MetaDetailsReady: "true"},
		},
	)
	if err != nil {
		return eng.classify(ctx, "mark details ready", jobID, err, verified)
	}
	eng.logger.Debug("details ready", slog.String("job_id", jobID.String()))
	return nil
}

// detailsFlag reads a top-level boolean details_ready from a verification
// result. Anything else reports ok=false.
func detailsFlag(result json.RawMessage) (ready, ok bool) {
	if len(result) == 0 {
		return false, false
	}
	var v struct {
		DetailsReady *bool `json:"details_ready"`
	}
	if err := json.Unmarshal(result, &v); err != nil || v.DetailsReady == nil {
		return false, false
	}
	return *v.DetailsReady, true
}

func verifyingCondition() job.Condition {
	return job.Condition{
		Statuses:       []job.Status{job.StatusCompleted},
		VerificationIn: []job.VerificationStatus{job.VerificationProcessing},
	}
}

func verificationElapsed(j *job.Job) time.Duration {
	if j.VerificationStartedAt == nil || j.VerificationCompletedAt == nil {
		return 0
	}
	return j.VerificationCompletedAt.Sub(*j.VerificationStartedAt)
}

// ──────────────────────────────────────────────────
// Deletion
// ──────────────────────────────────────────────────

// SoftDelete hides a job from ranking, claiming and status reads. It is
// idempotent: deleting a deleted job succeeds and keeps the first
// deleted_at and deleted_by.
func (eng *Engine) SoftDelete(ctx context.Context, jobID id.JobID, actor string) (*job.Job, error) {
	now := eng.now()
	j, err := eng.store.UpdateJob(ctx, jobID,
		job.Condition{Deleted: job.Ptr(false)},
		job.Patch{
			Now:                now,
			IsDeleted:          job.Ptr(true),
			DeletedAt:          job.Ptr(now),
			DeletedBy:          job.Ptr(actor),
			ClearQueuePosition: true,
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, docket.ErrConflict):
		cur, gerr := eng.store.GetJob(ctx, jobID)
		if gerr != nil {
			return nil, fmt.Errorf("docket: soft delete %s: %w", jobID, gerr)
		}
		if cur.IsDeleted {
			return cur, nil
		}
		return nil, fmt.Errorf("docket: soft delete %s: %w", jobID, err)
	default:
		return nil, fmt.Errorf("docket: soft delete %s: %w", jobID, err)
	}

	eng.logger.Info("job soft-deleted",
		slog.String("job_id", jobID.String()),
		slog.String("deleted_by", actor),
	)
	eng.extensions.EmitJobSoftDeleted(ctx, j)
	eng.rerank(ctx, jobID)
	return j, nil
}

// Restore undoes a soft delete. A legacy record marked only by a
// deleted_at stamp counts as deleted. It returns
// docket.ErrInvalidTransition when the job is not deleted and docket.ErrDedupeKeyInUse when another
// live job has since taken its dedupe key.
func (eng *Engine) Restore(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.UpdateJob(ctx, jobID,
		job.Condition{DeletedOrStamped: true},
		job.Patch{
			Now:          eng.now(),
			IsDeleted:    job.Ptr(false),
			ClearDeleted: true,
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, docket.ErrConflict):
		return nil, fmt.Errorf("docket: restore %s: job is not deleted: %w", jobID, docket.ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("docket: restore %s: %w", jobID, err)
	}

	eng.logger.Info("job restored", slog.String("job_id", jobID.String()))
	eng.extensions.EmitJobRestored(ctx, j)
	eng.rerank(ctx, jobID)
	if j.Claimable() {
		eng.wake(ctx)
	}

	if cur, gerr := eng.store.GetJob(ctx, jobID); gerr == nil {
		j = cur
	}
	return j, nil
}

// PermanentDelete removes a soft-deleted job and its artifact. Deleting a
// job that no longer exists succeeds; deleting a live job returns
// docket.ErrInvalidTransition.
func (eng *Engine) PermanentDelete(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if errors.Is(err, docket.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("docket: purge %s: %w", jobID, err)
	}

	deleted, err := eng.store.DeleteJob(ctx, jobID, job.Condition{DeletedOrStamped: true})
	if errors.Is(err, docket.ErrConflict) {
		return fmt.Errorf("docket: purge %s: job must be soft-deleted first: %w", jobID, docket.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("docket: purge %s: %w", jobID, err)
	}
	if !deleted {
		return nil
	}

	eng.removeArtifact(ctx, jobID, j.ArtifactRef)
	eng.logger.Info("job purged", slog.String("job_id", jobID.String()))
	eng.extensions.EmitJobPurged(ctx, jobID)
	return nil
}

// rerank repositions the queue after a change that moved a job in or out
// of it. Failure is logged; the next pass repairs positions.
func (eng *Engine) rerank(ctx context.Context, jobID id.JobID) {
	if _, err := queue.Reposition(ctx, eng.store); err != nil {
		eng.logger.Warn("reposition failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────

func processingOnly(j *job.Job) bool { return j.Status == job.StatusProcessing }

func verifying(j *job.Job) bool {
	return j.Status == job.StatusCompleted && j.VerificationStatus == job.VerificationProcessing
}

// classify turns a failed conditional update into the error callers branch
// on. A record whose current state could never satisfy the transition
// yields docket.ErrInvalidTransition; one that could but changed under us
// yields docket.ErrConflict.
func (eng *Engine) classify(ctx context.Context, op string, jobID id.JobID, err error, allowed func(*job.Job) bool) error {
	if !errors.Is(err, docket.ErrConflict) {
		return fmt.Errorf("docket: %s %s: %w", op, jobID, err)
	}
	cur, gerr := eng.store.GetJob(ctx, jobID)
	if gerr != nil {
		return fmt.Errorf("docket: %s %s: %w", op, jobID, gerr)
	}
	if !allowed(cur) {
		return fmt.Errorf("docket: %s %s: status %s, verification %s: %w",
			op, jobID, cur.Status, cur.VerificationStatus, docket.ErrInvalidTransition)
	}
	return fmt.Errorf("docket: %s %s: %w", op, jobID, err)
}

func errorMessage(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	msg := cause.Error()
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/xraph/docket"
	"github.com/xraph/docket/dedupe"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/queue"
)

// Submission is one document handed to the coordinator.
type Submission struct {
	// ArtifactRef points at a document already stored elsewhere. Either it
	// or Payload is required.
	ArtifactRef string
	// Payload is the raw document. It is written to the artifact store
	// and hashed into the dedupe key.
	Payload []byte
	// Filename is the original file name.
	Filename string
	// Metadata is caller metadata such as hospital or employee_id.
	Metadata map[string]string
	// IdempotencyToken, when set, is the dedupe key.
	IdempotencyToken string
}

// Receipt is the outcome of a submission.
type Receipt struct {
	JobID         id.JobID
	Status        job.Status
	QueuePosition *int
	// Duplicate is true when the submission resolved to an existing job.
	Duplicate bool
}

func (s Submission) validate(haveArtifacts bool) error {
	switch {
	case s.ArtifactRef == "" && len(s.Payload) == 0:
		return fmt.Errorf("%w: artifact reference or payload required", docket.ErrInvalidSubmission)
	case s.ArtifactRef == "" && !haveArtifacts:
		return fmt.Errorf("%w: payload given but no artifact store configured", docket.ErrInvalidSubmission)
	}
	return nil
}

// Submit admits a document. A submission whose dedupe key matches a live
// job never creates a second record: a job that is processing or
// completed is returned as is, and a pending or failed one is queued
// again.
func (eng *Engine) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	if err := sub.validate(eng.artifacts != nil); err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(sub.Metadata)+1)
	maps.Copy(meta, sub.Metadata)
	if sub.Filename != "" && meta[dedupe.MetaFilename] == "" {
		meta[dedupe.MetaFilename] = sub.Filename
	}

	key := dedupe.Key(dedupe.Input{
		Token:       sub.IdempotencyToken,
		Filename:    sub.Filename,
		Payload:     sub.Payload,
		ArtifactRef: sub.ArtifactRef,
		Metadata:    meta,
	})

	existing, err := eng.store.FindByDedupeKey(ctx, key)
	switch {
	case err == nil:
		return eng.admitExisting(ctx, existing)
	case !errors.Is(err, docket.ErrJobNotFound):
		return nil, fmt.Errorf("docket: submit: find by dedupe key: %w", err)
	}

	return eng.create(ctx, key, meta, sub)
}

func (eng *Engine) create(ctx context.Context, key string, meta map[string]string, sub Submission) (*Receipt, error) {
	now := eng.now()
	j := &job.Job{
		ID:                 id.NewJobID(),
		Status:             job.StatusPending,
		DedupeKey:          key,
		ArtifactRef:        strings.TrimSpace(sub.ArtifactRef),
		Metadata:           meta,
		CreatedAt:          now,
		QueuedAt:           now,
		UpdatedAt:          now,
		VerificationStatus: job.VerificationNotStarted,
	}

	stored := false
	if j.ArtifactRef == "" {
		ref, err := eng.artifacts.Put(ctx, j.ID, sub.Filename, sub.Payload)
		if err != nil {
			return nil, fmt.Errorf("docket: submit: store artifact: %w", err)
		}
		j.ArtifactRef = ref
		stored = true
	}

	if err := eng.store.InsertJob(ctx, j); err != nil {
		if stored {
			eng.removeArtifact(ctx, j.ID, j.ArtifactRef)
		}
		if errors.Is(err, docket.ErrDedupeKeyInUse) {
			// Lost an admission race for the same document.
			winner, ferr := eng.store.FindByDedupeKey(ctx, key)
			if ferr != nil {
				return nil, fmt.Errorf("docket: submit: resolve duplicate: %w", ferr)
			}
			return eng.duplicate(ctx, winner), nil
		}
		return nil, fmt.Errorf("docket: submit: insert: %w", err)
	}

	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("artifact_ref", j.ArtifactRef),
	)
	eng.extensions.EmitJobSubmitted(ctx, j, false)

	return eng.queued(ctx, j)
}

// admitExisting resolves a submission to the live job already holding its
// dedupe key.
func (eng *Engine) admitExisting(ctx context.Context, j *job.Job) (*Receipt, error) {
	if j.Status != job.StatusPending && j.Status != job.StatusFailed {
		return eng.duplicate(ctx, j), nil
	}

	updated, err := eng.store.UpdateJob(ctx, j.ID,
		job.Condition{
			Statuses: []job.Status{job.StatusPending, job.StatusFailed},
			Deleted:  job.Ptr(false),
		},
		job.Patch{
			Now:             eng.now(),
			ClearProcessing: true,
			Status:          job.Ptr(job.StatusPending),
			ErrorMessage:    job.Ptr(""),
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, docket.ErrConflict), errors.Is(err, docket.ErrJobNotFound):
		// Claimed, completed or deleted in between: report what is there now.
		cur, gerr := eng.store.GetJob(ctx, j.ID)
		if gerr != nil {
			return nil, fmt.Errorf("docket: submit: re-read %s: %w", j.ID, gerr)
		}
		return eng.duplicate(ctx, cur), nil
	default:
		return nil, fmt.Errorf("docket: submit: requeue %s: %w", j.ID, err)
	}

	if j.Status == job.StatusFailed {
		eng.logger.Info("failed job requeued by resubmission", slog.String("job_id", j.ID.String()))
	}
	eng.extensions.EmitJobSubmitted(ctx, updated, true)

	rec, err := eng.queued(ctx, updated)
	if err != nil {
		return nil, err
	}
	rec.Duplicate = true
	return rec, nil
}

// queued reranks the queue, wakes the claim loop and returns a receipt
// carrying the job's fresh position.
func (eng *Engine) queued(ctx context.Context, j *job.Job) (*Receipt, error) {
	if _, err := queue.Reposition(ctx, eng.store); err != nil {
		// The job is admitted; the next pass repairs positions.
		eng.logger.Warn("reposition after submit failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	eng.wake(ctx)

	if cur, err := eng.store.GetJob(ctx, j.ID); err == nil {
		j = cur
	}
	return receiptFor(j, false), nil
}

func (eng *Engine) duplicate(ctx context.Context, j *job.Job) *Receipt {
	eng.extensions.EmitJobSubmitted(ctx, j, true)
	return receiptFor(j, true)
}

func receiptFor(j *job.Job, duplicate bool) *Receipt {
	return &Receipt{
		JobID:         j.ID,
		Status:        j.Status,
		QueuePosition: j.QueuePosition,
		Duplicate:     duplicate,
	}
}

func (eng *Engine) removeArtifact(ctx context.Context, jobID id.JobID, ref string) {
	if eng.artifacts == nil || ref == "" {
		return
	}
	if err := eng.artifacts.Remove(ctx, ref); err != nil {
		eng.logger.Warn("artifact removal failed",
			slog.String("job_id", jobID.String()),
			slog.String("artifact_ref", ref),
			slog.String("error", err.Error()),
		)
	}
}

package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time. This avoids type-asserting back to Extension inside
// the emit methods.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted          []entry[JobSubmitted]
	jobClaimed            []entry[JobClaimed]
	jobCompleted          []entry[JobCompleted]
	jobFailed             []entry[JobFailed]
	jobRecovered          []entry[JobRecovered]
	jobDemoted            []entry[JobDemoted]
	jobSoftDeleted        []entry[JobSoftDeleted]
	jobRestored           []entry[JobRestored]
	jobPurged             []entry[JobPurged]
	verificationCompleted []entry[VerificationCompleted]
	verificationFailed    []entry[VerificationFailed]
	shutdown              []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, entry[JobSubmitted]{name, h})
	}
	if h, ok := e.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, entry[JobClaimed]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobRecovered); ok {
		r.jobRecovered = append(r.jobRecovered, entry[JobRecovered]{name, h})
	}
	if h, ok := e.(JobDemoted); ok {
		r.jobDemoted = append(r.jobDemoted, entry[JobDemoted]{name, h})
	}
	if h, ok := e.(JobSoftDeleted); ok {
		r.jobSoftDeleted = append(r.jobSoftDeleted, entry[JobSoftDeleted]{name, h})
	}
	if h, ok := e.(JobRestored); ok {
		r.jobRestored = append(r.jobRestored, entry[JobRestored]{name, h})
	}
	if h, ok := e.(JobPurged); ok {
		r.jobPurged = append(r.jobPurged, entry[JobPurged]{name, h})
	}
	if h, ok := e.(VerificationCompleted); ok {
		r.verificationCompleted = append(r.verificationCompleted, entry[VerificationCompleted]{name, h})
	}
	if h, ok := e.(VerificationFailed); ok {
		r.verificationFailed = append(r.verificationFailed, entry[VerificationFailed]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job, duplicate bool) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j, duplicate); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all extensions that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, j); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRecovered notifies all extensions that implement JobRecovered.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job, cause error) {
	for _, e := range r.jobRecovered {
		if err := e.hook.OnJobRecovered(ctx, j, cause); err != nil {
			r.logHookError("OnJobRecovered", e.name, err)
		}
	}
}

// EmitJobDemoted notifies all extensions that implement JobDemoted.
func (r *Registry) EmitJobDemoted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDemoted {
		if err := e.hook.OnJobDemoted(ctx, j); err != nil {
			r.logHookError("OnJobDemoted", e.name, err)
		}
	}
}

// EmitJobSoftDeleted notifies all extensions that implement JobSoftDeleted.
func (r *Registry) EmitJobSoftDeleted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSoftDeleted {
		if err := e.hook.OnJobSoftDeleted(ctx, j); err != nil {
			r.logHookError("OnJobSoftDeleted", e.name, err)
		}
	}
}

// EmitJobRestored notifies all extensions that implement JobRestored.
func (r *Registry) EmitJobRestored(ctx context.Context, j *job.Job) {
	for _, e := range r.jobRestored {
		if err := e.hook.OnJobRestored(ctx, j); err != nil {
			r.logHookError("OnJobRestored", e.name, err)
		}
	}
}

// EmitJobPurged notifies all extensions that implement JobPurged.
func (r *Registry) EmitJobPurged(ctx context.Context, jobID id.JobID) {
	for _, e := range r.jobPurged {
		if err := e.hook.OnJobPurged(ctx, jobID); err != nil {
			r.logHookError("OnJobPurged", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Verification event emitters
// ──────────────────────────────────────────────────

// EmitVerificationCompleted notifies all extensions that implement VerificationCompleted.
func (r *Registry) EmitVerificationCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.verificationCompleted {
		if err := e.hook.OnVerificationCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnVerificationCompleted", e.name, err)
		}
	}
}

// EmitVerificationFailed notifies all extensions that implement VerificationFailed.
func (r *Registry) EmitVerificationFailed(ctx context.Context, j *job.Job, verr error) {
	for _, e := range r.verificationFailed {
		if err := e.hook.OnVerificationFailed(ctx, j, verr); err != nil {
			r.logHookError("OnVerificationFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

// Package worker runs the single ingestion worker: a Runner that claims
// the next job, and an Executor that hands it to the external processor
// and verifier through the middleware chain and records the outcome.
package worker

import (
	"context"
	"encoding/json"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Processor performs extraction on a claimed job and returns its output.
type Processor interface {
	Process(ctx context.Context, j *job.Job) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	return f(ctx, j)
}

// Verifier checks the output of a completed job.
type Verifier interface {
	Verify(ctx context.Context, j *job.Job) (json.RawMessage, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	return f(ctx, j)
}

// Coordinator is the set of lifecycle operations the worker drives.
// engine.Engine satisfies it.
type Coordinator interface {
	ClaimNext(ctx context.Context) (*job.Job, error)
	Job(ctx context.Context, jobID id.JobID) (*job.Job, error)
	// CompleteClaim and FailClaim record the outcome of the claimed job,
	// refusing with docket.ErrConflict once it has been claimed again.
	CompleteClaim(ctx context.Context, claimed *job.Job, output json.RawMessage) error
	FailClaim(ctx context.Context, claimed *job.Job, cause error) error
	BeginVerification(ctx context.Context, jobID id.JobID) error
	FinishVerification(ctx context.Context, jobID id.JobID, result json.RawMessage) error
	FailVerification(ctx context.Context, jobID id.JobID, cause error) error
}

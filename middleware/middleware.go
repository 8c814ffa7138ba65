package middleware

import (
	"context"

	"github.com/xraph/docket/job"
)

// Handler is the terminal function that runs one processing step.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being processed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Step names the processing step a chain is wrapping.
type Step string

const (
	StepExtract Step = "extract"
	StepVerify  Step = "verify"
)

type stepKey struct{}

// WithStep returns a context tagged with the processing step.
func WithStep(ctx context.Context, s Step) context.Context {
	return context.WithValue(ctx, stepKey{}, s)
}

// StepFrom returns the step tagged on ctx, or StepExtract.
func StepFrom(ctx context.Context) Step {
	if s, ok := ctx.Value(stepKey{}).(Step); ok {
		return s
	}
	return StepExtract
}

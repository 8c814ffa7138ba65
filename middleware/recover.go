package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/docket/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so the job
// is failed instead of taking the worker down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job step panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("step", string(StepFrom(ctx))),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s step of job %s: %v", StepFrom(ctx), j.ID, r)
			}
		}()
		return next(ctx)
	}
}

package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docket/job"
)

// Timeout returns middleware that enforces an execution deadline on each
// step. A non-positive d disables it. When the deadline is exceeded the
// context is cancelled and the step should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			logger.Debug("job step timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}

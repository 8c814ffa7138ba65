package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docket/job"
)

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		step := string(StepFrom(ctx))
		logger.Info("job step started",
			slog.String("job_id", j.ID.String()),
			slog.String("step", step),
			slog.Int("retry_count", j.RetryCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job step failed",
				slog.String("job_id", j.ID.String()),
				slog.String("step", step),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job step completed",
				slog.String("job_id", j.ID.String()),
				slog.String("step", step),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}

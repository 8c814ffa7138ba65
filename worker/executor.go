package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/xraph/docket"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/middleware"
)

// Executor runs one claimed job through the middleware chain: extraction
// first, then, when a verifier is configured and extraction succeeded,
// verification. It records every outcome through the Coordinator.
type Executor struct {
	coord     Coordinator
	processor Processor
	verifier  Verifier
	mw        middleware.Middleware
	logger    *slog.Logger
}

// NewExecutor creates an Executor. verifier may be nil.
func NewExecutor(
	coord Coordinator,
	processor Processor,
	verifier Verifier,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		coord:     coord,
		processor: processor,
		verifier:  verifier,
		mw:        middleware.Chain(mws...),
		logger:    logger,
	}
}

// Execute processes a job that is already PROCESSING. The returned error
// is the extraction or verification failure, after it has been recorded;
// a failure to record is logged and returned as well.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	var output json.RawMessage
	err := e.mw(middleware.WithStep(ctx, middleware.StepExtract), j, func(ctx context.Context) error {
		out, perr := e.processor.Process(ctx, j)
		output = out
		return perr
	})

	// Record on a context that survives a processing timeout.
	recCtx := context.WithoutCancel(ctx)

	if err != nil {
		if recErr := e.coord.FailClaim(recCtx, j, err); recErr != nil {
			e.logRecordError("fail", j, recErr)
			return errors.Join(err, recErr)
		}
		return err
	}

	if recErr := e.coord.CompleteClaim(recCtx, j, output); recErr != nil {
		e.logRecordError("complete", j, recErr)
		return recErr
	}

	if e.verifier == nil {
		return nil
	}
	return e.verify(ctx, j)
}

func (e *Executor) verify(ctx context.Context, j *job.Job) error {
	recCtx := context.WithoutCancel(ctx)

	if err := e.coord.BeginVerification(recCtx, j.ID); err != nil {
		e.logRecordError("begin verification", j, err)
		return err
	}

	// Hand the verifier the completed record, output included.
	completed, err := e.coord.Job(recCtx, j.ID)
	if err != nil {
		completed = j
	}

	var result json.RawMessage
	verr := e.mw(middleware.WithStep(ctx, middleware.StepVerify), completed, func(ctx context.Context) error {
		res, err := e.verifier.Verify(ctx, completed)
		result = res
		return err
	})
	if verr != nil {
		if recErr := e.coord.FailVerification(recCtx, j.ID, verr); recErr != nil {
			e.logRecordError("fail verification", j, recErr)
			return errors.Join(verr, recErr)
		}
		return verr
	}

	if err := e.coord.FinishVerification(recCtx, j.ID, result); err != nil {
		e.logRecordError("finish verification", j, err)
		return err
	}
	return nil
}

// logRecordError logs a failed lifecycle write. A conflict means the job
// was reconciled or deleted while it ran, which is expected after a long
// stall and logged at Warn.
func (e *Executor) logRecordError(op string, j *job.Job, err error) {
	level := slog.LevelError
	if errors.Is(err, docket.ErrConflict) || errors.Is(err, docket.ErrInvalidTransition) {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "worker: record outcome failed",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}

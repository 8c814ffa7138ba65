package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/backoff"
)

// Runner is the claim loop. It claims one job at a time, executes it, and
// sleeps for the poll interval or until a wake-up when the queue is empty.
type Runner struct {
	coord        Coordinator
	executor     *Executor
	wake         <-chan struct{}
	pollInterval time.Duration
	backoff      backoff.Strategy
	cancelGrace  time.Duration
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu     sync.Mutex
	cancelActive context.CancelFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPollInterval sets the longest idle sleep between claim attempts.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollInterval = d }
}

// WithWake sets the channel that cuts an idle sleep short.
func WithWake(c <-chan struct{}) RunnerOption {
	return func(r *Runner) { r.wake = c }
}

// WithBackoff sets the strategy used after a store outage.
func WithBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.backoff = s }
}

// WithCancelGrace sets how long Stop waits for a cancelled job to return
// before giving up on it.
func WithCancelGrace(d time.Duration) RunnerOption {
	return func(r *Runner) { r.cancelGrace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner that claims through coord and executes with
// executor.
func NewRunner(coord Coordinator, executor *Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		coord:        coord,
		executor:     executor,
		pollInterval: 5 * time.Second,
		cancelGrace:  5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce claims and executes at most one job. It reports whether a job
// was claimed. The error is a claim error; execution failures are
// recorded on the job and only logged.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	j, err := r.coord.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}

	if execErr := r.executor.Execute(ctx, j); execErr != nil {
		r.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", execErr.Error()),
		)
	}
	return true, nil
}

// Start launches the claim loop. It returns immediately.
func (r *Runner) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(r.stopCh)

	r.logger.Info("worker runner started", slog.Duration("poll_interval", r.pollInterval))
	return nil
}

// Stop signals the loop to stop and waits for the job in hand to finish.
// If ctx expires first the job's context is cancelled, and Stop waits at
// most the cancel grace for it to return. A job that ignores cancellation
// is abandoned with an error wrapping ctx.Err(); its PROCESSING record is
// left for reconciliation.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker runner stopped gracefully")
	case <-ctx.Done():
		r.logger.Warn("worker runner shutdown timed out, cancelling active job")
		r.cancel()
		grace := time.NewTimer(r.cancelGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			r.logger.Error("active job ignored cancellation, abandoning it",
				slog.Duration("grace", r.cancelGrace),
			)
			return fmt.Errorf("worker: stop: active job did not return: %w", ctx.Err())
		}
	}
	return nil
}

func (r *Runner) loop(stop <-chan struct{}) {
	defer r.wg.Done()
	tracker := backoff.NewTracker(r.backoff)

	for {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		r.setCancel(cancel)
		claimed, err := r.RunOnce(ctx)
		r.setCancel(nil)
		cancel()

		switch {
		case err != nil:
			wait := tracker.Failure()
			if !errors.Is(err, docket.ErrStoreUnavailable) {
				wait = max(wait, r.pollInterval)
			}
			r.logger.Error("claim error",
				slog.String("error", err.Error()),
				slog.Int("failures", tracker.Failures()),
				slog.Duration("retry_in", wait),
			)
			if !backoff.Sleep(context.Background(), stop, wait) {
				return
			}
		case claimed:
			tracker.Success()
		default:
			tracker.Success()
			r.idle(stop)
		}
	}
}

// idle waits for the poll interval, a wake-up, or stop.
func (r *Runner) idle(stop <-chan struct{}) {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.wake:
	case <-stop:
	}
}

func (r *Runner) setCancel(c context.CancelFunc) {
	r.activeMu.Lock()
	r.cancelActive = c
	r.activeMu.Unlock()
}

func (r *Runner) cancel() {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if r.cancelActive != nil {
		r.cancelActive()
	}
}

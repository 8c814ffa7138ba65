package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/backoff"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/lease"
	"github.com/xraph/docket/queue"
)

// RecoveredMessage is the error_message written on a stale job.
const RecoveredMessage = "Recovered stale processing job after service restart"

// Defaults used when no option overrides them.
const (
	DefaultStaleAfter = 30 * time.Minute
	DefaultInterval   = 30 * time.Second
)

// StaleWorkError describes one PROCESSING job found past the stale
// threshold. It wraps docket.ErrStaleWork.
type StaleWorkError struct {
	JobID     id.JobID
	StartedAt *time.Time
	Age       time.Duration
	Threshold time.Duration
}

func (e *StaleWorkError) Error() string {
	if e.StartedAt == nil {
		return fmt.Sprintf("job %s: processing with no start time", e.JobID)
	}
	return fmt.Sprintf("job %s: processing for %s, threshold %s", e.JobID, e.Age.Round(time.Second), e.Threshold)
}

func (e *StaleWorkError) Unwrap() error { return docket.ErrStaleWork }

// Store is the slice of job.Store a pass needs.
type Store interface {
	queue.Ranker
	UpdateJob(ctx context.Context, jobID id.JobID, cond job.Condition, patch job.Patch) (*job.Job, error)
}

// Emitter receives reconciliation events. ext.Registry satisfies it.
type Emitter interface {
	EmitJobRecovered(ctx context.Context, j *job.Job, cause error)
	EmitJobDemoted(ctx context.Context, j *job.Job)
}

// Report summarizes one pass.
type Report struct {
	// Recovered is the number of stale jobs moved to FAILED.
	Recovered int
	// Demoted is the number of extra PROCESSING jobs moved to PENDING.
	Demoted int
	// Ranked is the number of pending jobs that received a position.
	Ranked int
	// Errors is the number of per-job or ranking failures.
	Errors int
	// Skipped is true when the lease was held elsewhere.
	Skipped bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithStaleAfter sets the PROCESSING age past which a job is stale.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reconciler) { r.staleAfter = d }
}

// WithInterval sets the period between passes after the startup pass.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithBackoff sets the strategy used after a store outage.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Reconciler) { r.backoff = s }
}

// WithEmitter sets the receiver of recovery and demotion events.
func WithEmitter(e Emitter) Option {
	return func(r *Reconciler) { r.emitter = e }
}

// Reconciler runs reconciliation passes, on demand or as a background loop.
type Reconciler struct {
	store   Store
	lease   *lease.Manager
	emitter Emitter
	logger  *slog.Logger
	backoff backoff.Strategy
	now     func() time.Time

	staleAfter time.Duration
	interval   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Reconciler. lm guards each pass; it should not be shared
// with the claim path, so the two exclude each other inside one process
// too.
func New(store Store, lm *lease.Manager, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      store,
		lease:      lm,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		staleAfter: DefaultStaleAfter,
		interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pass. It returns an error only when the lease or the
// store could not be reached at all; per-job failures are in the Report.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	ran, err := r.lease.Do(ctx, func(ctx context.Context) error {
		return r.pass(ctx, &rep)
	})
	if err != nil {
		return rep, err
	}
	if !ran {
		rep.Skipped = true
		r.logger.Debug("reconcile skipped, lease held elsewhere", slog.String("lease", r.lease.Name()))
		return rep, nil
	}
	if rep.Recovered > 0 || rep.Demoted > 0 || rep.Errors > 0 {
		r.logger.Info("reconcile pass finished",
			slog.Int("recovered", rep.Recovered),
			slog.Int("demoted", rep.Demoted),
			slog.Int("ranked", rep.Ranked),
			slog.Int("errors", rep.Errors),
		)
	}
	return rep, nil
}

func (r *Reconciler) pass(ctx context.Context, rep *Report) error {
	now := r.now()

	processing, err := r.listProcessing(ctx)
	if err != nil {
		return err
	}

	var live []*job.Job
	for _, j := range processing {
		if !r.isStale(j, now) {
			live = append(live, j)
			continue
		}
		switch recovered, err := r.recoverStale(ctx, j, now); {
		case err != nil:
			rep.Errors++
			if errors.Is(err, docket.ErrStoreUnavailable) {
				return err
			}
		case recovered:
			rep.Recovered++
		}
	}

	if len(live) > 1 {
		sortByStart(live)
		for _, j := range live[1:] {
			switch demoted, err := r.demote(ctx, j, now); {
			case err != nil:
				rep.Errors++
				if errors.Is(err, docket.ErrStoreUnavailable) {
					return err
				}
			case demoted:
				rep.Demoted++
			}
		}
	}

	res, err := queue.Reposition(ctx, r.store)
	rep.Ranked = res.Ranked
	if err != nil {
		rep.Errors++
		r.logger.Warn("reconcile: reposition failed", slog.String("error", err.Error()))
		if errors.Is(err, docket.ErrStoreUnavailable) {
			return err
		}
	}
	return nil
}

func (r *Reconciler) listProcessing(ctx context.Context) ([]*job.Job, error) {
	jobs, err := r.store.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusProcessing}})
	if err != nil {
		return nil, fmt.Errorf("reconcile: list processing: %w", err)
	}
	return jobs, nil
}

func (r *Reconciler) isStale(j *job.Job, now time.Time) bool {
	if j.ProcessingStartedAt == nil {
		return true
	}
	return j.ProcessingStartedAt.Before(now.Add(-r.staleAfter))
}

// recoverStale fails a stale job. A condition miss means the job moved on
// since it was listed, which is not an error.
func (r *Reconciler) recoverStale(ctx context.Context, j *job.Job, now time.Time) (bool, error) {
	stale := &StaleWorkError{JobID: j.ID, StartedAt: j.ProcessingStartedAt, Threshold: r.staleAfter}
	if j.ProcessingStartedAt != nil {
		stale.Age = now.Sub(*j.ProcessingStartedAt)
	}
	r.logger.Warn("recovering stale processing job",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", j.OwnerID),
		slog.String("error", stale.Error()),
	)

	updated, err := r.store.UpdateJob(ctx, j.ID,
		job.Condition{
			Statuses:            []job.Status{job.StatusProcessing},
			PinProcessingStart:  true,
			ProcessingStartedAt: j.ProcessingStartedAt,
		},
		job.Patch{
			Now:                now,
			Status:             job.Ptr(job.StatusFailed),
			ErrorMessage:       job.Ptr(RecoveredMessage),
			CompletedAt:        job.Ptr(now),
			IncRetryCount:      true,
			ClearQueuePosition: true,
		},
	)
	if errors.Is(err, docket.ErrConflict) || errors.Is(err, docket.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("reconcile: recover stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	if r.emitter != nil {
		r.emitter.EmitJobRecovered(ctx, updated, stale)
	}
	return true, nil
}

// demote returns an extra PROCESSING job to PENDING.
func (r *Reconciler) demote(ctx context.Context, j *job.Job, now time.Time) (bool, error) {
	updated, err := r.store.UpdateJob(ctx, j.ID,
		job.Condition{
			Statuses:            []job.Status{job.StatusProcessing},
			PinProcessingStart:  true,
			ProcessingStartedAt: j.ProcessingStartedAt,
		},
		job.Patch{
			Now:             now,
			ClearProcessing: true,
			Status:          job.Ptr(job.StatusPending),
			ErrorMessage:    job.Ptr(""),
		},
	)
	if errors.Is(err, docket.ErrConflict) || errors.Is(err, docket.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("reconcile: demote extra processing job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	r.logger.Warn("demoted extra processing job",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", j.OwnerID),
	)
	if r.emitter != nil {
		r.emitter.EmitJobDemoted(ctx, updated)
	}
	return true, nil
}

// sortByStart orders jobs by (processing_started_at, job_id). Callers
// only pass jobs with a start time.
func sortByStart(jobs []*job.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		sa, sb := jobs[a].ProcessingStartedAt, jobs[b].ProcessingStartedAt
		if !sa.Equal(*sb) {
			return sa.Before(*sb)
		}
		return jobs[a].ID.String() < jobs[b].ID.String()
	})
}

// ──────────────────────────────────────────────────
// Background loop
// ──────────────────────────────────────────────────

// Start runs a pass immediately and then every interval until Stop. A
// store outage is retried with backoff instead of ending the loop.
func (r *Reconciler) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(r.stopCh)

	r.logger.Info("reconciler started",
		slog.Duration("interval", r.interval),
		slog.Duration("stale_after", r.staleAfter),
	)
	return nil
}

// Stop signals the loop to exit and waits for the current pass.
func (r *Reconciler) Stop(ctx context.Context) error {
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
		r.logger.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) loop(stop <-chan struct{}) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	tracker := backoff.NewTracker(r.backoff)
	for {
		wait := r.interval
		if _, err := r.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = tracker.Failure()
			r.logger.Warn("reconcile pass failed",
				slog.String("error", err.Error()),
				slog.Int("failures", tracker.Failures()),
				slog.Duration("retry_in", wait),
			)
		} else {
			tracker.Success()
		}
		if !backoff.Sleep(ctx, stop, wait) {
			return
		}
	}
}

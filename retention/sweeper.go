package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/xraph/docket"
	"github.com/xraph/docket/artifact"
	"github.com/xraph/docket/backoff"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Defaults used when no option overrides them.
const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultSchedule  = "@every 10m"
	DefaultRate      = 20
)

// cronParser supports standard 5-field cron and descriptors like "@every 10m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Store is the slice of job.Store a sweep needs.
type Store interface {
	ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error)
	DeleteJob(ctx context.Context, jobID id.JobID, cond job.Condition) (bool, error)
}

// Emitter receives purge events. ext.Registry satisfies it.
type Emitter interface {
	EmitJobPurged(ctx context.Context, jobID id.JobID)
}

// Stats summarizes one sweep.
type Stats struct {
	Scanned  int
	Eligible int
	Deleted  int
	Failed   int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithRetention sets how long a soft-deleted job is kept.
func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) { s.retention = d }
}

// WithSchedule sets the cron spec of the background loop.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) { s.schedule = spec }
}

// WithRate caps deletions per second. Zero or less disables pacing.
func WithRate(perSecond float64) Option {
	return func(s *Sweeper) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithArtifacts sets the store purged artifacts are removed from.
func WithArtifacts(a artifact.Store) Option {
	return func(s *Sweeper) { s.artifacts = a }
}

// WithEmitter sets the receiver of purge events.
func WithEmitter(e Emitter) Option {
	return func(s *Sweeper) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithBackoff sets the strategy used after a store outage.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Sweeper) { s.backoff = b }
}

// Sweeper permanently deletes expired soft-deleted jobs.
type Sweeper struct {
	store     Store
	artifacts artifact.Store
	emitter   Emitter
	limiter   *rate.Limiter
	backoff   backoff.Strategy
	logger    *slog.Logger
	now       func() time.Time

	retention time.Duration
	schedule  string

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cron    *cronlib.Cron
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Sweeper.
func New(store Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		limiter:   rate.NewLimiter(rate.Limit(DefaultRate), 1),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
		schedule:  DefaultSchedule,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligible reports whether j is past the retention window at now. A job
// without a deleted_at stamp is never eligible.
func (s *Sweeper) Eligible(j *job.Job, now time.Time) bool {
	if j.DeletedAt == nil {
		return false
	}
	return !j.DeletedAt.After(now.Add(-s.retention))
}

// Sweep runs one pass. It returns an error only when the candidate scan
// fails; per-job failures are counted in Stats.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var st Stats
	now := s.now()

	candidates, err := s.store.ListJobs(ctx, job.ListOpts{DeletedOrStamped: true})
	if err != nil {
		return st, fmt.Errorf("retention: scan: %w", err)
	}

	for _, j := range candidates {
		st.Scanned++
		if !s.Eligible(j, now) {
			continue
		}
		st.Eligible++

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return st, fmt.Errorf("retention: pacing: %w", err)
			}
		}

		err := s.purge(ctx, j)
		if errors.Is(err, docket.ErrConflict) {
			s.logger.Info("retention: job restored since scan, kept", slog.String("job_id", j.ID.String()))
			continue
		}
		if err != nil {
			st.Failed++
			s.logger.Error("retention: purge failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		st.Deleted++
	}

	s.logger.Info("retention sweep finished",
		slog.Int("scanned", st.Scanned),
		slog.Int("eligible", st.Eligible),
		slog.Int("deleted", st.Deleted),
		slog.Int("failed", st.Failed),
	)
	return st, nil
}

// purge removes one job. A record that is already gone counts as purged;
// a record restored since the scan is a conflict and is kept.
func (s *Sweeper) purge(ctx context.Context, j *job.Job) error {
	removed, err := s.store.DeleteJob(ctx, j.ID, job.Condition{DeletedOrStamped: true})
	if err != nil {
		return err
	}

	if j.ArtifactRef != "" && s.artifacts != nil {
		if err := s.artifacts.Remove(ctx, j.ArtifactRef); err != nil {
			// The record is gone; a leftover file is only logged.
			s.logger.Warn("retention: artifact removal failed",
				slog.String("job_id", j.ID.String()),
				slog.String("artifact_ref", j.ArtifactRef),
				slog.String("error", err.Error()),
			)
		}
	}

	if removed {
		s.logger.Info("retention purged job", slog.String("job_id", j.ID.String()))
		if s.emitter != nil {
			s.emitter.EmitJobPurged(ctx, j.ID)
		}
	}
	return nil
}

// Trigger requests a sweep from the background loop. Requests made while
// one is pending collapse into one sweep. It never blocks.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// ──────────────────────────────────────────────────
// Background loop
// ──────────────────────────────────────────────────

// Start schedules sweeps on the cron spec and runs one immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	sched, err := cronParser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("retention: schedule %q: %w", s.schedule, err)
	}

	c := cronlib.New(cronlib.WithLocation(time.UTC))
	c.Schedule(sched, cronlib.FuncJob(s.Trigger))
	c.Start()

	s.cron = c
	s.stopCh = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.Trigger()

	s.logger.Info("retention sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cronCtx := s.cron.Stop()
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("retention sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	tracker := backoff.NewTracker(s.backoff)
	for {
		select {
		case <-stop:
			return
		case <-s.trigger:
		}

		for {
			_, err := s.Sweep(ctx)
			if err == nil || ctx.Err() != nil {
				tracker.Success()
				break
			}
			s.logger.Warn("retention sweep failed", slog.String("error", err.Error()))
			if !errors.Is(err, docket.ErrStoreUnavailable) {
				break
			}
			// Retry an outage with backoff instead of waiting a full
			// schedule period.
			if !backoff.Sleep(ctx, stop, tracker.Failure()) {
				return
			}
		}
	}
}

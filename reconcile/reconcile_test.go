package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/backoff"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/lease"
	"github.com/xraph/docket/reconcile"
	"github.com/xraph/docket/store/memory"
	"github.com/xraph/docket/store/storetest"
)

// now is three hours after the storetest base time.
var now = time.Date(2026, 2, 16, 13, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type recorder struct {
	mu        sync.Mutex
	recovered []*job.Job
	causes    []error
	demoted   []*job.Job
}

func (r *recorder) EmitJobRecovered(_ context.Context, j *job.Job, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, j)
	r.causes = append(r.causes, cause)
}

func (r *recorder) EmitJobDemoted(_ context.Context, j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.demoted = append(r.demoted, j)
}

func newReconciler(s *memory.Store, opts ...reconcile.Option) *reconcile.Reconciler {
	lm := lease.NewManager(s, "docket-queue-control", lease.WithClock(clock), lease.WithOwner("reconciler"))
	opts = append([]reconcile.Option{
		reconcile.WithClock(clock),
		reconcile.WithStaleAfter(30 * time.Minute),
	}, opts...)
	return reconcile.New(s, lm, opts...)
}

// processing returns a job forced into PROCESSING at startedAgo before now.
func processing(offset, startedAgo time.Duration) *job.Job {
	j := storetest.NewJob(offset)
	started := now.Add(-startedAgo)
	j.Status = job.StatusProcessing
	j.ProcessingStartedAt = &started
	j.OwnerID = "wkr_crashed"
	return j
}

func insert(t *testing.T, s *memory.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.InsertJob(context.Background(), j); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}
}

func get(t *testing.T, s *memory.Store, j *job.Job) *job.Job {
	t.Helper()
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

func countProcessing(t *testing.T, s *memory.Store) int64 {
	t.Helper()
	n, err := s.CountJobs(context.Background(), job.CountOpts{Statuses: []job.Status{job.StatusProcessing}})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	return n
}

// ──────────────────────────────────────────────────
// Stale recovery
// ──────────────────────────────────────────────────

func TestRun_RecoversStaleJob(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	rec := &recorder{}
	stale := processing(0, 2*time.Hour)
	insert(t, s, stale)

	rep, err := newReconciler(s, reconcile.WithEmitter(rec)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Recovered != 1 || rep.Errors != 0 || rep.Skipped {
		t.Fatalf("report = %+v", rep)
	}

	got := get(t, s, stale)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMessage != reconcile.RecoveredMessage {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Fatalf("completed_at = %v, want %v", got.CompletedAt, now)
	}

	if len(rec.recovered) != 1 {
		t.Fatalf("recovered events = %d, want 1", len(rec.recovered))
	}
	var swe *reconcile.StaleWorkError
	if !errors.As(rec.causes[0], &swe) || !errors.Is(rec.causes[0], docket.ErrStaleWork) {
		t.Fatalf("cause = %v, want *StaleWorkError wrapping ErrStaleWork", rec.causes[0])
	}
	if swe.Age != 2*time.Hour {
		t.Fatalf("age = %s, want 2h", swe.Age)
	}
}

func TestRun_StaleThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		startedAgo time.Duration
		want       job.Status
	}{
		{"two hours", 2 * time.Hour, job.StatusFailed},
		{"just past threshold", 30*time.Minute + time.Second, job.StatusFailed},
		{"at threshold", 30 * time.Minute, job.StatusProcessing},
		{"five minutes", 5 * time.Minute, job.StatusProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := memory.New(memory.WithClock(clock))
			j := processing(0, tt.startedAgo)
			insert(t, s, j)

			if _, err := newReconciler(s).Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := get(t, s, j).Status; got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRun_MissingStartTimeIsStale(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	j := processing(0, 0)
	j.ProcessingStartedAt = nil
	insert(t, s, j)

	rep, err := newReconciler(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Recovered != 1 {
		t.Fatalf("recovered = %d, want 1", rep.Recovered)
	}
	if got := get(t, s, j); got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Demotion
// ──────────────────────────────────────────────────

func TestRun_DemotesExtraProcessing(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	rec := &recorder{}

	older := processing(0, 10*time.Minute)
	later := processing(time.Second, 5*time.Minute)
	waiting := storetest.NewJob(2 * time.Second)
	insert(t, s, older, later, waiting)

	rep, err := newReconciler(s, reconcile.WithEmitter(rec)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Demoted != 1 || rep.Recovered != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if n := countProcessing(t, s); n != 1 {
		t.Fatalf("processing count = %d, want 1", n)
	}

	if got := get(t, s, older); got.Status != job.StatusProcessing {
		t.Fatalf("older status = %s, want PROCESSING", got.Status)
	}
	got := get(t, s, later)
	if got.Status != job.StatusPending {
		t.Fatalf("later status = %s, want PENDING", got.Status)
	}
	if got.ProcessingStartedAt != nil || got.OwnerID != "" {
		t.Fatalf("processing fields not cleared: started=%v owner=%q", got.ProcessingStartedAt, got.OwnerID)
	}
	if !got.CreatedAt.Equal(later.CreatedAt) {
		t.Fatalf("created_at changed: %v", got.CreatedAt)
	}
	// The demoted job keeps its place ahead of the job created after it.
	if got.QueuePosition == nil || *got.QueuePosition != 1 {
		t.Fatalf("demoted queue_position = %v, want 1", got.QueuePosition)
	}
	if w := get(t, s, waiting); w.QueuePosition == nil || *w.QueuePosition != 2 {
		t.Fatalf("waiting queue_position = %v, want 2", w.QueuePosition)
	}
	if len(rec.demoted) != 1 || rec.demoted[0].ID != later.ID {
		t.Fatalf("demoted events = %v", rec.demoted)
	}
}

func TestRun_StaleAndExtraTogether(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))

	stale := processing(0, 3*time.Hour)
	fresh := processing(time.Second, time.Minute)
	insert(t, s, stale, fresh)

	rep, err := newReconciler(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The stale job is failed; the fresh one is the only survivor and is
	// not demoted.
	if rep.Recovered != 1 || rep.Demoted != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got := get(t, s, fresh); got.Status != job.StatusProcessing {
		t.Fatalf("fresh status = %s, want PROCESSING", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Ranking, lease and outages
// ──────────────────────────────────────────────────

func TestRun_RepositionsQueue(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))

	a, b, c := storetest.NewJob(0), storetest.NewJob(time.Second), storetest.NewJob(2*time.Second)
	a.QueuePosition = job.Ptr(7)
	c.QueuePosition = job.Ptr(7)
	done := storetest.NewJob(3 * time.Second)
	done.Status = job.StatusCompleted
	done.QueuePosition = job.Ptr(1)
	insert(t, s, a, b, c, done)

	rep, err := newReconciler(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Ranked != 3 {
		t.Fatalf("ranked = %d, want 3", rep.Ranked)
	}
	for i, j := range []*job.Job{a, b, c} {
		got := get(t, s, j)
		if got.QueuePosition == nil || *got.QueuePosition != i+1 {
			t.Fatalf("job %d queue_position = %v, want %d", i, got.QueuePosition, i+1)
		}
	}
	if got := get(t, s, done); got.QueuePosition != nil {
		t.Fatalf("completed job kept queue_position %d", *got.QueuePosition)
	}
}

func TestRun_SkippedWhenLeaseHeld(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	stale := processing(0, 2*time.Hour)
	insert(t, s, stale)

	other := lease.NewManager(s, "docket-queue-control", lease.WithClock(clock), lease.WithOwner("other-process"))
	if ok, err := other.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	rep, err := newReconciler(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Skipped {
		t.Fatalf("report = %+v, want skipped", rep)
	}
	if got := get(t, s, stale); got.Status != job.StatusProcessing {
		t.Fatalf("status = %s, want untouched PROCESSING", got.Status)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	insert(t, s, processing(0, 2*time.Hour), processing(time.Second, 2*time.Minute), processing(2*time.Second, time.Minute))

	r := newReconciler(s)
	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if first.Recovered != 1 || first.Demoted != 1 {
		t.Fatalf("first = %+v", first)
	}
	if second.Recovered != 0 || second.Demoted != 0 || second.Ranked != first.Ranked {
		t.Fatalf("second = %+v, first = %+v", second, first)
	}
}

func TestRun_StoreUnavailable(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	_ = s.Close()

	_, err := newReconciler(s).Run(context.Background())
	if !errors.Is(err, docket.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

// ──────────────────────────────────────────────────
// Background loop
// ──────────────────────────────────────────────────

func TestStartStop_RecoversAndSurvivesOutage(t *testing.T) {
	t.Parallel()
	s := memory.New(memory.WithClock(clock))
	_ = s.Close()

	stale := processing(0, 2*time.Hour)
	r := newReconciler(s, reconcile.WithInterval(5*time.Millisecond),
		reconcile.WithBackoff(backoff.NewConstant(5*time.Millisecond)),
	)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The loop keeps retrying while the store is down.
	time.Sleep(20 * time.Millisecond)
	s.Reopen()
	insert(t, s, stale)

	deadline := time.Now().Add(5 * time.Second)
	for get(t, s, stale).Status != job.StatusFailed {
		if time.Now().After(deadline) {
			t.Fatal("stale job was not recovered by the background loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStaleWorkError(t *testing.T) {
	t.Parallel()
	started := now.Add(-2 * time.Hour)
	err := error(&reconcile.StaleWorkError{
		JobID:     storetest.NewJob(0).ID,
		StartedAt: &started,
		Age:       2 * time.Hour,
		Threshold: 30 * time.Minute,
	})
	if !errors.Is(err, docket.ErrStaleWork) {
		t.Fatal("StaleWorkError should wrap ErrStaleWork")
	}
	if err.Error() == "" {
		t.Fatal("empty message")
	}
}

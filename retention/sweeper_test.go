package retention_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/artifact"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/retention"
	"github.com/xraph/docket/store/memory"
	"github.com/xraph/docket/store/storetest"
)

var now = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newSweeper(s retention.Store, opts ...retention.Option) *retention.Sweeper {
	opts = append([]retention.Option{
		retention.WithClock(clock),
		retention.WithRetention(30 * 24 * time.Hour),
		retention.WithRate(0),
	}, opts...)
	return retention.New(s, opts...)
}

// deleted returns a soft-deleted job whose deleted_at lies ago before now.
func deleted(offset, ago time.Duration) *job.Job {
	j := storetest.NewJob(offset)
	at := now.Add(-ago)
	j.IsDeleted = true
	j.DeletedAt = &at
	j.DeletedBy = "records-clerk"
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

func exists(t *testing.T, s *memory.Store, j *job.Job) bool {
	t.Helper()
	_, err := s.GetJob(context.Background(), j.ID)
	if errors.Is(err, docket.ErrJobNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return true
}

type purgeRecorder struct {
	mu  sync.Mutex
	ids []id.JobID
}

func (p *purgeRecorder) EmitJobPurged(_ context.Context, jobID id.JobID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, jobID)
}

// ──────────────────────────────────────────────────
// Sweep
// ──────────────────────────────────────────────────

func TestSweep_RetentionWindow(t *testing.T) {
	t.Parallel()
	s := memory.New()
	rec := &purgeRecorder{}

	old := deleted(0, 31*24*time.Hour)
	recent := deleted(time.Second, 24*time.Hour)
	live := storetest.NewJob(2 * time.Second)
	insert(t, s, old, recent, live)

	st, err := newSweeper(s, retention.WithEmitter(rec)).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st != (retention.Stats{Scanned: 2, Eligible: 1, Deleted: 1}) {
		t.Fatalf("stats = %+v", st)
	}
	if exists(t, s, old) {
		t.Fatal("job deleted 31 days ago should be purged")
	}
	if !exists(t, s, recent) {
		t.Fatal("job deleted 1 day ago should be kept")
	}
	if !exists(t, s, live) {
		t.Fatal("live job should be kept")
	}
	if len(rec.ids) != 1 || rec.ids[0] != old.ID {
		t.Fatalf("purge events = %v", rec.ids)
	}
}

func TestSweep_PurgesStampedLegacyRecord(t *testing.T) {
	t.Parallel()
	s := memory.New()

	// Written before the soft-delete flag existed: only deleted_at marks it.
	legacy := storetest.NewJob(0)
	at := now.Add(-31 * 24 * time.Hour)
	legacy.DeletedAt = &at
	insert(t, s, legacy)

	st, err := newSweeper(s).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st != (retention.Stats{Scanned: 1, Eligible: 1, Deleted: 1}) {
		t.Fatalf("stats = %+v", st)
	}
	if exists(t, s, legacy) {
		t.Fatal("record stamped deleted 31 days ago should be purged")
	}
}

func TestSweeper_Eligible(t *testing.T) {
	t.Parallel()
	sw := newSweeper(memory.New())
	window := 30 * 24 * time.Hour

	stamped := storetest.NewJob(0)
	stampedAt := now.Add(-window - time.Hour)
	stamped.DeletedAt = &stampedAt

	noStamp := storetest.NewJob(0)
	noStamp.IsDeleted = true

	tests := []struct {
		name string
		j    *job.Job
		want bool
	}{
		{"31 days", deleted(0, 31*24*time.Hour), true},
		{"exactly at window", deleted(0, window), true},
		{"just inside window", deleted(0, window-time.Second), false},
		{"1 day", deleted(0, 24*time.Hour), false},
		{"deleted without stamp", noStamp, false},
		{"stamped but flag missing", stamped, true},
		{"live", storetest.NewJob(0), false},
	}
	for _, tt := range tests {
		if got := sw.Eligible(tt.j, now); got != tt.want {
			t.Errorf("%s: Eligible = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSweep_IsIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New()
	insert(t, s, deleted(0, 40*24*time.Hour))
	sw := newSweeper(s)

	if _, err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	st, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if st != (retention.Stats{}) {
		t.Fatalf("second sweep stats = %+v, want zero", st)
	}
}

// restoringStore restores a job between the scan and its delete.
type restoringStore struct {
	*memory.Store
	restore id.JobID
}

func (r *restoringStore) DeleteJob(ctx context.Context, jobID id.JobID, cond job.Condition) (bool, error) {
	if jobID == r.restore {
		_, err := r.Store.UpdateJob(ctx, jobID,
			job.Condition{Deleted: job.Ptr(true)},
			job.Patch{IsDeleted: job.Ptr(false), ClearDeleted: true},
		)
		if err != nil {
			return false, err
		}
	}
	return r.Store.DeleteJob(ctx, jobID, cond)
}

func TestSweep_RestoredMidSweepSurvives(t *testing.T) {
	t.Parallel()
	mem := memory.New()
	a := deleted(0, 60*24*time.Hour)
	b := deleted(time.Second, 60*24*time.Hour)
	insert(t, mem, a, b)

	st, err := newSweeper(&restoringStore{Store: mem, restore: a.ID}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st.Eligible != 2 || st.Deleted != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if !exists(t, mem, a) {
		t.Fatal("restored job was purged")
	}
	if exists(t, mem, b) {
		t.Fatal("expired job should be purged")
	}
}

// flakyStore fails the delete of one job.
type flakyStore struct {
	*memory.Store
	fail id.JobID
}

func (f *flakyStore) DeleteJob(ctx context.Context, jobID id.JobID, cond job.Condition) (bool, error) {
	if jobID == f.fail {
		return false, errors.New("write concern timeout")
	}
	return f.Store.DeleteJob(ctx, jobID, cond)
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	mem := memory.New()
	a, b, c := deleted(0, 45*24*time.Hour), deleted(time.Second, 45*24*time.Hour), deleted(2*time.Second, 45*24*time.Hour)
	insert(t, mem, a, b, c)

	st, err := newSweeper(&flakyStore{Store: mem, fail: b.ID}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st != (retention.Stats{Scanned: 3, Eligible: 3, Deleted: 2, Failed: 1}) {
		t.Fatalf("stats = %+v", st)
	}
	if !exists(t, mem, b) || exists(t, mem, a) || exists(t, mem, c) {
		t.Fatal("only the failing job should remain")
	}
}

func TestSweep_RemovesArtifacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir, err := artifact.NewDir(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	j := deleted(0, 35*24*time.Hour)
	ref, err := dir.Put(ctx, j.ID, "bill.pdf", []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	j.ArtifactRef = ref

	s := memory.New()
	insert(t, s, j)

	if _, err := newSweeper(s, retention.WithArtifacts(dir)).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Fatalf("artifact still present, stat err = %v", err)
	}
}

func TestSweep_ScanFailure(t *testing.T) {
	t.Parallel()
	s := memory.New()
	_ = s.Close()

	_, err := newSweeper(s).Sweep(context.Background())
	if !errors.Is(err, docket.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestSweep_RateLimited(t *testing.T) {
	t.Parallel()
	s := memory.New()
	insert(t, s, deleted(0, 90*24*time.Hour), deleted(time.Second, 90*24*time.Hour), deleted(2*time.Second, 90*24*time.Hour))

	start := time.Now()
	st, err := newSweeper(s, retention.WithRate(20)).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st.Deleted != 3 {
		t.Fatalf("deleted = %d, want 3", st.Deleted)
	}
	// Burst of one at 20/s: the second and third deletes wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("sweep took %s, expected pacing", elapsed)
	}
}

// ──────────────────────────────────────────────────
// Background loop
// ──────────────────────────────────────────────────

func TestStart_SweepsImmediatelyAndOnTrigger(t *testing.T) {
	t.Parallel()
	s := memory.New()
	first := deleted(0, 31*24*time.Hour)
	insert(t, s, first)

	sw := newSweeper(s, retention.WithSchedule("@every 1h"))
	ctx := context.Background()
	if err := sw.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = sw.Stop(ctx) }()

	waitGone(t, s, first)

	second := deleted(time.Second, 32*24*time.Hour)
	insert(t, s, second)
	sw.Trigger()
	waitGone(t, s, second)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	t.Parallel()
	sw := newSweeper(memory.New(), retention.WithSchedule("every now and then"))
	if err := sw.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func waitGone(t *testing.T, s *memory.Store, j *job.Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for exists(t, s, j) {
		if time.Now().After(deadline) {
			t.Fatalf("job %s was not purged", j.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Package storetest is the conformance suite shared by every store.Store
// backend. The memory store runs it in its unit tests; the mongo and
// postgres stores run it under the integration build tag against
// containers.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/store"
)

// Factory returns an empty, migrated store. The suite never closes it.
type Factory func(t *testing.T) store.Store

// base is millisecond-aligned so every backend round-trips it exactly.
var base = time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertDuplicateID", testInsertDuplicateID},
		{"DedupeKeyUniqueAmongLive", testDedupeKeyUniqueAmongLive},
		{"FindByDedupeKey", testFindByDedupeKey},
		{"UpdateJobConditional", testUpdateJobConditional},
		{"UpdateJobPinnedStart", testUpdateJobPinnedStart},
		{"UpdateJobMergesMetadata", testUpdateJobMergesMetadata},
		{"RestoreDedupeCollision", testRestoreDedupeCollision},
		{"ClaimNextFIFO", testClaimNextFIFO},
		{"ClaimNextSkipsIneligible", testClaimNextSkipsIneligible},
		{"ClaimNextRequireIdle", testClaimNextRequireIdle},
		{"ClaimNextConcurrent", testClaimNextConcurrent},
		{"ListAndCount", testListAndCount},
		{"QueuePositions", testQueuePositions},
		{"DeleteJob", testDeleteJob},
		{"DeleteJobStamped", testDeleteJobStamped},
		{"Lease", testLease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a pending, claimable job created offset after the suite
// base time.
func NewJob(offset time.Duration) *job.Job {
	at := base.Add(offset)
	return &job.Job{
		ID:                 id.NewJobID(),
		Status:             job.StatusPending,
		ArtifactRef:        "/tmp/docket/" + at.Format("150405.000") + ".pdf",
		Metadata:           map[string]string{"hospital": "st-mary"},
		CreatedAt:          at,
		QueuedAt:           at,
		UpdatedAt:          at,
		VerificationStatus: job.VerificationNotStarted,
	}
}

func mustInsert(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.InsertJob(context.Background(), j); err != nil {
			t.Fatalf("InsertJob(%s): %v", j.ID, err)
		}
	}
}

func mustGet(t *testing.T, s store.Store, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", jobID, err)
	}
	return j
}

// ──────────────────────────────────────────────────
// Insert / Get / dedupe
// ──────────────────────────────────────────────────

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(0)
	j.DedupeKey = "k-insert"
	j.Output = []byte(`{"pages":2}`)
	mustInsert(t, s, j)

	got := mustGet(t, s, j.ID)
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, j.ID)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q", got.Status)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
	if got.Metadata["hospital"] != "st-mary" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.DedupeKey != "k-insert" || got.ArtifactRef != j.ArtifactRef {
		t.Errorf("DedupeKey/ArtifactRef = %q/%q", got.DedupeKey, got.ArtifactRef)
	}

	_, err := s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, docket.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testInsertDuplicateID(t *testing.T, s store.Store) {
	j := NewJob(0)
	mustInsert(t, s, j)

	dup := NewJob(time.Second)
	dup.ID = j.ID
	err := s.InsertJob(context.Background(), dup)
	if !errors.Is(err, docket.ErrJobAlreadyExists) {
		t.Fatalf("InsertJob(dup id) = %v, want ErrJobAlreadyExists", err)
	}
}

func testDedupeKeyUniqueAmongLive(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob(0)
	a.DedupeKey = "same"
	mustInsert(t, s, a)

	b := NewJob(time.Second)
	b.DedupeKey = "same"
	if err := s.InsertJob(ctx, b); !errors.Is(err, docket.ErrDedupeKeyInUse) {
		t.Fatalf("InsertJob(same key) = %v, want ErrDedupeKeyInUse", err)
	}

	// Once a is soft-deleted the key is free again.
	now := base.Add(time.Minute)
	if _, err := s.UpdateJob(ctx, a.ID, job.Condition{Deleted: job.Ptr(false)}, job.Patch{
		Now: now, IsDeleted: job.Ptr(true), DeletedAt: job.Ptr(now), ClearQueuePosition: true,
	}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := s.InsertJob(ctx, b); err != nil {
		t.Fatalf("InsertJob after soft delete: %v", err)
	}

	// Jobs without a key never collide.
	c, d := NewJob(2*time.Second), NewJob(3*time.Second)
	mustInsert(t, s, c, d)
}

func testFindByDedupeKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(0)
	j.DedupeKey = "find-me"
	mustInsert(t, s, j)

	got, err := s.FindByDedupeKey(ctx, "find-me")
	if err != nil {
		t.Fatalf("FindByDedupeKey: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("found %s, want %s", got.ID, j.ID)
	}

	if _, err := s.UpdateJob(ctx, j.ID, job.Condition{}, job.Patch{
		Now: base, IsDeleted: job.Ptr(true), DeletedAt: job.Ptr(base),
	}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.FindByDedupeKey(ctx, "find-me"); !errors.Is(err, docket.ErrJobNotFound) {
		t.Fatalf("FindByDedupeKey(deleted) = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Conditional updates
// ──────────────────────────────────────────────────

func testUpdateJobConditional(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(0)
	mustInsert(t, s, j)

	now := base.Add(time.Hour)
	_, err := s.UpdateJob(ctx, j.ID,
		job.Condition{Statuses: []job.Status{job.StatusProcessing}},
		job.Patch{Now: now, Status: job.Ptr(job.StatusCompleted)},
	)
	if !errors.Is(err, docket.ErrConflict) {
		t.Fatalf("UpdateJob(wrong status) = %v, want ErrConflict", err)
	}

	_, err = s.UpdateJob(ctx, id.NewJobID(), job.Condition{}, job.Patch{Now: now})
	if !errors.Is(err, docket.ErrJobNotFound) {
		t.Fatalf("UpdateJob(missing) = %v, want ErrJobNotFound", err)
	}

	got, err := s.UpdateJob(ctx, j.ID,
		job.Condition{Statuses: []job.Status{job.StatusPending}, Deleted: job.Ptr(false)},
		job.Patch{
			Now:                 now,
			Status:              job.Ptr(job.StatusFailed),
			ErrorMessage:        job.Ptr("ocr timeout"),
			CompletedAt:         job.Ptr(now),
			IncRetryCount:       true,
			ClearQueuePosition:  true,
			Output:              []byte(`{"ok":false}`),
			VerificationStatus:  job.Ptr(job.VerificationFailed),
			VerificationError:   job.Ptr("n/a"),
			ProcessingStartedAt: job.Ptr(now.Add(-time.Minute)),
		},
	)
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got.Status != job.StatusFailed || got.ErrorMessage != "ocr timeout" || got.RetryCount != 1 {
		t.Errorf("returned record not updated: %+v", got)
	}

	stored := mustGet(t, s, j.ID)
	if stored.Status != job.StatusFailed || stored.RetryCount != 1 {
		t.Errorf("stored record not updated: status=%q retry=%d", stored.Status, stored.RetryCount)
	}
	if stored.CompletedAt == nil || !stored.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", stored.CompletedAt, now)
	}
	if !stored.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", stored.UpdatedAt, now)
	}
	if stored.VerificationStatus != job.VerificationFailed || stored.VerificationError != "n/a" {
		t.Errorf("verification = %q/%q", stored.VerificationStatus, stored.VerificationError)
	}

	// Clearing resets what the setters wrote.
	got, err = s.UpdateJob(ctx, j.ID,
		job.Condition{Statuses: []job.Status{job.StatusFailed}},
		job.Patch{Now: now, Status: job.Ptr(job.StatusPending), ErrorMessage: job.Ptr(""), ClearProcessing: true, ResetVerification: true},
	)
	if err != nil {
		t.Fatalf("UpdateJob(requeue): %v", err)
	}
	if got.ProcessingStartedAt != nil || got.CompletedAt != nil || got.ErrorMessage != "" || got.VerificationError != "" {
		t.Errorf("requeue left processing fields: %+v", got)
	}
}

func testUpdateJobPinnedStart(t *testing.T, s store.Store) {
	ctx := context.Background()
	started := base.Add(-2 * time.Hour)
	j := NewJob(0)
	j.Status = job.StatusProcessing
	j.ProcessingStartedAt = &started
	mustInsert(t, s, j)

	cond := job.Condition{
		Statuses:            []job.Status{job.StatusProcessing},
		PinProcessingStart:  true,
		ProcessingStartedAt: job.Ptr(started.Add(time.Second)),
	}
	if _, err := s.UpdateJob(ctx, j.ID, cond, job.Patch{Now: base, Status: job.Ptr(job.StatusFailed)}); !errors.Is(err, docket.ErrConflict) {
		t.Fatalf("UpdateJob(moved start) = %v, want ErrConflict", err)
	}

	cond.ProcessingStartedAt = job.Ptr(started)
	if _, err := s.UpdateJob(ctx, j.ID, cond, job.Patch{Now: base, Status: job.Ptr(job.StatusFailed)}); err != nil {
		t.Fatalf("UpdateJob(pinned start): %v", err)
	}

	// A nil start only matches a nil pin.
	k := NewJob(time.Second)
	k.Status = job.StatusProcessing
	mustInsert(t, s, k)
	nilCond := job.Condition{Statuses: []job.Status{job.StatusProcessing}, PinProcessingStart: true}
	if _, err := s.UpdateJob(ctx, k.ID, nilCond, job.Patch{Now: base, Status: job.Ptr(job.StatusFailed)}); err != nil {
		t.Fatalf("UpdateJob(nil pin): %v", err)
	}
}

func testUpdateJobMergesMetadata(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(0)
	mustInsert(t, s, j)

	got, err := s.UpdateJob(ctx, j.ID, job.Condition{}, job.Patch{
		Now:      base,
		Metadata: map[string]string{job.MetaDetailsReady: "false"},
	})
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got.Metadata["hospital"] != "st-mary" || got.Metadata[job.MetaDetailsReady] != "false" {
		t.Fatalf("returned Metadata = %v", got.Metadata)
	}

	if _, err := s.UpdateJob(ctx, j.ID, job.Condition{}, job.Patch{
		Now:      base,
		Metadata: map[string]string{job.MetaDetailsReady: "true"},
	}); err != nil {
		t.Fatalf("UpdateJob(overwrite): %v", err)
	}
	stored := mustGet(t, s, j.ID)
	if stored.Metadata["hospital"] != "st-mary" || stored.Metadata[job.MetaDetailsReady] != "true" {
		t.Fatalf("stored Metadata = %v", stored.Metadata)
	}
}

func testRestoreDedupeCollision(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob(0)
	a.DedupeKey = "shared"
	mustInsert(t, s, a)

	if _, err := s.UpdateJob(ctx, a.ID, job.Condition{Deleted: job.Ptr(false)}, job.Patch{
		Now: base, IsDeleted: job.Ptr(true), DeletedAt: job.Ptr(base),
	}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	b := NewJob(time.Second)
	b.DedupeKey = "shared"
	mustInsert(t, s, b)

	_, err := s.UpdateJob(ctx, a.ID, job.Condition{Deleted: job.Ptr(true)}, job.Patch{
		Now: base, IsDeleted: job.Ptr(false), ClearDeleted: true,
	})
	if !errors.Is(err, docket.ErrDedupeKeyInUse) {
		t.Fatalf("restore with live key holder = %v, want ErrDedupeKeyInUse", err)
	}
	if got := mustGet(t, s, a.ID); !got.IsDeleted {
		t.Error("failed restore must leave the job deleted")
	}
}

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

func testClaimNextFIFO(t *testing.T, s store.Store) {
	ctx := context.Background()
	third := NewJob(2 * time.Second)
	first := NewJob(0)
	second := NewJob(time.Second)
	mustInsert(t, s, third, first, second)

	now := base.Add(time.Hour)
	for i, want := range []*job.Job{first, second, third} {
		got, err := s.ClaimNext(ctx, job.ClaimOpts{Owner: "wkr_test", Now: now})
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if got == nil {
			t.Fatalf("claim %d: got nil", i)
		}
		if got.ID.String() != want.ID.String() {
			t.Fatalf("claim %d: got %s, want %s", i, got.ID, want.ID)
		}
		if got.Status != job.StatusProcessing || got.OwnerID != "wkr_test" || got.QueuePosition != nil {
			t.Errorf("claim %d: record not promoted: %+v", i, got)
		}
		if got.ProcessingStartedAt == nil || !got.ProcessingStartedAt.Equal(now) {
			t.Errorf("claim %d: ProcessingStartedAt = %v", i, got.ProcessingStartedAt)
		}
	}

	got, err := s.ClaimNext(ctx, job.ClaimOpts{Owner: "wkr_test", Now: now})
	if err != nil || got != nil {
		t.Fatalf("claim on empty queue = %v, %v; want nil, nil", got, err)
	}
}

func testClaimNextSkipsIneligible(t *testing.T, s store.Store) {
	ctx := context.Background()

	noArtifact := NewJob(0)
	noArtifact.ArtifactRef = ""
	deleted := NewJob(time.Second)
	deleted.IsDeleted = true
	deleted.DeletedAt = job.Ptr(base)
	failed := NewJob(2 * time.Second)
	failed.Status = job.StatusFailed
	eligible := NewJob(3 * time.Second)
	mustInsert(t, s, noArtifact, deleted, failed, eligible)

	got, err := s.ClaimNext(ctx, job.ClaimOpts{Owner: "wkr_test", Now: base})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID.String() != eligible.ID.String() {
		t.Fatalf("ClaimNext = %v, want %s", got, eligible.ID)
	}
}

func testClaimNextRequireIdle(t *testing.T, s store.Store) {
	ctx := context.Background()
	running := NewJob(0)
	running.Status = job.StatusProcessing
	running.ProcessingStartedAt = job.Ptr(base)
	waiting := NewJob(time.Second)
	mustInsert(t, s, running, waiting)

	got, err := s.ClaimNext(ctx, job.ClaimOpts{Owner: "wkr_test", Now: base, RequireIdle: true})
	if err != nil || got != nil {
		t.Fatalf("ClaimNext(busy) = %v, %v; want nil, nil", got, err)
	}

	got, err = s.ClaimNext(ctx, job.ClaimOpts{Owner: "wkr_test", Now: base})
	if err != nil || got == nil {
		t.Fatalf("ClaimNext(no idle requirement) = %v, %v", got, err)
	}
}

func testClaimNextConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustInsert(t, s, NewJob(time.Duration(i)*time.Second))
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*job.Job
		errs    []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			got, err := s.ClaimNext(ctx, job.ClaimOpts{
				Owner:       fmt.Sprintf("wkr_%d", w),
				Now:         base.Add(time.Hour),
				RequireIdle: true,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if got != nil {
				claimed = append(claimed, got)
			}
		}(w)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent claims returned errors: %v", errs)
	}
	if len(claimed) != 1 {
		t.Fatalf("concurrent claims promoted %d jobs, want exactly 1", len(claimed))
	}
	n, err := s.CountJobs(ctx, job.CountOpts{Statuses: []job.Status{job.StatusProcessing}})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("PROCESSING count = %d, want 1", n)
	}
}

// ──────────────────────────────────────────────────
// List / Count / positions / delete
// ──────────────────────────────────────────────────

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	p1, p2 := NewJob(0), NewJob(time.Second)
	done := NewJob(2 * time.Second)
	done.Status = job.StatusCompleted
	gone := NewJob(3 * time.Second)
	gone.IsDeleted = true
	gone.DeletedAt = job.Ptr(base)
	stamped := NewJob(4 * time.Second)
	stamped.DeletedAt = job.Ptr(base)
	mustInsert(t, s, done, p2, gone, p1, stamped)

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("ListJobs() = %d jobs, want 5", len(all))
	}
	if all[0].ID.String() != p1.ID.String() || all[1].ID.String() != p2.ID.String() {
		t.Errorf("ListJobs not in FIFO order")
	}

	pending, err := s.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusPending}, Deleted: job.Ptr(false)})
	if err != nil {
		t.Fatalf("ListJobs(pending): %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("pending live = %d, want 3", len(pending))
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs(page): %v", err)
	}
	if len(page) != 2 || page[0].ID.String() != p2.ID.String() {
		t.Errorf("page = %d jobs, first %v", len(page), page)
	}

	retention, err := s.ListJobs(ctx, job.ListOpts{DeletedOrStamped: true})
	if err != nil {
		t.Fatalf("ListJobs(retention): %v", err)
	}
	if len(retention) != 2 {
		t.Errorf("deleted-or-stamped = %d, want 2", len(retention))
	}

	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 5},
		{"pending", job.CountOpts{Statuses: []job.Status{job.StatusPending}}, 4},
		{"completed", job.CountOpts{Statuses: []job.Status{job.StatusCompleted}}, 1},
		{"deleted", job.CountOpts{Deleted: job.Ptr(true)}, 1},
		{"live pending", job.CountOpts{Statuses: []job.Status{job.StatusPending}, Deleted: job.Ptr(false)}, 3},
	}
	for _, tt := range tests {
		got, err := s.CountJobs(ctx, tt.opts)
		if err != nil {
			t.Fatalf("CountJobs(%s): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("CountJobs(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func testQueuePositions(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := NewJob(0), NewJob(time.Second)
	stale := NewJob(2 * time.Second)
	stale.Status = job.StatusCompleted
	stale.QueuePosition = job.Ptr(7)
	mustInsert(t, s, a, b, stale)

	n, err := s.SetQueuePositions(ctx, []job.Position{
		{JobID: a.ID, Position: 1},
		{JobID: b.ID, Position: 2},
		{JobID: stale.ID, Position: 3},
	})
	if err != nil {
		t.Fatalf("SetQueuePositions: %v", err)
	}
	if n != 2 {
		t.Errorf("SetQueuePositions wrote %d, want 2", n)
	}

	cleared, err := s.ClearStaleQueuePositions(ctx)
	if err != nil {
		t.Fatalf("ClearStaleQueuePositions: %v", err)
	}
	if cleared != 1 {
		t.Errorf("ClearStaleQueuePositions = %d, want 1", cleared)
	}

	for want, j := range map[int]*job.Job{1: a, 2: b} {
		got := mustGet(t, s, j.ID)
		if got.QueuePosition == nil || *got.QueuePosition != want {
			t.Errorf("job %s position = %v, want %d", j.ID, got.QueuePosition, want)
		}
	}
	if got := mustGet(t, s, stale.ID); got.QueuePosition != nil {
		t.Errorf("completed job kept position %d", *got.QueuePosition)
	}
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	live := NewJob(0)
	gone := NewJob(time.Second)
	gone.IsDeleted = true
	gone.DeletedAt = job.Ptr(base)
	mustInsert(t, s, live, gone)

	cond := job.Condition{Deleted: job.Ptr(true)}
	if _, err := s.DeleteJob(ctx, live.ID, cond); !errors.Is(err, docket.ErrConflict) {
		t.Fatalf("DeleteJob(live) = %v, want ErrConflict", err)
	}

	ok, err := s.DeleteJob(ctx, gone.ID, cond)
	if err != nil || !ok {
		t.Fatalf("DeleteJob(deleted) = %v, %v; want true, nil", ok, err)
	}
	if _, err := s.GetJob(ctx, gone.ID); !errors.Is(err, docket.ErrJobNotFound) {
		t.Fatalf("GetJob after delete = %v, want ErrJobNotFound", err)
	}

	ok, err = s.DeleteJob(ctx, gone.ID, cond)
	if err != nil || ok {
		t.Fatalf("DeleteJob(again) = %v, %v; want false, nil", ok, err)
	}
}

func testDeleteJobStamped(t *testing.T, s store.Store) {
	ctx := context.Background()
	live := NewJob(0)
	stamped := NewJob(time.Second)
	stamped.DeletedAt = job.Ptr(base)
	mustInsert(t, s, live, stamped)

	cond := job.Condition{DeletedOrStamped: true}
	if _, err := s.DeleteJob(ctx, live.ID, cond); !errors.Is(err, docket.ErrConflict) {
		t.Fatalf("DeleteJob(live) = %v, want ErrConflict", err)
	}
	ok, err := s.DeleteJob(ctx, stamped.ID, cond)
	if err != nil || !ok {
		t.Fatalf("DeleteJob(stamped) = %v, %v; want true, nil", ok, err)
	}
}

// ──────────────────────────────────────────────────
// Lease
// ──────────────────────────────────────────────────

func testLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	const name = "docket-queue-control"
	ttl := 30 * time.Second

	l, err := s.GetLease(ctx, name)
	if err != nil || l != nil {
		t.Fatalf("GetLease(empty) = %v, %v; want nil, nil", l, err)
	}

	steps := []struct {
		name  string
		owner string
		at    time.Duration
		want  bool
	}{
		{"first acquire", "a", 0, true},
		{"contended", "b", 10 * time.Second, false},
		{"renew by owner", "a", 20 * time.Second, true},
		{"still contended after renew", "b", 45 * time.Second, false},
		{"expired takeover", "b", 51 * time.Second, true},
	}
	for _, st := range steps {
		got, err := s.AcquireLease(ctx, name, st.owner, ttl, base.Add(st.at))
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if got != st.want {
			t.Fatalf("%s: AcquireLease = %v, want %v", st.name, got, st.want)
		}
	}

	l, err = s.GetLease(ctx, name)
	if err != nil || l == nil {
		t.Fatalf("GetLease = %v, %v", l, err)
	}
	if l.OwnerID != "b" || !l.ExpiresAt.Equal(base.Add(81*time.Second)) {
		t.Errorf("lease = %+v", l)
	}

	// Release by a non-owner does nothing.
	now := base.Add(60 * time.Second)
	if err := s.ReleaseLease(ctx, name, "a", now); err != nil {
		t.Fatalf("ReleaseLease(non-owner): %v", err)
	}
	if ok, _ := s.AcquireLease(ctx, name, "a", ttl, now); ok {
		t.Fatal("non-owner release freed the lease")
	}

	if err := s.ReleaseLease(ctx, name, "b", now); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	if ok, err := s.AcquireLease(ctx, name, "a", ttl, now); err != nil || !ok {
		t.Fatalf("AcquireLease after release = %v, %v", ok, err)
	}
}

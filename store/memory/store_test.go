package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/store"
	"github.com/xraph/docket/store/storetest"
)

func TestConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := storetest.NewJob(0)
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	_ = s.Close()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Ping", func() error { return s.Ping(ctx) }},
		{"GetJob", func() error { _, err := s.GetJob(ctx, j.ID); return err }},
		{"ClaimNext", func() error { _, err := s.ClaimNext(ctx, job.ClaimOpts{}); return err }},
		{"UpdateJob", func() error { _, err := s.UpdateJob(ctx, j.ID, job.Condition{}, job.Patch{}); return err }},
		{"AcquireLease", func() error {
			_, err := s.AcquireLease(ctx, "l", "o", time.Second, time.Now())
			return err
		}},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, docket.ErrStoreUnavailable) {
			t.Errorf("%s after Close = %v, want ErrStoreUnavailable", tt.name, err)
		}
	}

	s.Reopen()
	if _, err := s.GetJob(ctx, j.ID); err != nil {
		t.Fatalf("GetJob after Reopen: %v", err)
	}
}

func TestReturnedJobsAreCopies(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := storetest.NewJob(0)
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	j.Metadata["hospital"] = "mutated-after-insert"

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	got.Status = job.StatusFailed

	again, _ := s.GetJob(ctx, j.ID)
	if again.Status != job.StatusPending || again.Metadata["hospital"] != "st-mary" {
		t.Fatalf("stored record was mutated through a returned pointer: %+v", again)
	}
}

func TestUpdateJobDefaultsNowFromClock(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	j := storetest.NewJob(0)
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.UpdateJob(ctx, j.ID, job.Condition{}, job.Patch{ErrorMessage: job.Ptr("x")})
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, fixed)
	}
}

package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobSubmitted(_ context.Context, _ *job.Job, _ bool) error {
	return e.record("OnJobSubmitted")
}

func (e *allHooksExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	return e.record("OnJobClaimed")
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	return e.record("OnJobFailed")
}

func (e *allHooksExt) OnJobRecovered(_ context.Context, _ *job.Job, _ error) error {
	return e.record("OnJobRecovered")
}

func (e *allHooksExt) OnJobDemoted(_ context.Context, _ *job.Job) error {
	return e.record("OnJobDemoted")
}

func (e *allHooksExt) OnJobSoftDeleted(_ context.Context, _ *job.Job) error {
	return e.record("OnJobSoftDeleted")
}

func (e *allHooksExt) OnJobRestored(_ context.Context, _ *job.Job) error {
	return e.record("OnJobRestored")
}

func (e *allHooksExt) OnJobPurged(_ context.Context, _ id.JobID) error {
	return e.record("OnJobPurged")
}

func (e *allHooksExt) OnVerificationCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	return e.record("OnVerificationCompleted")
}

func (e *allHooksExt) OnVerificationFailed(_ context.Context, _ *job.Job, _ error) error {
	return e.record("OnVerificationFailed")
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	return e.record("OnShutdown")
}

// completionOnlyExt only implements the completion hook.
type completionOnlyExt struct {
	calls []string
}

func (e *completionOnlyExt) Name() string { return "completion-only" }

func (e *completionOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobSubmitted(_ context.Context, _ *job.Job, _ bool) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	co := &completionOnlyExt{}
	r.Register(all)
	r.Register(co)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}

	r.EmitJobCompleted(ctx, j, time.Second)
	if len(all.calls) != 1 || len(co.calls) != 1 {
		t.Fatalf("expected both called once, got all=%v co=%v", all.calls, co.calls)
	}

	// Only all implements OnJobClaimed.
	r.EmitJobClaimed(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobClaimed" {
		t.Fatalf("all: expected OnJobClaimed as 2nd, got %v", all.calls)
	}
	if len(co.calls) != 1 {
		t.Fatalf("co: should still have 1 call, got %v", co.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}

	r.EmitJobSubmitted(ctx, j, false)
	r.EmitJobClaimed(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRecovered(ctx, j, errors.New("stale"))
	r.EmitJobDemoted(ctx, j)
	r.EmitJobSoftDeleted(ctx, j)
	r.EmitJobRestored(ctx, j)
	r.EmitJobPurged(ctx, j.ID)
	r.EmitVerificationCompleted(ctx, j, time.Second)
	r.EmitVerificationFailed(ctx, j, errors.New("mismatch"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobSubmitted", "OnJobClaimed", "OnJobCompleted", "OnJobFailed",
		"OnJobRecovered", "OnJobDemoted", "OnJobSoftDeleted", "OnJobRestored",
		"OnJobPurged", "OnVerificationCompleted", "OnVerificationFailed", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobSubmitted(ctx, &job.Job{}, true)
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls despite failing ext, got %v", all.calls)
	}
	out := buf.String()
	if !strings.Contains(out, "extension hook error") || !strings.Contains(out, "extension=failing") {
		t.Fatalf("expected hook error to be logged, got %q", out)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitJobSubmitted(ctx, &job.Job{}, false)
	r.EmitJobClaimed(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobRecovered(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobDemoted(ctx, &job.Job{})
	r.EmitJobSoftDeleted(ctx, &job.Job{})
	r.EmitJobRestored(ctx, &job.Job{})
	r.EmitJobPurged(ctx, id.NewJobID())
	r.EmitVerificationCompleted(ctx, &job.Job{}, time.Second)
	r.EmitVerificationFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	first := &orderedExt{name: "first", order: &order}
	second := &orderedExt{name: "second", order: &order}
	r.Register(first)
	r.Register(second)

	r.EmitJobClaimed(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderedExt struct {
	name  string
	order *[]string
}

func (e *orderedExt) Name() string { return e.name }

func (e *orderedExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}

package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/docket/artifact"
	"github.com/xraph/docket/id"
)

func newDir(t *testing.T) *artifact.Dir {
	t.Helper()
	d, err := artifact.NewDir(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d
}

func TestDir_PutAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newDir(t)
	jobID := id.NewJobID()

	ref, err := d.Put(ctx, jobID, "scan.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref != filepath.Join(d.Root(), jobID.String(), "scan.pdf") {
		t.Fatalf("ref = %q", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil || string(data) != "%PDF" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	if err := d.Remove(ctx, ref); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(ref)); !os.IsNotExist(err) {
		t.Fatalf("job directory should be gone, stat err = %v", err)
	}

	// Idempotent.
	if err := d.Remove(ctx, ref); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestDir_SanitizesFilename(t *testing.T) {
	t.Parallel()
	d := newDir(t)
	jobID := id.NewJobID()

	tests := []struct {
		in   string
		want string
	}{
		{"scan.pdf", "scan.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\scans\page1.pdf`, "page1.pdf"},
		{"", artifact.DefaultFilename},
		{"  ", artifact.DefaultFilename},
	}
	for _, tt := range tests {
		got := d.Path(jobID, tt.in)
		if got != filepath.Join(d.Root(), jobID.String(), tt.want) {
			t.Errorf("Path(%q) = %q, want file %q", tt.in, got, tt.want)
		}
	}
}

func TestDir_IgnoresForeignRefs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newDir(t)

	outside := filepath.Join(t.TempDir(), "keep.pdf")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	for _, ref := range []string{"", outside, d.Root(), filepath.Join(d.Root(), "..", "keep.pdf")} {
		if d.Owns(ref) {
			t.Errorf("Owns(%q) = true", ref)
		}
		if err := d.Remove(ctx, ref); err != nil {
			t.Errorf("Remove(%q): %v", ref, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("foreign file was removed: %v", err)
	}
}

func TestDir_PutRejectsNilID(t *testing.T) {
	t.Parallel()
	if _, err := newDir(t).Put(context.Background(), id.Nil, "a.pdf", nil); err == nil {
		t.Fatal("expected error for nil job id")
	}
}

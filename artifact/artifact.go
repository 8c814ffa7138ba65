// Package artifact stores the raw document payloads jobs are created from.
//
// A job only records an opaque artifact reference; the extractor reads
// the payload from it. [Dir] keeps payloads on the local filesystem under
// <root>/<job_id>/<filename> and is what the coordinator uses when a
// submission carries bytes instead of a ready-made reference.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xraph/docket/id"
)

// Store persists and removes job payloads.
type Store interface {
	// Put writes data for jobID and returns the artifact reference.
	Put(ctx context.Context, jobID id.JobID, filename string, data []byte) (string, error)
	// Remove deletes the artifact behind ref. Removing a missing artifact
	// succeeds.
	Remove(ctx context.Context, ref string) error
}

// Ensure Dir implements Store at compile time.
var _ Store = (*Dir)(nil)

// DefaultFilename is used when a submission carries no usable name.
const DefaultFilename = "document.pdf"

// Dir is a Store rooted at a local directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root, creating the directory if needed.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("artifact: create root %q: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *Dir) Root() string { return d.root }

// Path returns where the payload for jobID and filename is stored.
func (d *Dir) Path(jobID id.JobID, filename string) string {
	return filepath.Join(d.root, jobID.String(), cleanName(filename))
}

// Put writes data atomically: the payload is written to a temporary file
// in the job directory and renamed into place.
func (d *Dir) Put(_ context.Context, jobID id.JobID, filename string, data []byte) (string, error) {
	if jobID.IsNil() {
		return "", errors.New("artifact: put: nil job id")
	}
	dst := d.Path(jobID, filename)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("artifact: put %s: %w", jobID, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("artifact: put %s: %w", jobID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %s: write: %w", jobID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %s: close: %w", jobID, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("artifact: put %s: rename: %w", jobID, err)
	}
	return dst, nil
}

// Remove deletes the artifact and, when it is left empty, its job
// directory. References outside the root are not ours and are ignored.
func (d *Dir) Remove(_ context.Context, ref string) error {
	if !d.Owns(ref) {
		return nil
	}
	path := filepath.Clean(ref)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact: remove %q: %w", ref, err)
	}
	// Fails harmlessly when the directory still holds other files.
	if dir := filepath.Dir(path); dir != d.root {
		_ = os.Remove(dir)
	}
	return nil
}

// Owns reports whether ref points inside the root directory.
func (d *Dir) Owns(ref string) bool {
	if ref == "" {
		return false
	}
	rel, err := filepath.Rel(d.root, filepath.Clean(ref))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func cleanName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".upload-") {
		return DefaultFilename
	}
	return name
}

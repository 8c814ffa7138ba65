package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/xraph/docket/job"
)

// Noop is a Processor and Verifier that succeeds without doing any work.
// It exists for smoke tests of a deployment.
type Noop struct{}

// Process returns a small JSON document naming the job.
func (Noop) Process(_ context.Context, j *job.Job) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"job_id": j.ID.String(), "processor": "noop"})
}

// Verify reports the output as verified.
func (Noop) Verify(_ context.Context, _ *job.Job) (json.RawMessage, error) {
	return json.RawMessage(`{"verified":true}`), nil
}

// maxStderr bounds how much of a failed command's stderr is kept in the
// job's error message.
const maxStderr = 512

// Command runs an external extractor as a child process. The job's
// artifact reference is appended as the last argument and the process
// must print a JSON document on stdout.
type Command struct {
	Path string
	Args []string
	// Env is appended to the inherited environment.
	Env []string
}

// Process runs the command for j.
func (c Command) Process(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	if c.Path == "" {
		return nil, errors.New("worker: command processor has no path")
	}
	args := append(append([]string(nil), c.Args...), j.ArtifactRef)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = append(cmd.Environ(), c.Env...)
	cmd.Env = append(cmd.Env, "DOCKET_JOB_ID="+j.ID.String())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg != "" {
			return nil, fmt.Errorf("worker: %s: %w: %s", c.Path, err, msg)
		}
		return nil, fmt.Errorf("worker: %s: %w", c.Path, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, fmt.Errorf("worker: %s: output is not valid JSON", c.Path)
	}
	return json.RawMessage(out), nil
}

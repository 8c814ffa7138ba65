package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.JobSubmitted          = (*Extension)(nil)
	_ ext.JobClaimed            = (*Extension)(nil)
	_ ext.JobCompleted          = (*Extension)(nil)
	_ ext.JobFailed             = (*Extension)(nil)
	_ ext.JobRecovered          = (*Extension)(nil)
	_ ext.JobDemoted            = (*Extension)(nil)
	_ ext.JobSoftDeleted        = (*Extension)(nil)
	_ ext.JobRestored           = (*Extension)(nil)
	_ ext.JobPurged             = (*Extension)(nil)
	_ ext.VerificationCompleted = (*Extension)(nil)
	_ ext.VerificationFailed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder records audit events as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a LogRecorder writing to l, or slog.Default when
// l is nil.
func NewLogRecorder(l *slog.Logger) *LogRecorder {
	if l == nil {
		l = slog.Default()
	}
	return &LogRecorder{logger: l}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("category", evt.Category),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("outcome", evt.Outcome),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if len(evt.Metadata) > 0 {
		meta := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("meta", meta...))
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges docket lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Admission and processing hooks ──────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job, duplicate bool) error {
	return e.record(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"status", string(j.Status),
		"duplicate", duplicate,
		"hospital", j.Metadata["hospital"],
		"filename", j.Metadata["filename"],
	)
}

// OnJobClaimed implements ext.JobClaimed.
func (e *Extension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobClaimed, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"owner_id", j.OwnerID,
		"retry_count", j.RetryCount,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"owner_id", j.OwnerID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		j.ID.String(), CategoryJob, jobErr,
		"owner_id", j.OwnerID,
		"retry_count", j.RetryCount,
	)
}

// ── Reconciliation hooks ────────────────────────────

// OnJobRecovered implements ext.JobRecovered.
func (e *Extension) OnJobRecovered(ctx context.Context, j *job.Job, cause error) error {
	return e.record(ctx, ActionJobRecovered, SeverityCritical, OutcomeFailure,
		j.ID.String(), CategoryJob, cause,
		"owner_id", j.OwnerID,
		"retry_count", j.RetryCount,
	)
}

// OnJobDemoted implements ext.JobDemoted.
func (e *Extension) OnJobDemoted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobDemoted, SeverityWarning, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"created_at", j.CreatedAt.Format(time.RFC3339),
	)
}

// ── Deletion hooks ──────────────────────────────────

// OnJobSoftDeleted implements ext.JobSoftDeleted.
func (e *Extension) OnJobSoftDeleted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobSoftDeleted, SeverityWarning, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"deleted_by", j.DeletedBy,
		"status", string(j.Status),
	)
}

// OnJobRestored implements ext.JobRestored.
func (e *Extension) OnJobRestored(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobRestored, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, nil,
		"status", string(j.Status),
	)
}

// OnJobPurged implements ext.JobPurged.
func (e *Extension) OnJobPurged(ctx context.Context, jobID id.JobID) error {
	return e.record(ctx, ActionJobPurged, SeverityWarning, OutcomeSuccess,
		jobID.String(), CategoryJob, nil,
	)
}

// ── Verification hooks ──────────────────────────────

// OnVerificationCompleted implements ext.VerificationCompleted.
func (e *Extension) OnVerificationCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionVerificationCompleted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryVerification, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnVerificationFailed implements ext.VerificationFailed.
func (e *Extension) OnVerificationFailed(ctx context.Context, j *job.Job, verr error) error {
	return e.record(ctx, ActionVerificationFailed, SeverityWarning, OutcomeFailure,
		j.ID.String(), CategoryVerification, verr,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

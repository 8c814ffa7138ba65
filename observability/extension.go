package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.JobSubmitted          = (*MetricsExtension)(nil)
	_ ext.JobClaimed            = (*MetricsExtension)(nil)
	_ ext.JobCompleted          = (*MetricsExtension)(nil)
	_ ext.JobFailed             = (*MetricsExtension)(nil)
	_ ext.JobRecovered          = (*MetricsExtension)(nil)
	_ ext.JobDemoted            = (*MetricsExtension)(nil)
	_ ext.JobSoftDeleted        = (*MetricsExtension)(nil)
	_ ext.JobRestored           = (*MetricsExtension)(nil)
	_ ext.JobPurged             = (*MetricsExtension)(nil)
	_ ext.VerificationCompleted = (*MetricsExtension)(nil)
	_ ext.VerificationFailed    = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/docket/observability"

// MetricsExtension records lifecycle counters and the processing time
// histogram. Register it as a docket extension.
type MetricsExtension struct {
	JobSubmitted          metric.Int64Counter
	JobClaimed            metric.Int64Counter
	JobCompleted          metric.Int64Counter
	JobFailed             metric.Int64Counter
	JobRecovered          metric.Int64Counter
	JobDemoted            metric.Int64Counter
	JobSoftDeleted        metric.Int64Counter
	JobRestored           metric.Int64Counter
	JobPurged             metric.Int64Counter
	VerificationCompleted metric.Int64Counter
	VerificationFailed    metric.Int64Counter
	ProcessingDuration    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors fall back to noop
// instruments returned by the API.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	hist, _ := meter.Float64Histogram("docket.job.processing.duration",
		metric.WithDescription("Time from claim to completion or failure in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobSubmitted:          counter("docket.job.submitted", "Submissions admitted, new or duplicate"),
		JobClaimed:            counter("docket.job.claimed", "Jobs promoted to PROCESSING"),
		JobCompleted:          counter("docket.job.completed", "Jobs that reached COMPLETED"),
		JobFailed:             counter("docket.job.failed", "Jobs failed by the worker"),
		JobRecovered:          counter("docket.job.recovered", "Stale PROCESSING jobs failed by reconciliation"),
		JobDemoted:            counter("docket.job.demoted", "Extra PROCESSING jobs returned to PENDING"),
		JobSoftDeleted:        counter("docket.job.soft_deleted", "Jobs soft-deleted"),
		JobRestored:           counter("docket.job.restored", "Soft-deleted jobs restored"),
		JobPurged:             counter("docket.job.purged", "Job records permanently removed"),
		VerificationCompleted: counter("docket.verification.completed", "Verifications that completed"),
		VerificationFailed:    counter("docket.verification.failed", "Verifications that failed"),
		ProcessingDuration:    hist,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Admission and processing hooks ──────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, _ *job.Job, duplicate bool) error {
	m.JobSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.Bool("duplicate", duplicate)))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, _ *job.Job) error {
	m.JobClaimed.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	m.ProcessingDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", "completed")))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1)
	if d := j.ProcessingDuration(); d > 0 {
		m.ProcessingDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", "failed")))
	}
	return nil
}

// ── Reconciliation hooks ────────────────────────────

// OnJobRecovered implements ext.JobRecovered.
func (m *MetricsExtension) OnJobRecovered(ctx context.Context, _ *job.Job, _ error) error {
	m.JobRecovered.Add(ctx, 1)
	return nil
}

// OnJobDemoted implements ext.JobDemoted.
func (m *MetricsExtension) OnJobDemoted(ctx context.Context, _ *job.Job) error {
	m.JobDemoted.Add(ctx, 1)
	return nil
}

// ── Deletion hooks ──────────────────────────────────

// OnJobSoftDeleted implements ext.JobSoftDeleted.
func (m *MetricsExtension) OnJobSoftDeleted(ctx context.Context, _ *job.Job) error {
	m.JobSoftDeleted.Add(ctx, 1)
	return nil
}

// OnJobRestored implements ext.JobRestored.
func (m *MetricsExtension) OnJobRestored(ctx context.Context, _ *job.Job) error {
	m.JobRestored.Add(ctx, 1)
	return nil
}

// OnJobPurged implements ext.JobPurged.
func (m *MetricsExtension) OnJobPurged(ctx context.Context, _ id.JobID) error {
	m.JobPurged.Add(ctx, 1)
	return nil
}

// ── Verification hooks ──────────────────────────────

// OnVerificationCompleted implements ext.VerificationCompleted.
func (m *MetricsExtension) OnVerificationCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.VerificationCompleted.Add(ctx, 1)
	return nil
}

// OnVerificationFailed implements ext.VerificationFailed.
func (m *MetricsExtension) OnVerificationFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.VerificationFailed.Add(ctx, 1)
	return nil
}

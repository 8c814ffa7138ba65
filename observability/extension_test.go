package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	started := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	done := started.Add(3 * time.Second)
	return &job.Job{
		ID:                  id.NewJobID(),
		Status:              job.StatusFailed,
		ProcessingStartedAt: &started,
		CompletedAt:         &done,
	}
}

// counterValue sums every data point of the named Int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	tests := []struct {
		metric string
		fire   func(e *observability.MetricsExtension) error
	}{
		{"docket.job.submitted", func(e *observability.MetricsExtension) error { return e.OnJobSubmitted(ctx, newTestJob(), false) }},
		{"docket.job.claimed", func(e *observability.MetricsExtension) error { return e.OnJobClaimed(ctx, newTestJob()) }},
		{"docket.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(ctx, newTestJob(), time.Second)
		}},
		{"docket.job.failed", func(e *observability.MetricsExtension) error { return e.OnJobFailed(ctx, newTestJob(), boom) }},
		{"docket.job.recovered", func(e *observability.MetricsExtension) error { return e.OnJobRecovered(ctx, newTestJob(), boom) }},
		{"docket.job.demoted", func(e *observability.MetricsExtension) error { return e.OnJobDemoted(ctx, newTestJob()) }},
		{"docket.job.soft_deleted", func(e *observability.MetricsExtension) error { return e.OnJobSoftDeleted(ctx, newTestJob()) }},
		{"docket.job.restored", func(e *observability.MetricsExtension) error { return e.OnJobRestored(ctx, newTestJob()) }},
		{"docket.job.purged", func(e *observability.MetricsExtension) error { return e.OnJobPurged(ctx, id.NewJobID()) }},
		{"docket.verification.completed", func(e *observability.MetricsExtension) error {
			return e.OnVerificationCompleted(ctx, newTestJob(), time.Second)
		}},
		{"docket.verification.failed", func(e *observability.MetricsExtension) error {
			return e.OnVerificationFailed(ctx, newTestJob(), boom)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("hook returned error: %v", err)
			}
			if got := counterValue(t, reader, tt.metric); got != 1 {
				t.Errorf("%s: want 1, got %d", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_SubmittedDuplicateAttribute(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	_ = e.OnJobSubmitted(ctx, newTestJob(), false)
	_ = e.OnJobSubmitted(ctx, newTestJob(), true)
	_ = e.OnJobSubmitted(ctx, newTestJob(), true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var duplicates int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "docket.job.submitted" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("duplicate")); ok && v.AsBool() {
					duplicates += dp.Value
				}
			}
		}
	}
	if duplicates != 2 {
		t.Fatalf("duplicate submissions = %d, want 2", duplicates)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()
	reg.EmitJobClaimed(ctx, j)
	reg.EmitJobFailed(ctx, j, errors.New("extractor crashed"))
	reg.EmitJobPurged(ctx, j.ID)

	for _, name := range []string{"docket.job.claimed", "docket.job.failed", "docket.job.purged"} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}

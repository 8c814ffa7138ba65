package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docket/job"
)

// meterName is the instrumentation scope name for docket metrics.
const meterName = "github.com/xraph/docket"

// Metrics returns middleware that records per-step execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - docket.step.duration (Float64Histogram): step time in seconds,
//     with attributes: step, status ("ok" or "error")
//   - docket.step.executions (Int64Counter): total step executions,
//     with attributes: step, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments, so the middleware
	// degrades to a pass-through.
	duration, _ := meter.Float64Histogram(
		"docket.step.duration",
		metric.WithDescription("Duration of job processing steps in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"docket.step.executions",
		metric.WithDescription("Total number of job processing steps run"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("step", string(StepFrom(ctx))),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}

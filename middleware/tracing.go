package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/docket/job"
)

// tracerName is the instrumentation scope name for docket tracing.
const tracerName = "github.com/xraph/docket"

// Tracing returns middleware that wraps each step in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes: docket.job.id, docket.step, docket.retry_count,
// docket.hospital.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		step := StepFrom(ctx)
		ctx, span := tracer.Start(ctx, "docket.job."+string(step),
			trace.WithAttributes(
				attribute.String("docket.job.id", j.ID.String()),
				attribute.String("docket.step", string(step)),
				attribute.Int("docket.retry_count", j.RetryCount),
				attribute.String("docket.hospital", j.Metadata["hospital"]),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

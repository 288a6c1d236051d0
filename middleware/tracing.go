package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polarsource/polar-sub002/job"
)

const instrumentationName = "github.com/polarsource/polar-sub002"

// Tracing returns middleware that wraps job execution in a span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "polar.job "+j.Name,
			trace.WithAttributes(
				attribute.String("polar.job.id", j.ID.String()),
				attribute.String("polar.job.actor", j.Name),
				attribute.String("polar.job.queue", j.Queue),
				attribute.String("polar.job.priority", j.Priority.String()),
				attribute.Int("polar.job.retry_count", j.RetryCount),
				attribute.String("polar.organization_id", j.ScopeOrgID),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
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

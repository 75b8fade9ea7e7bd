package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Deepreo/jobscheduler/core"
)

const tracerName = "github.com/Deepreo/jobscheduler"

// Tracing wraps every execution in a span from the global tracer provider.
func Tracing() core.SchedulerMiddleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

func TracingWithTracer(tracer trace.Tracer) core.SchedulerMiddleware {
	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context) error {
			var attrs []attribute.KeyValue
			if h, ok := ExecutionFromContext(ctx); ok {
				attrs = append(attrs,
					attribute.String("scheduler.job.name", h.Job),
					attribute.String("scheduler.execution.id", h.ID.String()),
					attribute.Int64("scheduler.execution.sequence", int64(h.Sequence)),
				)
			}
			ctx, span := tracer.Start(ctx, "scheduler.job.execute",
				trace.WithAttributes(attrs...),
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
}

// Timeout bounds each execution. A job running past d sees its context
// expire with context.DeadlineExceeded; the execution is then recorded as
// failed, not cancelled.
func Timeout(d time.Duration) core.SchedulerMiddleware {
	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context) error {
			if d <= 0 {
				return next(ctx)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx)
		}
	}
}

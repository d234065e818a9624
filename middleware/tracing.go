package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// tracerName is the instrumentation scope name for engine tracing.
const tracerName = "github.com/PulseAIShared/pulse-engine"

// Tracing returns middleware that wraps action dispatch in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: pulse.run.id, pulse.playbook.id,
// pulse.customer.id, pulse.action.id, pulse.action.type.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *run.Run, a *playbook.Action, next Handler) error {
		ctx, span := tracer.Start(ctx, "pulse.action.dispatch",
			trace.WithAttributes(
				attribute.String("pulse.run.id", r.ID.String()),
				attribute.String("pulse.playbook.id", r.PlaybookID.String()),
				attribute.String("pulse.customer.id", r.CustomerID.String()),
				attribute.String("pulse.action.id", a.ID.String()),
				attribute.String("pulse.action.type", string(a.Type)),
				attribute.Int("pulse.action.order_index", a.OrderIndex),
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

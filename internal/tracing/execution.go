package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const executionTracerName = "claude-remote-execution"

// TraceExecution starts a span covering one execution from admission to
// its terminal event.
func TraceExecution(ctx context.Context, executionID, correlationID, projectID, kind string) (context.Context, trace.Span) {
	ctx, span := Tracer(executionTracerName).Start(ctx, "execution."+kind,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("correlation_id", correlationID),
		attribute.String("project_id", projectID),
	)
	return ctx, span
}

// TraceExecutionResult records how an execution ended and closes its span.
func TraceExecutionResult(span trace.Span, exitCode int, code string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("exit_code", exitCode))
	if code != "" {
		span.SetAttributes(attribute.String("error_code", code))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

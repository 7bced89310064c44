package agent

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startCompletionSpan starts a span for one completeOnce round-trip to the
// LLM, streamed or not.
func (a *Agent) startCompletionSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "agent.complete")
	span.SetAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("agent.role", string(a.Profile.Role)),
		attribute.String("agent.model", a.Profile.ModelID),
		attribute.Bool("agent.stream", a.Profile.StreamEnabled),
	)
	return ctx, span
}

func (a *Agent) endCompletionSpan(span trace.Span, outputLen int, err error) {
	span.SetAttributes(attribute.Int("agent.output_bytes", outputLen))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

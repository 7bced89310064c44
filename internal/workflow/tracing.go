package workflow

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startPlanSpan starts a span covering one Execute call, from the first
// step to completion, failure, or cancellation.
func (e *Engine) startPlanSpan(ctx context.Context, planID string, stepCount int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("plan.id", planID),
		attribute.Int("plan.step_count", stepCount),
	)
	return ctx, span
}

func (e *Engine) endPlanSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("plan.status", status))
	span.End()
}

// startStepSpan starts a span for a single step attempt loop.
func (e *Engine) startStepSpan(ctx context.Context, stepID, tool string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "workflow.step")
	span.SetAttributes(
		attribute.String("step.id", stepID),
		attribute.String("step.tool", tool),
	)
	return ctx, span
}

func (e *Engine) endStepSpan(span trace.Span, attempts int, success bool, errMsg string) {
	span.SetAttributes(
		attribute.Int("step.attempts", attempts),
		attribute.Bool("step.success", success),
	)
	if !success && errMsg != "" {
		span.SetAttributes(attribute.String("step.error", errMsg))
	}
	span.End()
}

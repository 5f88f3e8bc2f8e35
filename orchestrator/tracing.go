package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer opens real start-to-finish spans for a run and for each agent
// node's execution. The teacher's OTelEmitter starts and immediately ends
// a zero-duration span per discrete event; here a run or an agent call
// genuinely takes wall-clock time, so a span is opened when the work
// begins and closed when it resolves, carrying the actual duration.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps the global TracerProvider's tracer named name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartRun opens a span for one workflow run. The returned func ends it;
// call it exactly once with the run's terminal status.
func (t *Tracer) StartRun(ctx context.Context, runID, workflowID string) (context.Context, func(status string)) {
	if t == nil {
		return ctx, func(string) {}
	}
	ctx, span := t.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow_engine.run_id", runID),
		attribute.String("workflow_engine.workflow_id", workflowID),
	))
	return ctx, func(status string) {
		span.SetAttributes(attribute.String("workflow_engine.status", status))
		if status == "failed" {
			span.SetStatus(codes.Error, "")
		}
		span.End()
	}
}

// StartAgent opens a span for one agent node's execution. The returned
// func ends it with the node's terminal status and token usage.
func (t *Tracer) StartAgent(ctx context.Context, runID, nodeID, providerName string) (context.Context, func(status string, tokensUsed int)) {
	if t == nil {
		return ctx, func(string, int) {}
	}
	ctx, span := t.tracer.Start(ctx, "workflow.agent", trace.WithAttributes(
		attribute.String("workflow_engine.run_id", runID),
		attribute.String("workflow_engine.node_id", nodeID),
		attribute.String("workflow_engine.provider", providerName),
	))
	return ctx, func(status string, tokensUsed int) {
		span.SetAttributes(
			attribute.String("workflow_engine.status", status),
			attribute.Int("workflow_engine.tokens_used", tokensUsed),
		)
		if status == "failed" {
			span.SetStatus(codes.Error, "")
		}
		span.End()
	}
}

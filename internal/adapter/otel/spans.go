package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "controlplane"

// StartWorkspaceSpan starts a span covering a workspace lifecycle
// transition (create/stop/restart/terminate).
func StartWorkspaceSpan(ctx context.Context, workspaceID, transition string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workspace."+transition,
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
			attribute.String("workspace.transition", transition),
		),
	)
}

// StartRunSpan starts a span for an agent-loop run dispatch.
func StartRunSpan(ctx context.Context, runID, loopID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run.dispatch",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("loop.id", loopID),
		),
	)
}

// StartHeartbeatSpan starts a span for a workspace heartbeat evaluation.
func StartHeartbeatSpan(ctx context.Context, workspaceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workspace.heartbeat",
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
		),
	)
}

// StartTunnelSpan starts a span for a tunnel-broker request forward.
func StartTunnelSpan(ctx context.Context, workspaceID, subdomain string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tunnel.forward",
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
			attribute.String("tunnel.subdomain", subdomain),
		),
	)
}

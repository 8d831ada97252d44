package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "controlplane"

// Metrics holds the control plane's OTEL metric instruments, covering
// workspace lifecycle and agent-loop run dispatch.
type Metrics struct {
	WorkspacesCreated   metric.Int64Counter
	WorkspacesStopped   metric.Int64Counter
	WorkspacesTerminated metric.Int64Counter
	RunsStarted         metric.Int64Counter
	RunsCompleted       metric.Int64Counter
	RunsFailed          metric.Int64Counter
	RunDuration         metric.Float64Histogram
	HeartbeatLatency    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WorkspacesCreated, err = meter.Int64Counter("controlplane.workspaces.created",
		metric.WithDescription("Number of workspaces created"))
	if err != nil {
		return nil, err
	}

	m.WorkspacesStopped, err = meter.Int64Counter("controlplane.workspaces.stopped",
		metric.WithDescription("Number of workspaces stopped"))
	if err != nil {
		return nil, err
	}

	m.WorkspacesTerminated, err = meter.Int64Counter("controlplane.workspaces.terminated",
		metric.WithDescription("Number of workspaces terminated"))
	if err != nil {
		return nil, err
	}

	m.RunsStarted, err = meter.Int64Counter("controlplane.runs.started",
		metric.WithDescription("Number of agent loop runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("controlplane.runs.completed",
		metric.WithDescription("Number of agent loop runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("controlplane.runs.failed",
		metric.WithDescription("Number of agent loop runs failed"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("controlplane.run.duration_seconds",
		metric.WithDescription("Agent loop run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.HeartbeatLatency, err = meter.Float64Histogram("controlplane.heartbeat.latency_seconds",
		metric.WithDescription("Time between successive workspace heartbeats"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

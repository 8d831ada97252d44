// Package metrics exposes a Prometheus registry for the operational
// gauges that scrape-based monitoring needs alongside the OTLP push
// path in internal/adapter/otel: point-in-time counts rather than
// events, scraped rather than pushed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the control plane's Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	ConnectedTunnels prometheus.Gauge
	ActiveSandboxRuns prometheus.Gauge
}

// New creates a Registry with the standard Go/process collectors plus
// the control plane's own gauges.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{reg: reg}
	r.ConnectedTunnels = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: "controlplane",
		Subsystem: "tunnel",
		Name:      "connected_agents",
		Help:      "Number of local agents currently connected to the tunnel broker.",
	})
	r.ActiveSandboxRuns = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: "controlplane",
		Subsystem: "loops",
		Name:      "active_sandbox_runs",
		Help:      "Number of agent loop runs currently dispatched to a sandbox.",
	})
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Package metrics collects and exposes Prometheus metrics for herd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all herd-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// Pool metrics.
	WorkersLive     prometheus.Gauge
	WorkersDesired  prometheus.Gauge
	SpawnTotal      prometheus.Counter
	ReapTotal       *prometheus.CounterVec
	QuickExitStreak prometheus.Gauge
	RestartTotal    prometheus.Counter
	DrainTotal      prometheus.Counter

	// Daemon-level metrics.
	DaemonUptime prometheus.Gauge
	BuildInfo    *prometheus.GaugeVec
}

// New creates and registers all herd metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	// Register default Go runtime metrics.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		WorkersLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herd_workers_live",
				Help: "Number of live worker child processes.",
			},
		),

		WorkersDesired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herd_workers_desired",
				Help: "Configured number of worker child processes.",
			},
		),

		SpawnTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herd_worker_spawn_total",
				Help: "Total number of worker processes spawned.",
			},
		),

		ReapTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herd_worker_reap_total",
				Help: "Total number of worker exits reaped.",
			},
			[]string{"outcome"},
		),

		QuickExitStreak: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herd_quick_exit_streak",
				Help: "Consecutive workers that exited within one second of spawning.",
			},
		),

		RestartTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herd_pool_restart_total",
				Help: "Total number of rolling pool restarts.",
			},
		),

		DrainTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herd_pool_drain_total",
				Help: "Total number of shutdown drains performed.",
			},
		),

		DaemonUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herd_daemon_uptime_seconds",
				Help: "Uptime of the herd daemon in seconds.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "herd_info",
				Help: "Build information about herd.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.WorkersLive,
		c.WorkersDesired,
		c.SpawnTotal,
		c.ReapTotal,
		c.QuickExitStreak,
		c.RestartTotal,
		c.DrainTotal,
		c.DaemonUptime,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// IncReap increments the reap counter for a clean or errored exit.
func (c *Collector) IncReap(clean bool) {
	outcome := "error"
	if clean {
		outcome = "clean"
	}
	c.ReapTotal.WithLabelValues(outcome).Inc()
}

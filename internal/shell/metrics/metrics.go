// Package metrics exposes deployment metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shipyard"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	deploymentsTotal *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	activeRuns       prometheus.Gauge
	dnsVerifications *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deployments",
				Name:      "total",
				Help:      "Finished deployments by app type and outcome",
			},
			[]string{"app_type", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "deployments",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
			},
			[]string{"stage", "state"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "platform",
				Name:      "retries_total",
				Help:      "Retried platform calls by platform",
			},
			[]string{"platform"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "active",
				Help:      "Deployments currently running",
			},
		),
		dnsVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dns",
				Name:      "verifications_total",
				Help:      "Hostname verification checks by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.deploymentsTotal,
		m.stageDuration,
		m.retriesTotal,
		m.activeRuns,
		m.dnsVerifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) DeploymentFinished(appType string, success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.deploymentsTotal.WithLabelValues(appType, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, state).Observe(d.Seconds())
}

func (m *Metrics) Retry(platform string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

func (m *Metrics) DNSVerification(verified bool) {
	if m == nil {
		return
	}
	result := "unverified"
	if verified {
		result = "verified"
	}
	m.dnsVerifications.WithLabelValues(result).Inc()
}

// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing helpers shared by the CLI and the companion service.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector gitbox exports. It uses its own
// registry so tests and multiple instances never share global state. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	CacheRequestsTotal *prometheus.CounterVec

	SandboxProvisionsTotal   *prometheus.CounterVec
	SandboxProvisionDuration prometheus.Histogram
	CompanionCallsTotal      *prometheus.CounterVec
	CompanionCallDuration    *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GitCommandsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CacheRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitbox",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache operations by backend and result (hit, miss, store, delete, error).",
		}, []string{"backend", "result"}),

		SandboxProvisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitbox",
			Subsystem: "sandbox",
			Name:      "provisions_total",
			Help:      "Sandbox provisioning attempts.",
		}, []string{"status"}),

		SandboxProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gitbox",
			Subsystem: "sandbox",
			Name:      "provision_duration_seconds",
			Help:      "Time spent provisioning a sandbox.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		CompanionCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitbox",
			Subsystem: "sandbox",
			Name:      "calls_total",
			Help:      "Calls made to the companion service.",
		}, []string{"path", "status"}),

		CompanionCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gitbox",
			Subsystem: "sandbox",
			Name:      "call_duration_seconds",
			Help:      "Companion call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitbox",
			Subsystem: "companion",
			Name:      "requests_total",
			Help:      "Requests served by the companion service.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gitbox",
			Subsystem: "companion",
			Name:      "request_duration_seconds",
			Help:      "Companion request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		GitCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitbox",
			Subsystem: "git",
			Name:      "commands_total",
			Help:      "git invocations by subcommand and outcome.",
		}, []string{"command", "status"}),
	}

	reg.MustRegister(
		m.CacheRequestsTotal,
		m.SandboxProvisionsTotal,
		m.SandboxProvisionDuration,
		m.CompanionCallsTotal,
		m.CompanionCallDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GitCommandsTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCache(backend, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) ObserveProvision(seconds float64, err error) {
	if m == nil {
		return
	}
	m.SandboxProvisionsTotal.WithLabelValues(status(err)).Inc()
	m.SandboxProvisionDuration.Observe(seconds)
}

func (m *Metrics) ObserveCall(path string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.CompanionCallsTotal.WithLabelValues(path, status(err)).Inc()
	m.CompanionCallDuration.WithLabelValues(path).Observe(seconds)
}

func (m *Metrics) ObserveRequest(method, path string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) ObserveGit(command string, err error) {
	if m == nil {
		return
	}
	m.GitCommandsTotal.WithLabelValues(command, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

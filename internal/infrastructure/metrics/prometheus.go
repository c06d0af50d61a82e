// Package metrics exposes the service's Prometheus instruments and adapts
// them to the observer interfaces of the command handlers, the group
// promotion saga, the event bus and the HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backoffice"

// Metrics owns a private registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	groupRuns     *prometheus.CounterVec
	eventHandlers *prometheus.HistogramVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers every instrument. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_operations_total",
			Help:      "Single-student promote/demote/reset operations by outcome.",
		}, []string{"operation", "outcome"}),
		groupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_promotion_runs_total",
			Help:      "Group promotion commits by final status.",
		}, []string{"status"}),
		eventHandlers: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Domain event handler latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"event_type", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(m.transitions, m.groupRuns, m.eventHandlers, m.httpDuration)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransition implements command.Metrics.
func (m *Metrics) ObserveTransition(operation, outcome string) {
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// ObserveGroupRun implements saga.Metrics.
func (m *Metrics) ObserveGroupRun(status string) {
	m.groupRuns.WithLabelValues(status).Inc()
}

// ObserveEventHandled implements messaging.HandlerObserver.
func (m *Metrics) ObserveEventHandled(eventType string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventHandlers.WithLabelValues(eventType, result).Observe(d.Seconds())
}

// ObserveHTTPRequest records one served request. route is the router pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Package metrics exposes hub and access counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boundless"

// Metrics implements core.Metrics and access.Observer.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsClosed  *prometheus.CounterVec
	published       prometheus.Counter
	deliveries      prometheus.Counter
	droppedDelivery prometheus.Counter
	accessDenied    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently joined to a channel.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Closed sessions by reason.",
		}, []string{"reason"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to channel groups.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Events accepted into session queues.",
		}),
		droppedDelivery: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Events dropped because a session queue was full.",
		}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Access policy denials by reason.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.activeSessions,
		m.sessionsClosed,
		m.published,
		m.deliveries,
		m.droppedDelivery,
		m.accessDenied,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	m.activeSessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Published(delivered int) {
	m.published.Inc()
	m.deliveries.Add(float64(delivered))
}

func (m *Metrics) DeliveryDropped() {
	m.droppedDelivery.Inc()
}

func (m *Metrics) AccessDenied(reason string) {
	m.accessDenied.WithLabelValues(reason).Inc()
}

// HTTPRequest counts one served request.
func (m *Metrics) HTTPRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the BFF API, its SSE stream and outbound REST calls.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	sseActiveConnections prometheus.Gauge
	sseTotalConnections  *prometheus.CounterVec
	sseMessagesSent      *prometheus.CounterVec

	clientRequestsTotal   *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewHTTPMetrics creates and registers the HTTP collectors.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_http_requests_total",
		Help: "Total number of API requests by method, route and status",
	}, []string{"method", "route", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_http_request_duration_seconds",
		Help:    "API request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.sseActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_http_sse_active_connections",
		Help: "Current number of active SSE connections",
	})

	m.sseTotalConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_http_sse_connections_total",
		Help: "Total number of SSE connections by status",
	}, []string{"status"}) // established, closed

	m.sseMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_http_sse_messages_sent_total",
		Help: "Total number of SSE messages sent by event type",
	}, []string{"event"})

	m.clientRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_backend_requests_total",
		Help: "Total number of REST backend requests by method and status",
	}, []string{"method", "status"})

	m.clientRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_backend_request_duration_seconds",
		Help:    "REST backend request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal, m.requestDuration,
		m.sseActiveConnections, m.sseTotalConnections, m.sseMessagesSent,
		m.clientRequestsTotal, m.clientRequestDuration,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records an API request. route is the registered path, not the raw URL.
func (m *HTTPMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SSEConnected increments the active SSE gauge.
func (m *HTTPMetrics) SSEConnected() {
	if m == nil {
		return
	}
	m.sseActiveConnections.Inc()
	m.sseTotalConnections.WithLabelValues("established").Inc()
}

// SSEDisconnected decrements the active SSE gauge.
func (m *HTTPMetrics) SSEDisconnected() {
	if m == nil {
		return
	}
	m.sseActiveConnections.Dec()
	m.sseTotalConnections.WithLabelValues("closed").Inc()
}

func (m *HTTPMetrics) RecordSSEMessage(event string) {
	if m == nil {
		return
	}
	m.sseMessagesSent.WithLabelValues(event).Inc()
}

// RecordBackendRequest records an outbound REST call; status 0 means transport failure.
func (m *HTTPMetrics) RecordBackendRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.clientRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.clientRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Package metrics provides Prometheus collectors for the notifier components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics covers the notification pipeline from intake to display.
// All methods are safe to call on a nil receiver.
type NotificationMetrics struct {
	ReceivedTotal   *prometheus.CounterVec // records by source (api, socket, local)
	DroppedTotal    *prometheus.CounterVec // payloads dropped by reason
	AdmittedTotal   *prometheus.CounterVec // admitted records by priority
	SuppressedTotal *prometheus.CounterVec // suppressed records by reason
	EffectsTotal    *prometheus.CounterVec // effects fired by effect and priority
	StoreSize       prometheus.Gauge
	UnreadCount     prometheus.Gauge
	FloatingSize    prometheus.Gauge
	FetchTotal      *prometheus.CounterVec // reload results: success, error, fallback
	FetchDuration   prometheus.Histogram
	SendTotal       *prometheus.CounterVec // outbound sends by route: channel, local, rate_limited

	// Push forwarding
	ProviderDeliveriesTotal     *prometheus.CounterVec
	ProviderDeliveryDuration    *prometheus.HistogramVec
	ProviderCircuitBreakerState *prometheus.GaugeVec // 0=closed, 1=half-open, 2=open

	registry *prometheus.Registry
}

// NewNotificationMetrics creates and registers the notification collectors.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.ReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_received_total",
		Help: "Total number of normalized notifications by source",
	}, []string{"source"})

	m.DroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_dropped_total",
		Help: "Total number of inbound payloads dropped before normalization succeeded",
	}, []string{"reason"})

	m.AdmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_admitted_total",
		Help: "Total number of notifications admitted by the dispatcher, by priority",
	}, []string{"priority"})

	m.SuppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_suppressed_total",
		Help: "Total number of notifications suppressed by the dispatcher, by reason",
	}, []string{"reason"}) // quiet_hours, role_mismatch

	m.EffectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_effects_fired_total",
		Help: "Total number of sound, vibration and desktop effects fired",
	}, []string{"effect", "priority"})

	m.StoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_store_size",
		Help: "Number of notifications currently held in the store",
	})

	m.UnreadCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_store_unread",
		Help: "Number of unread notifications in the store",
	})

	m.FloatingSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_floating_visible",
		Help: "Number of floating toasts currently visible",
	})

	m.FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_fetch_total",
		Help: "Total number of full reloads by result",
	}, []string{"result"})

	m.FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifier_fetch_duration_seconds",
		Help:    "Latency of full reloads from the REST backend",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	m.SendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_send_total",
		Help: "Total number of outbound notifications by route",
	}, []string{"route"})

	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_push_deliveries_total",
		Help: "Total number of push forwarding attempts by provider and status",
	}, []string{"provider", "status"})

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_push_delivery_duration_seconds",
		Help:    "Time taken to forward a notification to a push provider",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	m.ProviderCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifier_push_circuit_breaker_state",
		Help: "Circuit breaker state per push provider (0=closed, 1=half-open, 2=open)",
	}, []string{"provider"})
}

func (m *NotificationMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReceivedTotal, m.DroppedTotal, m.AdmittedTotal, m.SuppressedTotal,
		m.EffectsTotal, m.StoreSize, m.UnreadCount, m.FloatingSize,
		m.FetchTotal, m.FetchDuration, m.SendTotal,
		m.ProviderDeliveriesTotal, m.ProviderDeliveryDuration, m.ProviderCircuitBreakerState,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *NotificationMetrics) RecordReceived(source string) {
	if m == nil {
		return
	}
	m.ReceivedTotal.WithLabelValues(source).Inc()
}

func (m *NotificationMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(reason).Inc()
}

func (m *NotificationMetrics) RecordAdmitted(priority string) {
	if m == nil {
		return
	}
	m.AdmittedTotal.WithLabelValues(priority).Inc()
}

func (m *NotificationMetrics) RecordSuppressed(reason string) {
	if m == nil {
		return
	}
	m.SuppressedTotal.WithLabelValues(reason).Inc()
}

func (m *NotificationMetrics) RecordEffect(effect, priority string) {
	if m == nil {
		return
	}
	m.EffectsTotal.WithLabelValues(effect, priority).Inc()
}

// UpdateStore sets the store gauges.
func (m *NotificationMetrics) UpdateStore(size, unread int) {
	if m == nil {
		return
	}
	m.StoreSize.Set(float64(size))
	m.UnreadCount.Set(float64(unread))
}

func (m *NotificationMetrics) UpdateFloating(visible int) {
	if m == nil {
		return
	}
	m.FloatingSize.Set(float64(visible))
}

// RecordFetch records a reload outcome and its latency.
func (m *NotificationMetrics) RecordFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

func (m *NotificationMetrics) RecordSend(route string) {
	if m == nil {
		return
	}
	m.SendTotal.WithLabelValues(route).Inc()
}

// RecordDelivery records a push forwarding attempt.
func (m *NotificationMetrics) RecordDelivery(provider, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderDeliveriesTotal.WithLabelValues(provider, status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *NotificationMetrics) UpdateCircuitBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.ProviderCircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

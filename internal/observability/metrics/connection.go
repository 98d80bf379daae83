package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionMetrics tracks the push channel. All methods are nil-safe.
type ConnectionMetrics struct {
	ConnectionStatus  *prometheus.GaugeVec
	ReconnectAttempts *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	LastConnectTime   *prometheus.GaugeVec
	MessageSize       *prometheus.HistogramVec
	registry          *prometheus.Registry
}

// NewConnectionMetrics creates and registers the channel collectors.
func NewConnectionMetrics(registry *prometheus.Registry) (*ConnectionMetrics, error) {
	m := &ConnectionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register connection metrics: %w", err)
	}
	return m, nil
}

func (m *ConnectionMetrics) initMetrics() {
	labels := []string{"transport"}

	m.ConnectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifier_channel_connected",
		Help: "Current channel connection status (1 for connected, 0 for disconnected)",
	}, labels)

	m.ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_channel_reconnect_attempts_total",
		Help: "Total number of scheduled reconnect attempts",
	}, labels)

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_channel_messages_received_total",
		Help: "Total number of messages received on the channel",
	}, labels)

	m.MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_channel_messages_sent_total",
		Help: "Total number of messages written to the channel",
	}, labels)

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_channel_errors_total",
		Help: "Total number of channel errors by operation",
	}, []string{"transport", "operation"}) // dial, read, write, decode

	m.LastConnectTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifier_channel_last_connect_time_seconds",
		Help: "Unix timestamp of the last successful connection",
	}, labels)

	m.MessageSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_channel_message_size_bytes",
		Help:    "Size of inbound channel messages",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	}, labels)
}

func (m *ConnectionMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionStatus, m.ReconnectAttempts, m.MessagesReceived,
		m.MessagesSent, m.Errors, m.LastConnectTime, m.MessageSize,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ConnectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ConnectionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// UpdateConnectionStatus sets the status gauge and, on connect, the last connect time.
func (m *ConnectionMetrics) UpdateConnectionStatus(transport string, connected bool, now time.Time) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.WithLabelValues(transport).Set(1)
		m.LastConnectTime.WithLabelValues(transport).Set(float64(now.Unix()))
		return
	}
	m.ConnectionStatus.WithLabelValues(transport).Set(0)
}

func (m *ConnectionMetrics) IncrementReconnectAttempts(transport string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(transport).Inc()
}

func (m *ConnectionMetrics) RecordReceived(transport string, size int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(transport).Inc()
	m.MessageSize.WithLabelValues(transport).Observe(float64(size))
}

func (m *ConnectionMetrics) RecordSent(transport string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(transport).Inc()
}

func (m *ConnectionMetrics) IncrementErrors(transport, operation string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(transport, operation).Inc()
}

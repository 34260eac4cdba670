// Package telemetry holds the Prometheus collectors for the chat core.
// Every method is safe on a nil *Metrics so packages can record
// unconditionally.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "haven"

// Metrics groups the collectors registered by New.
type Metrics struct {
	connections   *prometheus.GaugeVec
	persisted     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	queueDropped  prometheus.Counter
}

// New creates and registers collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket connections by endpoint.",
		}, []string{"endpoint"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages committed to the conversation store by ingress path.",
		}, []string{"path"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_deliveries_total",
			Help:      "Per-connection event deliveries by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Rejected attempts by rate-limit policy.",
		}, []string{"policy"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Out-of-band notification attempts by channel and result.",
		}, []string{"channel", "result"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_queue_dropped_total",
			Help:      "Notification jobs dropped because the dispatcher queue was full.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connections, m.persisted, m.deliveries, m.rateLimited, m.notifications, m.queueDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ConnOpened increments open connections for endpoint.
func (m *Metrics) ConnOpened(endpoint string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(endpoint).Inc()
}

// ConnClosed decrements open connections for endpoint.
func (m *Metrics) ConnClosed(endpoint string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(endpoint).Dec()
}

// MessagePersisted counts one committed message.
func (m *Metrics) MessagePersisted(path string) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(path).Inc()
}

// Delivered counts per-connection deliveries.
func (m *Metrics) Delivered(sent, dropped int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.deliveries.WithLabelValues("sent").Add(float64(sent))
	}
	if dropped > 0 {
		m.deliveries.WithLabelValues("dropped").Add(float64(dropped))
	}
}

// RateLimited counts one rejection under policy.
func (m *Metrics) RateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

// Notification counts one channel attempt. result is sent, failed or skipped.
func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// QueueDropped counts one dropped dispatcher job.
func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

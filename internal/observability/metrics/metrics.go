// Package metrics exposes Prometheus instrumentation for the notification
// delivery core. All recording methods are nil-safe so instrumentation can
// be disabled by simply not constructing the Metrics value.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery mode gauge values.
const (
	ModeDisconnected = 0
	ModeStreaming    = 1
	ModePolling      = 2
)

// Metrics holds the delivery core's Prometheus collectors.
type Metrics struct {
	streamMessages    *prometheus.CounterVec
	streamConnects    prometheus.Counter
	streamErrors      prometheus.Counter
	reconnectAttempts prometheus.Counter
	pollsTotal        prometheus.Counter
	pollErrors        prometheus.Counter
	sessionRefreshes  *prometheus.CounterVec
	deliveryMode      prometheus.Gauge
	unreadCount       prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovation_notify_stream_messages_total",
			Help: "Stream messages received, by message kind",
		}, []string{"kind"}),
		streamConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovation_notify_stream_connects_total",
			Help: "Successful stream connections",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovation_notify_stream_errors_total",
			Help: "Stream transport errors",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovation_notify_reconnect_attempts_total",
			Help: "Stream reconnection attempts",
		}),
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovation_notify_polls_total",
			Help: "Polling fallback fetches",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovation_notify_poll_errors_total",
			Help: "Polling fallback fetch failures",
		}),
		sessionRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovation_notify_session_refreshes_total",
			Help: "Session refresh attempts, by result",
		}, []string{"result"}),
		deliveryMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ovation_notify_delivery_mode",
			Help: "Active delivery mode (0 disconnected, 1 streaming, 2 polling)",
		}),
		unreadCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ovation_notify_unread_count",
			Help: "Server-reported unread notification count",
		}),
	}

	collectors := []prometheus.Collector{
		m.streamMessages, m.streamConnects, m.streamErrors,
		m.reconnectAttempts, m.pollsTotal, m.pollErrors,
		m.sessionRefreshes, m.deliveryMode, m.unreadCount,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordStreamMessage counts one received stream message of the given kind.
func (m *Metrics) RecordStreamMessage(kind string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(kind).Inc()
}

// RecordStreamConnect counts one successful stream connection.
func (m *Metrics) RecordStreamConnect() {
	if m == nil {
		return
	}
	m.streamConnects.Inc()
}

// RecordStreamError counts one transport-level stream error.
func (m *Metrics) RecordStreamError() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

// RecordReconnectAttempt counts one reconnection attempt.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// RecordPoll counts one poll fetch and whether it failed.
func (m *Metrics) RecordPoll(failed bool) {
	if m == nil {
		return
	}
	m.pollsTotal.Inc()
	if failed {
		m.pollErrors.Inc()
	}
}

// RecordSessionRefresh counts one session refresh attempt.
func (m *Metrics) RecordSessionRefresh(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.sessionRefreshes.WithLabelValues(result).Inc()
}

// SetDeliveryMode records the active delivery mode gauge.
func (m *Metrics) SetDeliveryMode(mode float64) {
	if m == nil {
		return
	}
	m.deliveryMode.Set(mode)
}

// SetUnreadCount records the unread gauge.
func (m *Metrics) SetUnreadCount(count int) {
	if m == nil {
		return
	}
	m.unreadCount.Set(float64(count))
}

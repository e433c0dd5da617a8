// ABOUTME: Prometheus collectors for connections, messages, assignments and notifications
// ABOUTME: All recording methods are safe on a nil *Metrics so wiring is optional

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message results.
const (
	MessagePersisted = "persisted"
	MessageInvalid   = "invalid"
	MessageFailed    = "failed"
)

// Assignment outcomes.
const (
	AssignmentAssigned   = "assigned"
	AssignmentUnmatched  = "unmatched"
	AssignmentReassigned = "reassigned"
	AssignmentFailed     = "failed"
)

// Metrics groups the gateway's collectors.
//
// Usage:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.ConnectionOpened()
//	defer m.ConnectionClosed()
type Metrics struct {
	// Connections is the number of CONNECTED websocket connections.
	Connections prometheus.Gauge

	// OnlineIdentities is the number of identities with at least one connection.
	OnlineIdentities prometheus.Gauge

	// Messages counts send_message outcomes.
	// Labels: result (persisted|invalid|failed)
	Messages *prometheus.CounterVec

	// Assignments counts matching outcomes.
	// Labels: outcome (assigned|unmatched|reassigned|failed)
	Assignments *prometheus.CounterVec

	// Resolutions counts conversations moved to CLOSED.
	Resolutions prometheus.Counter

	// Notifications counts private-channel notifications.
	// Labels: event, delivered (true|false)
	Notifications *prometheus.CounterVec

	// HandshakeFailures counts rejected connection attempts.
	HandshakeFailures prometheus.Counter

	// EventDuration measures inbound event handling latency in seconds.
	// Labels: event
	// Buckets: 1ms, 5ms, 10ms, 50ms, 100ms, 500ms, 1s, 5s
	EventDuration *prometheus.HistogramVec
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livechat_connections",
			Help: "Current number of connected websocket clients",
		}),

		OnlineIdentities: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livechat_online_identities",
			Help: "Current number of identities with at least one live connection",
		}),

		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livechat_messages_total",
				Help: "Total number of send_message events by result",
			},
			[]string{"result"},
		),

		Assignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livechat_assignments_total",
				Help: "Total number of agent matching attempts by outcome",
			},
			[]string{"outcome"},
		),

		Resolutions: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_resolutions_total",
			Help: "Total number of conversations resolved",
		}),

		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livechat_notifications_total",
				Help: "Total number of private notifications by event and delivery",
			},
			[]string{"event", "delivered"},
		),

		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_handshake_failures_total",
			Help: "Total number of rejected websocket handshakes",
		}),

		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livechat_event_duration_seconds",
				Help:    "Duration of inbound event handling in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"event"},
		),
	}
}

// ConnectionOpened increments the connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// ConnectionClosed decrements the connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// SetOnlineIdentities records the current online identity count.
func (m *Metrics) SetOnlineIdentities(n int) {
	if m == nil {
		return
	}
	m.OnlineIdentities.Set(float64(n))
}

// MessageResult counts a send_message outcome.
func (m *Metrics) MessageResult(result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(result).Inc()
}

// Assignment counts a matching outcome.
func (m *Metrics) Assignment(outcome string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(outcome).Inc()
}

// Resolved counts a resolution.
func (m *Metrics) Resolved() {
	if m == nil {
		return
	}
	m.Resolutions.Inc()
}

// Notification counts a private notification attempt.
func (m *Metrics) Notification(event string, delivered bool) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(event, strconv.FormatBool(delivered)).Inc()
}

// HandshakeFailed counts a rejected handshake.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

// ObserveEvent records how long handling an inbound event took.
func (m *Metrics) ObserveEvent(event string, d time.Duration) {
	if m == nil {
		return
	}
	m.EventDuration.WithLabelValues(event).Observe(d.Seconds())
}

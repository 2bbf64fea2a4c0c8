// Package metrics holds the Prometheus collectors exported by siox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "siox_engineio_sessions_active",
		Help: "Number of open Engine.IO sessions",
	})

	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siox_connects_total",
		Help: "Namespace connection attempts by outcome",
	}, []string{"namespace", "outcome"})

	SocketsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "siox_sockets_active",
		Help: "Connected sockets per namespace",
	}, []string{"namespace"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siox_client_events_total",
		Help: "Inbound client events by namespace, event and outcome",
	}, []string{"namespace", "event", "outcome"})

	EmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siox_server_events_total",
		Help: "Server events emitted by namespace and event",
	}, []string{"namespace", "event"})

	SendDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siox_send_drops_total",
		Help: "Outbound packets dropped by reason",
	}, []string{"reason"})
)

// Event outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeSignal      = "signal"
	OutcomeCritical    = "critical"
	OutcomeError       = "error"
	OutcomeUnknown     = "unknown"
	OutcomeAccepted    = "accepted"
	OutcomeRefused     = "refused"
	OutcomeNoSuchSpace = "invalid_namespace"
)

// IncEvent records the outcome of one inbound client event.
func IncEvent(namespace, event, outcome string) {
	EventsTotal.WithLabelValues(namespace, event, outcome).Inc()
}

// IncConnect records a namespace connection attempt.
func IncConnect(namespace, outcome string) {
	ConnectsTotal.WithLabelValues(namespace, outcome).Inc()
}

// IncEmit records one server event emission.
func IncEmit(namespace, event string) {
	EmitsTotal.WithLabelValues(namespace, event).Inc()
}

// IncSendDrop records a dropped outbound packet.
func IncSendDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	SendDropsTotal.WithLabelValues(reason).Inc()
}

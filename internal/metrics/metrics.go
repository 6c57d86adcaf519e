// Package metrics exposes Prometheus collectors for the realtime engine.
//
// All recording methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	// Connections is the number of live websocket connections on this process.
	Connections prometheus.Gauge

	// OnlineTransitions counts presence transitions.
	// Labels: direction (online|offline)
	OnlineTransitions *prometheus.CounterVec

	// DroppedDeliveries counts connections evicted because their send buffer was full.
	DroppedDeliveries prometheus.Counter

	// Messages counts message pipeline outcomes.
	// Labels: type (TEXT|IMAGE|DOCUMENT|SYSTEM), outcome (sent|blocked|rejected)
	Messages *prometheus.CounterVec

	// Moderation counts moderation verdicts, including fail-open decisions.
	// Labels: verdict (allowed|blocked|fail_open)
	Moderation *prometheus.CounterVec

	// Transitions counts consultation status transitions.
	// Labels: from, to
	Transitions *prometheus.CounterVec

	// Calls counts call signaling events.
	// Labels: event (initiated|accepted|declined|missed|ended)
	Calls *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP latency.
	// Labels: method, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "counsel_ws_connections",
			Help: "Live websocket connections",
		}),
		OnlineTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_presence_transitions_total",
			Help: "User presence transitions",
		}, []string{"direction"}),
		DroppedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "counsel_ws_dropped_connections_total",
			Help: "Connections dropped because their outbound buffer was full",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_messages_total",
			Help: "Message pipeline outcomes",
		}, []string{"type", "outcome"}),
		Moderation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_moderation_verdicts_total",
			Help: "Moderation verdicts",
		}, []string{"verdict"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_consultation_transitions_total",
			Help: "Consultation status transitions",
		}, []string{"from", "to"}),
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_call_events_total",
			Help: "Call signaling events",
		}, []string{"event"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "counsel_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "status_code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) PresenceTransition(online bool) {
	if m == nil {
		return
	}
	if online {
		m.OnlineTransitions.WithLabelValues("online").Inc()
		return
	}
	m.OnlineTransitions.WithLabelValues("offline").Inc()
}

func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.DroppedDeliveries.Inc()
}

func (m *Metrics) Message(msgType, outcome string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) ModerationVerdict(verdict string) {
	if m == nil {
		return
	}
	m.Moderation.WithLabelValues(verdict).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(event).Inc()
}

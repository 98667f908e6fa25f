// Package metrics exposes Prometheus collectors for the client.
//
// Every method is safe on a nil *Metrics, so components take an optional
// *Metrics and call it unconditionally.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fqlsync"

// Protocol error kinds.
const (
	KindUnknownEvent  = "unknown_event"
	KindInvalidStatus = "invalid_status"
	KindMalformed     = "malformed"
)

// Metrics holds the client collectors.
type Metrics struct {
	requestsSent      *prometheus.CounterVec
	eventsReceived    *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	channelErrors     prometheus.Counter
	callTimeouts      prometheus.Counter
	droppedDispatches prometheus.Counter
	queueDepth        prometheus.Gauge
	pendingCalls      prometheus.Gauge
	boundComponents   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Outbound requests submitted, by action",
		}, []string{"action"}),

		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound worker events processed, by event",
		}, []string{"event"}),

		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound messages ignored as protocol errors, by kind",
		}, []string{"kind"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection phase transitions, by target phase",
		}, []string{"phase"}),

		channelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Worker channel dial, read and write failures",
		}),

		callTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_timeouts_total",
			Help:      "Pending calls expired without a reply",
		}),

		droppedDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "component",
			Name:      "dropped_dispatches_total",
			Help:      "State pushes for components that are no longer registered",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "queue_depth",
			Help:      "Requests buffered before the worker channel initialized",
		}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Calls waiting for a correlated reply",
		}),

		boundComponents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "component",
			Name:      "bound",
			Help:      "Components registered for dispatch",
		}),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsSent,
		m.eventsReceived,
		m.protocolErrors,
		m.transitions,
		m.channelErrors,
		m.callTimeouts,
		m.droppedDispatches,
		m.queueDepth,
		m.pendingCalls,
		m.boundComponents,
	}
}

// RequestSent counts one outbound request.
func (m *Metrics) RequestSent(action string) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(action).Inc()
}

// EventReceived counts one processed inbound event.
func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

// ProtocolError counts one ignored inbound message.
func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// Transition counts a connection entering phase.
func (m *Metrics) Transition(phase string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(phase).Inc()
}

// ChannelError counts one transport failure.
func (m *Metrics) ChannelError() {
	if m == nil {
		return
	}
	m.channelErrors.Inc()
}

// CallTimeout counts one expired call.
func (m *Metrics) CallTimeout() {
	if m == nil {
		return
	}
	m.callTimeouts.Inc()
}

// DroppedDispatch counts one push to a missing component.
func (m *Metrics) DroppedDispatch() {
	if m == nil {
		return
	}
	m.droppedDispatches.Inc()
}

// SetDepths records the current queue, pending call and component counts.
func (m *Metrics) SetDepths(queued, pending, components int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(queued))
	m.pendingCalls.Set(float64(pending))
	m.boundComponents.Set(float64(components))
}

// Handler serves the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

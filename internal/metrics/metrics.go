// Package metrics exposes Prometheus collectors for the printer session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sdcp_bridge"

// Metrics holds the session collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	reconnectAttempts prometheus.Counter
	commandsSent      *prometheus.CounterVec
	commandTimeouts   prometheus.Counter
	alertsTriggered   *prometheus.CounterVec
	connectionState   prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Frames received from the printer by kind",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts after a lost or failed connection",
		}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commands_sent_total",
			Help:      "Commands written to the printer",
		}, []string{"cmd"}),
		commandTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "command_timeouts_total",
			Help:      "Commands that got no response before the timeout",
		}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Alert triggers by kind",
		}, []string{"kind"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_state",
			Help:      "Session state (0 disconnected, 1 connecting, 2 validating, 3 connected, 4 closing)",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.decodeErrors,
		m.reconnectAttempts,
		m.commandsSent,
		m.commandTimeouts,
		m.alertsTriggered,
		m.connectionState,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) FrameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) CommandSent(cmd string) {
	if m != nil {
		m.commandsSent.WithLabelValues(cmd).Inc()
	}
}

func (m *Metrics) CommandTimeout() {
	if m != nil {
		m.commandTimeouts.Inc()
	}
}

func (m *Metrics) AlertTriggered(kind string) {
	if m != nil {
		m.alertsTriggered.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetConnectionState(state int) {
	if m != nil {
		m.connectionState.Set(float64(state))
	}
}

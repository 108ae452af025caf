package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "graylogic_ingest"

// Metrics holds the ingest Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	messages        *prometheus.CounterVec
	unmatched       prometheus.Counter
	droppedMessages *prometheus.CounterVec
	readings        *prometheus.CounterVec
	readingFailures *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	connections     *prometheus.GaugeVec
	lastMessage     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "MQTT messages received, by broker type.",
		}, []string{"broker_type"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_unmatched_total",
			Help:      "MQTT messages on a topic no device subscribes to.",
		}),
		droppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "MQTT messages dropped before normalization.",
		}, []string{"reason"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "readings_total",
			Help:      "Readings persisted, by ingress path and dialect.",
		}, []string{"source", "dialect"}),
		readingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reading_failures_total",
			Help:      "Readings that could not be persisted.",
		}, []string{"source"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Broker connection attempts, by broker type and result.",
		}, []string{"broker_type", "result"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Broker connections by state.",
		}, []string{"state"}),
		lastMessage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_message_timestamp_seconds",
			Help:      "Unix time of the last MQTT message handled.",
		}),
	}

	reg.MustRegister(
		m.messages,
		m.unmatched,
		m.droppedMessages,
		m.readings,
		m.readingFailures,
		m.connectAttempts,
		m.connections,
		m.lastMessage,
	)
	return m
}

// Message outcome labels.
const (
	dropInboxFull = "inbox_full"
	dropPanic     = "panic"

	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

func (m *Metrics) messageReceived(bt string, unixSeconds float64) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(bt).Inc()
	m.lastMessage.Set(unixSeconds)
}

func (m *Metrics) messageUnmatched() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

func (m *Metrics) messageDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedMessages.WithLabelValues(reason).Inc()
}

func (m *Metrics) readingRecorded(source string, dialect Dialect) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(source, string(dialect)).Inc()
}

func (m *Metrics) readingFailed(source string) {
	if m == nil {
		return
	}
	m.readingFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) connectAttempt(bt, result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(bt, result).Inc()
}

func (m *Metrics) setConnections(byState map[ConnState]int) {
	if m == nil {
		return
	}
	for _, s := range allConnStates {
		m.connections.WithLabelValues(string(s)).Set(float64(byState[s]))
	}
}

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/mqtt"
)

// maxLoggedPayload bounds how much of a payload is written to logs.
const maxLoggedPayload = 200

// Logger defines the logging interface used by the ingest components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Route binds a device to the compiled topic patterns it subscribes to.
type Route struct {
	Device     *device.Device
	BrokerType device.BrokerType
	Patterns   []mqtt.Pattern
}

// NewRoute compiles the device's topics.
func NewRoute(d *device.Device) Route {
	patterns := make([]mqtt.Pattern, 0, len(d.Topics))
	for _, t := range d.Topics {
		patterns = append(patterns, mqtt.CompilePattern(t))
	}
	return Route{Device: d, BrokerType: device.DetectBrokerType(d), Patterns: patterns}
}

// Matches reports whether any of the route's patterns matches topic.
func (r Route) Matches(topic string) bool {
	for _, p := range r.Patterns {
		if p.Matches(topic) {
			return true
		}
	}
	return false
}

// Processor attributes MQTT messages to devices, normalizes them and
// hands the readings to the sink.
type Processor struct {
	normalizer *Normalizer
	sink       *Sink
	metrics    *Metrics
	logger     Logger
	now        func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(n *Normalizer, s *Sink) *Processor {
	return &Processor{
		normalizer: n,
		sink:       s,
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics sets the metrics collectors.
func (p *Processor) SetMetrics(m *Metrics) { p.metrics = m }

// Handle processes one message received on a connection serving routes.
// The first route whose patterns match the topic owns the message.
// A panic while processing is recovered and reported as an error so a
// single bad payload cannot take down the poll loop.
func (p *Processor) Handle(ctx context.Context, routes []Route, topic string, payload []byte) (stored int, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.messageDropped(dropPanic)
			p.logger.Error("panic while processing message",
				"topic", topic, "payload", truncatePayload(payload), "panic", r)
			err = fmt.Errorf("processing %s: panic: %v", topic, r)
		}
	}()

	route, ok := matchRoute(routes, topic)
	if !ok {
		p.metrics.messageUnmatched()
		p.logger.Debug("no device matches topic", "topic", topic)
		return 0, fmt.Errorf("%w: %s", ErrNoDeviceMatch, topic)
	}

	p.metrics.messageReceived(string(route.BrokerType), float64(p.now().Unix()))
	p.logger.Debug("mqtt message received",
		"device_id", route.Device.ID,
		"topic", topic,
		"payload", truncatePayload(payload),
	)

	res := p.normalizer.Normalize(route.BrokerType, topic, payload)
	if res.Dialect == DialectPlainText {
		p.logger.Debug("payload is not a JSON object, treated as plain text",
			"device_id", route.Device.ID, "topic", topic)
	}

	stored = p.sink.RecordAll(ctx, route.Device, res, SourceMQTT, topic)
	return stored, nil
}

func matchRoute(routes []Route, topic string) (Route, bool) {
	for _, r := range routes {
		if r.Matches(topic) {
			return r, true
		}
	}
	return Route{}, false
}

func truncatePayload(b []byte) string {
	if len(b) <= maxLoggedPayload {
		return string(b)
	}
	return string(b[:maxLoggedPayload]) + "..."
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ingest/internal/sensor"
)

// Source identifies the ingress path of a reading.
type Source string

const (
	SourceMQTT    Source = "mqtt"
	SourceWebhook Source = "webhook"
)

// SensorStore persists readings. Implemented by *sensor.SQLiteRepository.
type SensorStore interface {
	RecordReading(ctx context.Context, w sensor.ReadingWrite) (*sensor.Sensor, bool, error)
}

// DeviceStatusStore records device liveness. Implemented by *device.Registry.
type DeviceStatusStore interface {
	MarkSeen(ctx context.Context, id string, at time.Time) error
}

// HistoryWriter mirrors numeric readings to a time-series store without
// blocking. Implemented by *influxdb.Client.
type HistoryWriter interface {
	WriteReading(r influxdb.Reading)
}

// ReadingEvent is published to live subscribers for every stored reading.
type ReadingEvent struct {
	DeviceID   string    `json:"device_id"`
	SensorID   string    `json:"sensor_id"`
	SensorType string    `json:"sensor_type"`
	Value      any       `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Source     Source    `json:"source"`
	Created    bool      `json:"created,omitempty"`
	At         time.Time `json:"at"`

	AlertStatus sensor.AlertStatus `json:"alert_status"`
}

// ReadingPublisher receives reading events. Implementations must not block.
type ReadingPublisher interface {
	PublishReading(ev ReadingEvent)
}

// Sink writes normalized readings to the sensor store and fans them out
// to the optional history and live-feed collaborators.
//
// Configure with the Set* methods before first use.
type Sink struct {
	sensors SensorStore
	devices DeviceStatusStore
	history HistoryWriter
	feed    ReadingPublisher
	metrics *Metrics
	logger  Logger
	now     func() time.Time
}

// NewSink creates a sink writing to sensors and marking devices seen.
func NewSink(sensors SensorStore, devices DeviceStatusStore) *Sink {
	return &Sink{
		sensors: sensors,
		devices: devices,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger.
func (s *Sink) SetLogger(l Logger) { s.logger = l }

// SetHistory enables mirroring numeric readings to h.
func (s *Sink) SetHistory(h HistoryWriter) { s.history = h }

// SetFeed enables publishing reading events to p.
func (s *Sink) SetFeed(p ReadingPublisher) { s.feed = p }

// SetMetrics sets the metrics collectors.
func (s *Sink) SetMetrics(m *Metrics) { s.metrics = m }

// Record persists one reading for dev. A reading older than the stored
// value returns an error wrapping sensor.ErrStaleReading and is neither
// mirrored nor published.
func (s *Sink) Record(ctx context.Context, dev *device.Device, r Reading, src Source, topic string) error {
	at := s.now().UTC()

	stored, created, err := s.sensors.RecordReading(ctx, sensor.ReadingWrite{
		DeviceID:    dev.ID,
		UserID:      dev.UserID,
		SensorType:  r.SensorType,
		Value:       r.Value,
		Unit:        r.Unit,
		SourceTopic: topic,
		At:          at,
	})
	if err != nil {
		return fmt.Errorf("recording %s for device %s: %w", r.SensorType, dev.ID, err)
	}

	if created {
		s.logger.Info("sensor auto-created",
			"device_id", dev.ID, "sensor_type", r.SensorType, "topic", topic)
	}

	if s.history != nil {
		if f, ok := AsFloat(r.Value); ok {
			s.history.WriteReading(influxdb.Reading{
				DeviceID:   dev.ID,
				SensorType: r.SensorType,
				Unit:       stored.Unit,
				Source:     string(src),
				Value:      f,
				At:         at,
			})
		}
	}

	if s.feed != nil {
		s.feed.PublishReading(ReadingEvent{
			DeviceID:   dev.ID,
			SensorID:   stored.ID,
			SensorType: r.SensorType,
			Value:      r.Value,
			Unit:       stored.Unit,
			Source:     src,
			Created:    created,
			At:         at,

			AlertStatus: stored.AlertStatus(),
		})
	}
	return nil
}

// RecordAll records every reading in res, logging and skipping
// failures, then marks dev seen once. It returns how many readings
// were stored.
func (s *Sink) RecordAll(ctx context.Context, dev *device.Device, res Result, src Source, topic string) int {
	stored := 0
	for _, r := range res.Readings {
		if err := s.Record(ctx, dev, r, src, topic); err != nil {
			if errors.Is(err, sensor.ErrStaleReading) {
				s.logger.Debug("reading superseded by a newer value",
					"device_id", dev.ID, "sensor_type", r.SensorType)
				continue
			}
			s.metrics.readingFailed(string(src))
			s.logger.Error("reading not stored",
				"device_id", dev.ID, "sensor_type", r.SensorType, "error", err)
			continue
		}
		s.metrics.readingRecorded(string(src), res.Dialect)
		stored++
	}

	if res.Dropped > 0 {
		s.logger.Debug("payload entries dropped",
			"device_id", dev.ID, "dialect", res.Dialect, "dropped", res.Dropped)
	}

	if err := s.devices.MarkSeen(ctx, dev.ID, s.now()); err != nil {
		s.logger.Warn("device last_seen not updated", "device_id", dev.ID, "error", err)
	}
	return stored
}

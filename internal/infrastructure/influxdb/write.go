package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// readingsMeasurement is the measurement that holds sensor history.
const readingsMeasurement = "sensor_readings"

// Reading is one numeric sensor value to mirror into the history series.
type Reading struct {
	DeviceID   string
	SensorType string
	Unit       string
	Source     string // "mqtt" or "webhook"
	Value      float64
	At         time.Time
}

// WriteReading queues a reading for the next batch. It never blocks on
// the network and is dropped silently when the client is closed.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(r, c.siteID))
}

// readingPoint builds the line-protocol point for a reading.
//
// Tags stay low-cardinality: site, device, sensor type, unit, source.
func readingPoint(r Reading, siteID string) *write.Point {
	tags := map[string]string{
		"device_id":   r.DeviceID,
		"sensor_type": r.SensorType,
	}
	if siteID != "" {
		tags["site"] = siteID
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	if r.Source != "" {
		tags["source"] = r.Source
	}

	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		readingsMeasurement,
		tags,
		map[string]interface{}{"value": r.Value},
		at,
	)
}

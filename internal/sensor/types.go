package sensor

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Sensor is the latest reading of one sensor type on one device.
// The pair (DeviceID, Type) is unique.
type Sensor struct {
	ID          string `json:"id"`
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
	Type        string `json:"sensor_type"`
	Name        string `json:"sensor_name"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`

	// Value is a number, string, bool, or a JSON object/array decoded as
	// map[string]any or []any.
	Value            any        `json:"value"`
	ReadingTimestamp *time.Time `json:"reading_timestamp,omitempty"`
	Enabled          bool       `json:"enabled"`

	AlertEnabled      bool     `json:"alert_enabled"`
	AlertThresholdMin *float64 `json:"alert_threshold_min,omitempty"`
	AlertThresholdMax *float64 `json:"alert_threshold_max,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertStatus reports where a sensor's value sits against its thresholds.
type AlertStatus string

const (
	AlertNormal AlertStatus = "normal"
	AlertLow    AlertStatus = "low"
	AlertHigh   AlertStatus = "high"
)

// AlertStatus compares a numeric value against the configured thresholds.
// Sensors with alerts disabled, no value, or a non-numeric value are normal.
func (s *Sensor) AlertStatus() AlertStatus {
	if !s.AlertEnabled || s.Value == nil {
		return AlertNormal
	}
	v, ok := numericValue(s.Value)
	if !ok {
		return AlertNormal
	}
	if s.AlertThresholdMin != nil && v < *s.AlertThresholdMin {
		return AlertLow
	}
	if s.AlertThresholdMax != nil && v > *s.AlertThresholdMax {
		return AlertHigh
	}
	return AlertNormal
}

// numericValue accepts numbers and numeric strings such as " 21.5".
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ReadingWrite is one normalized reading to persist.
type ReadingWrite struct {
	DeviceID    string
	UserID      string
	SensorType  string
	Value       any
	Unit        string
	SourceTopic string
	At          time.Time
}

// DisplayName returns the default name for an auto-created sensor,
// e.g. "soil_moisture" becomes "Soil moisture Sensor".
func DisplayName(sensorType string) string {
	words := strings.TrimSpace(strings.ReplaceAll(sensorType, "_", " "))
	if words == "" {
		return "Sensor"
	}
	r, size := utf8.DecodeRuneInString(words)
	return string(unicode.ToUpper(r)) + words[size:] + " Sensor"
}

// AutoDescription is the description given to sensors created on first reading.
func AutoDescription(sourceTopic string) string {
	return "Auto-created from MQTT topic: " + sourceTopic
}

package sensor

import "errors"

var (
	// ErrSensorNotFound is returned when no sensor exists for the lookup.
	ErrSensorNotFound = errors.New("sensor: not found")

	// ErrInvalidReading is returned when a reading lacks a device or sensor type.
	ErrInvalidReading = errors.New("sensor: invalid reading")

	// ErrDeviceNotFound is returned when the reading's device is not registered.
	ErrDeviceNotFound = errors.New("sensor: device not found")

	// ErrStaleReading is returned when a newer reading is already stored.
	// The returned sensor holds the stored value.
	ErrStaleReading = errors.New("sensor: reading older than stored value")
)

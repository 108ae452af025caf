package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when QoS is not 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned for empty or malformed topic filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidOptions is returned when connect options are incomplete.
	ErrInvalidOptions = errors.New("mqtt: invalid connect options")

	// ErrTimeout is returned when an operation does not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrTLSConfig is returned when certificate material cannot be loaded.
	ErrTLSConfig = errors.New("mqtt: invalid TLS configuration")
)

package ingest

import "errors"

var (
	// ErrEmptyPayload is returned when a message body is empty.
	ErrEmptyPayload = errors.New("ingest: empty payload")

	// ErrInvalidPayload is returned when a body is not a JSON object where one is required.
	ErrInvalidPayload = errors.New("ingest: payload must be a JSON object")

	// ErrNoDeviceMatch is returned when no device subscribes to a topic.
	ErrNoDeviceMatch = errors.New("ingest: no device matches topic")

	// ErrConnectFailed is returned when a broker endpoint cannot be connected.
	ErrConnectFailed = errors.New("ingest: connect failed")
)

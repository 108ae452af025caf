package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidStatus is returned for a status outside AllStatuses.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidTopic is returned when a subscription pattern is malformed.
	ErrInvalidTopic = errors.New("device: invalid topic")

	// ErrSeedFile is returned when the seed file cannot be read or parsed.
	ErrSeedFile = errors.New("device: seed file")
)

package webhook

import "errors"

var (
	// ErrNoSecret is returned when a signer is created without a secret.
	ErrNoSecret = errors.New("webhook: secret is required")

	// ErrInvalidToken is returned when a request token does not match the device.
	ErrInvalidToken = errors.New("webhook: invalid or missing token")
)

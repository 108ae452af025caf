package device

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/mqtt"
)

const (
	maxNameLength = 100
	maxIDLength   = 128
	maxTopics     = 50
	maxPort       = 65535
)

var validStatuses = func() map[Status]struct{} {
	m := make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		m[s] = struct{}{}
	}
	return m
}()

// ValidateDevice checks the fields the ingest path relies on.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if d.ID == "" || len(d.ID) > maxIDLength {
		return fmt.Errorf("%w: id must be 1-%d characters", ErrInvalidDevice, maxIDLength)
	}
	if d.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidDevice)
	}
	if name := strings.TrimSpace(d.Name); name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxNameLength)
	}

	switch d.ConnectionType {
	case ConnectionMQTT:
		if err := validateMQTT(d); err != nil {
			return err
		}
	case ConnectionWebhook:
	default:
		return fmt.Errorf("%w: unknown connection_type %q", ErrInvalidDevice, d.ConnectionType)
	}

	if d.Status != "" {
		if err := ValidateStatus(d.Status); err != nil {
			return err
		}
	}
	return nil
}

func validateMQTT(d *Device) error {
	if strings.TrimSpace(d.Host) == "" {
		return fmt.Errorf("%w: mqtt_host is required for mqtt devices", ErrInvalidDevice)
	}
	if d.Port < 0 || d.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Port)
	}
	if d.KeepAlive < 0 {
		return fmt.Errorf("%w: keepalive must not be negative", ErrInvalidDevice)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidDevice)
	}
	if len(d.Topics) > maxTopics {
		return fmt.Errorf("%w: at most %d topics", ErrInvalidDevice, maxTopics)
	}
	for _, t := range d.Topics {
		if err := mqtt.ValidatePattern(t); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidTopic, t, err)
		}
	}
	return nil
}

// ValidateStatus checks s is one of AllStatuses.
func ValidateStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

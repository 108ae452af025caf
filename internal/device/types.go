package device

import "time"

// ConnectionType is how readings reach the service for a device.
type ConnectionType string

const (
	// ConnectionMQTT devices publish to a third-party broker the pool subscribes to.
	ConnectionMQTT ConnectionType = "mqtt"

	// ConnectionWebhook devices POST readings to the webhook endpoint.
	ConnectionWebhook ConnectionType = "webhook"
)

// Status is the connection status written back to the device record.
type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
	StatusSkipped     Status = "skipped"
)

// AllStatuses returns every recognised device status.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusMaintenance, StatusError, StatusSkipped}
}

// Well-known MQTT ports.
const (
	DefaultPort    = 1883
	DefaultTLSPort = 8883
)

// Device is a registered data source. Only the fields needed to connect to
// its broker and attribute its readings are kept here; everything else
// belongs to the platform that owns the device record.
type Device struct {
	// ID is the external device identifier, also used in webhook URLs.
	ID     string  `json:"id" yaml:"id"`
	UserID string  `json:"user_id" yaml:"user_id"`
	LandID *string `json:"land_id,omitempty" yaml:"land_id,omitempty"`
	Name   string  `json:"name" yaml:"name"`

	ConnectionType ConnectionType `json:"connection_type" yaml:"connection_type"`
	// ConnectionBroker is an optional explicit broker tag (see ParseBrokerType).
	ConnectionBroker string `json:"connection_broker,omitempty" yaml:"connection_broker,omitempty"`

	Host string `json:"mqtt_host,omitempty" yaml:"mqtt_host,omitempty"`
	// Port of 0 means the default for the transport (see EffectivePort).
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"`
	UseTLS    bool   `json:"use_ssl" yaml:"use_ssl"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"-" yaml:"password,omitempty"`
	ClientID  string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	KeepAlive int    `json:"keepalive,omitempty" yaml:"keepalive,omitempty"` // seconds
	// Timeout overrides the broker connect timeout, in seconds. 0 keeps the default.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Topics []string `json:"mqtt_topics" yaml:"mqtt_topics"`
	Active bool     `json:"is_active" yaml:"is_active"`

	Status     Status     `json:"status" yaml:"-"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" yaml:"-"`
	CreatedAt  time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"-"`
}

// DeepCopy returns a copy that shares no mutable state with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.Topics != nil {
		cpy.Topics = make([]string, len(d.Topics))
		copy(cpy.Topics, d.Topics)
	}
	if d.LandID != nil {
		land := *d.LandID
		cpy.LandID = &land
	}
	if d.LastSeenAt != nil {
		seen := *d.LastSeenAt
		cpy.LastSeenAt = &seen
	}
	return &cpy
}

// IsMQTT reports whether the device is fed by a broker subscription.
func (d *Device) IsMQTT() bool {
	return d.ConnectionType == ConnectionMQTT
}

// EffectivePort returns the configured port, or 8883/1883 depending on TLS.
func (d *Device) EffectivePort() int {
	if d.Port > 0 {
		return d.Port
	}
	if d.UseTLS {
		return DefaultTLSPort
	}
	return DefaultPort
}

// Stats summarises the registry contents.
type Stats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	MQTT     int            `json:"mqtt"`
	Webhook  int            `json:"webhook"`
	ByStatus map[Status]int `json:"by_status"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ingest service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig                  `yaml:"site"`
	Database      DatabaseConfig              `yaml:"database"`
	Ingest        IngestConfig                `yaml:"ingest"`
	Brokers       map[string]BrokerTypeConfig `yaml:"brokers"`
	Normalization NormalizationConfig         `yaml:"normalization"`
	Webhook       WebhookConfig               `yaml:"webhook"`
	API           APIConfig                   `yaml:"api"`
	WebSocket     WebSocketConfig             `yaml:"websocket"`
	InfluxDB      InfluxDBConfig              `yaml:"influxdb"`
	Metrics       MetricsConfig               `yaml:"metrics"`
	Logging       LoggingConfig               `yaml:"logging"`

	// DevicesFile optionally points at a YAML list of devices that are
	// created on startup when missing from the database.
	DevicesFile string `yaml:"devices_file"`
}

// SiteConfig identifies the installation. The site ID is attached to
// every point written to InfluxDB.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// IngestConfig controls how device brokers are connected and polled.
// Durations are whole seconds unless the key says otherwise.
type IngestConfig struct {
	ClientIDPrefix string `yaml:"client_id_prefix"`

	// ConnectTimeout bounds a single connection attempt to a broker.
	ConnectTimeout int `yaml:"connect_timeout"`

	// LoRaWANTimeoutCap is the upper bound applied to connection attempts
	// against LoRaWAN network servers. Zero disables the cap.
	LoRaWANTimeoutCap int `yaml:"lorawan_timeout_cap"`

	// ReconnectTimeout bounds the single reconnect attempt made when an
	// established connection drops.
	ReconnectTimeout int `yaml:"reconnect_timeout"`

	DefaultKeepAlive int `yaml:"default_keepalive"`
	QoS              int `yaml:"qos"`

	PollIntervalMS  int `yaml:"poll_interval_ms"`
	ResyncInterval  int `yaml:"resync_interval"`
	InboxSize       int `yaml:"inbox_size"`
	MaxParallelDial int `yaml:"max_parallel_dial"`

	// Blocklist holds broker hostnames whose devices are never connected.
	Blocklist       []string `yaml:"blocklist"`
	SkipBlocklisted bool     `yaml:"skip_blocklisted"`
	SkipLoRaWAN     bool     `yaml:"skip_lorawan"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	TLS       IngestTLSConfig `yaml:"tls"`
}

// ReconnectConfig is the backoff policy for connection attempts.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// IngestTLSConfig locates client certificates for TLS brokers.
//
// CertificatesPath may contain client.crt, client.key and ca.crt.
// When a CA is present, peer verification is always enabled.
type IngestTLSConfig struct {
	CertificatesPath string `yaml:"certificates_path"`
	VerifyPeer       bool   `yaml:"verify_peer"`
}

// BrokerTypeConfig holds per-broker-type connection overrides.
// Keys in Config.Brokers are broker type names such as "thethings_stack".
type BrokerTypeConfig struct {
	MaxKeepAlive         int  `yaml:"max_keepalive"`
	ConnectTimeout       int  `yaml:"connect_timeout"`
	RequiresCertificates bool `yaml:"requires_certificates"`
}

// NormalizationConfig holds the lookup tables used by the payload normalizer.
type NormalizationConfig struct {
	SensorMappings map[string]string `yaml:"sensor_mappings"`
	SensorUnits    map[string]string `yaml:"sensor_units"`
	UnitSynonyms   []UnitSynonym     `yaml:"unit_synonyms"`
}

// UnitSynonym maps a fragment of free text (e.g. "celsius") to a unit symbol.
// Synonyms are tried in order; the first fragment found wins.
type UnitSynonym struct {
	Text string `yaml:"text"`
	Unit string `yaml:"unit"`
}

// WebhookConfig contains HTTP ingress settings.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	Timeouts     APITimeoutConfig `yaml:"timeouts"`
	MaxBodyBytes int64            `yaml:"max_body_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the live reading feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern GRAYLOGIC_SECTION_KEY,
// for example GRAYLOGIC_DATABASE_PATH or GRAYLOGIC_WEBHOOK_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/ingest.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Ingest: IngestConfig{
			ClientIDPrefix:    "graylogic",
			ConnectTimeout:    5,
			LoRaWANTimeoutCap: 8,
			ReconnectTimeout:  3,
			DefaultKeepAlive:  60,
			QoS:               0,
			PollIntervalMS:    100,
			ResyncInterval:    300,
			InboxSize:         1024,
			MaxParallelDial:   16,
			Blocklist:         []string{"eu1.cloud.thethings.industries"},
			SkipBlocklisted:   true,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  3,
			},
			TLS: IngestTLSConfig{
				CertificatesPath: "./data/certificates",
			},
		},
		Brokers: map[string]BrokerTypeConfig{
			"thethings_stack": {MaxKeepAlive: 30, ConnectTimeout: 10},
			"hivemq":          {RequiresCertificates: true},
			"emqx":            {},
			"mosquitto":       {},
		},
		Normalization: DefaultNormalization(),
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodyBytes: 1 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "readings",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// DefaultNormalization returns the built-in sensor lookup tables.
func DefaultNormalization() NormalizationConfig {
	return NormalizationConfig{
		SensorMappings: map[string]string{
			"temp":          "temperature",
			"temperature":   "temperature",
			"thermal":       "temperature",
			"humid":         "humidity",
			"humidity":      "humidity",
			"light":         "light",
			"potentiometer": "potentiometer",
			"pot":           "potentiometer",
			"lat":           "latitude",
			"latitude":      "latitude",
			"lng":           "longitude",
			"lon":           "longitude",
			"longitude":     "longitude",
			"pressure":      "pressure",
			"soil_moisture": "soil_moisture",
			"ph":            "ph",
			"battery":       "battery",
			"altitude":      "altitude",
			"alt":           "altitude",
			"gps_fix":       "gps_quality",
			"gps_quality":   "gps_quality",
		},
		SensorUnits: map[string]string{
			"temperature":   "°C",
			"humidity":      "%",
			"light":         "%",
			"potentiometer": "%",
			"pressure":      "hPa",
			"soil_moisture": "%",
			"latitude":      "°",
			"longitude":     "°",
			"battery":       "%",
			"altitude":      "m",
			"gps_quality":   "fix_code",
		},
		UnitSynonyms: []UnitSynonym{
			{Text: "celsius", Unit: "°C"},
			{Text: "fahrenheit", Unit: "°F"},
			{Text: "percent", Unit: "%"},
			{Text: "percentage", Unit: "%"},
			{Text: "degrees", Unit: "°"},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_INGEST_SKIP_LORAWAN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingest.SkipLoRaWAN = b
		}
	}
	if v := os.Getenv("GRAYLOGIC_INGEST_CERTIFICATES_PATH"); v != "" {
		cfg.Ingest.TLS.CertificatesPath = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Webhook secret (always override in production)
	if v := os.Getenv("GRAYLOGIC_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}

	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Ingest.QoS < 0 || c.Ingest.QoS > 2 {
		errs = append(errs, "ingest.qos must be 0, 1, or 2")
	}
	if c.Ingest.ConnectTimeout < 1 {
		errs = append(errs, "ingest.connect_timeout must be at least 1 second")
	}
	if c.Ingest.ReconnectTimeout < 1 {
		errs = append(errs, "ingest.reconnect_timeout must be at least 1 second")
	}
	if c.Ingest.LoRaWANTimeoutCap < 0 {
		errs = append(errs, "ingest.lorawan_timeout_cap must not be negative")
	}
	if c.Ingest.PollIntervalMS < 1 {
		errs = append(errs, "ingest.poll_interval_ms must be at least 1")
	}
	if c.Ingest.ResyncInterval < 0 {
		errs = append(errs, "ingest.resync_interval must not be negative")
	}
	if c.Ingest.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "ingest.reconnect.max_attempts must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Webhook tokens are derived from this secret; a short one makes them guessable.
	const minWebhookSecretLength = 32
	if c.Webhook.Enabled {
		if c.Webhook.Secret == "" {
			errs = append(errs, "webhook.secret is required when webhook is enabled (set GRAYLOGIC_WEBHOOK_SECRET environment variable)")
		} else if len(c.Webhook.Secret) < minWebhookSecretLength {
			errs = append(errs, "webhook.secret must be at least 32 characters for adequate security")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// BrokerConfig returns the overrides for a broker type, or the zero value.
func (c *Config) BrokerConfig(brokerType string) BrokerTypeConfig {
	return c.Brokers[brokerType]
}

// IsBlocklisted reports whether host appears in the ingest blocklist.
func (i IngestConfig) IsBlocklisted(host string) bool {
	for _, h := range i.Blocklist {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(host)) {
			return true
		}
	}
	return false
}

package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when ConnectOptions.ConnectTimeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout bounds waiting for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when ConnectOptions.KeepAlive is zero.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Certificate file names looked up in TLSOptions.CertificatesPath.
const (
	clientCertFile = "client.crt"
	clientKeyFile  = "client.key"
	caCertFile     = "ca.crt"
)

// ConnectOptions describes a single broker connection.
type ConnectOptions struct {
	Host string
	Port int

	// UseTLS selects ssl:// instead of tcp://. TLSConfig is used when set,
	// otherwise a TLS 1.2+ config with system roots is applied.
	UseTLS    bool
	TLSConfig *tls.Config

	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// BrokerURL returns the paho broker URL, e.g. "ssl://broker.example.com:8883".
func (o ConnectOptions) BrokerURL() string {
	scheme := "tcp"
	if o.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(o.Host, strconv.Itoa(o.Port)))
}

func (o ConnectOptions) validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client ID is required", ErrInvalidOptions)
	}
	return nil
}

func (o ConnectOptions) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

// buildClientOptions creates paho options for one device broker.
//
// Automatic reconnection is disabled: the ingest pool owns reconnect
// policy so that a dead endpoint is reported instead of retried forever.
func buildClientOptions(o ConnectOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.connectTimeout())

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	// Handlers must run in wire order so per-connection ordering survives.
	opts.SetOrderMatters(true)

	if o.UseTLS {
		tlsConfig := o.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// TLSOptions locates optional certificate material for TLS brokers.
type TLSOptions struct {
	// CertificatesPath may contain client.crt + client.key (mutual TLS)
	// and ca.crt (private CA). Missing files are not an error.
	CertificatesPath string

	// VerifyPeer enables server certificate verification against the
	// system roots. It is forced on when ca.crt is present.
	VerifyPeer bool

	// ServerName overrides the name used for verification.
	ServerName string
}

// TLSMaterial reports which optional files LoadTLSConfig found.
type TLSMaterial struct {
	ClientCert bool
	CustomCA   bool
}

// LoadTLSConfig builds a tls.Config from TLSOptions.
//
// Returns:
//   - *tls.Config: Config with TLS 1.2 minimum
//   - TLSMaterial: Which certificate files were loaded
//   - error: ErrTLSConfig if a present file cannot be parsed
func LoadTLSConfig(opts TLSOptions) (*tls.Config, TLSMaterial, error) {
	cfg := &tls.Config{
		MinVersion:         tlsMinVersion,
		ServerName:         opts.ServerName,
		InsecureSkipVerify: !opts.VerifyPeer, //nolint:gosec // operator choice; enforced when a CA is configured
	}
	var material TLSMaterial

	if opts.CertificatesPath == "" {
		return cfg, material, nil
	}

	certPath := filepath.Join(opts.CertificatesPath, clientCertFile)
	keyPath := filepath.Join(opts.CertificatesPath, clientKeyFile)
	if fileExists(certPath) && fileExists(keyPath) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, material, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		material.ClientCert = true
	}

	caPath := filepath.Join(opts.CertificatesPath, caCertFile)
	if fileExists(caPath) {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, material, fmt.Errorf("%w: reading CA: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, material, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, caPath)
		}
		cfg.RootCAs = pool
		cfg.InsecureSkipVerify = false
		material.CustomCA = true
	}

	return cfg, material, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

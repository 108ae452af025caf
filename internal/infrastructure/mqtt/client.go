package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client wraps a paho client connected to one device broker.
//
// Unlike a long-lived bus connection, a Client does not reconnect on its
// own. When the connection drops, IsConnected turns false and the
// disconnect callback fires; the owner decides whether to dial again.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	opts   ConnectOptions

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// With ordered delivery enabled, handlers for one client run sequentially
// on paho's router goroutine; a slow handler delays every later message
// on that connection.
//
// Returning an error logs it; the message is not redelivered.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by o.
//
// The attempt is bounded by o.ConnectTimeout and by ctx, whichever ends
// first. On timeout or cancellation the half-open client is torn down.
//
// Returns:
//   - *Client: Connected client ready for Subscribe
//   - error: ErrInvalidOptions, or ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, o ConnectOptions) (*Client, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	opts := buildClientOptions(o)
	c := &Client{
		opts:          o,
		subscriptions: make(map[string]subscription),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	timeout := o.connectTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout)
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleDisconnect is called by paho when an established connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close disconnects from the broker. Closing a dropped or already closed
// client is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.client.IsConnectionOpen() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.subMu.Lock()
	clear(c.subscriptions)
	c.subMu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected when the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// BrokerURL returns the URL this client dialled.
func (c *Client) BrokerURL() string {
	return c.opts.BrokerURL()
}

// ClientID returns the MQTT client identifier in use.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// It is not called for Close.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and recovered panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho with panic recovery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"broker", c.opts.BrokerURL(),
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"broker", c.opts.BrokerURL(),
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

package ingest

import (
	"context"

	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/mqtt"
)

// Conn is an established broker connection. *mqtt.Client satisfies it.
type Conn interface {
	SubscribeAll(topics []string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// Dialer opens broker connections. The pool never dials paho directly so
// tests can substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, opts mqtt.ConnectOptions) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts mqtt.ConnectOptions) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, opts mqtt.ConnectOptions) (Conn, error) {
	return f(ctx, opts)
}

// MQTTDialer dials real brokers with the paho-backed mqtt client.
type MQTTDialer struct {
	// Logger receives handler errors and panics from the client.
	Logger mqtt.Logger
}

// Dial implements Dialer.
func (d MQTTDialer) Dial(ctx context.Context, opts mqtt.ConnectOptions) (Conn, error) {
	client, err := mqtt.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if d.Logger != nil {
		client.SetLogger(d.Logger)
	}
	return client, nil
}

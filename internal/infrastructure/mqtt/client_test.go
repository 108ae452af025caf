package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// silentListener accepts TCP connections and never answers, like a
// broker that is up but stalled before CONNACK.
func silentListener(t *testing.T) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestConnect_InvalidOptions(t *testing.T) {
	_, err := Connect(context.Background(), ConnectOptions{Port: 1883, ClientID: "c"})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Connect() error = %v, want ErrInvalidOptions", err)
	}
}

func TestConnect_Refused(t *testing.T) {
	start := time.Now()
	_, err := Connect(context.Background(), ConnectOptions{
		Host:           "127.0.0.1",
		Port:           closedPort(t),
		ClientID:       "graylogic-test-refused",
		ConnectTimeout: 2 * time.Second,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Connect() took %v, want bounded by the timeout", elapsed)
	}
}

func TestConnect_StalledBrokerIsBounded(t *testing.T) {
	host, port := silentListener(t)

	start := time.Now()
	_, err := Connect(context.Background(), ConnectOptions{
		Host:           host,
		Port:           port,
		ClientID:       "graylogic-test-stalled",
		ConnectTimeout: 300 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect() took %v, want about 300ms", elapsed)
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	host, port := silentListener(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Connect(ctx, ConnectOptions{
		Host:           host,
		Port:           port,
		ClientID:       "graylogic-test-cancel",
		ConnectTimeout: 10 * time.Second,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect() ignored cancellation, took %v", elapsed)
	}
}

func TestClient_SubscribeValidation(t *testing.T) {
	// A zero Client is never connected; validation errors come first.
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.SubscribeAll(nil, 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("SubscribeAll(nil) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/#/b", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(bad filter) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/b", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

func TestClient_CloseNil(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

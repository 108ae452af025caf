package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/mqtt"
)

type fakeConn struct {
	host      string
	mu        sync.Mutex
	topics    []string
	qos       byte
	handler   mqtt.MessageHandler
	connected atomic.Bool
	closed    atomic.Bool
}

func (c *fakeConn) SubscribeAll(topics []string, qos byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append([]string(nil), topics...)
	c.qos = qos
	c.handler = handler
	return nil
}

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.connected.Store(false)
	return nil
}

func (c *fakeConn) deliver(topic, payload string) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	return h(topic, []byte(payload))
}

func (c *fakeConn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// fakeDialer hands out fakeConns. Hosts in hang block until the attempt
// times out; hosts in fail are refused immediately.
type fakeDialer struct {
	mu    sync.Mutex
	hang  map[string]bool
	fail  map[string]bool
	opts  []mqtt.ConnectOptions
	conns map[string][]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		hang:  make(map[string]bool),
		fail:  make(map[string]bool),
		conns: make(map[string][]*fakeConn),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, opts mqtt.ConnectOptions) (Conn, error) {
	d.mu.Lock()
	d.opts = append(d.opts, opts)
	hang, fail := d.hang[opts.Host], d.fail[opts.Host]
	d.mu.Unlock()

	if hang {
		select {
		case <-time.After(opts.ConnectTimeout):
			return nil, errors.New("connect timeout")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}

	c := &fakeConn{host: opts.Host}
	c.connected.Store(true)
	d.mu.Lock()
	d.conns[opts.Host] = append(d.conns[opts.Host], c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setFail(host string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[host] = fail
}

func (d *fakeDialer) dialsTo(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.opts {
		if o.Host == host {
			n++
		}
	}
	return n
}

func (d *fakeDialer) lastConn(t *testing.T, host string) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[host]
	if len(conns) == 0 {
		t.Fatalf("no connection dialed to %s", host)
	}
	return conns[len(conns)-1]
}

func (d *fakeDialer) lastOpts(t *testing.T, host string) mqtt.ConnectOptions {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.opts) - 1; i >= 0; i-- {
		if d.opts[i].Host == host {
			return d.opts[i]
		}
	}
	t.Fatalf("no dial to %s", host)
	return mqtt.ConnectOptions{}
}

// fakeDevices implements DeviceStore.
type fakeDevices struct {
	mu      sync.Mutex
	devices []device.Device
	status  map[string]device.Status
}

func newFakeDevices(devices ...*device.Device) *fakeDevices {
	f := &fakeDevices{status: make(map[string]device.Status)}
	f.set(devices...)
	return f
}

func (f *fakeDevices) set(devices ...*device.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = f.devices[:0]
	for _, d := range devices {
		f.devices = append(f.devices, *d.DeepCopy())
	}
}

func (f *fakeDevices) ActiveMQTTDevices(context.Context) ([]device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Device, len(f.devices))
	for i := range f.devices {
		out[i] = *f.devices[i].DeepCopy()
	}
	return out, nil
}

func (f *fakeDevices) SetStatus(_ context.Context, status device.Status, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.status[id] = status
	}
	return nil
}

func (f *fakeDevices) statusOf(id string) device.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

func testPoolConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			ClientIDPrefix:    "test",
			ConnectTimeout:    1,
			LoRaWANTimeoutCap: 8,
			ReconnectTimeout:  1,
			DefaultKeepAlive:  60,
			QoS:               1,
			PollIntervalMS:    10,
			InboxSize:         8,
			MaxParallelDial:   8,
			Reconnect:         config.ReconnectConfig{MaxAttempts: 1},
		},
		Brokers: map[string]config.BrokerTypeConfig{
			"thethings_stack": {MaxKeepAlive: 30, ConnectTimeout: 20},
		},
	}
}

type poolFixture struct {
	pool    *Pool
	dialer  *fakeDialer
	devices *fakeDevices
	store   *fakeSensorStore
}

func newPoolFixture(t *testing.T, cfg *config.Config, devices ...*device.Device) *poolFixture {
	t.Helper()
	f := &poolFixture{
		dialer:  newFakeDialer(),
		devices: newFakeDevices(devices...),
		store:   newFakeSensorStore(),
	}
	proc := NewProcessor(testNormalizer(), NewSink(f.store, newFakeStatusStore()))

	pool, err := NewPool(PoolDeps{
		Config:    cfg,
		Devices:   f.devices,
		Dialer:    f.dialer,
		Processor: proc,
	})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.clientSuffix = func() string { return "abcd1234" }
	f.pool = pool
	t.Cleanup(pool.DisconnectAll)
	return f
}

func (f *poolFixture) connectAll(t *testing.T) ConnectResult {
	t.Helper()
	devs, err := f.devices.ActiveMQTTDevices(context.Background())
	if err != nil {
		t.Fatalf("ActiveMQTTDevices() error = %v", err)
	}
	return f.pool.ConnectAll(context.Background(), devs)
}

func TestNewPoolRequiresDependencies(t *testing.T) {
	if _, err := NewPool(PoolDeps{Config: testPoolConfig()}); err == nil {
		t.Error("NewPool() error = nil, want error for missing dependencies")
	}
}

func TestPoolConnectAllIsolatesSlowEndpoints(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(),
		routeDevice("dev-slow1", "slow1.example.com", "a/#"),
		routeDevice("dev-slow2", "slow2.example.com", "b/#"),
		routeDevice("dev-slow3", "slow3.example.com", "c/#"),
		routeDevice("dev-fast", "fast.example.com", "d/#"),
	)
	for _, h := range []string{"slow1.example.com", "slow2.example.com", "slow3.example.com"} {
		f.dialer.hang[h] = true
	}

	start := time.Now()
	res := f.connectAll(t)
	elapsed := time.Since(start)

	// Three one-second timeouts run side by side.
	if elapsed > 2500*time.Millisecond {
		t.Errorf("ConnectAll() took %v, want close to one connect timeout", elapsed)
	}
	if res.Connected != 1 || res.Failed != 3 {
		t.Errorf("ConnectAll() = %+v, want 1 connected, 3 failed", res)
	}
	if got := f.devices.statusOf("dev-fast"); got != device.StatusOnline {
		t.Errorf("dev-fast status = %q, want online", got)
	}
	if got := f.devices.statusOf("dev-slow2"); got != device.StatusError {
		t.Errorf("dev-slow2 status = %q, want error", got)
	}

	snap := f.pool.Snapshot()
	if len(snap) != 1 || snap[0].Host != "fast.example.com" || snap[0].State != StateRunning {
		t.Errorf("Snapshot() = %+v, want only the fast endpoint running", snap)
	}
}

func TestPoolConnectAllSharesEndpoint(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(),
		routeDevice("dev-a", "broker.emqx.io", "farm/a/#"),
		routeDevice("dev-b", "broker.emqx.io", "farm/b/#"),
	)

	res := f.connectAll(t)
	if res.Connected != 1 {
		t.Fatalf("ConnectAll() connected = %d, want 1", res.Connected)
	}
	if n := f.dialer.dialsTo("broker.emqx.io"); n != 1 {
		t.Errorf("dials = %d, want 1 shared connection", n)
	}

	conn := f.dialer.lastConn(t, "broker.emqx.io")
	if got := conn.subscribed(); !reflect.DeepEqual(got, []string{"farm/a/#", "farm/b/#"}) {
		t.Errorf("subscribed topics = %v", got)
	}
	if conn.qos != 1 {
		t.Errorf("qos = %d, want 1", conn.qos)
	}

	// Connecting the same devices again is a no-op.
	if again := f.connectAll(t); again.Connected != 0 {
		t.Errorf("second ConnectAll() connected = %d, want 0", again.Connected)
	}
}

func TestPoolSkipsEndpoints(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Ingest.Blocklist = []string{"eu1.cloud.thethings.industries"}
	cfg.Ingest.SkipBlocklisted = true
	cfg.Ingest.SkipLoRaWAN = true

	notopics := routeDevice("dev-quiet", "quiet.example.com")
	f := newPoolFixture(t, cfg,
		routeDevice("dev-blocked", "eu1.cloud.thethings.industries", "v3/+/devices/+/up"),
		routeDevice("dev-ttn", "eu1.cloud.thethings.network", "v3/+/devices/+/up"),
		routeDevice("dev-ok", "localhost", "home/#"),
		notopics,
	)

	res := f.connectAll(t)
	if res.Skipped != 3 || res.Connected != 1 {
		t.Errorf("ConnectAll() = %+v, want 3 skipped, 1 connected", res)
	}
	for _, id := range []string{"dev-blocked", "dev-ttn", "dev-quiet"} {
		if got := f.devices.statusOf(id); got != device.StatusSkipped {
			t.Errorf("%s status = %q, want skipped", id, got)
		}
	}
	if n := f.dialer.dialsTo("eu1.cloud.thethings.industries"); n != 0 {
		t.Errorf("blocklisted host dialed %d times", n)
	}
}

func TestPoolConnectOptions(t *testing.T) {
	ttn := routeDevice("node-1", "eu1.cloud.thethings.network", "v3/+/devices/node-1/up")
	ttn.UseTLS = true
	ttn.Username = "app@ttn"
	ttn.Password = "NNSXS.key"

	custom := routeDevice("dev-custom", "localhost", "home/#")
	custom.ClientID = "greenhouse-gw"
	custom.KeepAlive = 15

	f := newPoolFixture(t, testPoolConfig(), ttn, custom)
	f.connectAll(t)

	opts := f.dialer.lastOpts(t, "eu1.cloud.thethings.network")
	if opts.Port != 8883 || !opts.UseTLS || opts.TLSConfig == nil {
		t.Errorf("TLS options = port %d tls %v config %v", opts.Port, opts.UseTLS, opts.TLSConfig != nil)
	}
	if opts.KeepAlive != 30*time.Second {
		t.Errorf("KeepAlive = %v, want capped to 30s", opts.KeepAlive)
	}
	if opts.ConnectTimeout != 8*time.Second {
		t.Errorf("ConnectTimeout = %v, want LoRaWAN cap 8s", opts.ConnectTimeout)
	}
	if opts.ClientID != "test_thethings_stack_abcd1234" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "app@ttn" || opts.Password != "NNSXS.key" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}

	opts = f.dialer.lastOpts(t, "localhost")
	if opts.ClientID != "greenhouse-gw" {
		t.Errorf("ClientID = %q, want device client ID", opts.ClientID)
	}
	if opts.KeepAlive != 15*time.Second {
		t.Errorf("KeepAlive = %v, want 15s", opts.KeepAlive)
	}
	if opts.ConnectTimeout != time.Second {
		t.Errorf("ConnectTimeout = %v, want 1s", opts.ConnectTimeout)
	}
	if opts.TLSConfig != nil {
		t.Error("plain connection carries a TLS config")
	}
}

func TestPoolConnectTimeoutPerDevice(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		timeout int
		want    time.Duration
	}{
		{"pool default", "localhost", 0, time.Second},
		{"device override", "localhost", 5, 5 * time.Second},
		{"lorawan below cap", "eu1.cloud.thethings.network", 4, 4 * time.Second},
		{"lorawan above cap", "eu1.cloud.thethings.network", 60, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := routeDevice("dev-1", tt.host, "farm/#")
			d.Timeout = tt.timeout

			f := newPoolFixture(t, testPoolConfig(), d)
			f.connectAll(t)

			opts := f.dialer.lastOpts(t, tt.host)
			if opts.ConnectTimeout != tt.want {
				t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, tt.want)
			}
		})
	}
}

func TestPoolPollProcessesInOrder(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(),
		routeDevice("dev-a", "localhost", "farm/a/+"),
		routeDevice("dev-b", "localhost", "farm/b/+"),
	)
	f.connectAll(t)
	conn := f.dialer.lastConn(t, "localhost")

	msgs := []struct{ topic, payload string }{
		{"farm/a/temperature", "20"},
		{"farm/b/humidity", "55"},
		{"farm/a/temperature", "21"},
		{"office/x", "1"},
	}
	for _, m := range msgs {
		if err := conn.deliver(m.topic, m.payload); err != nil {
			t.Fatalf("deliver(%s) error = %v", m.topic, err)
		}
	}

	// Nothing is processed on the callback path.
	if n := len(f.store.written()); n != 0 {
		t.Fatalf("writes before Poll = %d, want 0", n)
	}

	if got := f.pool.Poll(context.Background()); got != 4 {
		t.Errorf("Poll() = %d, want 4", got)
	}

	writes := f.store.written()
	if len(writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(writes))
	}
	want := []struct {
		device string
		value  float64
	}{{"dev-a", 20}, {"dev-b", 55}, {"dev-a", 21}}
	for i, w := range want {
		if writes[i].DeviceID != w.device || writes[i].Value != w.value {
			t.Errorf("write %d = %s/%v, want %s/%v", i, writes[i].DeviceID, writes[i].Value, w.device, w.value)
		}
	}

	if got := f.pool.Poll(context.Background()); got != 0 {
		t.Errorf("second Poll() = %d, want 0", got)
	}
}

func TestPoolInboxFullDrops(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Ingest.InboxSize = 2
	f := newPoolFixture(t, cfg, routeDevice("dev-a", "localhost", "#"))
	f.connectAll(t)
	conn := f.dialer.lastConn(t, "localhost")

	for i := 0; i < 2; i++ {
		if err := conn.deliver("t", "1"); err != nil {
			t.Fatalf("deliver() error = %v", err)
		}
	}
	if err := conn.deliver("t", "1"); !errors.Is(err, errInboxFull) {
		t.Errorf("deliver() on full inbox error = %v, want errInboxFull", err)
	}

	snap := f.pool.Snapshot()[0]
	if snap.Received != 2 || snap.Dropped != 1 || snap.InboxDepth != 2 {
		t.Errorf("Snapshot() received=%d dropped=%d depth=%d, want 2/1/2", snap.Received, snap.Dropped, snap.InboxDepth)
	}
	if snap.LastMessageAt == nil {
		t.Error("LastMessageAt = nil after messages")
	}
}

func TestPoolReconnect(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(), routeDevice("dev-a", "localhost", "home/#"))
	f.connectAll(t)
	first := f.dialer.lastConn(t, "localhost")

	first.connected.Store(false)
	f.pool.Poll(context.Background())

	if n := f.dialer.dialsTo("localhost"); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
	second := f.dialer.lastConn(t, "localhost")
	if second == first {
		t.Fatal("reconnect reused the dropped connection")
	}
	if got := second.subscribed(); !reflect.DeepEqual(got, []string{"home/#"}) {
		t.Errorf("resubscribed topics = %v", got)
	}
	if got := f.devices.statusOf("dev-a"); got != device.StatusOnline {
		t.Errorf("status = %q, want online", got)
	}

	// Messages on the new connection reach the same inbox.
	if err := second.deliver("home/temperature", "19"); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if got := f.pool.Poll(context.Background()); got != 1 {
		t.Errorf("Poll() = %d, want 1", got)
	}
}

func TestPoolReconnectFailureDropsConnection(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(), routeDevice("dev-a", "localhost", "home/#"))
	f.connectAll(t)
	conn := f.dialer.lastConn(t, "localhost")

	if err := conn.deliver("home/temperature", "19"); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	f.dialer.setFail("localhost", true)
	conn.connected.Store(false)

	// Queued messages are still processed before the reconnect attempt.
	if got := f.pool.Poll(context.Background()); got != 1 {
		t.Errorf("Poll() = %d, want 1", got)
	}
	if got := f.devices.statusOf("dev-a"); got != device.StatusError {
		t.Errorf("status = %q, want error", got)
	}
	if snap := f.pool.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() = %+v, want no connections", snap)
	}

	// The next resync connects again.
	f.dialer.setFail("localhost", false)
	res, err := f.pool.Resync(context.Background())
	if err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if res.Added != 1 || res.Connect.Connected != 1 {
		t.Errorf("Resync() = %+v, want endpoint re-added", res)
	}
	if got := f.devices.statusOf("dev-a"); got != device.StatusOnline {
		t.Errorf("status after resync = %q, want online", got)
	}
}

func TestPoolResync(t *testing.T) {
	keep := routeDevice("dev-keep", "keep.example.com", "keep/#")
	change := routeDevice("dev-change", "change.example.com", "old/#")
	remove := routeDevice("dev-remove", "remove.example.com", "gone/#")

	f := newPoolFixture(t, testPoolConfig(), keep, change, remove)
	f.connectAll(t)
	keepConn := f.dialer.lastConn(t, "keep.example.com")
	oldChange := f.dialer.lastConn(t, "change.example.com")
	removeConn := f.dialer.lastConn(t, "remove.example.com")

	changed := change.DeepCopy()
	changed.Topics = []string{"new/#"}
	added := routeDevice("dev-new", "new.example.com", "new/#")
	f.devices.set(keep, changed, added)

	res, err := f.pool.Resync(context.Background())
	if err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	want := ResyncResult{Added: 1, Removed: 1, Changed: 1, Unchanged: 1}
	res.Connect = ConnectResult{}
	if res != want {
		t.Errorf("Resync() = %+v, want %+v", res, want)
	}

	if keepConn.closed.Load() {
		t.Error("unchanged endpoint was closed")
	}
	if n := f.dialer.dialsTo("keep.example.com"); n != 1 {
		t.Errorf("unchanged endpoint dialed %d times, want 1", n)
	}
	if !removeConn.closed.Load() {
		t.Error("removed endpoint left open")
	}
	if got := f.devices.statusOf("dev-remove"); got != device.StatusOffline {
		t.Errorf("removed device status = %q, want offline", got)
	}
	if !oldChange.closed.Load() {
		t.Error("changed endpoint's old connection left open")
	}
	if got := f.dialer.lastConn(t, "change.example.com").subscribed(); !reflect.DeepEqual(got, []string{"new/#"}) {
		t.Errorf("changed endpoint topics = %v, want [new/#]", got)
	}
	if n := f.dialer.dialsTo("new.example.com"); n != 1 {
		t.Errorf("new endpoint dialed %d times, want 1", n)
	}

	var endpoints []string
	for _, c := range f.pool.Snapshot() {
		endpoints = append(endpoints, c.Host)
	}
	wantHosts := []string{"change.example.com", "keep.example.com", "new.example.com"}
	if !reflect.DeepEqual(endpoints, wantHosts) {
		t.Errorf("Snapshot() hosts = %v, want %v", endpoints, wantHosts)
	}
}

func TestPoolResyncMarksDepartedDevicesOffline(t *testing.T) {
	a := routeDevice("dev-a", "shared.example.com", "a/#")
	b := routeDevice("dev-b", "shared.example.com", "b/#")
	failing := routeDevice("dev-fail", "down.example.com", "f/#")
	blocked := routeDevice("dev-blocked", "blocked.example.com", "x/#")

	cfg := testPoolConfig()
	cfg.Ingest.Blocklist = []string{"blocked.example.com"}
	cfg.Ingest.SkipBlocklisted = true

	f := newPoolFixture(t, cfg, a, b, failing, blocked)
	f.dialer.setFail("down.example.com", true)
	f.connectAll(t)

	tests := []struct {
		id   string
		want device.Status
	}{
		{"dev-a", device.StatusOnline},
		{"dev-b", device.StatusOnline},
		{"dev-fail", device.StatusError},
		{"dev-blocked", device.StatusSkipped},
	}
	for _, tt := range tests {
		if got := f.devices.statusOf(tt.id); got != tt.want {
			t.Fatalf("status(%s) after connect = %q, want %q", tt.id, got, tt.want)
		}
	}

	f.devices.set(a)
	if _, err := f.pool.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	tests = []struct {
		id   string
		want device.Status
	}{
		{"dev-a", device.StatusOnline},
		{"dev-b", device.StatusOffline},
		{"dev-fail", device.StatusOffline},
		{"dev-blocked", device.StatusOffline},
	}
	for _, tt := range tests {
		if got := f.devices.statusOf(tt.id); got != tt.want {
			t.Errorf("status(%s) after resync = %q, want %q", tt.id, got, tt.want)
		}
	}

	if got := f.dialer.lastConn(t, "shared.example.com").subscribed(); !reflect.DeepEqual(got, []string{"a/#"}) {
		t.Errorf("shared endpoint topics = %v, want [a/#]", got)
	}
}

func TestPoolRequestResyncCoalesces(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig())

	f.pool.RequestResync()
	f.pool.RequestResync()
	if n := len(f.pool.resyncCh); n != 1 {
		t.Errorf("pending resync requests = %d, want 1", n)
	}
}

func TestPoolRunStopsAndDisconnects(t *testing.T) {
	f := newPoolFixture(t, testPoolConfig(), routeDevice("dev-a", "localhost", "home/#"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pool.Run(ctx)
		close(done)
	}()

	f.pool.RequestResync()

	deadline := time.Now().Add(2 * time.Second)
	for f.dialer.dialsTo("localhost") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run() never resynced")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !f.dialer.lastConn(t, "localhost").closed.Load() {
		t.Error("connection left open after Run returned")
	}
	if snap := f.pool.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() after Run = %d connections, want 0", len(snap))
	}
}

func TestConnStatesCovered(t *testing.T) {
	var names []string
	for _, s := range allConnStates {
		names = append(names, string(s))
	}
	if got := strings.Join(names, ","); got != "disconnected,connecting,subscribed,running,reconnecting" {
		t.Errorf("allConnStates = %s", got)
	}
}

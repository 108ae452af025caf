package ingest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/mqtt"
)

// ConnState is the lifecycle state of one broker connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateSubscribed   ConnState = "subscribed"
	StateRunning      ConnState = "running"
	StateReconnecting ConnState = "reconnecting"
)

var allConnStates = []ConnState{
	StateDisconnected, StateConnecting, StateSubscribed, StateRunning, StateReconnecting,
}

// Skip reasons reported when a group is not connected.
const (
	skipBlocklisted = "blocklisted"
	skipLoRaWAN     = "lorawan_disabled"
	skipNoTopics    = "no_topics"
)

const defaultMaxParallelDial = 16

var errInboxFull = errors.New("ingest: inbox full, message dropped")

// DeviceStore is the pool's view of the device registry.
// Implemented by *device.Registry.
type DeviceStore interface {
	ActiveMQTTDevices(ctx context.Context) ([]device.Device, error)
	SetStatus(ctx context.Context, status device.Status, ids ...string) error
}

// PoolDeps holds the collaborators of a Pool.
type PoolDeps struct {
	Config    *config.Config
	Devices   DeviceStore
	Dialer    Dialer
	Processor *Processor
	Metrics   *Metrics
	Logger    Logger
}

type message struct {
	topic   string
	payload []byte
}

// connection is one live broker connection and its inbox. Fields other
// than inbox and the atomics are guarded by Pool.mu.
type connection struct {
	group *Group
	conn  Conn
	inbox chan message

	state       ConnState
	connectedAt time.Time

	received    atomic.Uint64
	dropped     atomic.Uint64
	lastMessage atomic.Int64 // unix nanoseconds
}

// ConnectResult summarises a connection phase, counted in groups.
type ConnectResult struct {
	Connected int           `json:"connected"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// ResyncResult summarises a resync.
type ResyncResult struct {
	Added     int           `json:"added"`
	Removed   int           `json:"removed"`
	Changed   int           `json:"changed"`
	Unchanged int           `json:"unchanged"`
	Connect   ConnectResult `json:"connect"`
}

// ConnectionInfo is a point-in-time view of one connection.
type ConnectionInfo struct {
	Endpoint      string     `json:"endpoint"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	BrokerType    string     `json:"broker_type"`
	State         ConnState  `json:"state"`
	Devices       []string   `json:"devices"`
	Topics        []string   `json:"topics"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Received      uint64     `json:"received"`
	Dropped       uint64     `json:"dropped"`
	InboxDepth    int        `json:"inbox_depth"`
}

// Pool maintains one MQTT connection per broker endpoint.
//
// Message callbacks only enqueue into the connection's inbox; Poll drains
// the inboxes on the caller's goroutine, so message processing and
// connection bookkeeping never race with paho's callbacks. Poll, Resync
// and ConnectAll are meant to be driven by a single goroutine (see Run);
// Snapshot and RequestResync are safe from any goroutine.
type Pool struct {
	cfg         config.IngestConfig
	brokers     map[string]config.BrokerTypeConfig
	tlsConfig   *tls.Config
	tlsMaterial mqtt.TLSMaterial

	devices DeviceStore
	dialer  Dialer
	proc    *Processor
	metrics *Metrics
	logger  Logger

	mu      sync.Mutex
	conns   map[EndpointKey]*connection
	skipped map[EndpointKey]string // signature of groups last marked skipped
	tracked map[string]struct{}    // device IDs the pool has set a status on

	resyncCh     chan struct{}
	clientSuffix func() string
}

// NewPool creates a pool. TLS material is loaded from the configured
// certificates directory once, up front.
func NewPool(deps PoolDeps) (*Pool, error) {
	if deps.Config == nil || deps.Devices == nil || deps.Dialer == nil || deps.Processor == nil {
		return nil, fmt.Errorf("ingest: pool requires config, devices, dialer and processor")
	}

	tlsConfig, material, err := mqtt.LoadTLSConfig(mqtt.TLSOptions{
		CertificatesPath: deps.Config.Ingest.TLS.CertificatesPath,
		VerifyPeer:       deps.Config.Ingest.TLS.VerifyPeer,
	})
	if err != nil {
		return nil, fmt.Errorf("loading broker TLS material: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Pool{
		cfg:         deps.Config.Ingest,
		brokers:     deps.Config.Brokers,
		tlsConfig:   tlsConfig,
		tlsMaterial: material,
		devices:     deps.Devices,
		dialer:      deps.Dialer,
		proc:        deps.Processor,
		metrics:     deps.Metrics,
		logger:      logger,
		conns:       make(map[EndpointKey]*connection),
		skipped:     make(map[EndpointKey]string),
		tracked:     make(map[string]struct{}),
		resyncCh:    make(chan struct{}, 1),
		clientSuffix: func() string {
			return uuid.NewString()[:8]
		},
	}, nil
}

// ConnectAll groups devices by endpoint and connects every group that
// is not already connected. Failures are recorded on the devices and
// never returned.
func (p *Pool) ConnectAll(ctx context.Context, devices []device.Device) ConnectResult {
	groups := GroupDevices(devices)

	p.mu.Lock()
	pending := groups[:0:0]
	for _, g := range groups {
		if _, ok := p.conns[g.Key]; !ok {
			pending = append(pending, g)
		}
	}
	p.mu.Unlock()

	return p.connectGroups(ctx, pending)
}

// connectGroups connects groups concurrently, so the phase takes about
// as long as the slowest group rather than the sum of all of them.
func (p *Pool) connectGroups(ctx context.Context, groups []*Group) ConnectResult {
	start := time.Now()

	var (
		resMu  sync.Mutex
		result ConnectResult
	)
	count := func(ok bool) {
		resMu.Lock()
		if ok {
			result.Connected++
		} else {
			result.Failed++
		}
		resMu.Unlock()
	}

	limit := p.cfg.MaxParallelDial
	if limit <= 0 {
		limit = defaultMaxParallelDial
	}
	var eg errgroup.Group
	eg.SetLimit(limit)

	for _, g := range groups {
		p.mu.Lock()
		for _, id := range g.DeviceIDs() {
			p.tracked[id] = struct{}{}
		}
		p.mu.Unlock()

		if reason := p.skipReason(g); reason != "" {
			p.skipGroup(ctx, g, reason)
			result.Skipped++
			continue
		}

		p.mu.Lock()
		delete(p.skipped, g.Key)
		p.mu.Unlock()

		g := g
		eg.Go(func() error {
			count(p.connectGroup(ctx, g))
			return nil
		})
	}
	_ = eg.Wait() //nolint:errcheck // goroutines never return errors

	result.Duration = time.Since(start)
	p.updateGauges()

	if len(groups) > 0 {
		p.logger.Info("broker connection phase complete",
			"connected", result.Connected,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"duration", result.Duration.Round(time.Millisecond),
		)
	}
	return result
}

func (p *Pool) skipReason(g *Group) string {
	switch {
	case p.cfg.SkipBlocklisted && p.cfg.IsBlocklisted(g.Key.Host):
		return skipBlocklisted
	case p.cfg.SkipLoRaWAN && g.BrokerType == device.BrokerLoRaWAN:
		return skipLoRaWAN
	case len(g.Topics) == 0:
		return skipNoTopics
	default:
		return ""
	}
}

func (p *Pool) skipGroup(ctx context.Context, g *Group, reason string) {
	p.mu.Lock()
	already := p.skipped[g.Key] == g.Signature
	p.skipped[g.Key] = g.Signature
	p.mu.Unlock()

	p.metrics.connectAttempt(string(g.BrokerType), resultSkipped)
	if already {
		return
	}

	p.logger.Info("broker endpoint skipped",
		"endpoint", g.Key.String(), "reason", reason, "devices", len(g.Devices))
	if err := p.devices.SetStatus(ctx, device.StatusSkipped, g.DeviceIDs()...); err != nil {
		p.logger.Warn("device status not updated", "status", device.StatusSkipped, "error", err)
	}
}

// connectGroup dials with retries, subscribes and marks the group's
// devices online. It reports whether the group ended up running.
func (p *Pool) connectGroup(ctx context.Context, g *Group) bool {
	c := &connection{
		group: g,
		inbox: make(chan message, p.inboxSize()),
		state: StateConnecting,
	}
	p.mu.Lock()
	p.conns[g.Key] = c
	p.mu.Unlock()

	opts := p.connectOptions(g, p.connectTimeout(g))
	policy := RetryPolicy{
		MaxAttempts: p.cfg.Reconnect.MaxAttempts,
		InitialWait: seconds(p.cfg.Reconnect.InitialDelay),
		MaxWait:     seconds(p.cfg.Reconnect.MaxDelay),
	}

	var conn Conn
	err := policy.Do(ctx, func(attempt int) error {
		dialed, err := p.dialer.Dial(ctx, opts)
		if err != nil {
			p.metrics.connectAttempt(string(g.BrokerType), resultFailure)
			p.logger.Warn("broker connect attempt failed",
				"endpoint", g.Key.String(),
				"broker_type", g.BrokerType,
				"attempt", attempt,
				"timeout", opts.ConnectTimeout,
				"error", err,
			)
			return err
		}
		p.metrics.connectAttempt(string(g.BrokerType), resultSuccess)
		conn = dialed
		return nil
	})
	if err != nil {
		p.failGroup(ctx, c, fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return false
	}

	if err := p.subscribe(c, conn); err != nil {
		p.failGroup(ctx, c, err)
		return false
	}
	p.markRunning(ctx, c, conn)

	p.logger.Info("broker connected",
		"endpoint", g.Key.String(),
		"broker_type", g.BrokerType,
		"client_id", opts.ClientID,
		"devices", len(g.Devices),
		"topics", len(g.Topics),
	)
	return true
}

func (p *Pool) subscribe(c *connection, conn Conn) error {
	if err := conn.SubscribeAll(c.group.Topics, byte(p.cfg.QoS), p.enqueueHandler(c)); err != nil {
		if cerr := conn.Close(); cerr != nil {
			p.logger.Debug("closing unsubscribed connection", "endpoint", c.group.Key.String(), "error", cerr)
		}
		return fmt.Errorf("subscribing %d topics: %w", len(c.group.Topics), err)
	}

	p.mu.Lock()
	c.state = StateSubscribed
	p.mu.Unlock()
	return nil
}

func (p *Pool) markRunning(ctx context.Context, c *connection, conn Conn) {
	p.mu.Lock()
	c.conn = conn
	c.connectedAt = time.Now()
	c.state = StateRunning
	p.mu.Unlock()

	if err := p.devices.SetStatus(ctx, device.StatusOnline, c.group.DeviceIDs()...); err != nil {
		p.logger.Warn("device status not updated", "status", device.StatusOnline, "error", err)
	}
}

// failGroup removes the connection and marks its devices as errored.
func (p *Pool) failGroup(ctx context.Context, c *connection, cause error) {
	p.mu.Lock()
	if p.conns[c.group.Key] == c {
		delete(p.conns, c.group.Key)
	}
	c.state = StateDisconnected
	p.mu.Unlock()

	p.logger.Error("broker endpoint unavailable",
		"endpoint", c.group.Key.String(),
		"broker_type", c.group.BrokerType,
		"devices", len(c.group.Devices),
		"error", cause,
	)
	if err := p.devices.SetStatus(ctx, device.StatusError, c.group.DeviceIDs()...); err != nil {
		p.logger.Warn("device status not updated", "status", device.StatusError, "error", err)
	}
}

// enqueueHandler returns the subscription callback for c. It copies the
// payload and never blocks; a full inbox drops the message.
func (p *Pool) enqueueHandler(c *connection) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		msg := message{topic: topic, payload: append([]byte(nil), payload...)}
		select {
		case c.inbox <- msg:
			c.received.Add(1)
			c.lastMessage.Store(time.Now().UnixNano())
			return nil
		default:
			c.dropped.Add(1)
			p.metrics.messageDropped(dropInboxFull)
			return errInboxFull
		}
	}
}

// Poll drains every inbox once, in endpoint order, handing messages to
// the processor. Connections found dead afterwards get a single
// reconnect attempt. It returns the number of messages processed.
func (p *Pool) Poll(ctx context.Context) int {
	processed := 0
	for _, c := range p.connections() {
		processed += p.drain(ctx, c)

		p.mu.Lock()
		lost := c.state == StateRunning && c.conn != nil && !c.conn.IsConnected()
		p.mu.Unlock()
		if lost {
			p.reconnect(ctx, c)
		}
	}
	p.updateGauges()
	return processed
}

// drain processes the messages queued at call time. Later arrivals wait
// for the next poll so one busy endpoint cannot starve the others.
func (p *Pool) drain(ctx context.Context, c *connection) int {
	n := len(c.inbox)
	for i := 0; i < n; i++ {
		msg := <-c.inbox
		if _, err := p.proc.Handle(ctx, c.group.Routes, msg.topic, msg.payload); err != nil &&
			!errors.Is(err, ErrNoDeviceMatch) {
			p.logger.Warn("message processing failed",
				"endpoint", c.group.Key.String(), "topic", msg.topic, "error", err)
		}
	}
	return n
}

// reconnect makes one bounded attempt to restore a dropped connection.
// On failure the devices are marked errored and the connection is
// dropped until the next resync.
func (p *Pool) reconnect(ctx context.Context, c *connection) {
	p.mu.Lock()
	c.state = StateReconnecting
	old := c.conn
	p.mu.Unlock()

	p.logger.Warn("broker connection lost, reconnecting", "endpoint", c.group.Key.String())
	if old != nil {
		_ = old.Close() //nolint:errcheck // already disconnected
	}

	opts := p.connectOptions(c.group, seconds(p.cfg.ReconnectTimeout))
	conn, err := p.dialer.Dial(ctx, opts)
	if err != nil {
		p.metrics.connectAttempt(string(c.group.BrokerType), resultFailure)
		p.failGroup(ctx, c, fmt.Errorf("reconnect: %w", err))
		return
	}
	p.metrics.connectAttempt(string(c.group.BrokerType), resultSuccess)

	if err := p.subscribe(c, conn); err != nil {
		p.failGroup(ctx, c, fmt.Errorf("reconnect: %w", err))
		return
	}
	p.markRunning(ctx, c, conn)
	p.logger.Info("broker reconnected", "endpoint", c.group.Key.String())
}

// Resync reloads the active devices and reconciles connections: removed
// endpoints are closed, changed ones reconnected, new ones connected and
// unchanged ones left alone.
func (p *Pool) Resync(ctx context.Context) (ResyncResult, error) {
	devices, err := p.devices.ActiveMQTTDevices(ctx)
	if err != nil {
		return ResyncResult{}, fmt.Errorf("resync: %w", err)
	}

	groups := GroupDevices(devices)
	want := make(map[EndpointKey]*Group, len(groups))
	active := make(map[string]struct{}, len(devices))
	for _, g := range groups {
		want[g.Key] = g
		for _, d := range g.Devices {
			active[d.ID] = struct{}{}
		}
	}

	var result ResyncResult
	var toConnect []*Group

	for _, c := range p.connections() {
		g, ok := want[c.group.Key]
		switch {
		case !ok:
			result.Removed++
			p.retire(ctx, c)
		case g.Signature != c.group.Signature:
			result.Changed++
			p.retire(ctx, c)
			toConnect = append(toConnect, g)
		default:
			result.Unchanged++
		}
	}

	p.mu.Lock()
	for key, g := range want {
		if _, ok := p.conns[key]; ok {
			continue
		}
		if containsGroup(toConnect, key) {
			continue
		}
		if p.skipped[key] == "" {
			result.Added++
		}
		toConnect = append(toConnect, g)
	}
	for key := range p.skipped {
		if _, ok := want[key]; !ok {
			delete(p.skipped, key)
		}
	}
	var gone []string
	for id := range p.tracked {
		if _, ok := active[id]; !ok {
			gone = append(gone, id)
			delete(p.tracked, id)
		}
	}
	p.mu.Unlock()

	// Devices no longer active are offline whether their endpoint was
	// running, failed, skipped or is still serving other devices.
	if len(gone) > 0 {
		sort.Strings(gone)
		if err := p.devices.SetStatus(ctx, device.StatusOffline, gone...); err != nil {
			p.logger.Warn("device status not updated", "status", device.StatusOffline, "error", err)
		}
	}

	sort.Slice(toConnect, func(i, j int) bool { return toConnect[i].Key.String() < toConnect[j].Key.String() })
	result.Connect = p.connectGroups(ctx, toConnect)

	p.logger.Info("device resync complete",
		"added", result.Added,
		"removed", result.Removed,
		"changed", result.Changed,
		"unchanged", result.Unchanged,
	)
	return result, nil
}

// retire drains and closes a connection that is being replaced or removed.
func (p *Pool) retire(ctx context.Context, c *connection) {
	p.drain(ctx, c)

	p.mu.Lock()
	if p.conns[c.group.Key] == c {
		delete(p.conns, c.group.Key)
	}
	conn := c.conn
	c.state = StateDisconnected
	p.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			p.logger.Warn("closing broker connection", "endpoint", c.group.Key.String(), "error", err)
		}
	}
}

// RequestResync asks Run to resync at its next opportunity. Requests
// made while one is pending are coalesced.
func (p *Pool) RequestResync() {
	select {
	case p.resyncCh <- struct{}{}:
	default:
	}
}

// Run polls inboxes and resyncs periodically until ctx is cancelled,
// then closes every connection.
func (p *Pool) Run(ctx context.Context) {
	defer p.DisconnectAll()

	interval := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()

	var resyncC <-chan time.Time
	if p.cfg.ResyncInterval > 0 {
		t := time.NewTicker(seconds(p.cfg.ResyncInterval))
		defer t.Stop()
		resyncC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			p.Poll(ctx)
		case <-resyncC:
			p.runResync(ctx)
		case <-p.resyncCh:
			p.runResync(ctx)
		}
	}
}

func (p *Pool) runResync(ctx context.Context) {
	if _, err := p.Resync(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("device resync failed", "error", err)
	}
}

// DisconnectAll closes every connection, logging failures.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	conns := make([]*connection, 0, len(p.conns))
	for key, c := range p.conns {
		conns = append(conns, c)
		delete(p.conns, key)
	}
	p.mu.Unlock()

	for _, c := range conns {
		p.mu.Lock()
		conn := c.conn
		c.state = StateDisconnected
		p.mu.Unlock()
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			p.logger.Warn("closing broker connection", "endpoint", c.group.Key.String(), "error", err)
		}
	}
	p.updateGauges()
	if len(conns) > 0 {
		p.logger.Info("broker connections closed", "count", len(conns))
	}
}

// Snapshot reports every connection, ordered by endpoint.
func (p *Pool) Snapshot() []ConnectionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(p.conns))
	for _, c := range p.conns {
		info := ConnectionInfo{
			Endpoint:   c.group.Key.String(),
			Host:       c.group.Key.Host,
			Port:       c.group.Key.Port,
			BrokerType: string(c.group.BrokerType),
			State:      c.state,
			Devices:    c.group.DeviceIDs(),
			Topics:     append([]string(nil), c.group.Topics...),
			Received:   c.received.Load(),
			Dropped:    c.dropped.Load(),
			InboxDepth: len(c.inbox),
		}
		if !c.connectedAt.IsZero() {
			at := c.connectedAt
			info.ConnectedAt = &at
		}
		if ns := c.lastMessage.Load(); ns > 0 {
			at := time.Unix(0, ns)
			info.LastMessageAt = &at
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Endpoint < infos[j].Endpoint })
	return infos
}

// connections returns the current connections ordered by endpoint.
func (p *Pool) connections() []*connection {
	p.mu.Lock()
	conns := make([]*connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].group.Key.String() < conns[j].group.Key.String()
	})
	return conns
}

func (p *Pool) updateGauges() {
	if p.metrics == nil {
		return
	}
	byState := make(map[ConnState]int, len(allConnStates))
	p.mu.Lock()
	for _, c := range p.conns {
		byState[c.state]++
	}
	p.mu.Unlock()
	p.metrics.setConnections(byState)
}

// connectOptions builds the dial options for a group.
func (p *Pool) connectOptions(g *Group, timeout time.Duration) mqtt.ConnectOptions {
	r := g.Representative
	bc := p.brokers[string(g.BrokerType)]

	keepAlive := r.KeepAlive
	if keepAlive <= 0 {
		keepAlive = p.cfg.DefaultKeepAlive
	}
	if bc.MaxKeepAlive > 0 && keepAlive > bc.MaxKeepAlive {
		keepAlive = bc.MaxKeepAlive
	}

	clientID := r.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s_%s_%s", p.cfg.ClientIDPrefix, g.BrokerType, p.clientSuffix())
	}

	opts := mqtt.ConnectOptions{
		Host:           g.Key.Host,
		Port:           g.Key.Port,
		UseTLS:         r.UseTLS,
		ClientID:       clientID,
		Username:       r.Username,
		Password:       r.Password,
		KeepAlive:      seconds(keepAlive),
		ConnectTimeout: timeout,
	}
	if r.UseTLS {
		opts.TLSConfig = p.tlsConfig
		if bc.RequiresCertificates && !p.tlsMaterial.ClientCert {
			p.logger.Warn("broker type expects a client certificate but none is configured",
				"endpoint", g.Key.String(), "broker_type", g.BrokerType)
		}
	}
	return opts
}

// connectTimeout returns the per-attempt timeout for a group: the
// representative device's timeout, else the broker type's, else the pool
// default. LoRaWAN network servers are capped by lorawan_timeout_cap.
func (p *Pool) connectTimeout(g *Group) time.Duration {
	bt := g.BrokerType
	timeout := p.cfg.ConnectTimeout
	if bc := p.brokers[string(bt)]; bc.ConnectTimeout > 0 {
		timeout = bc.ConnectTimeout
	}
	if r := g.Representative; r != nil && r.Timeout > 0 {
		timeout = r.Timeout
	}
	if bt == device.BrokerLoRaWAN && p.cfg.LoRaWANTimeoutCap > 0 && timeout > p.cfg.LoRaWANTimeoutCap {
		timeout = p.cfg.LoRaWANTimeoutCap
	}
	return seconds(timeout)
}

func (p *Pool) inboxSize() int {
	if p.cfg.InboxSize > 0 {
		return p.cfg.InboxSize
	}
	return 1
}

func containsGroup(groups []*Group, key EndpointKey) bool {
	for _, g := range groups {
		if g.Key == key {
			return true
		}
	}
	return false
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

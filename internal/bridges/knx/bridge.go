package knx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/infrastructure/config"
	"github.com/nerrad567/aimx-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Bridge operation constants.
const (
	// controlQueueSize bounds the broker→bus channel. Control messages
	// beyond it are dropped and counted rather than blocking the broker
	// callback.
	controlQueueSize = 100

	// busWriteTimeout bounds a single group write or read request.
	busWriteTimeout = 5 * time.Second

	// interReadDelay spaces the startup read requests so they do not
	// flood the bus.
	interReadDelay = 50 * time.Millisecond

	// brokerPollInterval is how often the bridge rechecks broker
	// connectivity while waiting for it.
	brokerPollInterval = 500 * time.Millisecond
)

// State identifies where the bridge is in its connection lifecycle.
type State int32

// Bridge lifecycle states. The bridge moves forward through them in
// order and falls back to StateAwaitingNetwork on any link failure.
const (
	StateIdle State = iota
	StateAwaitingNetwork
	StateAwaitingFieldBusTunnel
	StateAwaitingBroker
	StateBridging
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingNetwork:
		return "awaiting_network"
	case StateAwaitingFieldBusTunnel:
		return "awaiting_fieldbus_tunnel"
	case StateAwaitingBroker:
		return "awaiting_broker"
	case StateBridging:
		return "bridging"
	default:
		return "unknown"
	}
}

// Broker is the broker-side surface the bridge needs. *mqtt.Client
// satisfies it.
type Broker interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected reports whether the broker link is up.
	IsConnected() bool
}

// Connector is the field-bus surface the bridge needs. *Tunnel
// satisfies it; tests substitute fakes.
type Connector interface {
	Send(ctx context.Context, dest records.Address, data []byte) error
	SendRead(ctx context.Context, dest records.Address) error
	Telegrams() <-chan Telegram
	Done() <-chan struct{}
	Err() error
	Close() error
}

// DialFunc opens a tunnel to the field bus.
type DialFunc func(ctx context.Context, cfg config.KNXConfig, logger Logger) (Connector, error)

// ProbeFunc checks that the field-bus endpoint is reachable.
type ProbeFunc func(ctx context.Context) error

// controlMessage is one broker message queued for the broker→bus drain.
type controlMessage struct {
	topic   string
	payload []byte
}

// BridgeStats is a point-in-time snapshot of bridge counters.
type BridgeStats struct {
	State        State
	TelegramsIn  uint64 // bus telegrams matched to a binding
	TelegramsOut uint64 // group writes sent to the bus
	Publishes    uint64 // broker publishes delivered
	Parked       uint64 // publishes parked while the broker was away
	Dropped      uint64 // messages dropped (malformed, queue full, send failed)
	Reconnects   uint64 // times bridging was re-established after a loss
	Heartbeats   uint64 // completed drain cycles
}

// Options configures a Bridge.
type Options struct {
	// Config is the field-bus section of the loaded configuration.
	Config config.KNXConfig

	// QoS applies to every publish and control subscription.
	QoS byte

	// Table maps group addresses to broker topics and back.
	Table *binding.Table

	// Broker is the broker link.
	Broker Broker

	// Dial opens the field-bus tunnel. Defaults to Open.
	Dial DialFunc

	// Probe checks endpoint reachability before dialing. Defaults to a
	// TCP dial probe against the configured endpoint.
	Probe ProbeFunc

	// Heartbeat, when set, replaces the default per-cycle action
	// (counter plus debug log). Called from the drain goroutines; must
	// be safe for concurrent use.
	Heartbeat func()

	// Logger is optional.
	Logger Logger
}

// Bridge moves records between the KNX field bus and the broker. It
// owns the connection lifecycle on both sides: a state machine walks
// Idle → AwaitingNetwork → AwaitingFieldBusTunnel → AwaitingBroker →
// Bridging, falling back to AwaitingNetwork on any link failure and
// retrying forever with capped exponential backoff.
//
// While bridging, two drains run concurrently: bus telegrams decode
// through the binding table and publish to their topics, and control
// messages from the broker encode back into group writes. The drains
// share nothing but the in-flight semaphore, so a stall on one side
// never blocks the other.
//
// Thread Safety: all methods are safe for concurrent use; Run is meant
// to be called once.
type Bridge struct {
	cfg    config.KNXConfig
	qos    byte
	table  *binding.Table
	broker Broker
	dial   DialFunc
	probe  ProbeFunc

	state atomic.Int32

	// Bounds concurrent outbound work on both drains.
	sem *semaphore.Weighted

	// Broker→bus handoff from the subscription callback.
	controls chan controlMessage

	// One parked payload per topic, newest wins.
	pendingMu sync.Mutex
	pending   map[string][]byte

	// Startup reads issued once per process.
	primed bool

	heartbeat func()

	telegramsIn  atomic.Uint64
	telegramsOut atomic.Uint64
	publishes    atomic.Uint64
	parkedCount  atomic.Uint64
	dropped      atomic.Uint64
	reconnects   atomic.Uint64
	heartbeats   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Run to operate it.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("binding table is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}

	inflight := opts.Config.MaxInflight
	if inflight <= 0 {
		inflight = 1
	}

	b := &Bridge{
		cfg:       opts.Config,
		qos:       opts.QoS,
		table:     opts.Table,
		broker:    opts.Broker,
		dial:      opts.Dial,
		probe:     opts.Probe,
		heartbeat: opts.Heartbeat,
		sem:       semaphore.NewWeighted(int64(inflight)),
		controls:  make(chan controlMessage, controlQueueSize),
		pending:   make(map[string][]byte),
		logger:    opts.Logger,
	}

	if b.dial == nil {
		b.dial = func(ctx context.Context, cfg config.KNXConfig, logger Logger) (Connector, error) {
			return Open(ctx, cfg, logger)
		}
	}
	if b.probe == nil {
		b.probe = dialProbe(opts.Config)
	}

	b.state.Store(int32(StateIdle))
	return b, nil
}

// dialProbe returns a ProbeFunc that dials the configured endpoint and
// immediately closes. It answers "is the network there" before the
// bridge commits to a tunnel handshake.
func dialProbe(cfg config.KNXConfig) ProbeFunc {
	return func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: cfg.GetConnectTimeout()}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Endpoint())
		if err != nil {
			return fmt.Errorf("dial probe %s: %w", cfg.Endpoint(), err)
		}
		return conn.Close()
	}
}

// Run operates the bridge until the context is cancelled. It never
// returns on link failure; every failure path logs, backs off, and
// retries from AwaitingNetwork. The returned error is the context's.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.setState(StateIdle)

	backoff := b.cfg.Backoff.GetInitial()
	established := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.setState(StateAwaitingNetwork)
		if err := b.probe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logWarn("knxd endpoint unreachable",
				"endpoint", b.cfg.Endpoint(), "retry_in", backoff, "error", err)
			backoff = b.wait(ctx, backoff)
			continue
		}

		b.setState(StateAwaitingFieldBusTunnel)
		tun, err := b.dial(ctx, b.cfg, b.getLogger())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logWarn("tunnel open failed", "retry_in", backoff, "error", err)
			backoff = b.wait(ctx, backoff)
			continue
		}

		b.setState(StateAwaitingBroker)
		if err := b.awaitBroker(ctx, tun); err != nil {
			_ = tun.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logWarn("broker not ready", "retry_in", backoff, "error", err)
			backoff = b.wait(ctx, backoff)
			continue
		}

		// Fully linked. Reset the backoff so the next failure starts
		// from the configured initial delay again.
		backoff = b.cfg.Backoff.GetInitial()
		if established {
			b.reconnects.Add(1)
		}
		established = true

		b.setState(StateBridging)
		err = b.bridgeLoop(ctx, tun)
		_ = tun.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logWarn("bridging interrupted", "error", err)
	}
}

// wait sleeps for the current backoff (or until cancellation) and
// returns the next delay, doubled and capped.
func (b *Bridge) wait(ctx context.Context, d time.Duration) time.Duration {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	next := d * 2
	if limit := b.cfg.Backoff.GetMax(); next > limit {
		next = limit
	}
	return next
}

// awaitBroker blocks until the broker link is connected and every
// control topic is subscribed, the tunnel dies, or the context is
// cancelled. Subscribing is idempotent; the broker link re-establishes
// the set itself after its own reconnects.
func (b *Bridge) awaitBroker(ctx context.Context, tun Connector) error {
	ticker := time.NewTicker(brokerPollInterval)
	defer ticker.Stop()

	for {
		if b.broker.IsConnected() {
			err := b.subscribeControls()
			if err == nil {
				return nil
			}
			b.logWarn("control subscribe failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tun.Done():
			if err := tun.Err(); err != nil {
				return err
			}
			return ErrTunnelLost
		case <-ticker.C:
		}
	}
}

// subscribeControls subscribes the bridge to every controlled topic.
func (b *Bridge) subscribeControls() error {
	for _, bnd := range b.table.Controlled() {
		if err := b.broker.Subscribe(bnd.Topic, b.qos, b.enqueueControl); err != nil {
			return fmt.Errorf("subscribe %s: %w", bnd.Topic, err)
		}
	}
	return nil
}

// enqueueControl hands a broker message to the broker→bus drain. Runs
// on the broker client's callback goroutine, so it never blocks: a
// full queue drops the message.
func (b *Bridge) enqueueControl(topic string, payload []byte) error {
	// The broker client may reuse the payload buffer after the handler
	// returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case b.controls <- controlMessage{topic: topic, payload: buf}:
	default:
		b.dropped.Add(1)
		b.logWarn("control queue full, dropping", "topic", topic)
	}
	return nil
}

// bridgeLoop runs both drains until the tunnel dies or the context is
// cancelled. Parked publishes flush first so nothing waits longer than
// it must, and on the first pass the monitored addresses are read to
// prime downstream state.
func (b *Bridge) bridgeLoop(ctx context.Context, tun Connector) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	b.flushPending(lctx)

	if b.cfg.ReadOnStart && !b.primed {
		b.primed = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.primeReads(lctx, tun)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		b.drainBus(lctx, tun)
	}()
	go func() {
		defer wg.Done()
		b.drainControls(lctx, tun)
	}()

	b.logInfo("bridging",
		"endpoint", b.cfg.Endpoint(),
		"monitored", len(b.table.Monitored()),
		"controlled", len(b.table.Controlled()))

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-tun.Done():
		err = tun.Err()
		if err == nil {
			err = ErrTunnelLost
		}
	}

	cancel()
	wg.Wait()
	return err
}

// drainBus forwards bus telegrams to the broker.
func (b *Bridge) drainBus(ctx context.Context, tun Connector) {
	for {
		select {
		case <-ctx.Done():
			return
		case tg := <-tun.Telegrams():
			b.forwardTelegram(ctx, tg)
			b.cycle()
		}
	}
}

// forwardTelegram decodes one telegram through the binding table and
// publishes the record to its topic. Unbound addresses are ignored;
// decode failures are dropped with a diagnostic and the drain keeps
// going.
func (b *Bridge) forwardTelegram(ctx context.Context, tg Telegram) {
	bnd, rec, ok, err := b.table.DecodeTelegram(tg.Destination, tg.Data, tg.Timestamp.UnixMilli())
	if err != nil {
		b.dropped.Add(1)
		b.logWarn("telegram decode failed",
			"destination", tg.Destination.String(), "error", err)
		return
	}
	if !ok {
		return
	}

	b.telegramsIn.Add(1)

	payload, err := records.EncodeWire(rec)
	if err != nil {
		b.dropped.Add(1)
		b.logError("record encode failed", err)
		return
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer b.sem.Release(1)

	if err := b.broker.Publish(bnd.Topic, payload, b.qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			b.park(bnd.Topic, payload)
			return
		}
		b.dropped.Add(1)
		b.logWarn("publish failed", "topic", bnd.Topic, "error", err)
		return
	}

	b.publishes.Add(1)
}

// drainControls forwards broker control messages to the bus.
func (b *Bridge) drainControls(ctx context.Context, tun Connector) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.controls:
			b.forwardControl(ctx, tun, msg)
			b.cycle()
		}
	}
}

// forwardControl validates one control message against the binding
// table and writes the encoded value to the bus. Malformed payloads
// are dropped with a diagnostic; the drain keeps going.
func (b *Bridge) forwardControl(ctx context.Context, tun Connector, msg controlMessage) {
	bnd, data, ok, err := b.table.EncodeControl(msg.topic, msg.payload)
	if err != nil {
		b.dropped.Add(1)
		b.logWarn("control message rejected", "topic", msg.topic, "error", err)
		return
	}
	if !ok {
		return
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer b.sem.Release(1)

	wctx, cancel := context.WithTimeout(ctx, busWriteTimeout)
	defer cancel()

	if err := tun.Send(wctx, bnd.Address, data); err != nil {
		b.dropped.Add(1)
		b.logWarn("bus write failed",
			"address", bnd.Address.String(), "topic", msg.topic, "error", err)
		return
	}

	b.telegramsOut.Add(1)
}

// primeReads issues a group read for every monitored address so current
// bus state reaches the broker without waiting for traffic. Spaced to
// avoid flooding the bus.
func (b *Bridge) primeReads(ctx context.Context, tun Connector) {
	sent := 0
	for _, bnd := range b.table.Monitored() {
		rctx, cancel := context.WithTimeout(ctx, busWriteTimeout)
		err := tun.SendRead(rctx, bnd.Address)
		cancel()
		if err != nil {
			b.logWarn("initial read failed",
				"address", bnd.Address.String(), "error", err)
			continue
		}
		sent++

		select {
		case <-ctx.Done():
			return
		case <-time.After(interReadDelay):
		}
	}

	if sent > 0 {
		b.logInfo("initial bus reads sent", "count", sent)
	}
}

// park holds the latest undeliverable payload for a topic until the
// broker returns. Newer payloads replace older ones; nothing queues.
func (b *Bridge) park(topic string, payload []byte) {
	b.pendingMu.Lock()
	b.pending[topic] = payload
	b.pendingMu.Unlock()

	b.parkedCount.Add(1)
	b.logDebug("publish parked until broker returns", "topic", topic)
}

// repark restores a failed flush without clobbering anything parked
// since: a newer payload parked during the flush wins over the one
// being retried.
func (b *Bridge) repark(topic string, payload []byte) {
	b.pendingMu.Lock()
	if _, exists := b.pending[topic]; !exists {
		b.pending[topic] = payload
	}
	b.pendingMu.Unlock()
}

// flushPending publishes everything parked while the broker was away.
func (b *Bridge) flushPending(ctx context.Context) {
	b.pendingMu.Lock()
	if len(b.pending) == 0 {
		b.pendingMu.Unlock()
		return
	}
	parked := b.pending
	b.pending = make(map[string][]byte)
	b.pendingMu.Unlock()

	flushed := 0
	for topic, payload := range parked {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		err := b.broker.Publish(topic, payload, b.qos, false)
		b.sem.Release(1)

		if err != nil {
			if errors.Is(err, mqtt.ErrNotConnected) {
				b.repark(topic, payload)
				continue
			}
			b.dropped.Add(1)
			b.logWarn("pending flush failed", "topic", topic, "error", err)
			continue
		}
		b.publishes.Add(1)
		flushed++
	}

	if flushed > 0 {
		b.logInfo("flushed pending publishes", "count", flushed)
	}
}

// cycle marks one completed drain iteration.
func (b *Bridge) cycle() {
	n := b.heartbeats.Add(1)
	if b.heartbeat != nil {
		b.heartbeat()
		return
	}
	b.logDebug("bridge cycle", "heartbeats", n)
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.logInfo("bridge state", "from", old.String(), "to", s.String())
	}
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		State:        b.State(),
		TelegramsIn:  b.telegramsIn.Load(),
		TelegramsOut: b.telegramsOut.Load(),
		Publishes:    b.publishes.Load(),
		Parked:       b.parkedCount.Load(),
		Dropped:      b.dropped.Load(),
		Reconnects:   b.reconnects.Load(),
		Heartbeats:   b.heartbeats.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

package console

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/aimx-core/internal/records"
)

// defaultQueueSize is the subscription event buffer size used when the
// configuration does not set one.
const defaultQueueSize = 100

// Logger defines the logging interface used by the console package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Broker is the broker-side surface the console needs. *mqtt.Client
// satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Entry is one cached record with its bookkeeping. Entries are value
// types; the cache hands out copies, never references into itself.
type Entry struct {
	Key       string
	Record    records.Record
	Sequence  uint64
	UpdatedAt time.Time
}

// KeyInfo describes one configured record key for listing: its binding
// facts plus, when an update has been observed, the cache position.
type KeyInfo struct {
	Key       string
	Kind      records.Kind
	Topic     string
	Direction binding.Direction
	Writable  bool

	Cached    bool
	Sequence  uint64
	UpdatedAt time.Time
}

// Event is one fan-out delivery to a subscription. Missed marks that at
// least one earlier event on this subscription was dropped for backlog
// overflow since the last delivery.
type Event struct {
	Key      string
	Sequence uint64
	Record   records.Record
	Missed   bool
}

// Subscription is a live fan-out registration for one key. Events
// arrive on a bounded channel; when the subscriber falls behind, the
// oldest queued event is dropped and the next delivery is marked
// Missed. Cancel releases the registration and closes the channel.
type Subscription struct {
	id    string
	key   string
	cache *Cache

	events chan Event

	mu     sync.Mutex
	missed bool
	closed bool
}

// ID returns the subscription's identifier, used for log correlation.
func (s *Subscription) ID() string { return s.id }

// Key returns the record key this subscription watches.
func (s *Subscription) Key() string { return s.key }

// Events returns the delivery channel. It is closed by Cancel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Cancel releases the subscription. Idempotent; pending events are
// discarded and the events channel is closed.
func (s *Subscription) Cancel() {
	s.cache.unsubscribe(s)
}

// deliver enqueues one event without ever blocking the cache writer.
// A full backlog drops the oldest queued event so the newest state is
// always retained.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	ev.Missed = s.missed
	select {
	case s.events <- ev:
		s.missed = false
		return
	default:
	}

	select {
	case <-s.events:
	default:
	}
	ev.Missed = true
	select {
	case s.events <- ev:
		s.missed = false
	default:
		s.missed = true
	}
}

// close marks the subscription closed and closes the events channel.
// Caller must ensure it is no longer registered for fan-out.
func (s *Subscription) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	CachedKeys    int
	Subscriptions int
	Updates       uint64
	Sets          uint64
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Table is the binding table shared with the rest of the process.
	Table *binding.Table

	// Broker carries Set publishes to the control topics.
	Broker Broker

	// QoS applies to every Set publish.
	QoS byte

	// QueueSize bounds each subscription's event backlog. Defaults to
	// 100.
	QueueSize int

	// History, when set, receives every accepted update.
	History *History

	// Telemetry, when set, receives every accepted update.
	Telemetry *Telemetry

	// Logger is optional.
	Logger Logger
}

// Cache is the console's in-memory record state: the latest observed
// record per key with a per-key sequence, fan-out to live
// subscriptions, and the Set path toward the broker.
//
// The broker-event consumer is the single logical writer; reads and
// fan-out run concurrently under an RWMutex with entries replaced by
// value, so readers never observe a partially written entry. Set never
// touches the cache: command keys have no local state, feedback
// arrives only through a monitored binding, if one exists.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache struct {
	table  *binding.Table
	broker Broker
	qos    byte

	queueSize int

	mu      sync.RWMutex
	entries map[string]Entry
	subs    map[string][]*Subscription

	history   *History
	telemetry *Telemetry

	updates atomic.Uint64
	sets    atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCache creates a cache over the given binding table.
func NewCache(opts CacheOptions) (*Cache, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("binding table is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Cache{
		table:     opts.Table,
		broker:    opts.Broker,
		qos:       opts.QoS,
		queueSize: queueSize,
		entries:   make(map[string]Entry),
		subs:      make(map[string][]*Subscription),
		history:   opts.History,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}, nil
}

// Update stores a newly observed record for a key, advancing its
// sequence (first update is 1), and fans the event out to live
// subscriptions and the optional history/telemetry sinks.
//
// Called by the broker-event consumer; sink failures are logged and do
// not fail the update.
func (c *Cache) Update(key string, rec records.Record) error {
	bnd, ok := c.table.ByKey(key)
	if !ok {
		return fmt.Errorf("update %q: %w", key, ErrUnknownKey)
	}

	c.mu.Lock()
	entry := Entry{
		Key:       key,
		Record:    rec,
		Sequence:  c.entries[key].Sequence + 1,
		UpdatedAt: time.Now().UTC(),
	}
	c.entries[key] = entry
	subs := append([]*Subscription(nil), c.subs[key]...)
	c.mu.Unlock()

	c.updates.Add(1)
	c.logDebug("record updated",
		"key", key, "kind", string(bnd.Kind), "sequence", entry.Sequence)

	ev := Event{Key: key, Sequence: entry.Sequence, Record: rec}
	for _, s := range subs {
		s.deliver(ev)
	}

	if c.history != nil {
		if err := c.history.Append(context.Background(), entry); err != nil {
			c.logWarn("history write failed", "key", key, "error", err)
		}
	}
	if c.telemetry != nil {
		c.telemetry.Observe(key, rec)
	}

	return nil
}

// Get returns the cached entry for a key. ok=false means no update has
// been observed since start; it says nothing about whether the key is
// configured (use Info for that).
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Info returns the KeyInfo for one configured key. ok=false means the
// key is not in the binding table.
func (c *Cache) Info(key string) (KeyInfo, bool) {
	bnd, ok := c.table.ByKey(key)
	if !ok {
		return KeyInfo{}, false
	}

	info := keyInfo(bnd)
	c.mu.RLock()
	if e, cached := c.entries[key]; cached {
		info.Cached = true
		info.Sequence = e.Sequence
		info.UpdatedAt = e.UpdatedAt
	}
	c.mu.RUnlock()
	return info, true
}

// List returns every configured key in configuration order, with cache
// position where an update has been observed.
func (c *Cache) List() []KeyInfo {
	bindings := c.table.Bindings()
	out := make([]KeyInfo, 0, len(bindings))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range bindings {
		info := keyInfo(b)
		if e, cached := c.entries[b.Key]; cached {
			info.Cached = true
			info.Sequence = e.Sequence
			info.UpdatedAt = e.UpdatedAt
		}
		out = append(out, info)
	}
	return out
}

func keyInfo(b binding.Binding) KeyInfo {
	return KeyInfo{
		Key:       b.Key,
		Kind:      b.Kind,
		Topic:     b.Topic,
		Direction: b.Direction,
		Writable:  b.Writable(),
	}
}

// Set publishes a control record for a writable key. The record's
// address is filled from the binding; its kind must match the binding's
// kind. The cache itself is never written: state for a control key only
// ever appears through its monitored feedback binding, if one exists.
func (c *Cache) Set(key string, rec records.Record) error {
	bnd, ok := c.table.ByKey(key)
	if !ok {
		return fmt.Errorf("set %q: %w", key, ErrUnknownKey)
	}
	if !bnd.Writable() {
		return fmt.Errorf("set %q: %w", key, ErrNotWritable)
	}
	if rec.Kind != bnd.Kind {
		return fmt.Errorf("set %q: %s record does not fit %s key: %w",
			key, rec.Kind, bnd.Kind, ErrNotWritable)
	}

	rec.Address = bnd.Address
	payload, err := records.EncodeWire(rec)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	if err := c.broker.Publish(bnd.Topic, payload, c.qos, false); err != nil {
		return fmt.Errorf("set %q: publish to %s: %w", key, bnd.Topic, err)
	}

	c.sets.Add(1)
	c.logDebug("control record published", "key", key, "topic", bnd.Topic)
	return nil
}

// Subscribe registers a fan-out subscription for a key. backlog bounds
// the event buffer; zero or negative uses the configured default.
func (c *Cache) Subscribe(key string, backlog int) (*Subscription, error) {
	if _, ok := c.table.ByKey(key); !ok {
		return nil, fmt.Errorf("subscribe %q: %w", key, ErrUnknownKey)
	}
	if backlog <= 0 {
		backlog = c.queueSize
	}

	s := &Subscription{
		id:     uuid.NewString(),
		key:    key,
		cache:  c,
		events: make(chan Event, backlog),
	}

	c.mu.Lock()
	c.subs[key] = append(c.subs[key], s)
	c.mu.Unlock()

	c.logDebug("subscription opened", "key", key, "subscription_id", s.id)
	return s, nil
}

// unsubscribe removes the registration and closes the subscription.
// Only the caller that removes it from the map closes the channel, so
// double Cancel is safe.
func (c *Cache) unsubscribe(s *Subscription) {
	c.mu.Lock()
	subs := c.subs[s.key]
	removed := false
	for i, x := range subs {
		if x == s {
			c.subs[s.key] = append(subs[:i], subs[i+1:]...)
			removed = true
			break
		}
	}
	if len(c.subs[s.key]) == 0 {
		delete(c.subs, s.key)
	}
	c.mu.Unlock()

	if removed {
		s.close()
		c.logDebug("subscription closed", "key", s.key, "subscription_id", s.id)
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	subs := 0
	for _, list := range c.subs {
		subs += len(list)
	}
	cached := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		CachedKeys:    cached,
		Subscriptions: subs,
		Updates:       c.updates.Load(),
		Sets:          c.sets.Load(),
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Cache) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Cache) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Cache) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

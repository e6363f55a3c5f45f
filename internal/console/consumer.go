package console

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Consumer feeds the cache from the broker: it subscribes every
// monitored topic and decodes each wire payload into a record update.
//
// Malformed payloads and records that do not fit their binding are
// dropped with a diagnostic; nothing on this path is fatal. Reconnect
// re-subscription is handled by the broker link, so Start is called
// once.
type Consumer struct {
	table  *binding.Table
	cache  *Cache
	broker Broker
	qos    byte

	accepted atomic.Uint64
	rejected atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// ConsumerStats is a point-in-time snapshot of consumer counters.
type ConsumerStats struct {
	Accepted uint64
	Rejected uint64
}

// NewConsumer creates a consumer feeding the given cache.
func NewConsumer(table *binding.Table, cache *Cache, broker Broker, qos byte, logger Logger) (*Consumer, error) {
	if table == nil {
		return nil, fmt.Errorf("binding table is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}

	return &Consumer{
		table:  table,
		cache:  cache,
		broker: broker,
		qos:    qos,
		logger: logger,
	}, nil
}

// Start subscribes the consumer to every monitored topic.
func (c *Consumer) Start() error {
	monitored := c.table.Monitored()
	for _, bnd := range monitored {
		if err := c.broker.Subscribe(bnd.Topic, c.qos, c.handleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", bnd.Topic, err)
		}
	}

	c.logInfo("consuming state topics", "topics", len(monitored))
	return nil
}

// handleMessage decodes one broker message into a cache update. Runs on
// the broker client's callback goroutine.
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	bnd, ok := c.table.MonitoredByTopic(topic)
	if !ok {
		return nil
	}

	rec, err := records.DecodeWire(payload)
	if err != nil {
		c.rejected.Add(1)
		c.logWarn("dropping malformed state payload", "topic", topic, "error", err)
		return nil
	}
	if rec.Kind != bnd.Kind || rec.Address != bnd.Address {
		c.rejected.Add(1)
		c.logWarn("dropping state payload that does not fit its binding",
			"topic", topic, "kind", string(rec.Kind), "address", rec.Address.String())
		return nil
	}

	if err := c.cache.Update(bnd.Key, rec); err != nil {
		c.rejected.Add(1)
		c.logWarn("cache update failed", "key", bnd.Key, "error", err)
		return nil
	}

	c.accepted.Add(1)
	return nil
}

// Stats returns a snapshot of consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Accepted: c.accepted.Load(),
		Rejected: c.rejected.Load(),
	}
}

// SetLogger sets the logger for the consumer.
func (c *Consumer) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Consumer) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Consumer) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Consumer) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

package console

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/aimx-core/internal/records"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakePublish struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBroker records publishes and subscriptions in memory.
type fakeBroker struct {
	mu         sync.Mutex
	publishes  []fakePublish
	subs       map[string]mqtt.MessageHandler
	publishErr error
	connected  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:      make(map[string]mqtt.MessageHandler),
		connected: true,
	}
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.publishes = append(f.publishes, fakePublish{topic: topic, payload: buf, qos: qos, retained: retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) published() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakePublish, len(f.publishes))
	copy(out, f.publishes)
	return out
}

func (f *fakeBroker) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic]
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func testTable(t *testing.T) *binding.Table {
	t.Helper()
	table, err := binding.NewTable(binding.Default())
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	return table
}

func testCache(t *testing.T, broker Broker) *Cache {
	t.Helper()
	c, err := NewCache(CacheOptions{
		Table:     testTable(t),
		Broker:    broker,
		QoS:       1,
		QueueSize: 8,
	})
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	return c
}

func switchOn(observedAt int64) records.Record {
	return records.NewSwitchState(records.Address{Main: 1, Middle: 0, Sub: 7}, true, observedAt)
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestNewCacheValidation(t *testing.T) {
	broker := newFakeBroker()

	if _, err := NewCache(CacheOptions{Broker: broker}); err == nil {
		t.Error("NewCache() without table should fail")
	}
	if _, err := NewCache(CacheOptions{Table: testTable(t)}); err == nil {
		t.Error("NewCache() without broker should fail")
	}
	if _, err := NewCache(CacheOptions{Table: testTable(t), Broker: broker}); err != nil {
		t.Errorf("NewCache() error: %v", err)
	}
}

// ─── Update / Get ────────────────────────────────────────────────────────────

func TestCacheUpdateAndGet(t *testing.T) {
	c := testCache(t, newFakeBroker())

	if _, ok := c.Get("tv_state"); ok {
		t.Error("Get() before any update should report cold")
	}

	if err := c.Update("tv_state", switchOn(1000)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	entry, ok := c.Get("tv_state")
	if !ok {
		t.Fatal("Get() after update reported cold")
	}
	if entry.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", entry.Sequence)
	}
	if !entry.Record.IsOn {
		t.Error("cached record IsOn = false, want true")
	}
	if entry.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}

	// Sequences are per key and strictly increasing.
	if err := c.Update("tv_state", switchOn(2000)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	entry, _ = c.Get("tv_state")
	if entry.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2", entry.Sequence)
	}
	if entry.Record.ObservedAt != 2000 {
		t.Errorf("ObservedAt = %d, want 2000", entry.Record.ObservedAt)
	}

	temp := records.NewTemperature(records.Address{Main: 9, Middle: 1, Sub: 0}, 21.5, 3000)
	if err := c.Update("temperature", temp); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	entry, _ = c.Get("temperature")
	if entry.Sequence != 1 {
		t.Errorf("temperature Sequence = %d, want 1 (sequences are per key)", entry.Sequence)
	}
}

func TestCacheUpdateUnknownKey(t *testing.T) {
	c := testCache(t, newFakeBroker())

	err := c.Update("nonexistent", switchOn(0))
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Update() = %v, want ErrUnknownKey", err)
	}
}

// ─── Info / List ─────────────────────────────────────────────────────────────

func TestCacheInfo(t *testing.T) {
	c := testCache(t, newFakeBroker())

	info, ok := c.Info("tv_control")
	if !ok {
		t.Fatal("Info() for configured key reported unknown")
	}
	if !info.Writable {
		t.Error("tv_control Writable = false, want true")
	}
	if info.Cached {
		t.Error("cold key reported Cached")
	}
	if info.Topic != "knx/tv/control" {
		t.Errorf("Topic = %q, want knx/tv/control", info.Topic)
	}

	if _, ok := c.Info("nonexistent"); ok {
		t.Error("Info() for unknown key reported ok")
	}

	if err := c.Update("tv_state", switchOn(1000)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	info, _ = c.Info("tv_state")
	if !info.Cached || info.Sequence != 1 {
		t.Errorf("Info after update = cached %v seq %d, want cached 1", info.Cached, info.Sequence)
	}
}

func TestCacheList(t *testing.T) {
	c := testCache(t, newFakeBroker())

	if err := c.Update("temperature",
		records.NewTemperature(records.Address{Main: 9, Middle: 1, Sub: 0}, 19.0, 500)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	infos := c.List()
	if len(infos) != 3 {
		t.Fatalf("List() returned %d keys, want 3", len(infos))
	}

	// Configuration order is preserved.
	wantKeys := []string{"tv_state", "temperature", "tv_control"}
	for i, want := range wantKeys {
		if infos[i].Key != want {
			t.Errorf("List()[%d].Key = %q, want %q", i, infos[i].Key, want)
		}
	}

	byKey := make(map[string]KeyInfo, len(infos))
	for _, info := range infos {
		byKey[info.Key] = info
	}

	if byKey["tv_state"].Cached {
		t.Error("tv_state reported Cached without an update")
	}
	if !byKey["temperature"].Cached || byKey["temperature"].Sequence != 1 {
		t.Error("temperature not reported cached with sequence 1")
	}
	if byKey["tv_state"].Writable || byKey["temperature"].Writable {
		t.Error("monitor keys reported writable")
	}
	if !byKey["tv_control"].Writable {
		t.Error("tv_control not reported writable")
	}
	if byKey["tv_state"].Kind != records.KindSwitchState {
		t.Errorf("tv_state Kind = %q, want switch_state", byKey["tv_state"].Kind)
	}
}

// ─── Set ─────────────────────────────────────────────────────────────────────

func TestCacheSet(t *testing.T) {
	broker := newFakeBroker()
	c := testCache(t, broker)

	// The record's address is filled from the binding; callers do not
	// need to know bus addressing.
	err := c.Set("tv_control", records.NewSwitchControl(records.Address{}, true))
	if err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	pubs := broker.published()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].topic != "knx/tv/control" {
		t.Errorf("published topic = %q, want knx/tv/control", pubs[0].topic)
	}
	if pubs[0].qos != 1 {
		t.Errorf("published qos = %d, want 1", pubs[0].qos)
	}
	if pubs[0].retained {
		t.Error("control publish retained = true, want false")
	}

	rec, err := records.DecodeWire(pubs[0].payload)
	if err != nil {
		t.Fatalf("DecodeWire(published payload) error: %v", err)
	}
	if rec.Kind != records.KindSwitchControl {
		t.Errorf("published kind = %q, want switch_control", rec.Kind)
	}
	want := records.Address{Main: 1, Middle: 0, Sub: 6}
	if rec.Address != want {
		t.Errorf("published address = %v, want %v", rec.Address, want)
	}
	if !rec.IsOn {
		t.Error("published IsOn = false, want true")
	}

	// Control records never enter the cache.
	if _, ok := c.Get("tv_control"); ok {
		t.Error("Set() cached a control record")
	}
}

func TestCacheSetErrors(t *testing.T) {
	broker := newFakeBroker()
	c := testCache(t, broker)

	tests := []struct {
		name    string
		key     string
		record  records.Record
		wantErr error
	}{
		{
			name:    "unknown key",
			key:     "nonexistent",
			record:  records.NewSwitchControl(records.Address{}, true),
			wantErr: ErrUnknownKey,
		},
		{
			name:    "monitor key not writable",
			key:     "tv_state",
			record:  records.NewSwitchControl(records.Address{}, true),
			wantErr: ErrNotWritable,
		},
		{
			name:    "record kind does not fit",
			key:     "tv_control",
			record:  records.NewSwitchState(records.Address{}, true, 0),
			wantErr: ErrNotWritable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Set(tt.key, tt.record)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := len(broker.published()); got != 0 {
		t.Errorf("rejected sets published %d messages, want 0", got)
	}
}

func TestCacheSetPublishFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = mqtt.ErrNotConnected
	c := testCache(t, broker)

	err := c.Set("tv_control", records.NewSwitchControl(records.Address{}, true))
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Set() = %v, want wrapped ErrNotConnected", err)
	}
}

// ─── Subscriptions ───────────────────────────────────────────────────────────

func TestCacheSubscribeFanout(t *testing.T) {
	c := testCache(t, newFakeBroker())

	sub, err := c.Subscribe("tv_state", 4)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Cancel()

	if sub.Key() != "tv_state" {
		t.Errorf("Key() = %q, want tv_state", sub.Key())
	}
	if sub.ID() == "" {
		t.Error("ID() is empty")
	}

	if err := c.Update("tv_state", switchOn(1000)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Sequence != 1 {
			t.Errorf("event Sequence = %d, want 1", ev.Sequence)
		}
		if !ev.Record.IsOn {
			t.Error("event record IsOn = false, want true")
		}
		if ev.Missed {
			t.Error("first event marked missed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Updates to other keys do not reach this subscription.
	if err := c.Update("temperature",
		records.NewTemperature(records.Address{Main: 9, Middle: 1, Sub: 0}, 20.0, 2000)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected cross-key event: %+v", ev)
	default:
	}
}

func TestCacheSubscribeUnknownKey(t *testing.T) {
	c := testCache(t, newFakeBroker())

	if _, err := c.Subscribe("nonexistent", 4); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Subscribe() = %v, want ErrUnknownKey", err)
	}
}

func TestCacheSubscriptionOverflow(t *testing.T) {
	c := testCache(t, newFakeBroker())

	sub, err := c.Subscribe("tv_state", 2)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Cancel()

	// Four updates into a backlog of two: the two oldest are dropped,
	// the survivors carry the missed mark.
	for i := 1; i <= 4; i++ {
		if err := c.Update("tv_state", switchOn(int64(i))); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
	}

	first := <-sub.Events()
	if first.Sequence != 3 {
		t.Errorf("first received Sequence = %d, want 3 (1 and 2 dropped)", first.Sequence)
	}
	if !first.Missed {
		t.Error("first received event not marked missed")
	}

	second := <-sub.Events()
	if second.Sequence != 4 {
		t.Errorf("second received Sequence = %d, want 4", second.Sequence)
	}

	// With the backlog drained, delivery is clean again.
	if err := c.Update("tv_state", switchOn(5)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	fifth := <-sub.Events()
	if fifth.Sequence != 5 {
		t.Errorf("Sequence = %d, want 5", fifth.Sequence)
	}
	if fifth.Missed {
		t.Error("post-drain event still marked missed")
	}
}

func TestCacheSubscriptionCancel(t *testing.T) {
	c := testCache(t, newFakeBroker())

	sub, err := c.Subscribe("tv_state", 4)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if got := c.Stats().Subscriptions; got != 1 {
		t.Errorf("Subscriptions = %d, want 1", got)
	}

	sub.Cancel()
	sub.Cancel() // idempotent

	if got := c.Stats().Subscriptions; got != 0 {
		t.Errorf("Subscriptions after Cancel = %d, want 0", got)
	}

	// The events channel is closed.
	select {
	case _, open := <-sub.Events():
		if open {
			t.Error("Events() delivered after Cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Events() not closed after Cancel")
	}

	// Updates after Cancel must not panic or deliver.
	if err := c.Update("tv_state", switchOn(1000)); err != nil {
		t.Fatalf("Update() after Cancel error: %v", err)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := testCache(t, newFakeBroker())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// One writer, several readers. Exercises the RWMutex paths under
	// the race detector.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			_ = c.Update("tv_state", switchOn(int64(i)))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Get("tv_state")
					c.List()
					c.Stats()
				}
			}
		}()
	}

	wg.Wait()

	entry, ok := c.Get("tv_state")
	if !ok || entry.Sequence != 200 {
		t.Errorf("final entry = %+v ok=%v, want sequence 200", entry, ok)
	}
}

func TestCacheStatsSnapshot(t *testing.T) {
	c := testCache(t, newFakeBroker())

	if err := c.Update("tv_state", switchOn(1)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := c.Set("tv_control", records.NewSwitchControl(records.Address{}, true)); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	stats := c.Stats()
	if stats.CachedKeys != 1 {
		t.Errorf("CachedKeys = %d, want 1", stats.CachedKeys)
	}
	if stats.Updates != 1 {
		t.Errorf("Updates = %d, want 1", stats.Updates)
	}
	if stats.Sets != 1 {
		t.Errorf("Sets = %d, want 1", stats.Sets)
	}
}

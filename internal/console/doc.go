// Package console holds the console-side record state: the cache fed
// from the broker, its fan-out to live subscriptions, and the optional
// history and telemetry sinks.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                             Console                                │
//	│                                                                    │
//	│  ┌──────────────┐     ┌──────────────┐     ┌───────────────────┐  │
//	│  │   Consumer   │────▶│    Cache     │────▶│   Subscriptions   │  │
//	│  │(consumer.go) │     │  (cache.go)  │     │ (bounded fan-out) │  │
//	│  │              │     │              │     └───────────────────┘  │
//	│  │ • monitored  │     │ • entries +  │     ┌───────────────────┐  │
//	│  │   topics     │     │   sequences  │────▶│ History (sqlite)  │  │
//	│  │ • wire decode│     │ • Set → pub  │     │ Telemetry (influx)│  │
//	│  └──────────────┘     └──────────────┘     └───────────────────┘  │
//	└────────────────────────────────────────────────────────────────────┘
//	        ▲ broker state topics           │ broker control topics
//	        └──────────────────────────────-┘
//
// The broker-event consumer is the cache's single logical writer. Each
// accepted update replaces the key's entry by value under an RWMutex,
// advances the per-key sequence (first update is 1), and fans out to
// that key's subscriptions without ever blocking on a slow subscriber:
// a full backlog drops the oldest queued event and the next delivery
// carries a missed mark.
//
// Set is the opposite direction: it validates the key against the
// binding table, fills the binding's address, and publishes the wire
// payload to the control topic. Control records are never cached;
// observed state only ever enters through the monitored feedback path.
//
// The history store (SQLite) and telemetry sink (InfluxDB) are
// optional. Both hang off the update path and absorb their own
// failures; a broken sink degrades history, never state.
//
// # Thread Safety
//
// Cache, Consumer, History and Telemetry are all safe for concurrent
// use.
package console

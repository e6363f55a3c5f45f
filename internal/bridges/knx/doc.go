// Package knx moves records between a KNX field bus and the MQTT
// broker.
//
// Connectivity to the bus goes through a knxd-compatible daemon. The
// package has two layers: Tunnel speaks the knxd group-socket protocol
// over TCP, and Bridge owns the end-to-end lifecycle and translation.
//
// # Architecture
//
//	             MQTT                        knxd
//	┌────────┐          ┌────────────────┐          ┌─────────┐
//	│ Broker │◄────────►│     Bridge     │◄────────►│ KNX Bus │
//	└────────┘          │   (this pkg)   │          └─────────┘
//	                    └────────────────┘
//
// The bridge walks a fixed lifecycle:
//
//	Idle → AwaitingNetwork → AwaitingFieldBusTunnel → AwaitingBroker → Bridging
//	              ↑                                                       │
//	              └────────────────── any link failure ───────────────────┘
//
// Reconnection is owned entirely by the Bridge: the Tunnel reports loss
// and stops. Retries back off exponentially from the configured initial
// delay to the configured cap and continue until shutdown.
//
// # Translation
//
// While bridging, two drains run concurrently. Bus telegrams resolve
// through the binding table to a record and publish as wire JSON on the
// binding's topic; control messages arriving on subscribed topics
// decode, validate against their binding, and write to the bus as group
// telegrams. Both drains bound their outbound work with a shared
// semaphore, and a payload that cannot reach the broker is parked one
// slot per topic (newest wins) until the link returns.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines.
//
// # References
//
//   - KNX Specification: https://www.knx.org
//   - knxd daemon: https://github.com/knxd/knxd
package knx

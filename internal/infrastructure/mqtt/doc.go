// Package mqtt provides the broker link for AimX Core.
//
// This package manages:
//   - Connection to the MQTT broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// AimX uses MQTT as the bus between the field-bus gateway and the console.
// The broker decouples the two services: either side can restart without
// the other noticing more than a gap in traffic.
//
//	Field Bus ↔ Gateway ↔ MQTT Broker ↔ Console ↔ Local Clients
//
// Subscriptions registered through Subscribe are tracked and restored on
// every reconnect, so callers subscribe once and forget.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff between the configured bounds
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "gateway")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to a control topic from the binding table
//	err = client.Subscribe("knx/tv/control", 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleControl(topic, payload)
//	    })
//
//	// Publish a decoded record
//	client.PublishRecord("knx/tv/state", payload)
package mqtt

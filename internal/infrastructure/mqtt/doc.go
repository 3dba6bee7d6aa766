// Package mqtt provides MQTT client connectivity for the Freebox bridge.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The Gray Logic bus connects the Core to protocol bridges. This bridge
// publishes the Freebox alarm and shutters on it and receives their
// commands from it.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Freebox bridge ↔ Freebox
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(will))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeState("freebox", "alarm")
//	client.Publish(topic, []byte(`{"state":"idle"}`), 1, true)
package mqtt

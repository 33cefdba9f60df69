// Package mqtt provides MQTT client connectivity for the AV bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) carrying the bridge health message
//   - Connection health monitoring
//
// # Architecture
//
// The Gray Logic platform uses MQTT as the message bus between the core
// and protocol bridges. This bridge publishes AV device state and health
// and consumes commands over that bus:
//
//	Gray Logic Core ↔ MQTT Broker ↔ AV Bridge ↔ Receivers / Displays
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	payload, _ := reporter.GetLWTPayload()
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(reporter.GetLWTTopic(), payload, 1, true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all AV device state updates
//	err = client.Subscribe(mqtt.Topics{}.ProtocolStates("av"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("state: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command
//	topic := mqtt.Topics{}.BridgeCommand("av", "living_room_avr")
//	client.Publish(topic, []byte(`{"command":"set_power"}`), 1, false)
package mqtt

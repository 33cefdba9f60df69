package mqtt

import "fmt"

// Topic layout for the Gray Logic platform.
//
// All bridge traffic uses the flat scheme:
//
//	graylogic/{category}/{protocol}/{address_or_id}
//
// The AV bridge publishes under protocol segment "av"; other bridges
// (knx, dali, ...) share the same shape, which is what lets the core
// subscribe with per-category wildcards.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"
)

// Topics provides builders for platform MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("av", "living_room_avr")
//	// Returns: "graylogic/state/av/living_room_avr"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/av/living_room_avr
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/av/living_room_avr
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/av/living_room_avr
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/av
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for device discovery announcements.
//
// Example: graylogic/discovery/av
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// ProtocolStates returns a pattern matching every device state topic
// for one protocol. The API event stream subscribes with this.
//
// Pattern: graylogic/state/av/+
func (Topics) ProtocolStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}

// ProtocolAcks returns a pattern matching every ack topic for one
// protocol.
//
// Pattern: graylogic/ack/av/+
func (Topics) ProtocolAcks(protocol string) string {
	return fmt.Sprintf("%s/ack/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeStates returns a pattern matching state updates from every
// bridge.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// AllBridgeHealth returns a pattern matching every bridge's health
// topic.
//
// Pattern: graylogic/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixBridge)
}

// AllTopics returns a pattern matching all platform topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graylogic/#
func (Topics) AllTopics() string {
	return "graylogic/#"
}

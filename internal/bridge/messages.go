package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types for communication between Gray Logic Core and the
// AV bridge. These follow the bridge interface contract shared by all
// Gray Logic protocol bridges.

// Protocol is the protocol identifier carried in every message.
const Protocol = "av"

// CommandMessage is sent from Core to Bridge to execute a device command.
// Topic: graylogic/command/av/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name.
	// Values: "set_power", "set_mute", "set_volume", "volume_up",
	// "volume_down", "set_input", "send_ircc", "query"
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"on": true} for set_power
	//   {"volume": -32.5} for set_volume on a receiver (dB)
	//   {"volume": 30} for set_volume on a display (steps)
	//   {"input": "HDMI1"} for set_input
	//   {"code": "HOME"} for send_ircc
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/av/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("av").
	Protocol string `json:"protocol"`

	// Address is the device's network address (e.g., "192.168.1.40:23").
	Address string `json:"address,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when device state changes.
// Topic: graylogic/state/av/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current device state.
	// Structure depends on device type:
	//   Receiver: {"power": true, "volume_db": -32.5, "mute": false, "input": "DVD", "responding": true}
	//   Display:  {"power": true, "volume": 30, "mute": false, "input": "HDMI1", "responding": true}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("av").
	Protocol string `json:"protocol"`

	// Address is the device's network address.
	Address string `json:"address,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/av
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "av").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Devices reports per-device session status.
	Devices []DeviceHealth `json:"devices,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of managed devices.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// DeviceHealth is one device's session status inside a health message.
type DeviceHealth struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// State is the session lifecycle state (e.g., "running").
	State string `json:"state"`

	// Responding reports whether the device is answering.
	Responding bool `json:"responding"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// CommandsReceived is the total number of commands received.
	CommandsReceived uint64 `json:"commands_received"`

	// CommandsFailed is the number of commands that could not be executed.
	CommandsFailed uint64 `json:"commands_failed"`

	// StatePublishes is the number of state messages published.
	StatePublishes uint64 `json:"state_publishes"`

	// Reconnects is the total number of device reconnect cycles.
	Reconnects uint64 `json:"reconnects"`

	// Errors is the total number of errors encountered.
	Errors uint64 `json:"errors"`
}

// DiscoveryMessage is sent from Bridge to Core to announce discovered devices.
// Topic: graylogic/discovery/av
type DiscoveryMessage struct {
	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Devices contains the discovered devices.
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a device found during discovery.
type DiscoveredDevice struct {
	// Protocol is the protocol identifier.
	Protocol string `json:"protocol"`

	// Type is the device type (e.g., "pioneer_vsx1021", "sony_bravia").
	Type string `json:"type"`

	// Name is the device's advertised friendly name.
	Name string `json:"name,omitempty"`

	// Host and Port form the device's control address.
	Host string `json:"host"`
	Port int    `json:"port"`

	// Manufacturer is the device manufacturer (if known).
	Manufacturer string `json:"manufacturer,omitempty"`

	// Model is the product model (if known).
	Model string `json:"model,omitempty"`

	// Location is the description URL the device was found at.
	Location string `json:"location,omitempty"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewCommandMessage creates a command message with a fresh correlation ID.
func NewCommandMessage(deviceID, command string, parameters map[string]any, source string) CommandMessage {
	return CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		DeviceID:   deviceID,
		Command:    command,
		Parameters: parameters,
		Source:     source,
	}
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, address string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, devices []DeviceHealth, stats BridgeStatistics, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Devices:        devices,
		Statistics:     &stats,
		DevicesManaged: len(devices),
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveryMessage creates a discovery announcement.
func NewDiscoveryMessage(bridgeID string, devices []DiscoveredDevice) DiscoveryMessage {
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   devices,
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// CommandTopic returns the MQTT topic for commands to a specific device.
// Example: graylogic/command/av/living_room_avr
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/av/living_room_avr
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/av/living_room_avr
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/av
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// DiscoveryTopic returns the MQTT topic for device discovery announcements.
// Example: graylogic/discovery/av
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graylogic/command/av/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// ValidDeviceID reports whether an identifier is usable as an MQTT
// topic segment. Device IDs appear verbatim in topics, so separator and
// wildcard characters are rejected.
func ValidDeviceID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', '+', '#', 0:
			return false
		}
	}
	return true
}

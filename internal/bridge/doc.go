// Package bridge implements the AV protocol bridge for Gray Logic.
//
// This package connects networked AV devices (the Pioneer receiver and
// Sony display clients under internal/avdevice) to Gray Logic Core over
// MQTT. It translates between the bridge message contract and the
// device sessions.
//
// # Architecture
//
// The bridge operates as a translator between the broker and the
// device sessions:
//
//	┌─────────────────┐          ┌─────────────────┐   TCP    ┌──────────────┐
//	│   Gray Logic    │   MQTT   │    AV Bridge    │◄────────►│  AV receiver │
//	│      Core       │◄────────►│   (this pkg)    │   TCP    ├──────────────┤
//	└─────────────────┘          └─────────────────┘◄────────►│  AV display  │
//	                                                          └──────────────┘
//
// # Key Responsibilities
//
//   - Subscribe to command topics and dispatch commands to device sessions
//   - Publish retained state messages when device sessions observe changes
//   - Acknowledge every command as accepted or failed with an error code
//   - Announce devices found by SSDP discovery
//   - Publish periodic health status with per-device liveness
//
// # Devices
//
// Each managed device is registered under a stable device ID and wrapped
// in a Controller, which normalises the receiver and display clients to
// one command surface. A per-device worker listens to the session and
// publishes the full device state whenever it changes.
//
// Example:
//
//	client, _ := pioneer.New(pioneer.Config{Host: "192.168.1.40"})
//	b.AddDevice("living_room_avr", bridge.NewPioneerController(client, "192.168.1.40:23"))
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge

// Package api implements the HTTP status API and WebSocket server for
// the AV bridge.
//
// This package provides:
//   - REST endpoints for device inspection, live state, and commands
//   - System metrics (runtime, bridge, MQTT, registry, database)
//   - WebSocket hub for real-time state change broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server is a diagnostics surface over the bridge. Reads come
// from the device registry and the bridge's cached state. Commands are
// published to the command topic and travel the same MQTT path as
// commands from Core, so the bridge handles them identically. State
// changes flow back via an MQTT subscription and are broadcast to
// WebSocket clients.
//
// # Security
//
// There is no authentication. The API binds to the LAN for install and
// diagnostic use; Core remains the authoritative control surface.
//
// # Graceful Degradation
//
// The server operates without MQTT or the bridge: registry reads and
// WebSocket connections work, live state and commands return 503.
package api

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-av/internal/bridge"
	"github.com/nerrad567/gray-logic-av/internal/device"
)

// handleListDevices returns all registered devices, with optional filters.
//
// Query parameters:
//   - type: filter by device type (pioneer_vsx1021, sony_bravia)
//   - source: filter by how the device was registered (configured, discovered)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		devices, err := s.registry.GetDevicesByType(ctx, device.Type(typeStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if sourceStr := r.URL.Query().Get("source"); sourceStr != "" {
		devices, err := s.registry.GetDevicesBySource(ctx, device.Source(sourceStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()

	byType := make(map[string]int, len(stats.ByType))
	for t, count := range stats.ByType {
		byType[string(t)] = count
	}
	bySource := make(map[string]int, len(stats.BySource))
	for src, count := range stats.BySource {
		bySource[string(src)] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     stats.TotalDevices,
		"by_type":   byType,
		"by_source": bySource,
	})
}

// handleGetDeviceState returns the live state of a bridge-managed device.
//
// State comes from the bridge's cache, which the device sessions keep
// current. Devices that are registered but not managed (discovered only,
// not configured) have no live state and return 404.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "bridge not running")
		return
	}

	id := chi.URLParam(r, "id")

	state, err := s.bridge.DeviceState(id)
	if err != nil {
		if errors.Is(err, bridge.ErrDeviceNotFound) {
			writeNotFound(w, "device not managed by bridge")
			return
		}
		writeInternalError(w, "failed to get device state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"state":     state,
	})
}

// DeviceCommand is the request body for POST /devices/{id}/command.
type DeviceCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleDeviceCommand publishes a command for a bridge-managed device.
//
// The command is published on the device's command topic and travels
// the same MQTT path as commands from Core, so the bridge validates,
// executes, and acknowledges it identically. The response is 202
// Accepted; the resulting state change arrives via WebSocket.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the device is managed before accepting the command.
	if s.bridge != nil {
		if _, err := s.bridge.DeviceState(id); err != nil {
			if errors.Is(err, bridge.ErrDeviceNotFound) {
				writeNotFound(w, "device not managed by bridge")
				return
			}
			writeInternalError(w, "failed to check device")
			return
		}
	}

	var req DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	if s.mqtt == nil || !s.mqtt.IsConnected() {
		writeUnavailable(w, "command transport unavailable")
		return
	}

	cmd := bridge.NewCommandMessage(id, req.Command, req.Parameters, "api")
	payload, err := json.Marshal(&cmd)
	if err != nil {
		writeInternalError(w, "failed to encode command")
		return
	}

	if err := s.mqtt.Publish(bridge.CommandTopic(id), payload, 1, false); err != nil {
		s.logger.Warn("command publish failed", "device_id", id, "error", err)
		writeUnavailable(w, "command publish failed")
		return
	}

	s.logger.Info("device command accepted",
		"device_id", id,
		"command", req.Command,
		"command_id", cmd.ID,
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": cmd.ID,
		"status":     "accepted",
		"message":    "command published, state update will follow via WebSocket",
	})
}

package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Bridge        *BridgeMetrics  `json:"bridge,omitempty"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains device bridge statistics.
type BridgeMetrics struct {
	DevicesManaged    int    `json:"devices_managed"`
	DevicesResponding int    `json:"devices_responding"`
	CommandsReceived  uint64 `json:"commands_received"`
	CommandsFailed    uint64 `json:"commands_failed"`
	StatePublishes    uint64 `json:"state_publishes"`
	Reconnects        uint64 `json:"reconnects"`
	Errors            uint64 `json:"errors"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	BySource map[string]int `json:"by_source"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	// Hub exists only after Start(); metrics may be scraped earlier in tests.
	if s.hub != nil {
		metrics.WebSocket = WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		}
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &BridgeMetrics{
			DevicesManaged:    bm.DevicesManaged,
			DevicesResponding: bm.DevicesResponding,
			CommandsReceived:  bm.CommandsReceived,
			CommandsFailed:    bm.CommandsFailed,
			StatePublishes:    bm.StatePublishes,
			Reconnects:        bm.Reconnects,
			Errors:            bm.Errors,
		}
	}

	regStats := s.registry.GetStats()
	metrics.Devices = DeviceMetrics{
		Total:    regStats.TotalDevices,
		ByType:   make(map[string]int),
		BySource: make(map[string]int),
	}
	for t, count := range regStats.ByType {
		metrics.Devices.ByType[string(t)] = count
	}
	for src, count := range regStats.BySource {
		metrics.Devices.BySource[string(src)] = count
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

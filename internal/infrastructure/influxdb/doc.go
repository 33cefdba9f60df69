// Package influxdb provides time-series telemetry for the AV bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Device state history (power, volume, mute, input per change)
//   - Individual device metrics (volume ramps, response times)
//   - Bridge events (reconnects, discovery hits, faults)
//
// Telemetry is strictly write-only. Device state is always observed
// live from the devices; nothing is restored from InfluxDB.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "graylogic",
//	    Bucket:  "av_metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record an observed state change
//	client.WriteDeviceState("living_room_avr", "pioneer_vsx1021",
//	    map[string]any{"power": true, "volume_db": -32.5, "mute": false})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors arrive via the
// SetOnError callback wrapped with ErrWriteFailed. Connection and
// health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). This keeps per-state-change overhead negligible.
package influxdb

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceState records an observed device state snapshot.
//
// The bridge calls this once per state change, with the controller's
// full state map. Boolean values (power, mute) are stored as 0/1
// integers so they graph cleanly alongside numeric fields; numbers
// and strings pass through unchanged.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "living_room_avr")
//   - deviceType: Device type tag (e.g., "pioneer_vsx1021")
//   - state: State map as reported by the device controller
func (c *Client) WriteDeviceState(deviceID, deviceType string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := stateFields(state)
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// stateFields converts a controller state map to InfluxDB fields.
// Booleans become 0/1 integers; everything else passes through.
func stateFields(state map[string]any) map[string]interface{} {
	fields := make(map[string]interface{}, len(state))
	for key, value := range state {
		switch v := value.(type) {
		case bool:
			if v {
				fields[key] = int64(1)
			} else {
				fields[key] = int64(0)
			}
		default:
			fields[key] = value
		}
	}
	return fields
}

// WriteDeviceMetric writes a single device measurement.
//
// Use this for individual numeric readings outside a full state
// snapshot, such as a volume ramp sample.
//
// Parameters:
//   - deviceID: Unique identifier for the device
//   - measurement: The metric name (e.g., "volume_db", "response_ms")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("living_room_avr", "volume_db", -32.5)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEvent records a discrete bridge event as a counter point.
//
// Used for occurrences rather than levels: a device reconnecting,
// an SSDP discovery hit, a command ack timeout.
//
// Parameters:
//   - deviceID: Device identifier ("bridge" for bridge-level events)
//   - event: Event name (e.g., "reconnected", "discovered", "fault")
func (c *Client) WriteEvent(deviceID string, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge_events",
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]interface{}{
			"count": int64(1),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "av-bridge-01"},
//	    map[string]interface{}{"goroutines": 42, "memory_mb": 18.5})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

package device

import (
	"net"
	"strconv"
	"time"
)

// Device represents one AV appliance the bridge can manage.
// This matches the devices table created by the initial schema migration.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Type Type `json:"type"`

	// Control endpoint
	Host string `json:"host"`
	Port int    `json:"port"`

	// Source records how the device entered the registry.
	Source Source `json:"source"`

	// Metadata (from discovery, when available)
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`

	// LastSeen is the most recent discovery response or state update.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address returns the device's control endpoint as host:port.
func (d *Device) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Type identifies the device protocol family.
type Type string

// Type constants.
const (
	TypePioneerVSX1021 Type = "pioneer_vsx1021"
	TypeSonyBravia     Type = "sony_bravia"
)

// AllTypes returns all valid device type values.
func AllTypes() []Type {
	return []Type{TypePioneerVSX1021, TypeSonyBravia}
}

// DefaultPort returns the standard control port for a device type,
// or 0 for unknown types.
func DefaultPort(t Type) int {
	switch t {
	case TypePioneerVSX1021:
		return 23
	case TypeSonyBravia:
		return 20060
	}
	return 0
}

// Source records how a device record was established.
type Source string

// Source constants.
const (
	// SourceConfigured marks devices declared in the bridge configuration.
	SourceConfigured Source = "configured"

	// SourceDiscovered marks devices found by SSDP discovery.
	SourceDiscovered Source = "discovered"
)

// AllSources returns all valid source values.
func AllSources() []Source {
	return []Source{SourceConfigured, SourceDiscovered}
}

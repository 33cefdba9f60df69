package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxHostLength = 253 // RFC 1035 maximum FQDN length
)

// Pre-computed validation sets for O(1) lookups.
var (
	validTypes   map[Type]struct{}
	validSources map[Source]struct{}
)

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}

	validSources = make(map[Source]struct{}, len(AllSources()))
	for _, s := range AllSources() {
		validSources[s] = struct{}{}
	}
}

// ValidateDevice performs validation on a device record.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateType(d.Type); err != nil {
		return err
	}

	if err := ValidateSource(d.Source); err != nil {
		return err
	}

	if err := ValidateEndpoint(d.Host, d.Port); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateType checks if a device type is valid.
func ValidateType(t Type) error {
	if _, ok := validTypes[t]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidType, t)
}

// ValidateSource checks if a source value is valid.
func ValidateSource(s Source) error {
	if _, ok := validSources[s]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSource, s)
}

// ValidateEndpoint checks a control endpoint's host and port.
func ValidateEndpoint(host string, port int) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidAddress)
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host exceeds %d characters", ErrInvalidAddress, maxHostLength)
	}
	if strings.ContainsAny(host, " \t") {
		return fmt.Errorf("%w: host contains whitespace", ErrInvalidAddress)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}

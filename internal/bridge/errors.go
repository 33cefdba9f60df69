package bridge

import "errors"

var (
	// ErrDeviceExists is returned when registering a device ID twice.
	ErrDeviceExists = errors.New("bridge: device already registered")

	// ErrDeviceNotFound is returned for operations on an unknown device.
	ErrDeviceNotFound = errors.New("bridge: device not registered")

	// ErrInvalidDeviceID is returned for device IDs unusable in MQTT topics.
	ErrInvalidDeviceID = errors.New("bridge: invalid device id")

	// ErrUnsupportedCommand is returned when a device type cannot
	// execute the requested command.
	ErrUnsupportedCommand = errors.New("bridge: command not supported by device")
)

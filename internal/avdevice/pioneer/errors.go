package pioneer

import "errors"

// Client errors.
var (
	// ErrNotConnected indicates a command was issued while no device
	// connection exists.
	ErrNotConnected = errors.New("pioneer: not connected")

	// ErrCommandFailed indicates a command could not be written to the
	// device.
	ErrCommandFailed = errors.New("pioneer: command failed")

	// ErrVolumeOutOfRange indicates a requested volume outside the
	// device's -80.5 to +12 dB range.
	ErrVolumeOutOfRange = errors.New("pioneer: volume out of range")

	// ErrInvalidResponse indicates a status line that could not be
	// parsed. Logged and dropped, never fatal.
	ErrInvalidResponse = errors.New("pioneer: invalid response")
)

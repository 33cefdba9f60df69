package sony

import "errors"

var (
	// ErrNotConnected is returned when a command is submitted while no
	// device session is running.
	ErrNotConnected = errors.New("sony: not connected")

	// ErrInvalidFrame is returned when a received frame fails to parse.
	ErrInvalidFrame = errors.New("sony: invalid frame")

	// ErrVolumeOutOfRange is returned for volumes outside 0-100.
	ErrVolumeOutOfRange = errors.New("sony: volume out of range")

	// ErrIRCCOutOfRange is returned for remote codes outside the
	// documented set.
	ErrIRCCOutOfRange = errors.New("sony: ircc code out of range")

	// ErrCommandFailed wraps transport-level write failures.
	ErrCommandFailed = errors.New("sony: command failed")
)

package avdevice

import "errors"

// Session errors.
var (
	// ErrInvalidTransition indicates a trigger was fired from a state
	// that does not permit it (caller misuse, rejected synchronously).
	ErrInvalidTransition = errors.New("avdevice: invalid transition")

	// ErrSessionClosed indicates the session has shut down and cannot
	// accept further operations.
	ErrSessionClosed = errors.New("avdevice: session closed")

	// ErrConnectFailed indicates the transport could not establish a
	// connection to the device.
	ErrConnectFailed = errors.New("avdevice: connect failed")

	// ErrNotResponding indicates the device stopped answering while the
	// session was running.
	ErrNotResponding = errors.New("avdevice: device not responding")

	// ErrUnknownInput indicates an input name or code the device does
	// not recognise.
	ErrUnknownInput = errors.New("avdevice: unknown input")
)

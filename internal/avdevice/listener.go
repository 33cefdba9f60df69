package avdevice

// InputCode identifies a device input source. Code values are
// driver-specific; InputUnknown is shared by every driver.
type InputCode int

// InputUnknown is reported when the input source cannot be determined,
// including while the device is powered off.
const InputUnknown InputCode = 999

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Listener receives device value and lifecycle notifications.
//
// Callbacks are invoked on the session's worker or I/O goroutine and must
// not block. Hand long-running work off to another goroutine.
type Listener interface {
	// OnPower reports a power state change.
	OnPower(on bool)

	// OnVolume reports a volume change in the device's native scale
	// (dB for receivers, 0-100 for displays).
	OnVolume(volume float64)

	// OnMute reports a mute change.
	OnMute(muted bool)

	// OnInput reports an input source change.
	OnInput(input InputCode)

	// OnConnected reports that a device connection was established.
	OnConnected()

	// OnDisconnected reports that the device connection was closed.
	OnDisconnected()

	// OnResponding reports that a previously unresponsive device is
	// answering again.
	OnResponding()

	// OnNotResponding reports that the device stopped answering.
	OnNotResponding()
}

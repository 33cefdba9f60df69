// Package pioneer implements a client for Pioneer VSX-series AV receivers
// using their telnet-style line protocol (port 23).
//
// The client implements avdevice.Transport and delegates lifecycle
// management (connect, reconnect-on-fault, shutdown) to an
// avdevice.Session it owns.
//
// # Wire Protocol
//
// Commands are short ASCII strings terminated with CR. The receiver
// answers with status lines terminated CRLF:
//
//	?P  → PWR0 (on) / PWR1 (standby)
//	?V  → VOL121 (raw volume, 0-185)
//	?M  → MUT0 (muted) / MUT1 (unmuted)
//	?F  → FN04 (two-digit input code)
//
// Status lines also arrive unsolicited whenever the device state changes
// (front panel, IR remote), so the read loop treats every line the same
// whether queried or not. E04, E06 and B00 are device complaints about
// the previous command and are logged, never fatal.
//
// # Volume Scale
//
// The device reports volume as a raw 0-185 value in half-dB steps:
//
//	dB = (raw - 161) / 2
//
// so raw 161 is 0.0 dB and raw 120 is -20.5 dB. The session caches and
// reports volume in dB; SetVolume accepts dB and converts back.
//
// # Liveness
//
// The receiver does not announce its own death. A heartbeat goroutine
// re-queries power periodically; if no line at all arrives within the
// reply window the client raises a fault and the session reconnects.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package pioneer

// Package avdevice implements the shared session lifecycle for networked
// AV equipment (receivers, displays).
//
// Protocol packages (pioneer, sony) implement the Transport interface and
// delegate connection management to a Session. The Session owns a small
// state machine that handles connect, reconnect-on-fault, and shutdown so
// that every protocol client behaves identically when a device drops off
// the network.
//
// # Lifecycle
//
// A session moves through seven states:
//
//	not_running ──start──► starting ──started──► running
//	     ▲                    │                     │
//	     │              handle_error          handle_error
//	disconnected              ▼                     ▼
//	     │                  error ──reconnect──► reconnecting
//	disconnecting ◄──close── running                │
//	                                                └──start (timer)──► starting
//
// Shutdown is reachable from every state and is terminal. Entering
// reconnecting arms a timer that re-fires start after a fixed delay, so a
// device that goes away comes back without caller involvement.
//
// All triggers are serialised through a single queue drained by one
// goroutine. Entry actions may fire further triggers; they are appended to
// the queue and processed in order, never recursively.
//
// # Faults
//
// I/O errors never escape a read loop. Protocol clients report them via
// Session.Fault, which routes through the error state: listeners get a
// single OnNotResponding, the connection is torn down, and the reconnect
// cycle begins. Callers only ever see caller-misuse errors (bad input
// name, invalid transition) at the API boundary.
//
// # Listeners
//
// State observers implement the Listener interface. Callbacks are invoked
// on the session's worker or I/O goroutine and must not block; panics in
// callbacks are recovered and logged.
//
// # Thread Safety
//
// All exported methods on Session are safe for concurrent use.
package avdevice

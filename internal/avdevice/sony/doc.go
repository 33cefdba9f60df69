// Package sony implements a Sony Bravia XBR television client speaking
// the Simple IP control protocol on TCP port 20060.
//
// # Wire Protocol
//
// Every message is a fixed 24-byte frame:
//
//	+--------+------+----------+-----------------+--------+
//	| "*S"   | type | function | parameter       | 0x0A   |
//	| 2 byte | 1    | 4        | 16              | 1      |
//	+--------+------+----------+-----------------+--------+
//
// The type byte is C (control), E (enquiry), A (answer) or N (notify).
// Numeric parameters are zero-padded on the left; unused fields are
// filled with '#'. The television answers every control and enquiry
// frame, and pushes notify frames on its own whenever state changes.
//
// # Queueing
//
// The television rejects pipelined requests, so commands pass through a
// send queue ordered by submission time and at most one frame is in
// flight: the writer only dequeues when no sent frame is awaiting its
// answer. Answers correlate to sent frames in FIFO order.
//
// A successful control answer usually carries no state; the follow-up
// notify does. Two exceptions: an input-select answer is authoritative
// (switching back to the current input after an app exits produces no
// notify), and a successful IRCC answer schedules an input enquiry,
// because remote codes can launch apps that change the source.
//
// # Liveness
//
// The protocol is normally quiet between state changes, so silence is
// not a fault. An optional prober can re-query power on an interval and
// fault the session when the set stops answering; it is disabled unless
// Config.LivenessInterval is set.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package sony

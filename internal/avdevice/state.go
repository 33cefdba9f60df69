package avdevice

// State is a session lifecycle state.
type State string

// Session lifecycle states.
const (
	// StateNotRunning is the initial state: no connection, no I/O.
	StateNotRunning State = "not_running"

	// StateStarting means a connection attempt is in progress.
	StateStarting State = "starting"

	// StateRunning means the session is connected and exchanging data.
	StateRunning State = "running"

	// StateDisconnecting means an orderly teardown is in progress.
	StateDisconnecting State = "disconnecting"

	// StateShuttingDown is the terminal state. No further transitions.
	StateShuttingDown State = "shutting_down"

	// StateError means a fault occurred and teardown is in progress
	// before a reconnect attempt.
	StateError State = "error"

	// StateReconnecting means a reconnect timer is armed and the session
	// will re-enter starting when it fires.
	StateReconnecting State = "reconnecting"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Trigger is a session lifecycle event.
type Trigger string

// Session lifecycle triggers.
const (
	triggerStart        Trigger = "start"
	triggerStarted      Trigger = "started"
	triggerClose        Trigger = "close"
	triggerDisconnected Trigger = "disconnected"
	triggerShutdown     Trigger = "shutdown"
	triggerReconnect    Trigger = "reconnect"
	triggerHandleError  Trigger = "handle_error"
)

// transitions maps trigger -> source state -> destination state.
// Shutdown is handled separately: it is valid from every state.
// Close from not_running maps to not_running, an explicit no-op so a
// second close never re-runs the disconnect sequence.
var transitions = map[Trigger]map[State]State{
	triggerStart: {
		StateNotRunning:   StateStarting,
		StateReconnecting: StateStarting,
	},
	triggerStarted: {
		StateStarting: StateRunning,
	},
	triggerClose: {
		StateRunning:    StateDisconnecting,
		StateNotRunning: StateNotRunning,
	},
	triggerDisconnected: {
		StateDisconnecting: StateNotRunning,
	},
	triggerReconnect: {
		StateError: StateReconnecting,
	},
	triggerHandleError: {
		StateStarting: StateError,
		StateRunning:  StateError,
	},
}

// nextState resolves a trigger against the current state.
// Returns the destination state and whether the transition is permitted.
func nextState(from State, trigger Trigger) (State, bool) {
	if from == StateShuttingDown {
		return from, false
	}
	if trigger == triggerShutdown {
		return StateShuttingDown, true
	}
	targets, ok := transitions[trigger]
	if !ok {
		return from, false
	}
	to, ok := targets[from]
	return to, ok
}

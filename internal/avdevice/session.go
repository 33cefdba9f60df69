package avdevice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timing for session lifecycle management.
const (
	// defaultReconnectDelay is the pause between losing a device and the
	// next connection attempt.
	defaultReconnectDelay = 10 * time.Second

	// shutdownTimeout bounds the cleanup wait when Run exits via context
	// cancellation.
	shutdownTimeout = 10 * time.Second
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Transport is the protocol-client surface a Session drives.
//
// Implementations live in the protocol packages (pioneer, sony). All
// methods are called from the session's worker goroutine, one at a time.
type Transport interface {
	// Connect establishes the device connection. It must apply its own
	// timeout and return rather than block indefinitely.
	Connect() error

	// Disconnect closes the device connection. Best-effort; must be safe
	// to call when not connected.
	Disconnect() error

	// StartListener starts the transport's read goroutine.
	StartListener()

	// StopListener stops the read goroutine and joins it. Must be safe
	// to call when not listening.
	StopListener()

	// QueryState asks the device for its current state. Called once on
	// entering running so caches fill without waiting for device events.
	QueryState() error
}

// Options configures a Session.
type Options struct {
	// Name identifies the device in logs and notifications.
	Name string

	// Transport is the protocol client the session drives. Required.
	Transport Transport

	// Logger is optional structured logging.
	Logger Logger

	// ReconnectDelay is the pause before reconnect attempts.
	// Default: 10 seconds.
	ReconnectDelay time.Duration
}

// triggerEvent is a queued lifecycle trigger with its fault cause.
type triggerEvent struct {
	trigger Trigger
	err     error
}

// deviceValues caches the last known device state. The known flags make
// the first report of each value count as a change, so listeners always
// see initial state.
type deviceValues struct {
	power       bool
	powerKnown  bool
	volume      float64
	volumeKnown bool
	mute        bool
	muteKnown   bool
	input       InputCode
	inputKnown  bool
}

// SessionStats holds operational statistics.
type SessionStats struct {
	State            State
	Responding       bool
	TransitionsTotal uint64
	ReconnectsTotal  uint64
	FaultsTotal      uint64
	LastTransition   time.Time
}

// Session owns the lifecycle of one device connection.
//
// Thread Safety: all exported methods are safe for concurrent use.
// Lifecycle triggers are serialised through an internal queue drained by
// a single worker goroutine, so entry actions never run concurrently.
type Session struct {
	name           string
	transport      Transport
	reconnectDelay time.Duration

	// Lifecycle state
	stateMu sync.RWMutex
	state   State

	// Trigger queue (unbounded so entry actions can fire follow-up
	// triggers without blocking the worker that runs them)
	queueMu sync.Mutex
	queue   []triggerEvent
	wake    chan struct{}

	// Startup signalling (channel replaced on each starting entry,
	// closed on entering running)
	startupMu sync.RWMutex
	startupCh chan struct{}

	// Shutdown signalling
	shutdownDone *closeOnce

	// Reconnect timer (touched only by the worker goroutine; the timer
	// callback just enqueues a trigger)
	reconnectTimer *time.Timer

	// Cached device values
	valuesMu sync.RWMutex
	values   deviceValues

	// Responding flag, guards the not-responding/responding pair so each
	// fault produces exactly one of each notification
	respondingMu sync.Mutex
	responding   bool

	// Listeners
	listenersMu sync.RWMutex
	listeners   []Listener

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	transitionsTotal atomic.Uint64
	reconnectsTotal  atomic.Uint64
	faultsTotal      atomic.Uint64
	lastTransition   atomic.Int64 // Unix timestamp
}

// NewSession creates a session in the not_running state and starts its
// trigger worker. Call Shutdown to release the worker.
func NewSession(opts Options) (*Session, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("avdevice: name is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("avdevice: transport is required")
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	s := &Session{
		name:           opts.Name,
		transport:      opts.Transport,
		reconnectDelay: opts.ReconnectDelay,
		state:          StateNotRunning,
		wake:           make(chan struct{}, 1),
		startupCh:      make(chan struct{}),
		shutdownDone:   newCloseOnce(),
		responding:     true,
		logger:         opts.Logger,
	}
	s.values.input = InputUnknown

	go s.triggerLoop()

	return s, nil
}

// Start requests a connection. Valid from not_running and reconnecting.
func (s *Session) Start() error {
	switch st := s.State(); st {
	case StateNotRunning, StateReconnecting:
		s.fire(triggerStart, nil)
		return nil
	case StateShuttingDown:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
}

// Close requests an orderly disconnect. Valid from running; a no-op from
// not_running so repeated closes never replay the disconnect sequence.
func (s *Session) Close() error {
	switch st := s.State(); st {
	case StateRunning, StateNotRunning:
		s.fire(triggerClose, nil)
		return nil
	case StateShuttingDown:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: close from %s", ErrInvalidTransition, st)
	}
}

// Shutdown moves the session to its terminal state and blocks until
// cleanup finishes or ctx expires. Safe to call from any state and more
// than once.
func (s *Session) Shutdown(ctx context.Context) error {
	s.fire(triggerShutdown, nil)
	select {
	case <-s.shutdownDone.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// Run starts the session and blocks until it shuts down or ctx is
// cancelled. On cancellation the session is shut down with a bounded
// cleanup wait.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case <-s.shutdownDone.Done():
		return nil
	}
}

// WaitForStartup blocks until the session completes startup (enters
// running) or ctx expires. A session that is already running returns
// immediately.
func (s *Session) WaitForStartup(ctx context.Context) error {
	s.startupMu.RLock()
	ch := s.startupCh
	s.startupMu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("startup wait: %w", ctx.Err())
	}
}

// Fault reports an I/O failure from the transport. The session notifies
// listeners once, tears the connection down, and begins the reconnect
// cycle. Never blocks; safe to call from read goroutines.
func (s *Session) Fault(err error) {
	s.fire(triggerHandleError, err)
}

// AddListener registers a state observer. Listeners cannot be removed.
func (s *Session) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Name returns the device name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Responding reports whether the device is currently answering.
func (s *Session) Responding() bool {
	s.respondingMu.Lock()
	defer s.respondingMu.Unlock()
	return s.responding
}

// Power returns the cached power state.
func (s *Session) Power() bool {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return s.values.power
}

// Volume returns the cached volume in the device's native scale.
func (s *Session) Volume() float64 {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return s.values.volume
}

// Mute returns the cached mute state.
func (s *Session) Mute() bool {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return s.values.mute
}

// Input returns the cached input source code.
func (s *Session) Input() InputCode {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return s.values.input
}

// DeviceState is a snapshot of the cached device values.
type DeviceState struct {
	Power  bool
	Volume float64
	Mute   bool
	Input  InputCode
}

// Snapshot returns the cached device values as one consistent read.
func (s *Session) Snapshot() DeviceState {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return DeviceState{
		Power:  s.values.power,
		Volume: s.values.volume,
		Mute:   s.values.mute,
		Input:  s.values.input,
	}
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		State:            s.State(),
		Responding:       s.Responding(),
		TransitionsTotal: s.transitionsTotal.Load(),
		ReconnectsTotal:  s.reconnectsTotal.Load(),
		FaultsTotal:      s.faultsTotal.Load(),
		LastTransition:   time.Unix(s.lastTransition.Load(), 0),
	}
}

// UpdatePower records a power value reported by the device and notifies
// listeners if it changed.
func (s *Session) UpdatePower(on bool) {
	s.valuesMu.Lock()
	changed := !s.values.powerKnown || s.values.power != on
	s.values.power = on
	s.values.powerKnown = true
	s.valuesMu.Unlock()

	if changed {
		s.eachListener(func(l Listener) { l.OnPower(on) })
	}
}

// UpdateVolume records a volume value reported by the device and notifies
// listeners if it changed.
func (s *Session) UpdateVolume(volume float64) {
	s.valuesMu.Lock()
	changed := !s.values.volumeKnown || s.values.volume != volume
	s.values.volume = volume
	s.values.volumeKnown = true
	s.valuesMu.Unlock()

	if changed {
		s.eachListener(func(l Listener) { l.OnVolume(volume) })
	}
}

// UpdateMute records a mute value reported by the device and notifies
// listeners if it changed.
func (s *Session) UpdateMute(muted bool) {
	s.valuesMu.Lock()
	changed := !s.values.muteKnown || s.values.mute != muted
	s.values.mute = muted
	s.values.muteKnown = true
	s.valuesMu.Unlock()

	if changed {
		s.eachListener(func(l Listener) { l.OnMute(muted) })
	}
}

// UpdateInput records an input source reported by the device and notifies
// listeners if it changed.
func (s *Session) UpdateInput(input InputCode) {
	s.valuesMu.Lock()
	changed := !s.values.inputKnown || s.values.input != input
	s.values.input = input
	s.values.inputKnown = true
	s.valuesMu.Unlock()

	if changed {
		s.eachListener(func(l Listener) { l.OnInput(input) })
	}
}

// fire appends a trigger to the queue and wakes the worker. Triggers
// fired after shutdown are dropped.
func (s *Session) fire(trigger Trigger, err error) {
	if s.isShutdown() {
		return
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, triggerEvent{trigger: trigger, err: err})
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued trigger.
func (s *Session) dequeue() (triggerEvent, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if len(s.queue) == 0 {
		return triggerEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// triggerLoop drains the trigger queue one event at a time. Exits after
// the shutdown entry action runs.
func (s *Session) triggerLoop() {
	for {
		select {
		case <-s.shutdownDone.Done():
			return
		case <-s.wake:
		}

		for {
			ev, ok := s.dequeue()
			if !ok {
				break
			}
			s.apply(ev)
			if s.isShutdown() {
				return
			}
		}
	}
}

// apply resolves and executes one trigger. Runs on the worker goroutine.
func (s *Session) apply(ev triggerEvent) {
	from := s.State()
	to, ok := nextState(from, ev.trigger)
	if !ok {
		s.logDebug("trigger ignored",
			"device", s.name,
			"trigger", string(ev.trigger),
			"state", from.String())
		return
	}

	// close from not_running resolves to not_running: nothing to do, and
	// no disconnect notification may be repeated.
	if ev.trigger == triggerClose && from == StateNotRunning {
		return
	}

	s.cancelReconnectTimer()

	s.stateMu.Lock()
	s.state = to
	s.stateMu.Unlock()

	s.transitionsTotal.Add(1)
	s.lastTransition.Store(time.Now().Unix())

	s.logDebug("state transition",
		"device", s.name,
		"from", from.String(),
		"to", to.String(),
		"trigger", string(ev.trigger))

	switch to {
	case StateStarting:
		s.enterStarting()
	case StateRunning:
		s.enterRunning()
	case StateDisconnecting:
		s.enterDisconnecting()
	case StateShuttingDown:
		s.enterShuttingDown()
	case StateReconnecting:
		s.enterReconnecting()
	case StateError:
		s.enterError(from, ev.err)
	case StateNotRunning:
		// No entry action.
	}
}

// enterStarting clears the startup signal and attempts a connection.
func (s *Session) enterStarting() {
	s.resetStartupSignal()

	s.logInfo("connecting", "device", s.name)
	if err := s.transport.Connect(); err != nil {
		s.logError("connect failed", err)
		s.fire(triggerHandleError, fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return
	}

	s.transport.StartListener()
	s.fire(triggerStarted, nil)
}

// enterRunning notifies listeners, queries initial device state, and
// releases startup waiters.
func (s *Session) enterRunning() {
	s.logInfo("session running", "device", s.name)
	s.notifyConnected()

	if err := s.transport.QueryState(); err != nil {
		s.logWarn("state query failed", "device", s.name, "error", err)
	}

	s.setResponding()
	s.signalStartupComplete()
}

// enterDisconnecting tears the connection down and completes the close.
func (s *Session) enterDisconnecting() {
	s.teardown()
	s.notifyDisconnected()
	s.fire(triggerDisconnected, nil)
}

// enterShuttingDown tears the connection down and signals completion.
// The terminal state: the worker exits after this.
func (s *Session) enterShuttingDown() {
	s.logInfo("shutting down", "device", s.name)
	s.teardown()
	s.notifyDisconnected()
	s.shutdownDone.Close()
}

// enterReconnecting arms the reconnect timer. The timer fires start
// unless a later transition cancels it first.
func (s *Session) enterReconnecting() {
	s.reconnectsTotal.Add(1)
	s.logInfo("reconnect scheduled",
		"device", s.name,
		"delay", s.reconnectDelay.String())
	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() {
		s.fire(triggerStart, nil)
	})
}

// enterError notifies listeners of the fault, tears down I/O when the
// fault interrupted a running session, and begins the reconnect cycle.
func (s *Session) enterError(from State, cause error) {
	s.faultsTotal.Add(1)
	s.logError("session fault", cause)
	s.setNotResponding()

	if from == StateRunning {
		s.teardown()
	}

	s.fire(triggerReconnect, nil)
}

// teardown stops the read loop and closes the connection, best-effort.
func (s *Session) teardown() {
	s.transport.StopListener()
	if err := s.transport.Disconnect(); err != nil {
		s.logDebug("disconnect error", "device", s.name, "error", err)
	}
}

// cancelReconnectTimer stops a pending reconnect. Worker goroutine only.
func (s *Session) cancelReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) resetStartupSignal() {
	s.startupMu.Lock()
	s.startupCh = make(chan struct{})
	s.startupMu.Unlock()
}

func (s *Session) signalStartupComplete() {
	s.startupMu.Lock()
	select {
	case <-s.startupCh:
		// Already signalled.
	default:
		close(s.startupCh)
	}
	s.startupMu.Unlock()
}

// setNotResponding flips the responding flag and notifies listeners
// exactly once per outage.
func (s *Session) setNotResponding() {
	s.respondingMu.Lock()
	was := s.responding
	s.responding = false
	s.respondingMu.Unlock()

	if was {
		s.eachListener(func(l Listener) { l.OnNotResponding() })
	}
}

// setResponding flips the responding flag back and notifies listeners
// exactly once per recovery.
func (s *Session) setResponding() {
	s.respondingMu.Lock()
	was := s.responding
	s.responding = true
	s.respondingMu.Unlock()

	if !was {
		s.eachListener(func(l Listener) { l.OnResponding() })
	}
}

func (s *Session) notifyConnected() {
	s.eachListener(func(l Listener) { l.OnConnected() })
}

func (s *Session) notifyDisconnected() {
	s.eachListener(func(l Listener) { l.OnDisconnected() })
}

// eachListener invokes fn for every registered listener, recovering
// panics so one bad listener cannot take the session down.
func (s *Session) eachListener(fn func(Listener)) {
	s.listenersMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logError("listener callback panic", fmt.Errorf("%v", r))
				}
			}()
			fn(l)
		}()
	}
}

// isShutdown returns true once the session has reached its terminal state.
func (s *Session) isShutdown() bool {
	select {
	case <-s.shutdownDone.Done():
		return true
	default:
		return false
	}
}

// logDebug logs a debug message if logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Session) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

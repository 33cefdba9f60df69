package sony

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
)

// Default timeouts and intervals for television communication.
const (
	// defaultPort is the Simple IP control port.
	defaultPort = 20060

	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds individual reads so the read loop can
	// observe a stop request promptly. The protocol is quiet between
	// state changes, so expiry is routine, not a fault.
	defaultReadTimeout = 1 * time.Second

	// defaultWriteTimeout is the timeout for frame writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultIRCCRequeryDelay is the settle time before the input is
	// re-queried after a remote code.
	defaultIRCCRequeryDelay = 2 * time.Second

	// livenessReplyWait is the grace period after a liveness query
	// before silence counts as a fault.
	livenessReplyWait = 5 * time.Second

	// Volume bounds on the set's own scale.
	volumeMin = 0
	volumeMax = 100
)

// Config holds television connection configuration.
type Config struct {
	// Name identifies the device in logs and notifications.
	// Default: "sony-<host>".
	Name string

	// Host is the television's address. Required.
	Host string

	// Port is the Simple IP control port. Default: 20060.
	Port int

	// ConnectTimeout is the maximum time to wait for a connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-read deadline; it controls how quickly the
	// reader notices a stop request. Default: 1 second.
	ReadTimeout time.Duration

	// IRCCRequeryDelay is how long to wait before re-querying the input
	// after a successful remote code. Default: 2 seconds.
	IRCCRequeryDelay time.Duration

	// LivenessInterval enables periodic power queries that fault the
	// session when the set stops answering. Zero disables probing.
	// Default: disabled.
	LivenessInterval time.Duration

	// ReconnectDelay is the pause before reconnect attempts.
	// Default: the session default (10 seconds).
	ReconnectDelay time.Duration

	// Logger is optional structured logging.
	Logger avdevice.Logger
}

// Stats holds operational statistics.
type Stats struct {
	FramesRx        uint64
	FramesTx        uint64
	ErrorsTotal     uint64
	PendingCommands int
	AwaitingAnswers int
	LastRx          time.Time
	Connected       bool
	Session         avdevice.SessionStats
}

// pendingCommand is one queued frame with its submission order and an
// optional pre-send pause.
type pendingCommand struct {
	frame Frame
	data  []byte
	pause time.Duration
	at    time.Time
	seq   uint64
}

// commandQueue orders pending commands by submission time.
type commandQueue []*pendingCommand

func (q commandQueue) Len() int { return len(q) }

func (q commandQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q commandQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *commandQueue) Push(x any) { *q = append(*q, x.(*pendingCommand)) }

func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Client is a Sony Bravia television client.
//
// Thread Safety: all methods are safe for concurrent use. Lifecycle
// methods (Connect, Disconnect, StartListener, StopListener, QueryState)
// are driven by the session and not normally called directly.
type Client struct {
	cfg     Config
	session *avdevice.Session

	// Connection state
	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	// Send queue plus the frames already written and awaiting answers.
	// The writer only dequeues while awaiting is empty.
	queueMu  sync.Mutex
	sendQ    commandQueue
	awaiting []Frame
	sendSeq  uint64
	wake     chan struct{}

	// Listener lifecycle, recreated on every StartListener
	listenerMu   sync.Mutex
	listenerDone chan struct{}
	listenerWG   sync.WaitGroup

	// Cached volume on the set's 0-100 scale
	volume atomic.Int64

	// Unix timestamp of the last received frame, drives liveness
	lastRx atomic.Int64

	// Logger (optional)
	logger   avdevice.Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesRx    atomic.Uint64
	framesTx    atomic.Uint64
	errorsTotal atomic.Uint64
}

// Ensure Client implements the session transport.
var _ avdevice.Transport = (*Client)(nil)

// New creates a television client and its session. The session starts
// in not_running; call Start or Run to connect.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sony: host is required")
	}
	if cfg.Name == "" {
		cfg.Name = "sony-" + cfg.Host
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.IRCCRequeryDelay == 0 {
		cfg.IRCCRequeryDelay = defaultIRCCRequeryDelay
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
	}

	session, err := avdevice.NewSession(avdevice.Options{
		Name:           cfg.Name,
		Transport:      c,
		Logger:         cfg.Logger,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	if err != nil {
		return nil, err
	}
	c.session = session

	return c, nil
}

// Session returns the lifecycle session for this client.
func (c *Client) Session() *avdevice.Session {
	return c.session
}

// Name returns the device name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Start requests a connection. See avdevice.Session.Start.
func (c *Client) Start() error {
	return c.session.Start()
}

// Run starts the session and blocks until shutdown. See avdevice.Session.Run.
func (c *Client) Run(ctx context.Context) error {
	return c.session.Run(ctx)
}

// Shutdown terminates the session. See avdevice.Session.Shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.session.Shutdown(ctx)
}

// WaitForStartup blocks until the session is running or ctx expires.
func (c *Client) WaitForStartup(ctx context.Context) error {
	return c.session.WaitForStartup(ctx)
}

// AddListener registers a state observer on the session.
func (c *Client) AddListener(l avdevice.Listener) {
	c.session.AddListener(l)
}

// Power returns the cached power state.
func (c *Client) Power() bool {
	return c.session.Power()
}

// Volume returns the cached volume on the set's 0-100 scale.
func (c *Client) Volume() int {
	return int(c.volume.Load())
}

// Mute returns the cached mute state.
func (c *Client) Mute() bool {
	return c.session.Mute()
}

// Input returns the cached input code.
func (c *Client) Input() avdevice.InputCode {
	return c.session.Input()
}

// InputName returns the display name of the cached input.
func (c *Client) InputName() string {
	return InputName(c.session.Input())
}

// IsConnected returns true if a device connection exists.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	c.queueMu.Lock()
	pending := c.sendQ.Len()
	awaiting := len(c.awaiting)
	c.queueMu.Unlock()

	return Stats{
		FramesRx:        c.framesRx.Load(),
		FramesTx:        c.framesTx.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		PendingCommands: pending,
		AwaitingAnswers: awaiting,
		LastRx:          time.Unix(c.lastRx.Load(), 0),
		Connected:       c.IsConnected(),
		Session:         c.session.Stats(),
	}
}

// SetLogger sets the logger for this client and its session.
func (c *Client) SetLogger(logger avdevice.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.session.SetLogger(logger)
}

// SetPower turns the television on or off. The set answers power
// commands even in standby, so no wake-up sequence is needed.
func (c *Client) SetPower(on bool) error {
	return c.submit(newPowerCommand(on), 0)
}

// SetMute mutes or unmutes the audio.
func (c *Client) SetMute(on bool) error {
	return c.submit(newMuteCommand(on), 0)
}

// SetVolume sets the absolute volume on the set's 0-100 scale.
func (c *Client) SetVolume(level int) error {
	if level < volumeMin || level > volumeMax {
		return fmt.Errorf("%w: %d not in %d-%d", ErrVolumeOutOfRange, level, volumeMin, volumeMax)
	}
	return c.submit(newVolumeCommand(level), 0)
}

// VolumeUp raises the volume one unit via the remote volume key.
func (c *Client) VolumeUp() error {
	return c.SendIRCC(irccVolumeUp)
}

// VolumeDown lowers the volume one unit via the remote volume key.
func (c *Client) VolumeDown() error {
	return c.SendIRCC(irccVolumeDown)
}

// SetInput selects an input by display name (e.g. "HDMI2", "TV").
func (c *Client) SetInput(name string) error {
	code, err := InputByName(name)
	if err != nil {
		return err
	}
	return c.SetInputCode(code)
}

// SetInputCode selects an input by code. The Netflix pseudo-input is
// launched through its remote code; everything else is a source select.
func (c *Client) SetInputCode(code avdevice.InputCode) error {
	if _, ok := inputNames[code]; !ok || code == avdevice.InputUnknown {
		return fmt.Errorf("%w: code %d", avdevice.ErrUnknownInput, code)
	}
	if code == inputNetflix {
		return c.SendIRCC(int(inputNetflix))
	}
	return c.submit(newInputCommand(inputParameter(code)), 0)
}

// SendIRCC sends a remote-control code.
func (c *Client) SendIRCC(code int) error {
	if code < irccMin || code > irccMax {
		return fmt.Errorf("%w: %d not in %d-%d", ErrIRCCOutOfRange, code, irccMin, irccMax)
	}
	return c.submit(newIRCCCommand(code), 0)
}

// submit queues a frame for the writer. Commands are accepted only
// while the session is running.
func (c *Client) submit(frame Frame, pause time.Duration) error {
	if c.session.State() != avdevice.StateRunning {
		return ErrNotConnected
	}
	return c.enqueue(frame, pause)
}

// enqueue validates and queues a frame without the running-state check,
// for use from the session's own startup path.
func (c *Client) enqueue(frame Frame, pause time.Duration) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	c.queueMu.Lock()
	c.sendSeq++
	heap.Push(&c.sendQ, &pendingCommand{
		frame: frame,
		data:  data,
		pause: pause,
		at:    time.Now(),
		seq:   c.sendSeq,
	})
	c.queueMu.Unlock()

	c.wakeWriter()
	return nil
}

// wakeWriter nudges the write loop without blocking.
func (c *Client) wakeWriter() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Connect dials the television. Called by the session.
func (c *Client) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.lastRx.Store(time.Now().Unix())
	c.logInfo("connected", "address", addr)
	return nil
}

// Disconnect closes the device connection. Called by the session; safe
// to call when not connected.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// StartListener starts the read and write goroutines, plus the liveness
// prober when configured. Called by the session after a successful
// connect.
func (c *Client) StartListener() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	if c.listenerDone != nil {
		return
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	c.listenerDone = done

	c.listenerWG.Add(2)
	go c.readLoop(conn, done)
	go c.writeLoop(conn, done)

	if c.cfg.LivenessInterval > 0 {
		c.listenerWG.Add(1)
		go c.livenessLoop(done)
	}
}

// StopListener stops the I/O goroutines, joins them and drops queued
// commands so a reconnect starts clean. Safe to call when not listening.
func (c *Client) StopListener() {
	c.listenerMu.Lock()
	done := c.listenerDone
	c.listenerDone = nil
	c.listenerMu.Unlock()

	if done == nil {
		return
	}
	close(done)
	c.listenerWG.Wait()
	c.clearQueues()
}

// QueryState asks the television for power, volume, mute and input.
// The enquiries pace themselves through the one-outstanding queue.
func (c *Client) QueryState() error {
	for _, frame := range []Frame{
		newPowerQuery(),
		newVolumeQuery(),
		newMuteQuery(),
		newInputQuery(),
	} {
		if err := c.enqueue(frame, 0); err != nil {
			return fmt.Errorf("state query: %w", err)
		}
	}
	return nil
}

// nextCommand pops the oldest queued command if nothing is awaiting an
// answer, stashing it on the awaiting list for correlation.
func (c *Client) nextCommand() (*pendingCommand, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.awaiting) > 0 || c.sendQ.Len() == 0 {
		return nil, false
	}

	cmd := heap.Pop(&c.sendQ).(*pendingCommand)
	c.awaiting = append(c.awaiting, cmd.frame)
	return cmd, true
}

// popAwaiting removes the frame an incoming answer correlates to.
func (c *Client) popAwaiting() (Frame, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.awaiting) == 0 {
		return Frame{}, false
	}
	sent := c.awaiting[0]
	c.awaiting = c.awaiting[1:]
	return sent, true
}

// clearQueues drops all pending and awaiting commands.
func (c *Client) clearQueues() {
	c.queueMu.Lock()
	dropped := c.sendQ.Len() + len(c.awaiting)
	c.sendQ = c.sendQ[:0]
	c.awaiting = nil
	c.queueMu.Unlock()

	if dropped > 0 {
		c.logDebug("dropped queued commands", "count", dropped)
	}
}

// writeLoop sends queued frames one at a time, waiting for each answer
// before the next send.
func (c *Client) writeLoop(conn net.Conn, done chan struct{}) {
	defer c.listenerWG.Done()

	for {
		select {
		case <-done:
			return
		case <-c.wake:
		}

		for {
			cmd, ok := c.nextCommand()
			if !ok {
				break
			}

			if cmd.pause > 0 {
				timer := time.NewTimer(cmd.pause)
				select {
				case <-done:
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			if err := c.writeFrame(conn, cmd.data); err != nil {
				select {
				case <-done:
					return
				default:
				}
				c.errorsTotal.Add(1)
				c.session.Fault(fmt.Errorf("%w: write %s: %w", ErrCommandFailed, cmd.frame.Function, err))
				return
			}

			c.framesTx.Add(1)
			c.logDebug("frame sent",
				"type", string(cmd.frame.Type),
				"function", cmd.frame.Function,
				"parameter", cmd.frame.Parameter)
		}
	}
}

// writeFrame writes one encoded frame with a deadline.
func (c *Client) writeFrame(conn net.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop receives frames until stopped or the connection fails.
func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer c.listenerWG.Done()

	buf := make([]byte, FrameLength)
	filled := 0

	for {
		select {
		case <-done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.logDebug("set read deadline failed", "error", err)
		}

		n, err := conn.Read(buf[filled:])
		filled += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Partial frames stay buffered across deadline expiries.
				continue
			}

			select {
			case <-done:
				return
			default:
			}

			c.errorsTotal.Add(1)
			c.session.Fault(fmt.Errorf("%w: read: %w", avdevice.ErrNotResponding, err))
			return
		}
		if filled < FrameLength {
			continue
		}
		filled = 0

		frame, err := ParseFrame(buf)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad frame", "error", err)
			continue
		}

		c.lastRx.Store(time.Now().Unix())
		c.framesRx.Add(1)
		c.logDebug("frame received",
			"type", string(frame.Type),
			"function", frame.Function,
			"parameter", frame.Parameter)
		c.handleFrame(frame)
	}
}

// livenessLoop re-queries power periodically and faults the session
// when the set goes silent past the reply window.
func (c *Client) livenessLoop(done chan struct{}) {
	defer c.listenerWG.Done()

	ticker := time.NewTicker(c.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(c.lastRx.Load(), 0)
			silence := time.Since(last)
			if silence > c.cfg.LivenessInterval+livenessReplyWait {
				c.errorsTotal.Add(1)
				c.session.Fault(fmt.Errorf("%w: no frames for %s",
					avdevice.ErrNotResponding, silence.Round(time.Second)))
				return
			}
			if err := c.enqueue(newPowerQuery(), 0); err != nil {
				c.logDebug("liveness query failed", "error", err)
			}
		}
	}
}

// handleFrame applies one received frame to the session cache.
func (c *Client) handleFrame(frame Frame) {
	if frame.Type == TypeAnswer {
		sent, ok := c.popAwaiting()
		if !ok {
			c.logWarn("answer with no command awaiting", "function", frame.Function)
		} else {
			// The writer may send the next command now.
			c.wakeWriter()

			if sent.Type == TypeControl && frame.Parameter == AnswerSuccess {
				switch frame.Function {
				case FuncInput:
					// Re-selecting the current input to leave an app
					// produces no notify, so the sent parameter is the
					// only record of the change.
					c.session.UpdateInput(inputFromParameter(sent.Parameter))
				case FuncIRCC:
					// A remote code may have launched an app; check the
					// source once the set settles.
					if err := c.enqueue(newInputQuery(), c.cfg.IRCCRequeryDelay); err != nil {
						c.logDebug("input re-query failed", "error", err)
					}
				}
				// Other control acks carry no state; the follow-up
				// notify does.
				return
			}
		}
	}

	if frame.Type != TypeAnswer && frame.Type != TypeNotify {
		c.logWarn("unexpected frame type", "type", string(frame.Type))
		return
	}

	if frame.Parameter == AnswerNotFound {
		c.logWarn("function not supported", "function", frame.Function)
		return
	}

	if frame.Type == TypeAnswer && frame.Parameter == AnswerError {
		// The set rejected the request; fall back to safe values so the
		// cache is not left stale.
		switch frame.Function {
		case FuncInput:
			c.session.UpdateInput(avdevice.InputUnknown)
		case FuncVolume:
			c.volume.Store(0)
			c.session.UpdateVolume(0)
		case FuncMute:
			c.session.UpdateMute(false)
		default:
			c.logWarn("request rejected", "function", frame.Function)
		}
		return
	}

	c.applyStatus(frame)
}

// applyStatus updates the session cache from an answer or notify that
// carries a real value.
func (c *Client) applyStatus(frame Frame) {
	switch frame.Function {
	case FuncPower:
		n, err := parseNumericParameter(frame.Parameter)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad power parameter", "parameter", frame.Parameter)
			return
		}
		on := n == 1
		c.session.UpdatePower(on)
		if on {
			// The source may have changed while the set was off.
			if err := c.enqueue(newInputQuery(), 0); err != nil {
				c.logDebug("input query failed", "error", err)
			}
		} else {
			// Standby: the set reports nothing useful for these.
			c.session.UpdateMute(false)
			c.volume.Store(0)
			c.session.UpdateVolume(0)
			c.session.UpdateInput(avdevice.InputUnknown)
		}

	case FuncMute:
		n, err := parseNumericParameter(frame.Parameter)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad mute parameter", "parameter", frame.Parameter)
			return
		}
		c.session.UpdateMute(n != 0)

	case FuncVolume:
		n, err := parseNumericParameter(frame.Parameter)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad volume parameter", "parameter", frame.Parameter)
			return
		}
		c.volume.Store(int64(n))
		c.session.UpdateVolume(float64(n))

	case FuncInput:
		code := inputFromParameter(frame.Parameter)
		if code == avdevice.InputUnknown {
			c.logWarn("unknown source reported", "parameter", frame.Parameter)
		}
		c.session.UpdateInput(code)

	default:
		c.logDebug("unhandled function", "function", frame.Function)
	}
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

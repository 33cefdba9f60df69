package pioneer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
)

// Default timeouts and intervals for receiver communication.
const (
	// defaultPort is the receiver's telnet control port.
	defaultPort = 23

	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds individual reads so the read loop can
	// observe a stop request promptly.
	defaultReadTimeout = 5 * time.Second

	// defaultWriteTimeout is the timeout for command writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultHeartbeatInterval is how often power is re-queried to
	// verify the device is still answering.
	defaultHeartbeatInterval = 30 * time.Second

	// heartbeatReplyWait is the grace period after a heartbeat query
	// before silence counts as a fault.
	heartbeatReplyWait = 5 * time.Second

	// wakeupDelay is the pause after the wake-up CR before power-on.
	// The device CPU ignores commands while asleep.
	wakeupDelay = 1 * time.Second

	// defaultPowerSettleDelay is the pause after a power command before
	// the device accepts anything else.
	defaultPowerSettleDelay = 5 * time.Second
)

// Config holds receiver connection configuration.
type Config struct {
	// Name identifies the device in logs and notifications.
	// Default: "pioneer-<host>".
	Name string

	// Host is the receiver's address. Required.
	Host string

	// Port is the control port. Default: 23.
	Port int

	// ConnectTimeout is the maximum time to wait for a connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for individual read operations.
	// Default: 5 seconds.
	ReadTimeout time.Duration

	// HeartbeatInterval is the liveness re-query period.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the pause before reconnect attempts.
	// Default: the session default (10 seconds).
	ReconnectDelay time.Duration

	// PowerSettleDelay is the pause after power commands.
	// Default: 5 seconds.
	PowerSettleDelay time.Duration

	// Logger is optional structured logging.
	Logger avdevice.Logger
}

// Stats holds operational statistics.
type Stats struct {
	LinesRx     uint64
	CommandsTx  uint64
	ErrorsTotal uint64
	LastRx      time.Time
	Connected   bool
	Session     avdevice.SessionStats
}

// Client is a Pioneer VSX receiver client.
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

	// Serialises writes so deadlines and payloads cannot interleave
	writeMu sync.Mutex

	// Read-loop lifecycle, recreated on every StartListener
	listenerMu   sync.Mutex
	listenerDone chan struct{}
	listenerWG   sync.WaitGroup

	// Last raw volume seen, for diagnostics alongside the session's dB
	volumeRaw atomic.Int64

	// Unix timestamp of the last received line, drives the heartbeat
	lastRx atomic.Int64

	// Logger (optional)
	logger   avdevice.Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesRx     atomic.Uint64
	commandsTx  atomic.Uint64
	errorsTotal atomic.Uint64
}

// Ensure Client implements the session transport.
var _ avdevice.Transport = (*Client)(nil)

// New creates a receiver client and its session. The session starts in
// not_running; call Start or Run to connect.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("pioneer: host is required")
	}
	if cfg.Name == "" {
		cfg.Name = "pioneer-" + cfg.Host
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
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PowerSettleDelay == 0 {
		cfg.PowerSettleDelay = defaultPowerSettleDelay
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
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

// VolumeDB returns the cached volume in dB.
func (c *Client) VolumeDB() float64 {
	return c.session.Volume()
}

// VolumeRaw returns the last raw 0-185 volume value reported.
func (c *Client) VolumeRaw() int {
	return int(c.volumeRaw.Load())
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
	return Stats{
		LinesRx:     c.linesRx.Load(),
		CommandsTx:  c.commandsTx.Load(),
		ErrorsTotal: c.errorsTotal.Load(),
		LastRx:      time.Unix(c.lastRx.Load(), 0),
		Connected:   c.IsConnected(),
		Session:     c.session.Stats(),
	}
}

// SetLogger sets the logger for this client and its session.
func (c *Client) SetLogger(logger avdevice.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.session.SetLogger(logger)
}

// SetPower turns the receiver on or off.
//
// Power-on wakes the device CPU first and then waits for the device to
// settle, so this call can block for several seconds. Dispatch it from a
// worker goroutine, not a network handler.
func (c *Client) SetPower(on bool) error {
	if on {
		if c.session.Power() {
			return nil
		}
		// Bare CR wakes the CPU; commands sent while asleep are lost.
		if err := c.send(""); err != nil {
			return c.reportSendErr(err)
		}
		time.Sleep(wakeupDelay)
		if err := c.send(cmdPowerOn); err != nil {
			return c.reportSendErr(err)
		}
		time.Sleep(c.cfg.PowerSettleDelay)
		return c.QueryState()
	}

	if !c.session.Power() {
		return nil
	}
	if err := c.send(cmdPowerOff); err != nil {
		return c.reportSendErr(err)
	}
	time.Sleep(c.cfg.PowerSettleDelay)
	return nil
}

// SetMute mutes or unmutes. Ignored while the device is off.
func (c *Client) SetMute(on bool) error {
	if !c.session.Power() {
		c.logDebug("mute ignored, device off")
		return nil
	}
	cmd := cmdMuteOff
	if on {
		cmd = cmdMuteOn
	}
	if err := c.send(cmd); err != nil {
		return c.reportSendErr(err)
	}
	return nil
}

// SetVolume sets the absolute volume in dB, rounded to the device's
// half-dB steps. Ignored while the device is off.
func (c *Client) SetVolume(db float64) error {
	raw, err := VolumeToRaw(db)
	if err != nil {
		return err
	}
	if !c.session.Power() {
		c.logDebug("volume ignored, device off")
		return nil
	}
	if err := c.send(formatVolumeCommand(raw)); err != nil {
		return c.reportSendErr(err)
	}
	return nil
}

// VolumeUp raises the volume one device step (0.5 dB).
func (c *Client) VolumeUp() error {
	if !c.session.Power() {
		c.logDebug("volume ignored, device off")
		return nil
	}
	if err := c.send(cmdVolumeUp); err != nil {
		return c.reportSendErr(err)
	}
	return nil
}

// VolumeDown lowers the volume one device step (0.5 dB).
func (c *Client) VolumeDown() error {
	if !c.session.Power() {
		c.logDebug("volume ignored, device off")
		return nil
	}
	if err := c.send(cmdVolumeDown); err != nil {
		return c.reportSendErr(err)
	}
	return nil
}

// SetInput selects an input by display name (e.g. "HDMI1", "BD").
func (c *Client) SetInput(name string) error {
	code, err := InputByName(name)
	if err != nil {
		return err
	}
	return c.SetInputCode(code)
}

// SetInputCode selects an input by wire code.
func (c *Client) SetInputCode(code avdevice.InputCode) error {
	if _, ok := inputNames[code]; !ok || code == avdevice.InputUnknown {
		return fmt.Errorf("%w: code %d", avdevice.ErrUnknownInput, code)
	}
	if !c.session.Power() {
		c.logDebug("input ignored, device off")
		return nil
	}
	if err := c.send(formatInputCommand(code)); err != nil {
		return c.reportSendErr(err)
	}
	return nil
}

// Connect dials the receiver. Called by the session.
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

// StartListener starts the read and heartbeat goroutines. Called by the
// session after a successful connect.
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
	go c.heartbeatLoop(done)
}

// StopListener stops the read and heartbeat goroutines and joins them.
// Safe to call when not listening.
func (c *Client) StopListener() {
	c.listenerMu.Lock()
	done := c.listenerDone
	c.listenerDone = nil
	c.listenerMu.Unlock()

	if done == nil {
		return
	}
	close(done)

	// Nudge the device so the blocked read returns with data instead of
	// waiting out its deadline.
	if err := c.send(cmdQueryPower); err != nil {
		c.logDebug("stop nudge failed", "error", err)
	}

	c.listenerWG.Wait()
}

// QueryState asks the receiver for power, volume, mute and input. The
// answers arrive as ordinary status lines on the read loop.
func (c *Client) QueryState() error {
	for _, cmd := range []string{cmdQueryPower, cmdQueryVolume, cmdQueryMute, cmdQueryInput} {
		if err := c.send(cmd); err != nil {
			return fmt.Errorf("state query: %w", err)
		}
	}
	return nil
}

// send writes a single command with CR termination.
func (c *Client) send(cmd string) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrCommandFailed, err)
	}
	if _, err := conn.Write([]byte(cmd + "\r")); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write %q: %w", ErrCommandFailed, cmd, err)
	}

	c.commandsTx.Add(1)
	c.logDebug("command sent", "command", cmd)
	return nil
}

// reportSendErr routes transport failures into the session fault path so
// the reconnect cycle handles them. Only ErrNotConnected surfaces to the
// caller.
func (c *Client) reportSendErr(err error) error {
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	c.session.Fault(err)
	return nil
}

// readLoop receives status lines until stopped or the connection fails.
func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer c.listenerWG.Done()

	reader := bufio.NewReader(conn)
	var pending strings.Builder

	for {
		select {
		case <-done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.logDebug("set read deadline failed", "error", err)
		}

		chunk, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Deadline passed mid-line: keep the partial data and
				// retry so the stop flag gets rechecked.
				pending.WriteString(chunk)
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

		line := pending.String() + chunk
		pending.Reset()

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		c.lastRx.Store(time.Now().Unix())
		c.linesRx.Add(1)
		c.logDebug("line received", "line", line)
		c.handleLine(line)
	}
}

// heartbeatLoop re-queries power periodically and faults the session
// when the device goes silent past the reply window.
func (c *Client) heartbeatLoop(done chan struct{}) {
	defer c.listenerWG.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(c.lastRx.Load(), 0)
			silence := time.Since(last)
			if silence > c.cfg.HeartbeatInterval+heartbeatReplyWait {
				c.errorsTotal.Add(1)
				c.session.Fault(fmt.Errorf("%w: no data for %s",
					avdevice.ErrNotResponding, silence.Round(time.Second)))
				return
			}
			if err := c.send(cmdQueryPower); err != nil {
				c.logDebug("heartbeat query failed", "error", err)
			}
		}
	}
}

// handleLine parses one status line and updates the session cache.
func (c *Client) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, respPower):
		on := strings.TrimPrefix(line, respPower) == "0"
		c.session.UpdatePower(on)
		if on {
			// Volume may have drifted while the device was off.
			if err := c.send(cmdQueryVolume); err != nil {
				c.logDebug("volume re-query failed", "error", err)
			}
		} else {
			// Standby: the device reports nothing useful for these.
			c.session.UpdateMute(false)
			c.volumeRaw.Store(volumeRawMin)
			c.session.UpdateVolume(VolumeFromRaw(volumeRawMin))
			c.session.UpdateInput(avdevice.InputUnknown)
		}

	case strings.HasPrefix(line, respVolume):
		raw, err := strconv.Atoi(strings.TrimPrefix(line, respVolume))
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad volume response", "line", line)
			return
		}
		c.volumeRaw.Store(int64(raw))
		c.session.UpdateVolume(VolumeFromRaw(raw))

	case strings.HasPrefix(line, respMute):
		c.session.UpdateMute(strings.TrimPrefix(line, respMute) == "0")

	case line == respErrCommand:
		c.logWarn("device rejected command", "code", line)

	case line == respErrParameter:
		c.logWarn("device rejected parameter", "code", line)

	case line == respBusy:
		c.logWarn("device busy", "code", line)

	case strings.HasPrefix(line, respInput):
		code, err := strconv.Atoi(strings.TrimPrefix(line, respInput))
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad input response", "line", line)
			return
		}
		c.session.UpdateInput(avdevice.InputCode(code))

	default:
		c.logDebug("unhandled response", "line", line)
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

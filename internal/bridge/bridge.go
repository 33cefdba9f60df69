package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/pioneer"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/sony"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic
	// (graylogic/command/av/{device_id}).
	minTopicParts = 4

	// shutdownTimeout bounds device session teardown during Stop.
	shutdownTimeout = 10 * time.Second

	// defaultBridgeID identifies this bridge in messages and topics.
	defaultBridgeID = "av"
)

// Bridge orchestrates bidirectional translation between AV devices and MQTT.
// It handles:
//   - Receiving commands from Core via MQTT and dispatching them to device sessions
//   - Publishing retained state updates when device sessions observe changes
//   - Announcing discovered devices and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id      string
	version string
	mqtt    MQTTClient
	store   DeviceStore   // Optional device persistence
	metrics MetricsWriter // Optional telemetry sink
	health  *HealthReporter

	// Managed devices
	workersMu sync.RWMutex
	workers   map[string]*deviceWorker
	started   bool

	// Statistics (atomic for performance)
	commandsRx     atomic.Uint64
	commandsFailed atomic.Uint64
	statePublishes atomic.Uint64
	errorsTotal    atomic.Uint64

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Logger is the minimal logging interface used by this package.
// Compatible with slog-style structured loggers.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DeviceStore persists device records.
// This interface is satisfied by *device.Registry (via adapter in main).
// It is optional - if nil, the bridge operates without persistence.
type DeviceStore interface {
	// UpsertDiscovered records a discovered device, bumping last-seen.
	// The store keys discovered records by type and host.
	UpsertDiscovered(ctx context.Context, rec DeviceRecord) error

	// TouchLastSeen bumps the last-seen time of a managed device.
	TouchLastSeen(ctx context.Context, deviceID string) error
}

// DeviceRecord holds the fields the bridge can derive for a discovered
// device.
type DeviceRecord struct {
	Name         string
	Type         string
	Host         string
	Port         int
	Manufacturer string
	Model        string
	Location     string
}

// MetricsWriter records observed device state for telemetry.
// It is optional - if nil, the bridge operates without telemetry.
type MetricsWriter interface {
	// WriteDeviceState records one observed state change.
	WriteDeviceState(deviceID, deviceType string, state map[string]any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// BridgeID identifies this bridge in messages. Default: "av".
	BridgeID string

	// Version is the bridge software version, reported in health messages.
	Version string

	// HealthInterval is the health publish cadence. Default: 30 seconds.
	HealthInterval time.Duration

	// MQTTClient is the broker connection. Required.
	MQTTClient MQTTClient

	// Store is optional device persistence.
	Store DeviceStore

	// Metrics is optional state telemetry.
	Metrics MetricsWriter

	// Logger is optional structured logger.
	Logger Logger
}

// New creates a bridge instance. Register devices with AddDevice, then
// call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = defaultBridgeID
	}

	// Bridge-level context for store writes, cancelled on Stop
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        opts.BridgeID,
		version:   opts.Version,
		mqtt:      opts.MQTTClient,
		store:     opts.Store,   // May be nil (optional)
		metrics:   opts.Metrics, // May be nil (optional)
		workers:   make(map[string]*deviceWorker),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter, for wiring the LWT into
// the MQTT connection options.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// AddDevice registers a device under the given ID. If the bridge is
// already started, the device session starts immediately.
func (b *Bridge) AddDevice(deviceID string, ctrl Controller) error {
	if !ValidDeviceID(deviceID) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, deviceID)
	}
	if ctrl == nil {
		return fmt.Errorf("controller is required")
	}

	w := &deviceWorker{bridge: b, deviceID: deviceID, ctrl: ctrl}

	b.workersMu.Lock()
	if _, exists := b.workers[deviceID]; exists {
		b.workersMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, deviceID)
	}
	b.workers[deviceID] = w
	started := b.started
	b.workersMu.Unlock()

	ctrl.AddListener(w)

	b.logInfo("device registered",
		"device_id", deviceID,
		"type", ctrl.Type(),
		"address", ctrl.Address())

	if started {
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("start device %s: %w", deviceID, err)
		}
	}
	return nil
}

// Start begins bridge operation. This subscribes to command topics,
// starts all registered device sessions, and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.workersMu.Lock()
	b.started = true
	workers := make([]*deviceWorker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.workersMu.Unlock()

	for _, w := range workers {
		if err := w.ctrl.Start(); err != nil {
			// The session's reconnect cycle owns connection retries;
			// a start failure here means the session was already shut down.
			b.logError("device start failed", fmt.Errorf("%s: %w", w.deviceID, err))
		}
	}

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id, "devices", len(workers))
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		// Shut down device sessions in parallel under a shared deadline.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		b.workersMu.RLock()
		workers := make([]*deviceWorker, 0, len(b.workers))
		for _, w := range b.workers {
			workers = append(workers, w)
		}
		b.workersMu.RUnlock()

		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *deviceWorker) {
				defer wg.Done()
				if err := w.ctrl.Shutdown(ctx); err != nil {
					b.logError("device shutdown failed", fmt.Errorf("%s: %w", w.deviceID, err))
				}
			}(w)
		}
		wg.Wait()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// DeviceState returns the current cached state of a managed device.
func (b *Bridge) DeviceState(deviceID string) (map[string]any, error) {
	b.workersMu.RLock()
	w, ok := b.workers[deviceID]
	b.workersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return w.ctrl.StateMap(), nil
}

// DeviceIDs returns the IDs of all managed devices, sorted.
func (b *Bridge) DeviceIDs() []string {
	b.workersMu.RLock()
	ids := make([]string, 0, len(b.workers))
	for id := range b.workers {
		ids = append(ids, id)
	}
	b.workersMu.RUnlock()

	sort.Strings(ids)
	return ids
}

// DeviceStatuses returns the managed devices' session status, sorted by
// device ID. Part of the StatusSource contract.
func (b *Bridge) DeviceStatuses() []DeviceHealth {
	b.workersMu.RLock()
	statuses := make([]DeviceHealth, 0, len(b.workers))
	for id, w := range b.workers {
		statuses = append(statuses, DeviceHealth{
			DeviceID:   id,
			State:      string(w.ctrl.SessionState()),
			Responding: w.ctrl.Responding(),
		})
	}
	b.workersMu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].DeviceID < statuses[j].DeviceID })
	return statuses
}

// Statistics returns bridge operation counters. Part of the
// StatusSource contract.
func (b *Bridge) Statistics() BridgeStatistics {
	var reconnects, faults uint64
	b.workersMu.RLock()
	for _, w := range b.workers {
		stats := w.ctrl.SessionStats()
		reconnects += stats.ReconnectsTotal
		faults += stats.FaultsTotal
	}
	b.workersMu.RUnlock()

	return BridgeStatistics{
		CommandsReceived: b.commandsRx.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatePublishes:   b.statePublishes.Load(),
		Reconnects:       reconnects,
		Errors:           b.errorsTotal.Load() + faults,
	}
}

// PublishDiscovery announces discovered devices on the discovery topic
// and records them in the store.
func (b *Bridge) PublishDiscovery(devices []DiscoveredDevice) error {
	if len(devices) == 0 {
		return nil
	}

	msg := NewDiscoveryMessage(b.id, devices)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.errorsTotal.Add(1)
		return fmt.Errorf("marshal discovery: %w", err)
	}

	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.errorsTotal.Add(1)
		return fmt.Errorf("publish discovery: %w", err)
	}

	b.logInfo("discovery published", "devices", len(devices))

	if b.store != nil {
		for _, d := range devices {
			rec := DeviceRecord{
				Name:         d.Name,
				Type:         d.Type,
				Host:         d.Host,
				Port:         d.Port,
				Manufacturer: d.Manufacturer,
				Model:        d.Model,
				Location:     d.Location,
			}
			if err := b.store.UpsertDiscovered(b.ctx, rec); err != nil {
				b.logDebug("discovered device not recorded",
					"host", d.Host,
					"reason", err.Error())
			}
		}
	}
	return nil
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.errorsTotal.Add(1)
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(payload)
	default:
		b.errorsTotal.Add(1)
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to parse command", err)
		return
	}
	b.commandsRx.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	b.workersMu.RLock()
	w, ok := b.workers[cmd.DeviceID]
	b.workersMu.RUnlock()

	if !ok {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return
	}

	if err := b.executeCommand(cmd, w.ctrl); err != nil {
		b.commandsFailed.Add(1)
		b.logError("command execution failed", err)
		b.publishAckError(cmd, w.ctrl.Address(), ackCodeForError(err), err.Error())
		return
	}

	b.publishAck(cmd, w.ctrl.Address(), AckAccepted)
}

// executeCommand dispatches a command to the device controller.
func (b *Bridge) executeCommand(cmd CommandMessage, ctrl Controller) error {
	switch cmd.Command {
	case "set_power":
		on, err := boolParameter(cmd.Parameters, "on")
		if err != nil {
			return err
		}
		return ctrl.SetPower(on)

	case "set_mute":
		muted, err := boolParameter(cmd.Parameters, "muted")
		if err != nil {
			return err
		}
		return ctrl.SetMute(muted)

	case "set_volume":
		volume, err := floatParameter(cmd.Parameters, "volume")
		if err != nil {
			return err
		}
		return ctrl.SetVolume(volume)

	case "volume_up":
		return ctrl.VolumeUp()

	case "volume_down":
		return ctrl.VolumeDown()

	case "set_input":
		input, err := stringParameter(cmd.Parameters, "input")
		if err != nil {
			return err
		}
		return ctrl.SetInput(input)

	case "send_ircc":
		code, err := stringParameter(cmd.Parameters, "code")
		if err != nil {
			return err
		}
		return ctrl.SendRemoteCode(code)

	case "query":
		return ctrl.Refresh()

	default:
		return fmt.Errorf("%w: unknown command %q", ErrUnsupportedCommand, cmd.Command)
	}
}

// errBadParameter marks command parameter extraction failures so the
// ack carries INVALID_PARAMETERS rather than a generic code.
var errBadParameter = errors.New("invalid parameter")

func boolParameter(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q", errBadParameter, key)
	}
	val, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean", errBadParameter, key)
	}
	return val, nil
}

func floatParameter(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", errBadParameter, key)
	}
	val, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number", errBadParameter, key)
	}
	return val, nil
}

func stringParameter(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", errBadParameter, key)
	}
	val, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", errBadParameter, key)
	}
	return val, nil
}

// ackCodeForError maps an execution error to an ack error code.
func ackCodeForError(err error) string {
	switch {
	case errors.Is(err, errBadParameter),
		errors.Is(err, pioneer.ErrVolumeOutOfRange),
		errors.Is(err, sony.ErrVolumeOutOfRange),
		errors.Is(err, sony.ErrIRCCOutOfRange),
		errors.Is(err, avdevice.ErrUnknownInput):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnsupportedCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, pioneer.ErrNotConnected),
		errors.Is(err, sony.ErrNotConnected):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	ack := NewAckMessage(cmd, status, address)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(cmd.DeviceID), payload, 1, false); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	ack := NewAckError(cmd, address, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(cmd.DeviceID), payload, 1, false); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to publish ack error", err)
	}
}

// Metrics contains bridge counters for the API metrics endpoint.
type Metrics struct {
	DevicesManaged    int
	DevicesResponding int
	CommandsReceived  uint64
	CommandsFailed    uint64
	StatePublishes    uint64
	Reconnects        uint64
	Errors            uint64
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() Metrics {
	responding := 0
	b.workersMu.RLock()
	devices := len(b.workers)
	for _, w := range b.workers {
		if w.ctrl.Responding() {
			responding++
		}
	}
	b.workersMu.RUnlock()

	stats := b.Statistics()
	return Metrics{
		DevicesManaged:    devices,
		DevicesResponding: responding,
		CommandsReceived:  stats.CommandsReceived,
		CommandsFailed:    stats.CommandsFailed,
		StatePublishes:    stats.StatePublishes,
		Reconnects:        stats.Reconnects,
		Errors:            stats.Errors,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// deviceWorker connects one device session to the MQTT surface.
// It implements avdevice.Listener; every session callback publishes the
// full device state when it differs from the last published state.
type deviceWorker struct {
	bridge   *Bridge
	deviceID string
	ctrl     Controller

	stateMu   sync.Mutex
	lastState map[string]any
}

var _ avdevice.Listener = (*deviceWorker)(nil)

func (w *deviceWorker) OnPower(bool)               { w.publishState() }
func (w *deviceWorker) OnVolume(float64)           { w.publishState() }
func (w *deviceWorker) OnMute(bool)                { w.publishState() }
func (w *deviceWorker) OnInput(avdevice.InputCode) { w.publishState() }
func (w *deviceWorker) OnConnected()               { w.publishState() }
func (w *deviceWorker) OnDisconnected()            { w.publishState() }
func (w *deviceWorker) OnResponding()              { w.publishState() }
func (w *deviceWorker) OnNotResponding()           { w.publishState() }

// publishState publishes the device's current state if it changed.
func (w *deviceWorker) publishState() {
	state := w.ctrl.StateMap()

	w.stateMu.Lock()
	if stateEqual(w.lastState, state) {
		w.stateMu.Unlock()
		return
	}
	w.lastState = state
	w.stateMu.Unlock()

	w.bridge.publishDeviceState(w.deviceID, w.ctrl, state)
}

// publishDeviceState publishes a retained state message and feeds the
// optional store and telemetry sinks.
func (b *Bridge) publishDeviceState(deviceID string, ctrl Controller, state map[string]any) {
	msg := NewStateMessage(deviceID, ctrl.Address(), state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(deviceID), payload, 1, true); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to publish state", err)
		return
	}
	b.statePublishes.Add(1)
	b.logDebug("state published", "device_id", deviceID)

	if b.store != nil {
		if err := b.store.TouchLastSeen(b.ctx, deviceID); err != nil {
			b.logDebug("last-seen update skipped",
				"device_id", deviceID,
				"reason", err.Error())
		}
	}

	if b.metrics != nil {
		b.metrics.WriteDeviceState(deviceID, ctrl.Type(), state)
	}
}

// stateEqual compares two state maps. State values are scalars (bool,
// int, float64, string), so direct comparison is safe.
func stateEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/pioneer"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/sony"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// GetPublished returns a copy of all published messages.
func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublish, len(m.published))
	copy(result, m.published)
	return result
}

// GetSubscriptions returns a copy of all subscriptions.
func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockSubscription, len(m.subscriptions))
	copy(result, m.subscriptions)
	return result
}

// ClearPublished removes all recorded publishes.
func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the registered handler, as the
// MQTT client would on arrival from the broker.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(topic string, payload []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler != nil {
		handler(topic, payload)
	}
}

// topicMatches implements single-level (+) and multi-level (#) wildcard
// matching for the subscription patterns used in tests.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "/+") {
		prefix := strings.TrimSuffix(pattern, "+")
		return strings.HasPrefix(topic, prefix) && !strings.Contains(topic[len(prefix):], "/")
	}
	if strings.HasSuffix(pattern, "/#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))
	}
	return false
}

// fakeController implements Controller for testing. It records command
// calls and lets tests drive listener callbacks.
type fakeController struct {
	mu         sync.Mutex
	name       string
	devType    string
	address    string
	listeners  []avdevice.Listener
	calls      []string
	failWith   error
	startErr   error
	starts     int
	shutdowns  int
	state      map[string]any
	sessState  avdevice.State
	responding bool
	stats      avdevice.SessionStats
}

var _ Controller = (*fakeController)(nil)

func newFakeController(name string) *fakeController {
	return &fakeController{
		name:       name,
		devType:    "fake_receiver",
		address:    "192.0.2.10:23",
		sessState:  avdevice.StateRunning,
		responding: true,
		state: map[string]any{
			"power":      false,
			"responding": true,
		},
	}
}

func (f *fakeController) Name() string    { return f.name }
func (f *fakeController) Type() string    { return f.devType }
func (f *fakeController) Address() string { return f.address }

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeController) AddListener(l avdevice.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeController) SessionState() avdevice.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessState
}

func (f *fakeController) Responding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responding
}

func (f *fakeController) SessionStats() avdevice.SessionStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeController) StateMap() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := make(map[string]any, len(f.state))
	for k, v := range f.state {
		state[k] = v
	}
	return state
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failWith
}

func (f *fakeController) Refresh() error { return f.record("refresh") }

func (f *fakeController) SetPower(on bool) error {
	return f.record(fmt.Sprintf("set_power %v", on))
}

func (f *fakeController) SetMute(muted bool) error {
	return f.record(fmt.Sprintf("set_mute %v", muted))
}

func (f *fakeController) SetVolume(v float64) error {
	return f.record(fmt.Sprintf("set_volume %v", v))
}

func (f *fakeController) VolumeUp() error   { return f.record("volume_up") }
func (f *fakeController) VolumeDown() error { return f.record("volume_down") }

func (f *fakeController) SetInput(name string) error {
	return f.record("set_input " + name)
}

func (f *fakeController) SendRemoteCode(name string) error {
	return f.record("send_ircc " + name)
}

func (f *fakeController) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func (f *fakeController) setState(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[key] = value
}

func (f *fakeController) setResponding(responding bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responding = responding
	f.state["responding"] = responding
}

// notify fires a listener callback the way a device session would.
func (f *fakeController) notify(fn func(avdevice.Listener)) {
	f.mu.Lock()
	listeners := make([]avdevice.Listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, l := range listeners {
		fn(l)
	}
}

// fakeStore implements DeviceStore for testing.
type fakeStore struct {
	mu      sync.Mutex
	upserts []DeviceRecord
	touches []string
}

func (s *fakeStore) UpsertDiscovered(_ context.Context, rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, rec)
	return nil
}

func (s *fakeStore) TouchLastSeen(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches = append(s.touches, deviceID)
	return nil
}

func (s *fakeStore) getUpserts() []DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceRecord, len(s.upserts))
	copy(out, s.upserts)
	return out
}

func (s *fakeStore) getTouches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.touches))
	copy(out, s.touches)
	return out
}

// fakeMetrics implements MetricsWriter for testing.
type fakeMetrics struct {
	mu     sync.Mutex
	writes []metricsWrite
}

type metricsWrite struct {
	DeviceID   string
	DeviceType string
	State      map[string]any
}

func (m *fakeMetrics) WriteDeviceState(deviceID, deviceType string, state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, metricsWrite{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		State:      state,
	})
}

func (m *fakeMetrics) getWrites() []metricsWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metricsWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// Test helpers

func createTestBridge(t *testing.T, opts ...func(*Options)) (*Bridge, *MockMQTTClient) {
	t.Helper()

	mqtt := NewMockMQTTClient()
	options := Options{
		BridgeID:   "av",
		Version:    "test",
		MQTTClient: mqtt,
	}
	for _, opt := range opts {
		opt(&options)
	}

	b, err := New(options)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b, mqtt
}

// createStartedBridge returns a started bridge managing one fake device
// registered as "living_room_avr". Publishes recorded during startup
// are cleared; health messages may still arrive on the health topic.
func createStartedBridge(t *testing.T, opts ...func(*Options)) (*Bridge, *MockMQTTClient, *fakeController) {
	t.Helper()

	b, mqtt := createTestBridge(t, opts...)
	fc := newFakeController("avr")
	if err := b.AddDevice("living_room_avr", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(b.Stop)

	mqtt.ClearPublished()
	return b, mqtt, fc
}

func publishedOnTopic(msgs []mockPublish, topic string) []mockPublish {
	var out []mockPublish
	for _, m := range msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// sendCommand delivers a command message through the mock MQTT client.
// Command handling is synchronous, so the ack is recorded on return.
func sendCommand(t *testing.T, mqtt *MockMQTTClient, deviceID, command string, params map[string]any) CommandMessage {
	t.Helper()

	cmd := NewCommandMessage(deviceID, command, params, "test")
	payload, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	mqtt.SimulateMessage(CommandTopic(deviceID), payload)
	return cmd
}

func lastAck(t *testing.T, mqtt *MockMQTTClient, deviceID string) AckMessage {
	t.Helper()

	acks := publishedOnTopic(mqtt.GetPublished(), AckTopic(deviceID))
	if len(acks) == 0 {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

// Construction

func TestNewBridgeRequiresMQTT(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("expected error for missing MQTT client")
	}
}

func TestNewBridgeDefaults(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b, err := New(Options{MQTTClient: mqtt})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if b.id != "av" {
		t.Errorf("id = %q, want av", b.id)
	}
	if b.Health() == nil {
		t.Error("Health() should not be nil")
	}
}

// Device registration

func TestAddDeviceRejectsInvalidID(t *testing.T) {
	b, _ := createTestBridge(t)

	tests := []string{"", "living/room", "avr+", "avr#"}
	for _, id := range tests {
		err := b.AddDevice(id, newFakeController("avr"))
		if !errors.Is(err, ErrInvalidDeviceID) {
			t.Errorf("AddDevice(%q) error = %v, want ErrInvalidDeviceID", id, err)
		}
	}
}

func TestAddDeviceRejectsNilController(t *testing.T) {
	b, _ := createTestBridge(t)

	if err := b.AddDevice("living_room_avr", nil); err == nil {
		t.Fatal("expected error for nil controller")
	}
}

func TestAddDeviceRejectsDuplicate(t *testing.T) {
	b, _ := createTestBridge(t)

	if err := b.AddDevice("living_room_avr", newFakeController("avr")); err != nil {
		t.Fatalf("first AddDevice failed: %v", err)
	}
	err := b.AddDevice("living_room_avr", newFakeController("avr"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate AddDevice error = %v, want ErrDeviceExists", err)
	}
}

func TestAddDeviceBeforeStartDoesNotStartSession(t *testing.T) {
	b, _ := createTestBridge(t)

	fc := newFakeController("avr")
	if err := b.AddDevice("living_room_avr", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if fc.starts != 0 {
		t.Errorf("starts = %d, want 0 before bridge start", fc.starts)
	}
	if len(fc.listeners) != 1 {
		t.Errorf("listeners = %d, want 1", len(fc.listeners))
	}
}

func TestAddDeviceAfterStartStartsSession(t *testing.T) {
	b, _, _ := createStartedBridge(t)

	fc := newFakeController("tv")
	if err := b.AddDevice("bedroom_tv", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if fc.starts != 1 {
		t.Errorf("starts = %d, want 1 after bridge start", fc.starts)
	}
}

// Lifecycle

func TestBridgeStartSubscribesAndStartsDevices(t *testing.T) {
	b, mqtt := createTestBridge(t)
	fc := newFakeController("avr")
	if err := b.AddDevice("living_room_avr", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	subs := mqtt.GetSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].Topic != "graylogic/command/av/+" {
		t.Errorf("subscription topic = %q, want graylogic/command/av/+", subs[0].Topic)
	}
	if subs[0].QoS != 1 {
		t.Errorf("subscription qos = %d, want 1", subs[0].QoS)
	}

	if fc.starts != 1 {
		t.Errorf("controller starts = %d, want 1", fc.starts)
	}

	// First health publish is the starting announcement
	health := publishedOnTopic(mqtt.GetPublished(), HealthTopic())
	if len(health) == 0 {
		t.Fatal("no health messages published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(health[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Status != HealthStarting {
		t.Errorf("first health status = %q, want %q", msg.Status, HealthStarting)
	}
}

func TestBridgeStartContinuesOnDeviceFailure(t *testing.T) {
	b, _ := createTestBridge(t)

	failing := newFakeController("avr")
	failing.startErr = errors.New("session already shut down")
	working := newFakeController("tv")

	if err := b.AddDevice("living_room_avr", failing); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := b.AddDevice("bedroom_tv", working); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start should not fail on device start error: %v", err)
	}
	defer b.Stop()

	if working.starts != 1 {
		t.Errorf("working controller starts = %d, want 1", working.starts)
	}
}

func TestBridgeStopShutsDownDevices(t *testing.T) {
	b, mqtt, fc := createStartedBridge(t)

	b.Stop()

	if fc.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", fc.shutdowns)
	}

	// Last health message is the stopping announcement
	health := publishedOnTopic(mqtt.GetPublished(), HealthTopic())
	if len(health) == 0 {
		t.Fatal("no health messages published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("last health status = %q, want %q", msg.Status, HealthStopping)
	}

	// Second Stop is a no-op
	b.Stop()
	if fc.shutdowns != 1 {
		t.Errorf("shutdowns after second Stop = %d, want 1", fc.shutdowns)
	}
}

// Command handling

func TestCommandDispatch(t *testing.T) {
	tests := []struct {
		command string
		params  map[string]any
		want    string
	}{
		{"set_power", map[string]any{"on": true}, "set_power true"},
		{"set_power", map[string]any{"on": false}, "set_power false"},
		{"set_mute", map[string]any{"muted": true}, "set_mute true"},
		{"set_volume", map[string]any{"volume": -32.5}, "set_volume -32.5"},
		{"set_volume", map[string]any{"volume": 30}, "set_volume 30"},
		{"volume_up", nil, "volume_up"},
		{"volume_down", nil, "volume_down"},
		{"set_input", map[string]any{"input": "HDMI1"}, "set_input HDMI1"},
		{"send_ircc", map[string]any{"code": "HOME"}, "send_ircc HOME"},
		{"query", nil, "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			_, mqtt, fc := createStartedBridge(t)

			cmd := sendCommand(t, mqtt, "living_room_avr", tt.command, tt.params)

			calls := fc.getCalls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", calls, tt.want)
			}

			ack := lastAck(t, mqtt, "living_room_avr")
			if ack.Status != AckAccepted {
				t.Errorf("ack status = %q, want %q", ack.Status, AckAccepted)
			}
			if ack.CommandID != cmd.ID {
				t.Errorf("ack command_id = %q, want %q", ack.CommandID, cmd.ID)
			}
			if ack.Protocol != "av" {
				t.Errorf("ack protocol = %q, want av", ack.Protocol)
			}
			if ack.Address != fc.address {
				t.Errorf("ack address = %q, want %q", ack.Address, fc.address)
			}
			if ack.Error != nil {
				t.Errorf("ack error = %+v, want nil", ack.Error)
			}
		})
	}
}

func TestCommandAckIsQoS1NotRetained(t *testing.T) {
	_, mqtt, _ := createStartedBridge(t)

	sendCommand(t, mqtt, "living_room_avr", "volume_up", nil)

	acks := publishedOnTopic(mqtt.GetPublished(), AckTopic("living_room_avr"))
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	if acks[0].QoS != 1 {
		t.Errorf("ack qos = %d, want 1", acks[0].QoS)
	}
	if acks[0].Retained {
		t.Error("acks must not be retained")
	}
}

func TestCommandUnknownDevice(t *testing.T) {
	_, mqtt, fc := createStartedBridge(t)

	sendCommand(t, mqtt, "basement_tv", "set_power", map[string]any{"on": true})

	ack := lastAck(t, mqtt, "basement_tv")
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil {
		t.Fatal("ack error should not be nil")
	}
	if ack.Error.Code != ErrCodeNotConfigured {
		t.Errorf("ack error code = %q, want %q", ack.Error.Code, ErrCodeNotConfigured)
	}
	if calls := fc.getCalls(); len(calls) != 0 {
		t.Errorf("controller calls = %v, want none", calls)
	}
}

func TestCommandUnknownCommand(t *testing.T) {
	_, mqtt, _ := createStartedBridge(t)

	sendCommand(t, mqtt, "living_room_avr", "disco_mode", nil)

	ack := lastAck(t, mqtt, "living_room_avr")
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("ack error = %+v, want code %q", ack.Error, ErrCodeInvalidCommand)
	}
}

func TestCommandBadParameters(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
	}{
		{"missing volume", "set_volume", nil},
		{"volume wrong type", "set_volume", map[string]any{"volume": "loud"}},
		{"missing on", "set_power", map[string]any{}},
		{"on wrong type", "set_power", map[string]any{"on": "yes"}},
		{"missing input", "set_input", nil},
		{"missing code", "send_ircc", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mqtt, fc := createStartedBridge(t)

			sendCommand(t, mqtt, "living_room_avr", tt.command, tt.params)

			ack := lastAck(t, mqtt, "living_room_avr")
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
			}
			if ack.Error == nil || ack.Error.Code != ErrCodeInvalidParameters {
				t.Errorf("ack error = %+v, want code %q", ack.Error, ErrCodeInvalidParameters)
			}
			if calls := fc.getCalls(); len(calls) != 0 {
				t.Errorf("controller calls = %v, want none", calls)
			}
		})
	}
}

func TestCommandErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		failWith error
		wantCode string
	}{
		{"sony not connected", sony.ErrNotConnected, ErrCodeDeviceUnreachable},
		{"pioneer not connected", pioneer.ErrNotConnected, ErrCodeDeviceUnreachable},
		{"volume out of range", fmt.Errorf("set volume: %w", pioneer.ErrVolumeOutOfRange), ErrCodeInvalidParameters},
		{"ircc out of range", sony.ErrIRCCOutOfRange, ErrCodeInvalidParameters},
		{"unknown input", avdevice.ErrUnknownInput, ErrCodeInvalidParameters},
		{"unsupported command", ErrUnsupportedCommand, ErrCodeInvalidCommand},
		{"other error", errors.New("relay stuck"), ErrCodeBridgeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mqtt, fc := createStartedBridge(t)
			fc.failWith = tt.failWith

			sendCommand(t, mqtt, "living_room_avr", "set_power", map[string]any{"on": true})

			ack := lastAck(t, mqtt, "living_room_avr")
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %q", ack.Error, tt.wantCode)
			}

			stats := b.Statistics()
			if stats.CommandsFailed != 1 {
				t.Errorf("CommandsFailed = %d, want 1", stats.CommandsFailed)
			}
		})
	}
}

func TestCommandMalformedPayload(t *testing.T) {
	b, mqtt, _ := createStartedBridge(t)

	mqtt.SimulateMessage(CommandTopic("living_room_avr"), []byte("not json"))

	acks := publishedOnTopic(mqtt.GetPublished(), AckTopic("living_room_avr"))
	if len(acks) != 0 {
		t.Errorf("expected no acks for malformed payload, got %d", len(acks))
	}

	stats := b.Statistics()
	if stats.CommandsReceived != 0 {
		t.Errorf("CommandsReceived = %d, want 0", stats.CommandsReceived)
	}
	if stats.Errors == 0 {
		t.Error("Errors should be counted for malformed payload")
	}
}

func TestHandleMQTTMessageInvalidTopic(t *testing.T) {
	b, mqtt, _ := createStartedBridge(t)

	b.handleMQTTMessage("short/topic", []byte("{}"))
	b.handleMQTTMessage("graylogic/unknown/av/x", []byte("{}"))

	// Periodic health publishes are expected; nothing else should appear.
	for _, msg := range mqtt.GetPublished() {
		if msg.Topic != HealthTopic() {
			t.Errorf("unexpected publish on %s", msg.Topic)
		}
	}
	if stats := b.Statistics(); stats.Errors != 2 {
		t.Errorf("Errors = %d, want 2", stats.Errors)
	}
}

// State publishing

func TestStatePublishOnSessionEvent(t *testing.T) {
	_, mqtt, fc := createStartedBridge(t)

	fc.setState("power", true)
	fc.notify(func(l avdevice.Listener) { l.OnPower(true) })

	states := publishedOnTopic(mqtt.GetPublished(), StateTopic("living_room_avr"))
	if len(states) != 1 {
		t.Fatalf("expected 1 state publish, got %d", len(states))
	}
	if states[0].QoS != 1 {
		t.Errorf("state qos = %d, want 1", states[0].QoS)
	}
	if !states[0].Retained {
		t.Error("state messages must be retained")
	}

	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.DeviceID != "living_room_avr" {
		t.Errorf("DeviceID = %q, want living_room_avr", msg.DeviceID)
	}
	if msg.Protocol != "av" {
		t.Errorf("Protocol = %q, want av", msg.Protocol)
	}
	if msg.Address != fc.address {
		t.Errorf("Address = %q, want %q", msg.Address, fc.address)
	}
	if msg.State["power"] != true {
		t.Errorf("State[power] = %v, want true", msg.State["power"])
	}
}

func TestStatePublishSkipsUnchanged(t *testing.T) {
	_, mqtt, fc := createStartedBridge(t)

	fc.notify(func(l avdevice.Listener) { l.OnPower(false) })
	fc.notify(func(l avdevice.Listener) { l.OnPower(false) })

	states := publishedOnTopic(mqtt.GetPublished(), StateTopic("living_room_avr"))
	if len(states) != 1 {
		t.Fatalf("expected 1 state publish for unchanged state, got %d", len(states))
	}

	fc.setState("volume_db", -40.0)
	fc.notify(func(l avdevice.Listener) { l.OnVolume(-40.0) })

	states = publishedOnTopic(mqtt.GetPublished(), StateTopic("living_room_avr"))
	if len(states) != 2 {
		t.Fatalf("expected 2 state publishes after change, got %d", len(states))
	}
}

func TestStatePublishAllListenerEvents(t *testing.T) {
	// Each session callback type triggers a publish when state changed.
	events := []struct {
		name string
		fire func(l avdevice.Listener)
	}{
		{"power", func(l avdevice.Listener) { l.OnPower(true) }},
		{"volume", func(l avdevice.Listener) { l.OnVolume(-20) }},
		{"mute", func(l avdevice.Listener) { l.OnMute(true) }},
		{"input", func(l avdevice.Listener) { l.OnInput(avdevice.InputCode(4)) }},
		{"connected", func(l avdevice.Listener) { l.OnConnected() }},
		{"disconnected", func(l avdevice.Listener) { l.OnDisconnected() }},
		{"responding", func(l avdevice.Listener) { l.OnResponding() }},
		{"not_responding", func(l avdevice.Listener) { l.OnNotResponding() }},
	}

	for _, ev := range events {
		t.Run(ev.name, func(t *testing.T) {
			_, mqtt, fc := createStartedBridge(t)

			fc.notify(ev.fire)

			states := publishedOnTopic(mqtt.GetPublished(), StateTopic("living_room_avr"))
			if len(states) != 1 {
				t.Errorf("expected 1 state publish, got %d", len(states))
			}
		})
	}
}

func TestStatePublishFeedsStoreAndMetrics(t *testing.T) {
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	b, _, fc := createStartedBridge(t, func(o *Options) {
		o.Store = store
		o.Metrics = metrics
	})

	fc.setState("power", true)
	fc.notify(func(l avdevice.Listener) { l.OnPower(true) })

	touches := store.getTouches()
	if len(touches) != 1 || touches[0] != "living_room_avr" {
		t.Errorf("touches = %v, want [living_room_avr]", touches)
	}

	writes := metrics.getWrites()
	if len(writes) != 1 {
		t.Fatalf("expected 1 metrics write, got %d", len(writes))
	}
	if writes[0].DeviceID != "living_room_avr" {
		t.Errorf("write DeviceID = %q, want living_room_avr", writes[0].DeviceID)
	}
	if writes[0].DeviceType != fc.devType {
		t.Errorf("write DeviceType = %q, want %q", writes[0].DeviceType, fc.devType)
	}
	if writes[0].State["power"] != true {
		t.Errorf("write State[power] = %v, want true", writes[0].State["power"])
	}

	if stats := b.Statistics(); stats.StatePublishes != 1 {
		t.Errorf("StatePublishes = %d, want 1", stats.StatePublishes)
	}
}

// Discovery

func TestPublishDiscovery(t *testing.T) {
	store := &fakeStore{}
	b, mqtt := createTestBridge(t, func(o *Options) { o.Store = store })

	devices := []DiscoveredDevice{
		{
			Protocol:     "av",
			Type:         TypePioneerVSX1021,
			Name:         "VSX-1021",
			Host:         "192.168.1.40",
			Port:         23,
			Manufacturer: "PIONEER CORPORATION",
			Model:        "VSX-1021",
			Location:     "http://192.168.1.40:8080/description.xml",
		},
		{
			Protocol: "av",
			Type:     TypeSonyBravia,
			Name:     "Bravia TV",
			Host:     "192.168.1.41",
			Port:     20060,
		},
	}

	if err := b.PublishDiscovery(devices); err != nil {
		t.Fatalf("PublishDiscovery failed: %v", err)
	}

	published := publishedOnTopic(mqtt.GetPublished(), DiscoveryTopic())
	if len(published) != 1 {
		t.Fatalf("expected 1 discovery publish, got %d", len(published))
	}
	if published[0].QoS != 1 {
		t.Errorf("discovery qos = %d, want 1", published[0].QoS)
	}
	if published[0].Retained {
		t.Error("discovery messages must not be retained")
	}

	var msg DiscoveryMessage
	if err := json.Unmarshal(published[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if msg.Bridge != "av" {
		t.Errorf("Bridge = %q, want av", msg.Bridge)
	}
	if len(msg.Devices) != 2 {
		t.Fatalf("Devices = %d, want 2", len(msg.Devices))
	}
	if msg.Devices[0].Host != "192.168.1.40" {
		t.Errorf("Devices[0].Host = %q, want 192.168.1.40", msg.Devices[0].Host)
	}

	upserts := store.getUpserts()
	if len(upserts) != 2 {
		t.Fatalf("expected 2 store upserts, got %d", len(upserts))
	}
	if upserts[0].Type != TypePioneerVSX1021 || upserts[0].Host != "192.168.1.40" {
		t.Errorf("upsert[0] = %+v, want pioneer at 192.168.1.40", upserts[0])
	}
	if upserts[1].Type != TypeSonyBravia || upserts[1].Port != 20060 {
		t.Errorf("upsert[1] = %+v, want sony on port 20060", upserts[1])
	}
}

func TestPublishDiscoveryEmpty(t *testing.T) {
	b, mqtt := createTestBridge(t)

	if err := b.PublishDiscovery(nil); err != nil {
		t.Fatalf("PublishDiscovery(nil) failed: %v", err)
	}

	if got := len(publishedOnTopic(mqtt.GetPublished(), DiscoveryTopic())); got != 0 {
		t.Errorf("expected no discovery publishes, got %d", got)
	}
}

// Accessors

func TestDeviceState(t *testing.T) {
	b, _ := createTestBridge(t)
	fc := newFakeController("avr")
	fc.setState("power", true)
	if err := b.AddDevice("living_room_avr", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	state, err := b.DeviceState("living_room_avr")
	if err != nil {
		t.Fatalf("DeviceState failed: %v", err)
	}
	if state["power"] != true {
		t.Errorf("state[power] = %v, want true", state["power"])
	}

	_, err = b.DeviceState("garage_tv")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDeviceIDsSorted(t *testing.T) {
	b, _ := createTestBridge(t)
	for _, id := range []string{"zone2_amp", "bedroom_tv", "living_room_avr"} {
		if err := b.AddDevice(id, newFakeController(id)); err != nil {
			t.Fatalf("AddDevice(%s) failed: %v", id, err)
		}
	}

	ids := b.DeviceIDs()
	want := []string{"bedroom_tv", "living_room_avr", "zone2_amp"}
	if len(ids) != len(want) {
		t.Fatalf("DeviceIDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("DeviceIDs[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestDeviceStatuses(t *testing.T) {
	b, _ := createTestBridge(t)

	avr := newFakeController("avr")
	tv := newFakeController("tv")
	tv.setResponding(false)
	tv.sessState = avdevice.StateReconnecting

	if err := b.AddDevice("living_room_avr", avr); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := b.AddDevice("bedroom_tv", tv); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	statuses := b.DeviceStatuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}

	// Sorted by device ID
	if statuses[0].DeviceID != "bedroom_tv" {
		t.Errorf("statuses[0].DeviceID = %q, want bedroom_tv", statuses[0].DeviceID)
	}
	if statuses[0].Responding {
		t.Error("bedroom_tv should not be responding")
	}
	if statuses[0].State != string(avdevice.StateReconnecting) {
		t.Errorf("statuses[0].State = %q, want %q", statuses[0].State, avdevice.StateReconnecting)
	}
	if statuses[1].DeviceID != "living_room_avr" || !statuses[1].Responding {
		t.Errorf("statuses[1] = %+v, want responding living_room_avr", statuses[1])
	}
}

func TestStatisticsAggregation(t *testing.T) {
	b, mqtt, fc := createStartedBridge(t)
	fc.stats = avdevice.SessionStats{ReconnectsTotal: 3, FaultsTotal: 2}

	sendCommand(t, mqtt, "living_room_avr", "volume_up", nil)
	sendCommand(t, mqtt, "living_room_avr", "disco_mode", nil)

	stats := b.Statistics()
	if stats.CommandsReceived != 2 {
		t.Errorf("CommandsReceived = %d, want 2", stats.CommandsReceived)
	}
	if stats.CommandsFailed != 1 {
		t.Errorf("CommandsFailed = %d, want 1", stats.CommandsFailed)
	}
	if stats.Reconnects != 3 {
		t.Errorf("Reconnects = %d, want 3", stats.Reconnects)
	}
	if stats.Errors != 2 {
		t.Errorf("Errors = %d, want 2 (session faults)", stats.Errors)
	}
}

func TestGetMetrics(t *testing.T) {
	b, _ := createTestBridge(t)

	avr := newFakeController("avr")
	tv := newFakeController("tv")
	tv.setResponding(false)

	if err := b.AddDevice("living_room_avr", avr); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := b.AddDevice("bedroom_tv", tv); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	m := b.GetMetrics()
	if m.DevicesManaged != 2 {
		t.Errorf("DevicesManaged = %d, want 2", m.DevicesManaged)
	}
	if m.DevicesResponding != 1 {
		t.Errorf("DevicesResponding = %d, want 1", m.DevicesResponding)
	}
}

// Health wiring

func TestBridgeHealthReportsDeviceStatus(t *testing.T) {
	b, mqtt := createTestBridge(t)

	fc := newFakeController("avr")
	fc.setResponding(false)
	if err := b.AddDevice("living_room_avr", fc); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if err := b.Health().PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	health := publishedOnTopic(mqtt.GetPublished(), HealthTopic())
	if len(health) != 1 {
		t.Fatalf("expected 1 health message, got %d", len(health))
	}

	var msg HealthMessage
	if err := json.Unmarshal(health[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Status != HealthDegraded {
		t.Errorf("Status = %q, want %q", msg.Status, HealthDegraded)
	}
	if msg.Reason != "1 device(s) not responding" {
		t.Errorf("Reason = %q, want '1 device(s) not responding'", msg.Reason)
	}
	if msg.DevicesManaged != 1 {
		t.Errorf("DevicesManaged = %d, want 1", msg.DevicesManaged)
	}
	if len(msg.Devices) != 1 || msg.Devices[0].DeviceID != "living_room_avr" {
		t.Errorf("Devices = %+v, want living_room_avr entry", msg.Devices)
	}
}

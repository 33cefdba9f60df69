package bridge

import (
	"context"
	"math"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/pioneer"
	"github.com/nerrad567/gray-logic-av/internal/avdevice/sony"
)

// Device type identifiers, matching the discovery and store vocabulary.
const (
	TypePioneerVSX1021 = "pioneer_vsx1021"
	TypeSonyBravia     = "sony_bravia"
)

// Controller is the protocol-client surface a device worker drives.
// The pioneer and sony adapters below normalise the two clients to it;
// tests substitute fakes.
type Controller interface {
	// Name returns the device's session name.
	Name() string

	// Type returns the device type identifier.
	Type() string

	// Address returns the device's network address (host:port).
	Address() string

	// Start begins the connection lifecycle.
	Start() error

	// Shutdown stops the device session, waiting for teardown.
	Shutdown(ctx context.Context) error

	// AddListener registers for state change callbacks.
	AddListener(l avdevice.Listener)

	// SessionState returns the lifecycle state.
	SessionState() avdevice.State

	// Responding reports whether the device is answering.
	Responding() bool

	// SessionStats returns session lifecycle counters.
	SessionStats() avdevice.SessionStats

	// StateMap returns the current cached device state, shaped for
	// publishing. Keys are device-type specific.
	StateMap() map[string]any

	// Refresh re-queries the device's full state.
	Refresh() error

	SetPower(on bool) error
	SetMute(muted bool) error

	// SetVolume sets the absolute volume. The unit is device-specific:
	// dB for the receiver, steps 0-100 for the display.
	SetVolume(volume float64) error

	VolumeUp() error
	VolumeDown() error

	// SetInput selects an input by name (e.g. "HDMI1", "DVD").
	SetInput(name string) error

	// SendRemoteCode sends a named remote control code. Devices without
	// a remote protocol return ErrUnsupportedCommand.
	SendRemoteCode(name string) error
}

// pioneerController adapts a pioneer.Client to the Controller surface.
type pioneerController struct {
	client  *pioneer.Client
	address string
}

// NewPioneerController wraps a receiver client for the bridge.
// address is the device's host:port, used in published messages.
func NewPioneerController(client *pioneer.Client, address string) Controller {
	return &pioneerController{client: client, address: address}
}

func (p *pioneerController) Name() string    { return p.client.Name() }
func (p *pioneerController) Type() string    { return TypePioneerVSX1021 }
func (p *pioneerController) Address() string { return p.address }

func (p *pioneerController) Start() error { return p.client.Start() }

func (p *pioneerController) Shutdown(ctx context.Context) error {
	return p.client.Shutdown(ctx)
}

func (p *pioneerController) AddListener(l avdevice.Listener) { p.client.AddListener(l) }

func (p *pioneerController) SessionState() avdevice.State {
	return p.client.Session().State()
}

func (p *pioneerController) Responding() bool {
	return p.client.Session().Responding()
}

func (p *pioneerController) SessionStats() avdevice.SessionStats {
	return p.client.Session().Stats()
}

func (p *pioneerController) StateMap() map[string]any {
	return map[string]any{
		"power":      p.client.Power(),
		"volume_db":  p.client.VolumeDB(),
		"mute":       p.client.Mute(),
		"input":      p.client.InputName(),
		"responding": p.client.Session().Responding(),
	}
}

func (p *pioneerController) Refresh() error { return p.client.QueryState() }

func (p *pioneerController) SetPower(on bool) error    { return p.client.SetPower(on) }
func (p *pioneerController) SetMute(muted bool) error  { return p.client.SetMute(muted) }
func (p *pioneerController) SetVolume(v float64) error { return p.client.SetVolume(v) }
func (p *pioneerController) VolumeUp() error           { return p.client.VolumeUp() }
func (p *pioneerController) VolumeDown() error         { return p.client.VolumeDown() }
func (p *pioneerController) SetInput(name string) error {
	return p.client.SetInput(name)
}

func (p *pioneerController) SendRemoteCode(string) error {
	return ErrUnsupportedCommand
}

// sonyController adapts a sony.Client to the Controller surface.
type sonyController struct {
	client  *sony.Client
	address string
}

// NewSonyController wraps a display client for the bridge.
// address is the device's host:port, used in published messages.
func NewSonyController(client *sony.Client, address string) Controller {
	return &sonyController{client: client, address: address}
}

func (s *sonyController) Name() string    { return s.client.Name() }
func (s *sonyController) Type() string    { return TypeSonyBravia }
func (s *sonyController) Address() string { return s.address }

func (s *sonyController) Start() error { return s.client.Start() }

func (s *sonyController) Shutdown(ctx context.Context) error {
	return s.client.Shutdown(ctx)
}

func (s *sonyController) AddListener(l avdevice.Listener) { s.client.AddListener(l) }

func (s *sonyController) SessionState() avdevice.State {
	return s.client.Session().State()
}

func (s *sonyController) Responding() bool {
	return s.client.Session().Responding()
}

func (s *sonyController) SessionStats() avdevice.SessionStats {
	return s.client.Session().Stats()
}

func (s *sonyController) StateMap() map[string]any {
	return map[string]any{
		"power":      s.client.Power(),
		"volume":     s.client.Volume(),
		"mute":       s.client.Mute(),
		"input":      s.client.InputName(),
		"responding": s.client.Session().Responding(),
	}
}

func (s *sonyController) Refresh() error { return s.client.QueryState() }

func (s *sonyController) SetPower(on bool) error   { return s.client.SetPower(on) }
func (s *sonyController) SetMute(muted bool) error { return s.client.SetMute(muted) }

// SetVolume rounds to the display's step scale.
func (s *sonyController) SetVolume(v float64) error {
	return s.client.SetVolume(int(math.Round(v)))
}

func (s *sonyController) VolumeUp() error   { return s.client.VolumeUp() }
func (s *sonyController) VolumeDown() error { return s.client.VolumeDown() }
func (s *sonyController) SetInput(name string) error {
	return s.client.SetInput(name)
}

func (s *sonyController) SendRemoteCode(name string) error {
	code, err := sony.IRCCByName(name)
	if err != nil {
		return err
	}
	return s.client.SendIRCC(code)
}

var (
	_ Controller = (*pioneerController)(nil)
	_ Controller = (*sonyController)(nil)
)

package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// For testing error paths
	createErr error
	updateErr error
	deleteErr error
	upsertErr error
	touchErr  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		copy := *d
		return &copy, nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) GetByTypeHost(_ context.Context, t Type, host string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if d.Type == t && d.Host == host {
			copy := *d
			return &copy, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d)
	}
	return devices, nil
}

func (m *MockRepository) ListByType(_ context.Context, t Type) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Type == t {
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func (m *MockRepository) ListBySource(_ context.Context, source Source) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Source == source {
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; exists {
		return ErrDeviceExists
	}
	for _, d := range m.devices {
		if d.Type == device.Type && d.Host == device.Host {
			return ErrDeviceExists
		}
	}

	copy := *device
	m.devices[device.ID] = &copy
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; !exists {
		return ErrDeviceNotFound
	}

	copy := *device
	m.devices[device.ID] = &copy
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}

	delete(m.devices, id)
	return nil
}

// UpsertDiscovered mirrors the SQLite merge rules: existing records keep
// their ID, and configured records keep their name and source.
func (m *MockRepository) UpsertDiscovered(_ context.Context, device *Device) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if device.LastSeen == nil {
		device.LastSeen = &now
	}

	for _, d := range m.devices {
		if d.Type == device.Type && d.Host == device.Host {
			if d.Source == SourceDiscovered {
				d.Name = device.Name
			}
			d.Port = device.Port
			d.Manufacturer = device.Manufacturer
			d.Model = device.Model
			d.LastSeen = device.LastSeen
			d.UpdatedAt = now
			*device = *d
			return nil
		}
	}

	if device.ID == "" {
		device.ID = GenerateID()
	}
	device.Source = SourceDiscovered
	device.CreatedAt = now
	device.UpdatedAt = now
	copy := *device
	m.devices[device.ID] = &copy
	return nil
}

func (m *MockRepository) TouchLastSeen(_ context.Context, id string, seen time.Time) error {
	if m.touchErr != nil {
		return m.touchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}

	d.LastSeen = &seen
	return nil
}

// addDevice adds a device directly to the mock for test setup.
func (m *MockRepository) addDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *d
	m.devices[d.ID] = &copy
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Add devices to mock repo
	repo.addDevice(testDevice("dev-1", "Device 1"))
	repo.addDevice(testDevice("dev-2", "Device 2"))

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if registry.GetDeviceCount() != 2 {
		t.Errorf("GetDeviceCount() = %d, want 2", registry.GetDeviceCount())
	}
}

func TestRegistry_GetDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Add device to mock repo
	device := testDevice("dev-get", "Test Device")
	repo.addDevice(device)
	registry.RefreshCache(ctx)

	t.Run("returns device from cache", func(t *testing.T) {
		got, err := registry.GetDevice(ctx, "dev-get")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.ID != "dev-get" {
			t.Errorf("ID = %q, want %q", got.ID, "dev-get")
		}
	})

	t.Run("falls back to repository for uncached device", func(t *testing.T) {
		repo.addDevice(testDevice("dev-uncached", "Uncached Device"))

		got, err := registry.GetDevice(ctx, "dev-uncached")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.Name != "Uncached Device" {
			t.Errorf("Name = %q, want %q", got.Name, "Uncached Device")
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent", func(t *testing.T) {
		_, err := registry.GetDevice(ctx, "nonexistent")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_CreateDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	t.Run("creates device with generated ID and defaults", func(t *testing.T) {
		device := &Device{
			Name: "New AVR",
			Type: TypePioneerVSX1021,
			Host: "192.168.1.40",
		}

		if err := registry.CreateDevice(ctx, device); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}

		// ID should be generated
		if device.ID == "" {
			t.Error("ID was not generated")
		}

		// Source defaults to configured, port to the type's control port
		if device.Source != SourceConfigured {
			t.Errorf("Source = %q, want %q", device.Source, SourceConfigured)
		}
		if device.Port != 23 {
			t.Errorf("Port = %d, want 23", device.Port)
		}

		// Should be in cache
		got, err := registry.GetDevice(ctx, device.ID)
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.Name != "New AVR" {
			t.Errorf("Name = %q, want %q", got.Name, "New AVR")
		}
	})

	t.Run("defaults Sony port", func(t *testing.T) {
		device := &Device{
			Name: "New TV",
			Type: TypeSonyBravia,
			Host: "192.168.1.41",
		}

		if err := registry.CreateDevice(ctx, device); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
		if device.Port != 20060 {
			t.Errorf("Port = %d, want 20060", device.Port)
		}
	})

	t.Run("validates device before creating", func(t *testing.T) {
		device := &Device{
			Name: "", // Invalid: empty name
		}

		err := registry.CreateDevice(ctx, device)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateDevice() error = %v, want ErrInvalidName", err)
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		device := &Device{
			Name: "Mystery Box",
			Type: Type("denon_avr"),
			Host: "192.168.1.42",
			Port: 23,
		}

		err := registry.CreateDevice(ctx, device)
		if !errors.Is(err, ErrInvalidType) {
			t.Errorf("CreateDevice() error = %v, want ErrInvalidType", err)
		}
	})

	t.Run("rejects missing host", func(t *testing.T) {
		device := &Device{
			Name: "No Host",
			Type: TypePioneerVSX1021,
		}

		err := registry.CreateDevice(ctx, device)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("CreateDevice() error = %v, want ErrInvalidAddress", err)
		}
	})

	t.Run("returns error for duplicate ID", func(t *testing.T) {
		device1 := testDevice("dup-id", "First")
		if err := registry.CreateDevice(ctx, device1); err != nil {
			t.Fatalf("first CreateDevice() error = %v", err)
		}

		device2 := testDevice("dup-id", "Second")
		device2.Host = "unused.local"
		err := registry.CreateDevice(ctx, device2)
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("CreateDevice() error = %v, want ErrDeviceExists", err)
		}
	})
}

func TestRegistry_UpdateDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Create initial device
	device := testDevice("dev-update", "Original")
	if err := registry.CreateDevice(ctx, device); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	t.Run("updates device successfully", func(t *testing.T) {
		device.Name = "Updated"
		device.Model = "VSX-1021-K"

		if err := registry.UpdateDevice(ctx, device); err != nil {
			t.Fatalf("UpdateDevice() error = %v", err)
		}

		got, _ := registry.GetDevice(ctx, "dev-update")
		if got.Name != "Updated" {
			t.Errorf("Name = %q, want %q", got.Name, "Updated")
		}
		if got.Model != "VSX-1021-K" {
			t.Errorf("Model = %q, want %q", got.Model, "VSX-1021-K")
		}
	})

	t.Run("validates device before updating", func(t *testing.T) {
		bad := testDevice("dev-update", "Bad Port")
		bad.Port = 70000

		err := registry.UpdateDevice(ctx, bad)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("UpdateDevice() error = %v, want ErrInvalidAddress", err)
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent", func(t *testing.T) {
		nonexistent := testDevice("nonexistent", "Ghost")
		err := registry.UpdateDevice(ctx, nonexistent)
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("UpdateDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_DeleteDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Create device
	device := testDevice("dev-delete", "To Delete")
	if err := registry.CreateDevice(ctx, device); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	t.Run("deletes device from cache and repo", func(t *testing.T) {
		if err := registry.DeleteDevice(ctx, "dev-delete"); err != nil {
			t.Fatalf("DeleteDevice() error = %v", err)
		}

		_, err := registry.GetDevice(ctx, "dev-delete")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent", func(t *testing.T) {
		err := registry.DeleteDevice(ctx, "nonexistent")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("DeleteDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_UpsertDiscovered(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	t.Run("records new discovered device", func(t *testing.T) {
		device := &Device{
			Type:         TypeSonyBravia,
			Host:         "192.168.1.41",
			Port:         20060,
			Manufacturer: "Sony Corporation",
			Model:        "KDL-46HX800",
		}

		if err := registry.UpsertDiscovered(ctx, device); err != nil {
			t.Fatalf("UpsertDiscovered() error = %v", err)
		}

		if device.ID == "" {
			t.Error("ID was not assigned")
		}
		// Name defaults when discovery provides none
		if device.Name == "" {
			t.Error("Name was not defaulted")
		}

		// Should be in cache
		got, err := registry.GetDevice(ctx, device.ID)
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.Source != SourceDiscovered {
			t.Errorf("Source = %q, want %q", got.Source, SourceDiscovered)
		}
	})

	t.Run("keeps configured record identity", func(t *testing.T) {
		configured := testDevice("dev-conf", "Living Room AVR")
		configured.Host = "192.168.1.40"
		if err := registry.CreateDevice(ctx, configured); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}

		found := &Device{
			Name:  "VSX-1021",
			Type:  TypePioneerVSX1021,
			Host:  "192.168.1.40",
			Port:  23,
			Model: "VSX-1021",
		}
		if err := registry.UpsertDiscovered(ctx, found); err != nil {
			t.Fatalf("UpsertDiscovered() error = %v", err)
		}

		if found.ID != "dev-conf" {
			t.Errorf("ID = %q, want %q", found.ID, "dev-conf")
		}

		got, _ := registry.GetDevice(ctx, "dev-conf")
		if got.Name != "Living Room AVR" {
			t.Errorf("Name = %q, want %q", got.Name, "Living Room AVR")
		}
		if got.Model != "VSX-1021" {
			t.Errorf("Model = %q, want %q", got.Model, "VSX-1021")
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		device := &Device{
			Type: Type("samsung_tv"),
			Host: "192.168.1.50",
			Port: 1234,
		}

		err := registry.UpsertDiscovered(ctx, device)
		if !errors.Is(err, ErrInvalidType) {
			t.Errorf("UpsertDiscovered() error = %v, want ErrInvalidType", err)
		}
	})
}

func TestRegistry_TouchLastSeen(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Create device
	device := testDevice("dev-touch", "Touched")
	if err := registry.CreateDevice(ctx, device); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	t.Run("updates last_seen in cache and repo", func(t *testing.T) {
		if err := registry.TouchLastSeen(ctx, "dev-touch"); err != nil {
			t.Fatalf("TouchLastSeen() error = %v", err)
		}

		got, _ := registry.GetDevice(ctx, "dev-touch")
		if got.LastSeen == nil {
			t.Error("LastSeen = nil, want non-nil")
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent", func(t *testing.T) {
		err := registry.TouchLastSeen(ctx, "nonexistent")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("TouchLastSeen() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_GetDevicesByType(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	avr := testDevice("avr-1", "AVR")

	tv := testDevice("tv-1", "TV")
	tv.Type = TypeSonyBravia
	tv.Port = 20060

	for _, d := range []*Device{avr, tv} {
		if err := registry.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
	}

	devices, err := registry.GetDevicesByType(ctx, TypeSonyBravia)
	if err != nil {
		t.Fatalf("GetDevicesByType() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("GetDevicesByType() returned %d devices, want 1", len(devices))
	}
	if devices[0].Type != TypeSonyBravia {
		t.Errorf("Type = %q, want %q", devices[0].Type, TypeSonyBravia)
	}
}

func TestRegistry_GetDevicesBySource(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	configured := testDevice("conf-1", "Configured")
	if err := registry.CreateDevice(ctx, configured); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	discovered := &Device{
		Type: TypeSonyBravia,
		Host: "192.168.1.41",
		Port: 20060,
	}
	if err := registry.UpsertDiscovered(ctx, discovered); err != nil {
		t.Fatalf("UpsertDiscovered() error = %v", err)
	}

	devices, err := registry.GetDevicesBySource(ctx, SourceDiscovered)
	if err != nil {
		t.Fatalf("GetDevicesBySource() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("GetDevicesBySource() returned %d devices, want 1", len(devices))
	}
	if devices[0].ID != discovered.ID {
		t.Errorf("ID = %q, want %q", devices[0].ID, discovered.ID)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	avr := testDevice("avr", "AVR")

	tv := testDevice("tv", "TV")
	tv.Type = TypeSonyBravia
	tv.Port = 20060

	for _, d := range []*Device{avr, tv} {
		if err := registry.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
	}

	discovered := &Device{
		Type: TypeSonyBravia,
		Host: "192.168.1.99",
		Port: 20060,
	}
	if err := registry.UpsertDiscovered(ctx, discovered); err != nil {
		t.Fatalf("UpsertDiscovered() error = %v", err)
	}

	stats := registry.GetStats()

	if stats.TotalDevices != 3 {
		t.Errorf("TotalDevices = %d, want 3", stats.TotalDevices)
	}
	if stats.ByType[TypePioneerVSX1021] != 1 {
		t.Errorf("ByType[pioneer_vsx1021] = %d, want 1", stats.ByType[TypePioneerVSX1021])
	}
	if stats.ByType[TypeSonyBravia] != 2 {
		t.Errorf("ByType[sony_bravia] = %d, want 2", stats.ByType[TypeSonyBravia])
	}
	if stats.BySource[SourceConfigured] != 2 {
		t.Errorf("BySource[configured] = %d, want 2", stats.BySource[SourceConfigured])
	}
	if stats.BySource[SourceDiscovered] != 1 {
		t.Errorf("BySource[discovered] = %d, want 1", stats.BySource[SourceDiscovered])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Create initial device
	device := testDevice("concurrent", "Concurrent Device")
	if err := registry.CreateDevice(ctx, device); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	// Run concurrent operations
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)

		// Concurrent reads
		go func() {
			defer wg.Done()
			registry.GetDevice(ctx, "concurrent")
		}()

		// Concurrent liveness updates
		go func() {
			defer wg.Done()
			registry.TouchLastSeen(ctx, "concurrent")
		}()

		// Concurrent stats reads
		go func() {
			defer wg.Done()
			registry.GetStats()
		}()
	}

	wg.Wait()

	// Should still be accessible
	got, err := registry.GetDevice(ctx, "concurrent")
	if err != nil {
		t.Errorf("GetDevice() after concurrent access error = %v", err)
	}
	if got.LastSeen == nil {
		t.Error("LastSeen = nil after concurrent touches")
	}
}

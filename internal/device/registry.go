package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. Devices are plain value types,
// so the cache stores and returns copies. The LastSeen pointer is shared
// between copies but never written through; updates replace it.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]Device // Cached devices by ID
	cacheMu sync.RWMutex      // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		r.cache[d.ID] = d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return &cached, nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups
	r.cacheMu.Lock()
	r.cache[device.ID] = *device
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, d)
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByType retrieves all devices of a specific type.
func (r *Registry) GetDevicesByType(ctx context.Context, t Type) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Type == t {
				devices = append(devices, d)
			}
		}
		return devices, nil
	}

	return r.repo.ListByType(ctx, t)
}

// GetDevicesBySource retrieves all devices with a specific source.
func (r *Registry) GetDevicesBySource(ctx context.Context, source Source) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Source == source {
				devices = append(devices, d)
			}
		}
		return devices, nil
	}

	return r.repo.ListBySource(ctx, source)
}

// CreateDevice creates a new device.
// It fills in defaults (ID, source, well-known port), validates the
// device, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	// Generate ID if not provided
	if device.ID == "" {
		device.ID = GenerateID()
	}

	// Default to configured; discovery uses UpsertDiscovered instead
	if device.Source == "" {
		device.Source = SourceConfigured
	}

	// Default the control port for known types
	if device.Port == 0 {
		device.Port = DefaultPort(device.Type)
	}

	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[device.ID] = *device
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "type", device.Type)
	return nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[device.ID] = *device
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// UpsertDiscovered records a device found by discovery and caches the
// stored record. See Repository.UpsertDiscovered for the merge rules.
func (r *Registry) UpsertDiscovered(ctx context.Context, device *Device) error {
	if err := ValidateEndpoint(device.Host, device.Port); err != nil {
		return err
	}
	if err := ValidateType(device.Type); err != nil {
		return err
	}
	if device.Name == "" {
		device.Name = fmt.Sprintf("%s @ %s", device.Type, device.Host)
	}

	if err := r.repo.UpsertDiscovered(ctx, device); err != nil {
		return err
	}

	// Cache the stored record
	r.cacheMu.Lock()
	r.cache[device.ID] = *device
	r.cacheMu.Unlock()

	r.logger.Debug("discovered device recorded", "id", device.ID, "type", device.Type, "host", device.Host)
	return nil
}

// TouchLastSeen stamps a device's last_seen with the current time.
// This is called on every state update from a device session, so it
// only logs at debug level and skips validation.
func (r *Registry) TouchLastSeen(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := r.repo.TouchLastSeen(ctx, id, now); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		cached.LastSeen = &now
		cached.UpdatedAt = now
		r.cache[id] = cached
	}
	r.cacheMu.Unlock()

	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByType       map[Type]int
	BySource     map[Source]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[Type]int),
		BySource:     make(map[Source]int),
	}

	for _, d := range r.cache {
		stats.ByType[d.Type]++
		stats.BySource[d.Source]++
	}

	return stats
}

package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByTypeHost retrieves a device by its type and host.
	// The pair is unique: one record per control endpoint.
	// Returns ErrDeviceNotFound if no such device exists.
	GetByTypeHost(ctx context.Context, t Type, host string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// ListByType retrieves all devices of a specific type.
	ListByType(ctx context.Context, t Type) ([]Device, error)

	// ListBySource retrieves all devices with a specific source.
	ListBySource(ctx context.Context, source Source) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID or the same
	// type/host pair already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpsertDiscovered records a device found by discovery. If no record
	// exists for the type/host pair a new one is inserted with source
	// "discovered"; otherwise the existing record's metadata and last_seen
	// are refreshed. Configured records keep their name and source.
	// On return the device reflects the stored record.
	UpsertDiscovered(ctx context.Context, device *Device) error

	// TouchLastSeen updates the last_seen timestamp of a device.
	// This is optimised for frequent liveness updates from sessions.
	TouchLastSeen(ctx context.Context, id string, seen time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		FROM devices
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByTypeHost retrieves a device by its type and host.
func (r *SQLiteRepository) GetByTypeHost(ctx context.Context, t Type, host string) (*Device, error) {
	query := `
		SELECT id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		FROM devices
		WHERE type = ? AND host = ?`

	row := r.db.QueryRowContext(ctx, query, string(t), host)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by type and host: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		FROM devices
		ORDER BY name`

	return r.queryDevices(ctx, query)
}

// ListByType retrieves all devices of a specific type.
func (r *SQLiteRepository) ListByType(ctx context.Context, t Type) ([]Device, error) {
	query := `
		SELECT id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		FROM devices
		WHERE type = ?
		ORDER BY name`

	return r.queryDevices(ctx, query, string(t))
}

// ListBySource retrieves all devices with a specific source.
func (r *SQLiteRepository) ListBySource(ctx context.Context, source Source) ([]Device, error) {
	query := `
		SELECT id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		FROM devices
		WHERE source = ?
		ORDER BY name`

	return r.queryDevices(ctx, query, string(source))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	// Set timestamps if not set
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Type),
		device.Host,
		device.Port,
		string(device.Source),
		device.Manufacturer,
		device.Model,
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Check for unique constraint violation (id or type/host pair)
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, type = ?, host = ?, port = ?, source = ?,
			manufacturer = ?, model = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		string(device.Type),
		device.Host,
		device.Port,
		string(device.Source),
		device.Manufacturer,
		device.Model,
		nullableTime(device.LastSeen),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpsertDiscovered records a device found by discovery.
//
// The insert and the refresh are a single statement so concurrent
// discovery responses for the same endpoint cannot race. A record
// created by configuration keeps its name and source; discovery only
// refreshes port, metadata and last_seen on it.
func (r *SQLiteRepository) UpsertDiscovered(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.ID == "" {
		device.ID = GenerateID()
	}
	device.Source = SourceDiscovered
	if device.LastSeen == nil {
		device.LastSeen = &now
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, type, host, port, source,
			manufacturer, model, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, host) DO UPDATE SET
			name = CASE WHEN devices.source = 'discovered'
				THEN excluded.name ELSE devices.name END,
			port = excluded.port,
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Type),
		device.Host,
		device.Port,
		string(device.Source),
		device.Manufacturer,
		device.Model,
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting discovered device: %w", err)
	}

	// Re-read so the caller sees the stored record: on conflict the
	// original ID, source and created_at win over the candidate values.
	stored, err := r.GetByTypeHost(ctx, device.Type, device.Host)
	if err != nil {
		return fmt.Errorf("reading upserted device: %w", err)
	}
	*device = *stored

	return nil
}

// TouchLastSeen updates the last_seen timestamp of a device.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		seen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("touching device last_seen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType, source string
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&deviceType,
		&d.Host,
		&d.Port,
		&source,
		&d.Manufacturer,
		&d.Model,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = Type(deviceType)
	d.Source = Source(source)

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

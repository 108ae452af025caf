package device

import (
	"context"
	"database/sql"
	"encoding/json"
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

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListActiveMQTT retrieves active devices with connection_type mqtt.
	ListActiveMQTT(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// UpdateStatus sets the status and, when lastSeen is non-nil, last_seen_at.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateStatus(ctx context.Context, id string, status Status, lastSeen *time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
		SELECT id, user_id, land_id, name, connection_type, connection_broker,
			mqtt_host, port, use_ssl, username, password, client_id, keepalive, timeout,
			mqtt_topics, is_active, status, last_seen_at, created_at, updated_at
		FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceColumns+` WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDeviceColumns+` ORDER BY id`)
}

// ListActiveMQTT retrieves the devices the connection pool should serve.
func (r *SQLiteRepository) ListActiveMQTT(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx,
		selectDeviceColumns+` WHERE is_active = 1 AND connection_type = ? ORDER BY id`,
		string(ConnectionMQTT))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	topics := device.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("marshalling mqtt_topics: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = StatusOffline
	}

	query := `
		INSERT INTO devices (
			id, user_id, land_id, name, connection_type, connection_broker,
			mqtt_host, port, use_ssl, username, password, client_id, keepalive, timeout,
			mqtt_topics, is_active, status, last_seen_at, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?
		)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.UserID,
		nullableString(device.LandID),
		device.Name,
		string(device.ConnectionType),
		nullableText(device.ConnectionBroker),
		nullableText(device.Host),
		device.Port,
		boolToInt(device.UseTLS),
		nullableText(device.Username),
		nullableText(device.Password),
		nullableText(device.ClientID),
		device.KeepAlive,
		device.Timeout,
		string(topicsJSON),
		boolToInt(device.Active),
		string(device.Status),
		nullableTime(device.LastSeenAt),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// UpdateStatus sets the device status. last_seen_at is left untouched
// when lastSeen is nil.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSeen *time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET status = ?, last_seen_at = COALESCE(?, last_seen_at), updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		nullableTime(lastSeen),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
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
		device, err := scanDevice(rows)
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

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var landID, broker, host, username, password, clientID, lastSeen sql.NullString
	var connType, status, topicsJSON, createdAt, updatedAt string
	var useTLS, active int

	err := scanner.Scan(
		&d.ID,
		&d.UserID,
		&landID,
		&d.Name,
		&connType,
		&broker,
		&host,
		&d.Port,
		&useTLS,
		&username,
		&password,
		&clientID,
		&d.KeepAlive,
		&d.Timeout,
		&topicsJSON,
		&active,
		&status,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ConnectionType = ConnectionType(connType)
	d.Status = Status(status)
	d.UseTLS = useTLS != 0
	d.Active = active != 0
	d.ConnectionBroker = broker.String
	d.Host = host.String
	d.Username = username.String
	d.Password = password.String
	d.ClientID = clientID.String

	if landID.Valid {
		d.LandID = &landID.String
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeenAt = &t
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

	if err := json.Unmarshal([]byte(topicsJSON), &d.Topics); err != nil {
		return nil, fmt.Errorf("unmarshalling mqtt_topics: %w", err)
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableText stores empty strings as NULL.
func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

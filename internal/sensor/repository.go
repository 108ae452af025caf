package sensor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// readingLayout is fixed width so reading_timestamp compares correctly as text.
const readingLayout = "2006-01-02T15:04:05.000000000Z"

// Repository defines sensor persistence.
type Repository interface {
	// RecordReading upserts the (device, sensor_type) sensor with the
	// reading's value. created reports whether the sensor was new.
	RecordReading(ctx context.Context, w ReadingWrite) (s *Sensor, created bool, err error)

	// GetByDeviceAndType returns ErrSensorNotFound when absent.
	GetByDeviceAndType(ctx context.Context, deviceID, sensorType string) (*Sensor, error)

	// ListByDevice returns a device's sensors ordered by type.
	ListByDevice(ctx context.Context, deviceID string) ([]Sensor, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectSensorColumns = `
		SELECT id, device_id, user_id, sensor_type, sensor_name, description, unit,
			value, reading_timestamp, enabled, alert_enabled,
			alert_threshold_min, alert_threshold_max, created_at, updated_at
		FROM sensors`

// RecordReading writes a reading inside a single transaction.
//
// A missing sensor is created enabled with an auto-generated name and
// description. An existing sensor gets the new value and timestamp unless
// it already holds a newer reading, in which case the stored sensor is
// returned with ErrStaleReading. Its unit changes only when the reading
// carries a non-empty, different unit.
func (r *SQLiteRepository) RecordReading(ctx context.Context, w ReadingWrite) (*Sensor, bool, error) {
	if w.DeviceID == "" || w.SensorType == "" {
		return nil, false, fmt.Errorf("%w: device_id and sensor_type are required", ErrInvalidReading)
	}

	valueJSON, err := json.Marshal(w.Value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: encoding value: %w", ErrInvalidReading, err)
	}

	at := w.At
	if at.IsZero() {
		at = time.Now()
	}
	readingTS := at.UTC().Format(readingLayout)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM sensors WHERE device_id = ? AND sensor_type = ?`,
		w.DeviceID, w.SensorType,
	).Scan(&id)

	created, stale := false, false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		created = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sensors (
				id, device_id, user_id, sensor_type, sensor_name, description, unit,
				value, reading_timestamp, enabled, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			id, w.DeviceID, w.UserID, w.SensorType,
			DisplayName(w.SensorType),
			AutoDescription(w.SourceTopic),
			nullableText(w.Unit),
			string(valueJSON),
			readingTS,
			now, now,
		)
		if err != nil {
			if isForeignKeyError(err) {
				return nil, false, fmt.Errorf("%w: %s", ErrDeviceNotFound, w.DeviceID)
			}
			return nil, false, fmt.Errorf("inserting sensor: %w", err)
		}

	case err != nil:
		return nil, false, fmt.Errorf("querying sensor: %w", err)

	default:
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE sensors SET
				value = ?,
				reading_timestamp = ?,
				unit = CASE WHEN ? <> '' AND ? IS NOT COALESCE(unit, '') THEN ? ELSE unit END,
				updated_at = ?
			WHERE id = ?
			  AND (reading_timestamp IS NULL OR reading_timestamp <= ?)`,
			string(valueJSON),
			readingTS,
			w.Unit, w.Unit, w.Unit,
			now,
			id,
			readingTS,
		)
		if err != nil {
			return nil, false, fmt.Errorf("updating sensor: %w", err)
		}
		if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
			stale = true
		}
	}

	s, err := scanSensor(tx.QueryRowContext(ctx, selectSensorColumns+` WHERE id = ?`, id))
	if err != nil {
		return nil, false, fmt.Errorf("reading back sensor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing reading: %w", err)
	}
	if stale {
		return s, false, fmt.Errorf("%w: %s/%s at %s", ErrStaleReading, w.DeviceID, w.SensorType, readingTS)
	}
	return s, created, nil
}

// GetByDeviceAndType returns the sensor for a device and sensor type.
func (r *SQLiteRepository) GetByDeviceAndType(ctx context.Context, deviceID, sensorType string) (*Sensor, error) {
	row := r.db.QueryRowContext(ctx,
		selectSensorColumns+` WHERE device_id = ? AND sensor_type = ?`, deviceID, sensorType)
	s, err := scanSensor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("querying sensor: %w", err)
	}
	return s, nil
}

// ListByDevice returns all sensors of a device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx,
		selectSensorColumns+` WHERE device_id = ? ORDER BY sensor_type`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		sensors = append(sensors, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}
	return sensors, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(scanner rowScanner) (*Sensor, error) {
	var s Sensor
	var description, unit, value, readingTS sql.NullString
	var minThreshold, maxThreshold sql.NullFloat64
	var enabled, alertEnabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&s.ID,
		&s.DeviceID,
		&s.UserID,
		&s.Type,
		&s.Name,
		&description,
		&unit,
		&value,
		&readingTS,
		&enabled,
		&alertEnabled,
		&minThreshold,
		&maxThreshold,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Description = description.String
	s.Unit = unit.String
	s.Enabled = enabled != 0
	s.AlertEnabled = alertEnabled != 0
	if minThreshold.Valid {
		s.AlertThresholdMin = &minThreshold.Float64
	}
	if maxThreshold.Valid {
		s.AlertThresholdMax = &maxThreshold.Float64
	}

	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &s.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
	}
	if readingTS.Valid {
		t, err := time.Parse(readingLayout, readingTS.String)
		if err == nil {
			s.ReadingTimestamp = &t
		}
	}

	var parseErr error
	s.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	s.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &s, nil
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

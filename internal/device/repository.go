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

// Repository defines the interface for device record persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a record by its stable identifier.
	// Returns ErrNotFound if the record does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all records.
	List(ctx context.Context) ([]Record, error)

	// Create inserts a new record.
	// Returns ErrExists if a record with the same ID already exists.
	Create(ctx context.Context, rec *Record) error

	// Update modifies an existing record.
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, rec *Record) error

	// UpdateIP updates only the network address of a record.
	// This is optimised for the coordinator's IP recovery path.
	UpdateIP(ctx context.Context, id, ip string) error

	// Delete removes a record by ID.
	// Returns ErrNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the schema
// from migrations/ applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `id, ip, protocol, port_count, serial, mac, hardware_id,
	firmware_version, name, port_names, created_at, updated_at`

// GetByID retrieves a record by its stable identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM device_records WHERE id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device record by id: %w", err)
	}
	return rec, nil
}

// List retrieves all records ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM device_records ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying device records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows, close error not actionable

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device records: %w", err)
	}
	return records, nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	portNames, err := json.Marshal(rec.PortNames)
	if err != nil {
		return fmt.Errorf("encoding port names: %w", err)
	}

	query := `
		INSERT INTO device_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.IP, string(rec.Protocol), rec.PortCount,
		rec.Fingerprint.Serial, rec.Fingerprint.MAC, rec.Fingerprint.HardwareID,
		rec.FirmwareVersion, rec.Name, string(portNames),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device record: %w", err)
	}
	return nil
}

// Update modifies an existing record in place.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	portNames, err := json.Marshal(rec.PortNames)
	if err != nil {
		return fmt.Errorf("encoding port names: %w", err)
	}

	query := `
		UPDATE device_records
		SET ip = ?, protocol = ?, port_count = ?, serial = ?, mac = ?,
			hardware_id = ?, firmware_version = ?, name = ?, port_names = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rec.IP, string(rec.Protocol), rec.PortCount,
		rec.Fingerprint.Serial, rec.Fingerprint.MAC, rec.Fingerprint.HardwareID,
		rec.FirmwareVersion, rec.Name, string(portNames),
		rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device record: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateIP updates only the network address of a record.
func (r *SQLiteRepository) UpdateIP(ctx context.Context, id, ip string) error {
	query := `UPDATE device_records SET ip = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, ip, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating device record ip: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a record by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device record: %w", err)
	}
	return requireRowAffected(result)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a device record row into a Record.
func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		protocol  string
		portNames sql.NullString
	)

	err := row.Scan(
		&rec.ID, &rec.IP, &protocol, &rec.PortCount,
		&rec.Fingerprint.Serial, &rec.Fingerprint.MAC, &rec.Fingerprint.HardwareID,
		&rec.FirmwareVersion, &rec.Name, &portNames,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Protocol = Protocol(protocol)

	if portNames.Valid && portNames.String != "" && portNames.String != "null" {
		if err := json.Unmarshal([]byte(portNames.String), &rec.PortNames); err != nil {
			return nil, fmt.Errorf("decoding port names: %w", err)
		}
	}

	return &rec, nil
}

// requireRowAffected converts a zero-row UPDATE/DELETE into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
// String matching is the portable check across go-sqlite3 versions.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

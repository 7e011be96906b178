package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
)

// Repository persists legacy records and their migration links.
type Repository interface {
	// List retrieves all legacy records, migrated or not.
	List(ctx context.Context) ([]LegacyRecord, error)

	// MarkMigrated records the legacy->device link.
	// Returns ErrNotFound if the legacy record does not exist.
	MarkMigrated(ctx context.Context, legacyID, deviceID string, confidence Confidence, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all legacy records ordered by identifier.
func (r *SQLiteRepository) List(ctx context.Context) ([]LegacyRecord, error) {
	query := `
		SELECT id, ip, protocol, port_count, serial, mac, name,
		       migrated_to, migrated_at
		FROM legacy_records ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying legacy records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows, close error not actionable

	var records []LegacyRecord
	for rows.Next() {
		var (
			rec        LegacyRecord
			protocol   sql.NullString
			migratedTo sql.NullString
			migratedAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.IP, &protocol, &rec.PortCount,
			&rec.Serial, &rec.MAC, &rec.Name,
			&migratedTo, &migratedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning legacy record: %w", err)
		}
		if protocol.Valid {
			rec.Protocol = device.Protocol(protocol.String)
		}
		if migratedTo.Valid {
			rec.MigratedTo = migratedTo.String
		}
		if migratedAt.Valid {
			at := migratedAt.Time
			rec.MigratedAt = &at
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating legacy records: %w", err)
	}
	return records, nil
}

// MarkMigrated records the legacy->device link.
func (r *SQLiteRepository) MarkMigrated(ctx context.Context, legacyID, deviceID string, confidence Confidence, at time.Time) error {
	query := `
		UPDATE legacy_records
		SET migrated_to = ?, confidence = ?, migrated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, deviceID, string(confidence), at.UTC(), legacyID)
	if err != nil {
		return fmt.Errorf("marking legacy record migrated: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking migration update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, legacyID)
	}
	return nil
}

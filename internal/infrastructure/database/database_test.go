package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	t.Run("creates file and parent directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "registry", "voltlink.db")

		db := mustOpen(t, dbPath)
		defer db.Close() //nolint:errcheck // test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("single writer pool", func(t *testing.T) {
		db := mustOpen(t, filepath.Join(t.TempDir(), "voltlink.db"))
		defer db.Close() //nolint:errcheck // test cleanup

		if got := db.DB.Stats().MaxOpenConnections; got != 1 {
			t.Errorf("MaxOpenConnections = %d, want 1", got)
		}
	})
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "wal enabled",
			cfg:  Config{Path: "/data/voltlink.db", WALMode: true, BusyTimeout: 5},
			want: "file:/data/voltlink.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		},
		{
			name: "wal disabled",
			cfg:  Config{Path: "/data/voltlink.db", BusyTimeout: 2},
			want: "file:/data/voltlink.db?_busy_timeout=2000&_foreign_keys=on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildDSN(tt.cfg); got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := mustOpen(t, filepath.Join(t.TempDir(), "voltlink.db"))
	defer db.Close() //nolint:errcheck // test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	db := mustOpen(t, filepath.Join(t.TempDir(), "voltlink.db"))

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

// TestDeviceRecordRoundTrip drives the migrated schema the way the device
// repository does: insert inside a transaction, read back, and confirm a
// rolled-back insert leaves no trace.
func TestDeviceRecordRoundTrip(t *testing.T) {
	db := openMigratedTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO device_records (id, ip, protocol, port_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"sn-swp6340001234", "192.168.1.40", "udp_v3", 6, now, now,
	); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	var ip string
	if err := db.QueryRowContext(ctx,
		"SELECT ip FROM device_records WHERE id = ?", "sn-swp6340001234",
	).Scan(&ip); err != nil {
		t.Fatalf("select error = %v", err)
	}
	if ip != "192.168.1.40" {
		t.Errorf("ip = %q, want 192.168.1.40", ip)
	}

	// A rolled-back write must not survive.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO device_records (id, ip, protocol, port_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"sn-plg1110005678", "192.168.1.41", "http", 1, now, now,
	); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_records WHERE id = ?", "sn-plg1110005678",
	).Scan(&count); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if count != 0 {
		t.Errorf("rolled-back record count = %d, want 0", count)
	}
}

// TestSchemaConstraints verifies the CHECK constraints carried by the
// device_records fixture reject values the domain forbids.
func TestSchemaConstraints(t *testing.T) {
	db := openMigratedTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	tests := []struct {
		name      string
		protocol  string
		portCount int
	}{
		{"unknown protocol", "zigbee", 6},
		{"unsupported port count", "udp_v3", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.ExecContext(ctx,
				"INSERT INTO device_records (id, ip, protocol, port_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
				"sn-bad", "192.168.1.9", tt.protocol, tt.portCount, now, now,
			)
			if err == nil {
				t.Error("insert succeeded, want CHECK constraint violation")
			}
		})
	}
}

// mustOpen opens a fresh database at path with the standard test config.
func mustOpen(t *testing.T, path string) *DB {
	t.Helper()

	db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return db
}

// openMigratedTestDB opens a fresh database with the testdata device
// schema applied.
func openMigratedTestDB(t *testing.T) *DB {
	t.Helper()

	restore := useTestMigrations(t)
	t.Cleanup(restore)

	db := mustOpen(t, filepath.Join(t.TempDir(), "voltlink.db"))
	if err := db.Migrate(context.Background()); err != nil {
		db.Close() //nolint:errcheck // already failing
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// Package database opens and migrates the SQLite store behind the device
// registry. The schema is small and device-centric: device_records (the
// durable identity of each adopted plug or strip), legacy_records (rows
// imported from a pre-fingerprint install, consumed by the migration
// engine) and audit_logs (the device activity trail).
//
// The connection runs in WAL mode with a busy timeout so status reads do
// not block registry writes, and the pool is capped at one connection to
// match SQLite's single-writer model. All repository queries use
// parameterised statements.
//
// Schema migrations are embedded .up.sql/.down.sql file pairs applied in
// filename-version order and recorded in a schema_migrations ledger:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry defaults so a
// rolled-back binary can still read the database it left behind.
package database

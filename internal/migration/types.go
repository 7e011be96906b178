package migration

import (
	"errors"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the legacy record does not exist.
	ErrNotFound = errors.New("migration: legacy record not found")
)

// Confidence grades how strongly a legacy record was tied to its resolved
// device.
type Confidence string

// Confidence levels.
const (
	// ConfidenceExact means a stored hardware identifier matched the
	// resolved fingerprint.
	ConfidenceExact Confidence = "exact"

	// ConfidenceMedium means an address match corroborated by agreeing
	// protocol and port topology.
	ConfidenceMedium Confidence = "medium"

	// ConfidenceLow means an address-only match with no corroborating
	// topology signal. Best-effort; logged for operator review.
	ConfidenceLow Confidence = "low"
)

// LegacyRecord is one persisted device reference from the pre-fingerprint
// identity scheme.
type LegacyRecord struct {
	// ID is the legacy identifier, typically the device's address at the
	// time the reference was created.
	ID string

	// IP is the stored network address, the only reliable pointer the
	// legacy scheme kept.
	IP string

	// Protocol is the stored protocol family, if the legacy scheme
	// recorded one.
	Protocol device.Protocol

	// PortCount is the port topology the legacy configuration assumed.
	// Zero when unknown.
	PortCount int

	// Serial and MAC are identifiers the legacy scheme happened to
	// capture. Usually empty.
	Serial string
	MAC    string

	// Name is the stored display name.
	Name string

	// MigratedTo is the resolved device ID once migration completes.
	MigratedTo string

	// MigratedAt is when the link was established.
	MigratedAt *time.Time
}

// Migrated reports whether this record has already been reconciled.
func (l LegacyRecord) Migrated() bool {
	return l.MigratedTo != ""
}

// Record links one legacy identifier to its resolved device.
type Record struct {
	// ID is a unique identifier for this migration event.
	ID string

	// LegacyID is the legacy record that was migrated.
	LegacyID string

	// DeviceID is the resolved device record.
	DeviceID string

	// Confidence grades the match.
	Confidence Confidence

	// MigratedAt is when the link was established.
	MigratedAt time.Time
}

// CleanupInstruction tells the caller that a migrated record's stored
// entity shape contradicts the physical device. The core never deletes
// caller-owned entities itself.
type CleanupInstruction struct {
	// LegacyID is the record with the stale shape.
	LegacyID string

	// DeviceID is the resolved device.
	DeviceID string

	// StoredPortCount is what the legacy configuration assumed.
	StoredPortCount int

	// ActualPortCount is what the device reports.
	ActualPortCount int

	// Detail is a human-readable description of the discrepancy.
	Detail string
}

// Report is the outcome of one engine run.
type Report struct {
	// Migrated lists the links established during this run. Records
	// already migrated on a previous run are not repeated here.
	Migrated []Record

	// Cleanup lists entity-shape discrepancies for the caller to act on.
	Cleanup []CleanupInstruction

	// Skipped lists legacy IDs left unmigrated because their device did
	// not answer. Retried on the next run.
	Skipped []string
}

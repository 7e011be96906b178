// Package device defines the durable identity model for VoltLink power
// devices and its persistence layer.
//
// A Record is the stable identity of one physical unit (plug or strip),
// keyed by an identifier derived from its hardware fingerprint rather than
// its network address. Records survive IP changes, firmware updates, and
// protocol re-detection.
//
// The package provides:
//   - Record, Fingerprint, PortStatus: core data types
//   - Repository: SQLite persistence (interface + implementation)
//   - Registry: thread-safe cached access layer over a Repository
//
// Transient per-poll state (snapshots, failure counters) lives in the poll
// package, not here. Records are mutated only by the identity resolver, the
// polling coordinator (IP updates), and the migration engine (fingerprint
// backfill).
package device

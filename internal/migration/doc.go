// Package migration reconciles legacy device references into
// fingerprint-based device records.
//
// Installations that predate hardware fingerprinting persisted device
// references keyed by network address. The engine runs once at startup:
// each unmigrated legacy record is probed at its stored address, resolved
// through the identity resolver, and linked to the resulting device record
// with a confidence level (exact identifier match > topology-corroborated
// address match > address-only). The link is persisted so re-running the
// engine is a no-op for already-migrated records.
//
// Failure is soft. A legacy record whose device does not answer is left
// unmigrated and picked up on a later run; migration never blocks polling
// of devices that resolve successfully. Topology discrepancies (a record
// shaped as a strip that resolves to a plug) are reported as cleanup
// instructions for the caller, never applied silently.
package migration

// Package identity turns discovery candidates into durable device records.
//
// A candidate arrives with raw identity hints (serial, MAC, vendor hardware
// id, some or all absent depending on firmware age). The resolver enriches
// the hints with a capability query where needed, folds them into a
// fingerprint, and matches against known records: exact fingerprint match
// first, then a guarded legacy match by IP for records that predate
// fingerprinting. Unmatched candidates become new records whose IDs derive
// from the fingerprint, or a random fallback ID when the unit reports no
// identifier at all.
package identity

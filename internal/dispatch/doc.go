// Package dispatch executes device operations with retry, backoff, and
// session management.
//
// The dispatcher sits between callers (polling coordinator, API) and the
// protocol drivers. It owns one driver session per device, reused across
// calls and invalidated after any failure. Transient failures are retried
// with exponential backoff and jitter up to a fixed attempt cap; exhausting
// the cap yields a Result tagged Unreachable rather than an error, so callers
// apply uniform policy without unwrapping transport failures.
//
// A protocol mismatch response (the device answered in the other protocol
// family's shape) triggers a one-time re-probe on the alternate protocol
// within the same call instead of a raw retry. When the alternate protocol
// answers, the result carries the corrected protocol so the caller can update
// the device record.
package dispatch

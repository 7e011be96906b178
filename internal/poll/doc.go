// Package poll schedules status refreshes, one independent loop per device.
//
// Each loop is a small state machine. NORMAL polls at a relaxed interval.
// A successful command dispatch switches the loop to BURST, a short
// high-frequency window that confirms user-initiated changes quickly before
// reverting to NORMAL. Repeated failures push the loop to DEGRADED, where it
// backs off progressively, marks the device unavailable to callers, and
// keeps attempting recovery polls; the first success snaps it back to
// NORMAL.
//
// While DEGRADED, the loop also runs IP recovery: a discovery scan looking
// for the device's fingerprint at a different address. A match updates the
// device record's IP and polling resumes there, so devices that move on
// DHCP renew recover without operator intervention.
//
// Every successful poll replaces the device's port snapshot wholesale.
// Loops never share sessions or state; cancelling one device's loop cannot
// affect another's.
package poll

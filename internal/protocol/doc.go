// Package protocol implements the wire protocols spoken by VoltLink power
// devices and hides them behind a single Driver interface.
//
// Two protocol families exist in the field:
//
//   - HTTP: legacy firmware answers plain HTTP GET requests on a fixed
//     device-local path with numeric command codes. Older firmware in this
//     family reports power as decimal watt strings; newer firmware reports
//     integer milliwatts. The layer detects the encoding by response shape
//     and normalises both to milliwatts.
//
//   - UDP V3: newer firmware answers single-packet JSON request/response on
//     the device UDP port, addressed by serial number. Power is always
//     integer milliwatts.
//
// Callers never branch on protocol. New() picks the driver variant at
// construction time per device; both variants fail identically with *Error
// carrying a Reason code, never a format-specific error type.
package protocol

// Package discovery finds power devices on the local network.
//
// The primary path is a UDP broadcast probe: one datagram to the device
// discovery port, then a collection window during which every device on the
// broadcast domain announces itself. Responses self-describe enough to
// classify the protocol family (firmware major version 3 and later speak
// UDP V3, earlier firmware speaks legacy HTTP) without a full handshake.
// Malformed or unclassifiable responses are dropped, never fatal to a scan.
//
// The manual path, Probe, targets a single IP for devices on other subnets
// that a broadcast cannot reach: first the discovery datagram is sent
// unicast, then a legacy HTTP capability query is tried as fallback.
//
// Discovery yields Candidates. A Candidate is unresolved: it carries raw
// identity hints and a protocol classification, and becomes a device record
// only after the identity resolver confirms it.
package discovery

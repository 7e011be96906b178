package device

import "time"

// Record represents the durable identity of one physical power device.
// This matches the database schema in migrations/20260815_120000_initial_schema.up.sql.
type Record struct {
	// ID is the stable opaque identifier derived from the hardware
	// fingerprint. It never changes for a given physical unit.
	ID string `json:"id"`

	// IP is the current network address. Mutable; revalidated on connect
	// failure and updated by the polling coordinator on IP recovery.
	IP string `json:"ip"`

	// Protocol is fixed at discovery time for a given unit.
	Protocol Protocol `json:"protocol"`

	// PortCount is 1 (plug) or 6 (strip). Fixed per device.
	PortCount int `json:"port_count"`

	// Fingerprint holds the hardware identifiers used for matching.
	// May be empty for devices that never answered a capability query;
	// such records are re-resolved on later cycles.
	Fingerprint Fingerprint `json:"fingerprint"`

	// FirmwareVersion is informational. It affects the acceptable feature
	// subset (older firmware classes report power only, in raw watt units).
	FirmwareVersion string `json:"firmware_version"`

	// Name is the device name reported by discovery.
	Name string `json:"name,omitempty"`

	// PortNames are the user-assigned port names reported by the device,
	// indexed 0..PortCount-1. Informational.
	PortNames []string `json:"port_names,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Record.
// The PortNames slice is copied so cache entries cannot be mutated through
// values handed to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.PortNames != nil {
		cpy.PortNames = make([]string, len(r.PortNames))
		copy(cpy.PortNames, r.PortNames)
	}
	return &cpy
}

// Protocol identifies the wire protocol a device speaks.
type Protocol string

// Protocol constants.
const (
	// ProtocolHTTP is the legacy request/response protocol over plain HTTP.
	ProtocolHTTP Protocol = "http"

	// ProtocolUDPV3 is the newer single-packet UDP protocol.
	ProtocolUDPV3 Protocol = "udp_v3"
)

// Valid reports whether p is a recognised protocol value.
func (p Protocol) Valid() bool {
	return p == ProtocolHTTP || p == ProtocolUDPV3
}

// PortStatus is the transient state of a single port, replaced wholesale on
// each successful poll. Port 0 means "all ports" for commands only and never
// appears in a status snapshot.
type PortStatus struct {
	// Port is the 1-based port index.
	Port int `json:"port"`

	// On is the switch state.
	On bool `json:"on"`

	// PowerMilliwatts is the unit-normalised power draw. Always
	// milliwatts regardless of the firmware's raw encoding.
	PowerMilliwatts int64 `json:"power_mw"`
}

// Port count constants for the two supported device shapes.
const (
	PortCountPlug  = 1
	PortCountStrip = 6
)

// ValidPortCount reports whether n is a supported port count.
func ValidPortCount(n int) bool {
	return n == PortCountPlug || n == PortCountStrip
}

// NormalisePort maps a requested command port index onto the device's
// topology. Port 0 ("all ports") on a 1-port device is equivalent to port 1.
// Returns the effective port index and whether the request is valid.
func NormalisePort(portCount, port int) (int, bool) {
	if port < 0 || port > portCount {
		return 0, false
	}
	if port == 0 && portCount == 1 {
		return 1, true
	}
	return port, true
}

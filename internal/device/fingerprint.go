package device

import (
	"strings"

	"github.com/google/uuid"
)

// Fingerprint is the composite hardware identity of a device.
//
// Not all devices expose all three identifiers: older firmware omits the
// vendor hardware id, and some units never report a usable serial. Equality
// is therefore defined over whichever fields are present on both sides being
// compared, and the derived device ID uses a fixed priority order
// (serial > MAC > hardware id) so the same device always yields the same ID
// even when the available identifier set differs across firmware versions.
type Fingerprint struct {
	// Serial is the device serial number (e.g. "SWP6040001234").
	Serial string `json:"serial,omitempty"`

	// MAC is the device MAC address, normalised to lower-case hex without
	// separators.
	MAC string `json:"mac,omitempty"`

	// HardwareID is the vendor-assigned hardware identifier (CPU id on
	// newer firmware).
	HardwareID string `json:"hardware_id,omitempty"`
}

// NewFingerprint builds a Fingerprint from raw identifier strings,
// normalising the MAC address. Empty inputs stay empty.
func NewFingerprint(serial, mac, hardwareID string) Fingerprint {
	return Fingerprint{
		Serial:     strings.TrimSpace(serial),
		MAC:        NormaliseMAC(mac),
		HardwareID: strings.TrimSpace(hardwareID),
	}
}

// Empty reports whether no identifier is available at all.
func (f Fingerprint) Empty() bool {
	return f.Serial == "" && f.MAC == "" && f.HardwareID == ""
}

// Matches reports whether two fingerprints identify the same physical unit.
//
// Comparison runs over the identifiers present on both sides: any comparable
// field that differs is a mismatch, and at least one comparable field must
// agree. Two fingerprints with no identifier in common never match.
func (f Fingerprint) Matches(other Fingerprint) bool {
	compared := false

	if f.Serial != "" && other.Serial != "" {
		if f.Serial != other.Serial {
			return false
		}
		compared = true
	}
	if f.MAC != "" && other.MAC != "" {
		if f.MAC != other.MAC {
			return false
		}
		compared = true
	}
	if f.HardwareID != "" && other.HardwareID != "" {
		if f.HardwareID != other.HardwareID {
			return false
		}
		compared = true
	}

	return compared
}

// DeviceID derives the stable device identifier from the fingerprint.
//
// Priority order is serial > MAC > hardware id. Returns "" when the
// fingerprint is empty; callers fall back to NewFallbackID.
func (f Fingerprint) DeviceID() string {
	switch {
	case f.Serial != "":
		return "sn-" + strings.ToLower(f.Serial)
	case f.MAC != "":
		return "mac-" + f.MAC
	case f.HardwareID != "":
		return "hw-" + strings.ToLower(f.HardwareID)
	default:
		return ""
	}
}

// NewFallbackID generates a random device ID for units that answered
// discovery but never produced a hardware identifier. The record carries an
// empty fingerprint and is re-resolved on later cycles.
func NewFallbackID() string {
	return "dev-" + uuid.NewString()[:16]
}

// NormaliseMAC lower-cases a MAC address and strips ":"/"-"/"." separators
// so addresses from different firmware families compare equal.
func NormaliseMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	replacer := strings.NewReplacer(":", "", "-", "", ".", "")
	return replacer.Replace(mac)
}

// PortCountFromSerial derives the port count encoded in a device serial.
// The fourth character of the serial indicates the shape ('1' plug,
// '6' strip). Returns 0 when the serial does not encode a port count.
func PortCountFromSerial(serial string) int {
	const portCountIndex = 3
	if len(serial) <= portCountIndex {
		return 0
	}
	switch serial[portCountIndex] {
	case '1':
		return PortCountPlug
	case '6':
		return PortCountStrip
	default:
		return 0
	}
}

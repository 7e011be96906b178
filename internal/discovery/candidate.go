package discovery

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/voltlink/voltlink-core/internal/device"
)

// Candidate is one unresolved discovery response: an address, a protocol
// classification, and whatever identity hints the device volunteered.
type Candidate struct {
	// IP is the address the response came from.
	IP string

	// Protocol is the classified protocol family.
	Protocol device.Protocol

	// Serial, MAC, and HardwareID are raw identity hints. Old firmware
	// omits some or all of them.
	Serial     string
	MAC        string
	HardwareID string

	// Name is the device's self-reported display name, if any.
	Name string

	// PortNames are the self-reported per-port names, if any. Their count
	// hints at the port topology.
	PortNames []string

	// FirmwareVersion is the raw version string from the announcement.
	FirmwareVersion string
}

// Fingerprint folds the candidate's identity hints into a fingerprint.
// May be empty for very old firmware.
func (c Candidate) Fingerprint() device.Fingerprint {
	return device.NewFingerprint(c.Serial, c.MAC, c.HardwareID)
}

// announcement is the JSON payload devices broadcast in response to the
// discovery datagram.
type announcement struct {
	Serial     string   `json:"sn"`
	Name       string   `json:"name"`
	Version    string   `json:"ver"`
	PortNames  []string `json:"pname"`
	MAC        string   `json:"mac"`
	HardwareID string   `json:"hwid"`
}

// parseAnnouncement decodes one discovery response into a Candidate.
// Returns false for payloads that cannot be parsed or classified.
func parseAnnouncement(payload []byte, ip string) (Candidate, bool) {
	var ann announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return Candidate{}, false
	}
	// An announcement with no identity and no name at all is noise from
	// some other service on the discovery port.
	if ann.Serial == "" && ann.MAC == "" && ann.HardwareID == "" && ann.Name == "" {
		return Candidate{}, false
	}

	proto, ok := classifyProtocol(ann.Version)
	if !ok {
		return Candidate{}, false
	}

	return Candidate{
		IP:              ip,
		Protocol:        proto,
		Serial:          strings.TrimSpace(ann.Serial),
		MAC:             ann.MAC,
		HardwareID:      strings.TrimSpace(ann.HardwareID),
		Name:            ann.Name,
		PortNames:       ann.PortNames,
		FirmwareVersion: strings.TrimSpace(ann.Version),
	}, true
}

// classifyProtocol maps a firmware version string onto a protocol family.
// Major version 3 and later speak UDP V3; earlier firmware speaks legacy
// HTTP. An absent version means firmware old enough to predate version
// reporting, which is always HTTP. A present but unparseable version is
// unclassifiable and the response is dropped.
func classifyProtocol(version string) (device.Protocol, bool) {
	version = strings.TrimSpace(version)
	if version == "" {
		return device.ProtocolHTTP, true
	}

	majorText, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	major, err := strconv.Atoi(majorText)
	if err != nil {
		return "", false
	}
	if major >= 3 {
		return device.ProtocolUDPV3, true
	}
	return device.ProtocolHTTP, true
}

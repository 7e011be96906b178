package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
)

// Driver is the uniform command/query interface over one device session.
//
// A Driver owns one outbound connection/session to a single device. It is
// not safe for concurrent use; the polling coordinator serialises poll and
// command operations per device, and the dispatcher recreates the driver
// after a failed call.
type Driver interface {
	// Query fetches the full port status snapshot in a single request.
	// Power values are normalised to milliwatts.
	Query(ctx context.Context) ([]device.PortStatus, error)

	// SetPort switches a port on or off. Port 0 applies to all ports.
	// Port validation against the device's topology happens in the
	// dispatcher; the wire accepts whatever index it is given and rejects
	// invalid ones authoritatively.
	SetPort(ctx context.Context, port int, on bool) error

	// Identify fetches the device's hardware identifiers. Not all
	// firmware exposes all fields.
	Identify(ctx context.Context) (HardwareIDs, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// HardwareIDs are the raw identifiers a device reports from a capability
// query. The identity resolver folds them into a device.Fingerprint.
type HardwareIDs struct {
	Serial     string
	MAC        string
	HardwareID string
}

// Config holds per-driver transport settings.
type Config struct {
	// HTTPPort is the device HTTP port. Default 80.
	HTTPPort int

	// UDPPort is the device UDP port. Default 8888.
	UDPPort int

	// Timeout bounds every network round-trip. Default 2s.
	Timeout time.Duration
}

// Default transport settings.
const (
	DefaultHTTPPort = 80
	DefaultUDPPort  = 8888
	DefaultTimeout  = 2 * time.Second
)

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.UDPPort == 0 {
		c.UDPPort = DefaultUDPPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// New constructs the driver variant for the given protocol. This is the only
// place in the codebase that branches on protocol.
//
// The serial is required for UDP V3 addressing and ignored by HTTP.
func New(proto device.Protocol, ip, serial string, cfg Config) (Driver, error) {
	cfg = cfg.withDefaults()

	switch proto {
	case device.ProtocolHTTP:
		return newHTTPDriver(ip, cfg), nil
	case device.ProtocolUDPV3:
		return newUDPDriver(ip, serial, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", device.ErrInvalidProtocol, proto)
	}
}

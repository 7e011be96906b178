package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a record with an ID that already exists.
	ErrExists = errors.New("device: already exists")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("device: invalid record")

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidPortCount is returned when a port count is not 1 or 6.
	ErrInvalidPortCount = errors.New("device: invalid port count")

	// ErrInvalidPort is returned when a port index is outside the device's range.
	ErrInvalidPort = errors.New("device: invalid port index")
)

// Validate checks a Record for structural problems before persistence.
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrInvalidRecord
	}
	if !r.Protocol.Valid() {
		return ErrInvalidProtocol
	}
	if !ValidPortCount(r.PortCount) {
		return ErrInvalidPortCount
	}
	return nil
}

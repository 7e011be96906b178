package dispatch

import (
	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// Outcome tags a dispatch result.
type Outcome string

// Outcome values.
const (
	// OutcomeOK means the operation succeeded, possibly after retries.
	OutcomeOK Outcome = "ok"

	// OutcomeRejected means the device authoritatively rejected the
	// request. Never retried.
	OutcomeRejected Outcome = "rejected"

	// OutcomeUnreachable means the retry budget was exhausted without a
	// successful round-trip.
	OutcomeUnreachable Outcome = "unreachable"
)

// Result is the value every dispatch operation returns. Failure is
// represented here, never as a raw error escaping the dispatcher.
type Result struct {
	// Outcome classifies how the operation ended.
	Outcome Outcome

	// Statuses holds the port snapshot for query operations.
	Statuses []device.PortStatus

	// IDs holds the hardware identifiers for identify operations.
	IDs protocol.HardwareIDs

	// Attempts is how many round-trips were made, including the
	// successful one.
	Attempts int

	// SwitchedProtocol is set when a protocol mismatch re-probe found the
	// device answering on the other protocol family. The caller should
	// update the device record.
	SwitchedProtocol device.Protocol

	// Err carries the final failure for rejected or unreachable outcomes.
	Err error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

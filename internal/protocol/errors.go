package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Reason classifies a protocol failure. The dispatcher uses it to decide
// between retry, protocol re-probe, and terminal surfacing.
type Reason string

// Reason constants.
const (
	// ReasonTimeout means the device did not answer within the deadline.
	// Retriable.
	ReasonTimeout Reason = "network_timeout"

	// ReasonConnectionRefused means the host actively refused the
	// connection. Retriable (devices reboot and drop off briefly).
	ReasonConnectionRefused Reason = "connection_refused"

	// ReasonUnreachable covers transport failures that are neither a
	// deadline nor a refusal: no route to host, network unreachable, DNS
	// failures. Retriable, but surfaced under its own code so callers can
	// tell a silent device from a broken path to it.
	ReasonUnreachable Reason = "network_unreachable"

	// ReasonMalformed means the device answered but the payload could not
	// be decoded. Retriable once; persistent malformed responses indicate
	// a firmware quirk worth logging.
	ReasonMalformed Reason = "malformed_response"

	// ReasonProtocolMismatch means the device answered in a shape that
	// belongs to the other protocol family. Not retried directly; the
	// dispatcher triggers a one-time protocol re-probe instead.
	ReasonProtocolMismatch Reason = "protocol_mismatch"

	// ReasonRejected means the device explicitly rejected the request
	// (e.g. invalid port index). Terminal, never retried.
	ReasonRejected Reason = "authoritative_rejection"
)

// Error is the single error type both drivers surface. Callers inspect the
// Reason, never the underlying wire error.
type Error struct {
	// Reason classifies the failure.
	Reason Reason

	// Op names the failing operation ("query", "set_port", "identify").
	Op string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err into a *Error with the given reason and operation.
func newError(op string, reason Reason, err error) *Error {
	return &Error{Reason: reason, Op: op, Err: err}
}

// ReasonOf extracts the Reason from err. Returns false when err is not a
// protocol error.
func ReasonOf(err error) (Reason, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

// Retriable reports whether the dispatcher should retry after err.
// Timeouts, refused connections, and malformed responses are transient;
// rejections and protocol mismatches are not.
func Retriable(err error) bool {
	reason, ok := ReasonOf(err)
	if !ok {
		return false
	}
	switch reason {
	case ReasonTimeout, ReasonConnectionRefused, ReasonUnreachable, ReasonMalformed:
		return true
	default:
		return false
	}
}

// classifyNetError maps a transport-level error onto a Reason.
func classifyNetError(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	// syscall errors surface differently per platform; string matching on
	// the refused case is the portable check.
	if strings.Contains(err.Error(), "connection refused") {
		return ReasonConnectionRefused
	}

	// Anything else (no route to host, network unreachable, resolver
	// failures) is a broken path, not a silent device.
	return ReasonUnreachable
}

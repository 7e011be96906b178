package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// Logger is the minimal logging interface the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 200 * time.Millisecond
	DefaultMaxBackoff  = 2 * time.Second
)

// Config holds dispatcher retry and transport settings.
type Config struct {
	// MaxAttempts caps round-trips per operation. Default 3.
	MaxAttempts int

	// BaseBackoff is the delay before the second attempt; it doubles per
	// attempt. Default 200ms.
	BaseBackoff time.Duration

	// MaxBackoff caps the backoff delay. Default 2s.
	MaxBackoff time.Duration

	// Transport is passed through to driver construction.
	Transport protocol.Config
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// driverFactory constructs a driver for one device endpoint. Swappable in
// tests.
type driverFactory func(proto device.Protocol, ip, serial string, cfg protocol.Config) (protocol.Driver, error)

// session is the per-device connection state. Its mutex serialises all
// operations against one device; concurrent poll and command calls never
// race on the same driver.
type session struct {
	mu     sync.Mutex
	proto  device.Protocol
	ip     string
	serial string
	driver protocol.Driver
}

// Dispatcher executes device operations with retry and per-device session
// reuse. Safe for concurrent use across devices.
type Dispatcher struct {
	cfg       Config
	logger    Logger
	newDriver driverFactory

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg.withDefaults(),
		logger:    noopLogger{},
		newDriver: protocol.New,
		sessions:  make(map[string]*session),
	}
}

// SetLogger installs a logger. Call before first use.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Query fetches the device's port status snapshot.
func (d *Dispatcher) Query(ctx context.Context, rec *device.Record) Result {
	var statuses []device.PortStatus
	res := d.execute(ctx, rec, "query", func(ctx context.Context, drv protocol.Driver) error {
		var err error
		statuses, err = drv.Query(ctx)
		return err
	})
	res.Statuses = statuses
	return res
}

// SetPort switches a port on or off. Port 0 targets all ports on multi-port
// devices and the sole port on 1-port devices.
func (d *Dispatcher) SetPort(ctx context.Context, rec *device.Record, port int, on bool) Result {
	effective, ok := device.NormalisePort(rec.PortCount, port)
	if !ok {
		return Result{
			Outcome: OutcomeRejected,
			Err:     fmt.Errorf("%w: port %d on %d-port device", device.ErrInvalidPort, port, rec.PortCount),
		}
	}

	return d.execute(ctx, rec, "set_port", func(ctx context.Context, drv protocol.Driver) error {
		return drv.SetPort(ctx, effective, on)
	})
}

// Identify fetches the device's hardware identifiers.
func (d *Dispatcher) Identify(ctx context.Context, rec *device.Record) Result {
	var ids protocol.HardwareIDs
	res := d.execute(ctx, rec, "identify", func(ctx context.Context, drv protocol.Driver) error {
		var err error
		ids, err = drv.Identify(ctx)
		return err
	})
	res.IDs = ids
	return res
}

// Invalidate drops the device's session so the next operation dials fresh.
// Called by the coordinator after an IP change.
func (d *Dispatcher) Invalidate(deviceID string) {
	d.mu.Lock()
	s, ok := d.sessions[deviceID]
	if ok {
		delete(d.sessions, deviceID)
	}
	d.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.closeDriver()
		s.mu.Unlock()
	}
}

// Close releases every session. The dispatcher must not be used afterwards.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]*session)
	d.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.closeDriver()
		s.mu.Unlock()
	}
	return nil
}

// execute runs one operation with retry, holding the device's session lock
// throughout so per-device operations are serialised.
func (d *Dispatcher) execute(ctx context.Context, rec *device.Record, op string, call func(context.Context, protocol.Driver) error) Result {
	s := d.session(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The record's address or protocol may have moved since the session
	// was dialled.
	if s.driver != nil && (s.ip != rec.IP || s.proto != rec.Protocol) {
		s.closeDriver()
	}
	if s.driver == nil {
		s.proto = rec.Protocol
		s.ip = rec.IP
		s.serial = rec.Fingerprint.Serial
	}

	var (
		lastErr  error
		switched bool
	)

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		if s.driver == nil {
			drv, err := d.newDriver(s.proto, s.ip, s.serial, d.cfg.Transport)
			if err != nil {
				lastErr = err
				if !protocol.Retriable(err) || attempt == d.cfg.MaxAttempts {
					break
				}
				if !d.sleep(ctx, attempt) {
					break
				}
				continue
			}
			s.driver = drv
		}

		err := call(ctx, s.driver)
		if err == nil {
			res := Result{Outcome: OutcomeOK, Attempts: attempt}
			if switched {
				res.SwitchedProtocol = s.proto
			}
			return res
		}
		lastErr = err

		// A failed call poisons the session; dial fresh before any retry.
		s.closeDriver()

		reason, _ := protocol.ReasonOf(err)
		switch {
		case reason == protocol.ReasonRejected:
			d.logger.Debug("device rejected request",
				"device_id", rec.ID, "op", op, "error", err)
			return Result{Outcome: OutcomeRejected, Attempts: attempt, Err: err}

		case reason == protocol.ReasonProtocolMismatch && !switched:
			// Something answered, but in the other family's shape.
			// Re-probe once on the alternate protocol instead of
			// retrying the same one.
			switched = true
			s.proto = alternateProtocol(s.proto)
			d.logger.Info("protocol mismatch, re-probing on alternate protocol",
				"device_id", rec.ID, "op", op, "protocol", s.proto)
			continue

		case protocol.Retriable(err) && attempt < d.cfg.MaxAttempts:
			d.logger.Debug("transient failure, retrying",
				"device_id", rec.ID, "op", op, "attempt", attempt, "error", err)
			if !d.sleep(ctx, attempt) {
				return Result{Outcome: OutcomeUnreachable, Attempts: attempt, Err: lastErr}
			}

		default:
			return Result{Outcome: OutcomeUnreachable, Attempts: attempt, Err: err}
		}
	}

	return Result{Outcome: OutcomeUnreachable, Attempts: d.cfg.MaxAttempts, Err: lastErr}
}

// session returns the device's session entry, creating it on first use.
func (d *Dispatcher) session(rec *device.Record) *session {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[rec.ID]
	if !ok {
		s = &session{}
		d.sessions[rec.ID] = s
	}
	return s
}

// sleep waits out the backoff for the given attempt. Returns false if the
// context was cancelled first.
func (d *Dispatcher) sleep(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(d.backoffDelay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoffDelay doubles the base delay per attempt, caps it, and applies
// +/-25% jitter so retries from many devices do not align.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			delay = d.cfg.MaxBackoff
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// closeDriver releases the session's driver if present. Caller holds s.mu.
func (s *session) closeDriver() {
	if s.driver != nil {
		_ = s.driver.Close()
		s.driver = nil
	}
}

// alternateProtocol flips between the two protocol families.
func alternateProtocol(proto device.Protocol) device.Protocol {
	if proto == device.ProtocolHTTP {
		return device.ProtocolUDPV3
	}
	return device.ProtocolHTTP
}

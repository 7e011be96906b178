package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// scriptedDriver returns errors from a shared script, one per call.
type scriptedDriver struct {
	script  *script
	proto   device.Protocol
	gotPort int
	gotOn   bool
	closed  bool
}

// script is shared across driver instances so retries that recreate the
// session keep consuming the same sequence.
type script struct {
	errs    []error
	calls   int
	drivers []*scriptedDriver
}

func (s *script) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (d *scriptedDriver) Query(context.Context) ([]device.PortStatus, error) {
	if err := d.script.next(); err != nil {
		return nil, err
	}
	return []device.PortStatus{{Port: 1, On: true, PowerMilliwatts: 1200}}, nil
}

func (d *scriptedDriver) SetPort(_ context.Context, port int, on bool) error {
	d.gotPort = port
	d.gotOn = on
	return d.script.next()
}

func (d *scriptedDriver) Identify(context.Context) (protocol.HardwareIDs, error) {
	if err := d.script.next(); err != nil {
		return protocol.HardwareIDs{}, err
	}
	return protocol.HardwareIDs{Serial: "SWP6040001234"}, nil
}

func (d *scriptedDriver) Close() error {
	d.closed = true
	return nil
}

// newTestDispatcher wires a dispatcher to the script with fast backoff.
func newTestDispatcher(s *script) *Dispatcher {
	d := New(Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	d.newDriver = func(proto device.Protocol, _, _ string, _ protocol.Config) (protocol.Driver, error) {
		drv := &scriptedDriver{script: s, proto: proto}
		s.drivers = append(s.drivers, drv)
		return drv, nil
	}
	return d
}

func testRecord() *device.Record {
	return &device.Record{
		ID:        "sn-SWP6040001234",
		IP:        "192.168.1.10",
		Protocol:  device.ProtocolHTTP,
		PortCount: device.PortCountStrip,
	}
}

func protoErr(reason protocol.Reason) error {
	return &protocol.Error{Reason: reason, Op: "query", Err: errors.New("boom")}
}

func TestDispatcherQuerySuccess(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)

	res := d.Query(context.Background(), testRecord())
	if !res.OK() {
		t.Fatalf("Query() outcome = %q, err = %v", res.Outcome, res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if len(res.Statuses) != 1 || res.Statuses[0].PowerMilliwatts != 1200 {
		t.Errorf("Statuses = %+v", res.Statuses)
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	s := &script{errs: []error{protoErr(protocol.ReasonTimeout)}}
	d := newTestDispatcher(s)

	res := d.Query(context.Background(), testRecord())
	if !res.OK() {
		t.Fatalf("Query() outcome = %q, err = %v", res.Outcome, res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	// The failed call's session must have been torn down and redialled.
	if len(s.drivers) != 2 {
		t.Fatalf("drivers created = %d, want 2", len(s.drivers))
	}
	if !s.drivers[0].closed {
		t.Error("first driver not closed after failure")
	}
}

func TestDispatcherUnreachableAfterRetryBudget(t *testing.T) {
	s := &script{errs: []error{
		protoErr(protocol.ReasonTimeout),
		protoErr(protocol.ReasonConnectionRefused),
		protoErr(protocol.ReasonTimeout),
	}}
	d := newTestDispatcher(s)

	res := d.Query(context.Background(), testRecord())
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("outcome = %q, want unreachable", res.Outcome)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if res.Err == nil {
		t.Error("unreachable result must carry the final error")
	}
}

func TestDispatcherRejectionIsTerminal(t *testing.T) {
	s := &script{errs: []error{
		protoErr(protocol.ReasonRejected),
		protoErr(protocol.ReasonRejected),
	}}
	d := newTestDispatcher(s)

	res := d.SetPort(context.Background(), testRecord(), 3, true)
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected", res.Outcome)
	}
	if s.calls != 1 {
		t.Errorf("wire calls = %d, rejection must not be retried", s.calls)
	}
}

func TestDispatcherInvalidPortRejectedLocally(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)

	res := d.SetPort(context.Background(), testRecord(), 9, true)
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected", res.Outcome)
	}
	if !errors.Is(res.Err, device.ErrInvalidPort) {
		t.Errorf("Err = %v, want ErrInvalidPort", res.Err)
	}
	if s.calls != 0 {
		t.Errorf("wire calls = %d, invalid port must not reach the device", s.calls)
	}
}

func TestDispatcherPortZeroOnPlugTargetsSolePort(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)

	rec := testRecord()
	rec.PortCount = device.PortCountPlug

	res := d.SetPort(context.Background(), rec, 0, true)
	if !res.OK() {
		t.Fatalf("SetPort() outcome = %q, err = %v", res.Outcome, res.Err)
	}
	if got := s.drivers[0].gotPort; got != 1 {
		t.Errorf("device saw port %d, want 1", got)
	}
}

func TestDispatcherProtocolMismatchReprobesAlternate(t *testing.T) {
	s := &script{errs: []error{protoErr(protocol.ReasonProtocolMismatch)}}
	d := newTestDispatcher(s)

	res := d.Query(context.Background(), testRecord())
	if !res.OK() {
		t.Fatalf("Query() outcome = %q, err = %v", res.Outcome, res.Err)
	}
	if res.SwitchedProtocol != device.ProtocolUDPV3 {
		t.Errorf("SwitchedProtocol = %q, want %q", res.SwitchedProtocol, device.ProtocolUDPV3)
	}
	if len(s.drivers) != 2 || s.drivers[1].proto != device.ProtocolUDPV3 {
		t.Fatalf("second driver not dialled on alternate protocol: %+v", s.drivers)
	}
}

func TestDispatcherProtocolMismatchOnBothFamiliesIsTerminal(t *testing.T) {
	s := &script{errs: []error{
		protoErr(protocol.ReasonProtocolMismatch),
		protoErr(protocol.ReasonProtocolMismatch),
	}}
	d := newTestDispatcher(s)

	res := d.Query(context.Background(), testRecord())
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("outcome = %q, want unreachable", res.Outcome)
	}
}

func TestDispatcherReusesSessionAcrossCalls(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)
	rec := testRecord()

	for i := 0; i < 3; i++ {
		if res := d.Query(context.Background(), rec); !res.OK() {
			t.Fatalf("Query() %d outcome = %q", i, res.Outcome)
		}
	}
	if len(s.drivers) != 1 {
		t.Errorf("drivers created = %d, want 1 (session reuse)", len(s.drivers))
	}
}

func TestDispatcherRedialsAfterIPChange(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)
	rec := testRecord()

	if res := d.Query(context.Background(), rec); !res.OK() {
		t.Fatalf("Query() outcome = %q", res.Outcome)
	}

	rec.IP = "192.168.1.23"
	if res := d.Query(context.Background(), rec); !res.OK() {
		t.Fatalf("Query() after IP change outcome = %q", res.Outcome)
	}

	if len(s.drivers) != 2 {
		t.Errorf("drivers created = %d, want 2 (redial after IP change)", len(s.drivers))
	}
	if !s.drivers[0].closed {
		t.Error("stale session not closed after IP change")
	}
}

func TestDispatcherInvalidate(t *testing.T) {
	s := &script{}
	d := newTestDispatcher(s)
	rec := testRecord()

	if res := d.Query(context.Background(), rec); !res.OK() {
		t.Fatalf("Query() outcome = %q", res.Outcome)
	}

	d.Invalidate(rec.ID)
	if !s.drivers[0].closed {
		t.Error("Invalidate() did not close the session")
	}

	if res := d.Query(context.Background(), rec); !res.OK() {
		t.Fatalf("Query() after invalidate outcome = %q", res.Outcome)
	}
	if len(s.drivers) != 2 {
		t.Errorf("drivers created = %d, want 2", len(s.drivers))
	}
}

func TestDispatcherContextCancellation(t *testing.T) {
	s := &script{errs: []error{
		protoErr(protocol.ReasonTimeout),
		protoErr(protocol.ReasonTimeout),
		protoErr(protocol.ReasonTimeout),
	}}
	d := newTestDispatcher(s)
	d.cfg.BaseBackoff = time.Hour // cancellation must cut the backoff short

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := d.Query(ctx, testRecord())
	if res.Outcome != OutcomeUnreachable {
		t.Fatalf("outcome = %q, want unreachable", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, backoff not interrupted", elapsed)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	d := New(Config{
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  400 * time.Millisecond,
	})

	tests := []struct {
		attempt int
		want    time.Duration // before jitter
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 400 * time.Millisecond},
	}

	for _, tt := range tests {
		got := d.backoffDelay(tt.attempt)
		lo := time.Duration(float64(tt.want) * 0.75)
		hi := time.Duration(float64(tt.want) * 1.25)
		if got < lo || got > hi {
			t.Errorf("backoffDelay(%d) = %v, want within [%v, %v]", tt.attempt, got, lo, hi)
		}
	}
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/dispatch"
)

// ErrUnresolved means the candidate could not be resolved into a record this
// cycle: the device never produced enough signal to derive an identity or a
// port topology. Resolution is retried on the next discovery cycle.
var ErrUnresolved = errors.New("identity: unresolved")

// Logger is the minimal logging interface the resolver needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher is the slice of the command dispatcher the resolver uses.
type Dispatcher interface {
	Query(ctx context.Context, rec *device.Record) dispatch.Result
	Identify(ctx context.Context, rec *device.Record) dispatch.Result
	Invalidate(deviceID string)
}

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	// Record is the resolved device record.
	Record *device.Record

	// Created is true when the candidate produced a new record rather
	// than matching an existing one.
	Created bool
}

// Resolver matches discovery candidates to device records.
type Resolver struct {
	registry   *device.Registry
	dispatcher Dispatcher
	logger     Logger
}

// New creates a Resolver.
func New(registry *device.Registry, dispatcher Dispatcher) *Resolver {
	return &Resolver{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}
}

// SetLogger installs a logger. Call before first use.
func (r *Resolver) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Resolve turns one candidate into a device record: enrich the identity
// hints, match against known records, create a record when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, cand discovery.Candidate) (Resolution, error) {
	fp := r.enrichFingerprint(ctx, cand)

	// Exact fingerprint match is the primary identity signal.
	if rec, err := r.registry.GetByFingerprint(fp); err == nil {
		return r.adoptExisting(ctx, rec, cand, fp)
	}

	// Legacy records created before fingerprinting carry an empty
	// fingerprint and can only be claimed by address. The match is
	// guarded by a secondary signal so a readdressed neighbour does not
	// hijack the record: the protocol family must agree, and the port
	// topology must not contradict.
	if rec, err := r.registry.GetByIP(cand.IP); err == nil && rec.Fingerprint.Empty() {
		if rec.Protocol == cand.Protocol && !portCountConflicts(rec.PortCount, cand, fp) {
			r.logger.Info("legacy record claimed by address match",
				"device_id", rec.ID, "ip", cand.IP)
			return r.adoptExisting(ctx, rec, cand, fp)
		}
	}

	return r.createRecord(ctx, cand, fp)
}

// enrichFingerprint folds the candidate's hints with a capability query.
// Announcements from old firmware omit the hardware id (and sometimes the
// serial); the capability query fills the gaps when the device cooperates.
func (r *Resolver) enrichFingerprint(ctx context.Context, cand discovery.Candidate) device.Fingerprint {
	fp := cand.Fingerprint()
	if fp.Serial != "" && fp.MAC != "" && fp.HardwareID != "" {
		return fp
	}

	probe := probeRecord(cand)
	defer r.dispatcher.Invalidate(probe.ID)

	res := r.dispatcher.Identify(ctx, probe)
	if !res.OK() {
		r.logger.Debug("capability query failed, using announcement hints only",
			"ip", cand.IP, "outcome", res.Outcome, "error", res.Err)
		return fp
	}

	return device.NewFingerprint(
		firstNonEmpty(res.IDs.Serial, cand.Serial),
		firstNonEmpty(res.IDs.MAC, cand.MAC),
		firstNonEmpty(res.IDs.HardwareID, cand.HardwareID),
	)
}

// adoptExisting refreshes a matched record with what the candidate reports:
// current address, firmware version, name, and any newly available
// fingerprint fields.
func (r *Resolver) adoptExisting(ctx context.Context, rec *device.Record, cand discovery.Candidate, fp device.Fingerprint) (Resolution, error) {
	changed := false

	if rec.IP != cand.IP {
		rec.IP = cand.IP
		changed = true
	}
	if cand.FirmwareVersion != "" && rec.FirmwareVersion != cand.FirmwareVersion {
		rec.FirmwareVersion = cand.FirmwareVersion
		changed = true
	}
	if cand.Name != "" && rec.Name != cand.Name {
		rec.Name = cand.Name
		changed = true
	}
	if len(cand.PortNames) > 0 {
		rec.PortNames = append([]string(nil), cand.PortNames...)
		changed = true
	}
	if rec.Fingerprint.Empty() && !fp.Empty() {
		rec.Fingerprint = fp
		changed = true
		r.logger.Info("fingerprint backfilled on legacy record",
			"device_id", rec.ID, "ip", rec.IP)
	}

	if changed {
		rec.UpdatedAt = time.Now().UTC()
		if err := r.registry.Update(ctx, rec); err != nil {
			return Resolution{}, fmt.Errorf("identity: updating record %s: %w", rec.ID, err)
		}
	}
	return Resolution{Record: rec}, nil
}

// createRecord builds a new record for an unmatched candidate. The port
// topology comes from the serial, the announced port names, or a live status
// query, in that order; a candidate yielding none of the three stays
// unresolved until a later cycle.
func (r *Resolver) createRecord(ctx context.Context, cand discovery.Candidate, fp device.Fingerprint) (Resolution, error) {
	portCount := device.PortCountFromSerial(fp.Serial)
	if portCount == 0 && device.ValidPortCount(len(cand.PortNames)) {
		portCount = len(cand.PortNames)
	}
	if portCount == 0 {
		statuses := r.queryStatuses(ctx, cand)
		if device.ValidPortCount(len(statuses)) {
			portCount = len(statuses)
		}
	}
	if portCount == 0 {
		return Resolution{}, fmt.Errorf("%w: %s reports no port topology", ErrUnresolved, cand.IP)
	}

	id := fp.DeviceID()
	if id == "" {
		id = device.NewFallbackID()
	}

	now := time.Now().UTC()
	rec := &device.Record{
		ID:              id,
		IP:              cand.IP,
		Protocol:        cand.Protocol,
		PortCount:       portCount,
		Fingerprint:     fp,
		FirmwareVersion: cand.FirmwareVersion,
		Name:            cand.Name,
		PortNames:       append([]string(nil), cand.PortNames...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.registry.Create(ctx, rec); err != nil {
		// A concurrent resolve of the same device can win the race.
		if errors.Is(err, device.ErrExists) {
			if existing, getErr := r.registry.Get(ctx, id); getErr == nil {
				return Resolution{Record: existing}, nil
			}
		}
		return Resolution{}, fmt.Errorf("identity: creating record %s: %w", id, err)
	}

	r.logger.Info("device record created",
		"device_id", rec.ID, "ip", rec.IP, "protocol", rec.Protocol,
		"port_count", rec.PortCount, "fingerprint_empty", fp.Empty())
	return Resolution{Record: rec, Created: true}, nil
}

// queryStatuses runs a live status query to learn the port topology.
func (r *Resolver) queryStatuses(ctx context.Context, cand discovery.Candidate) []device.PortStatus {
	probe := probeRecord(cand)
	defer r.dispatcher.Invalidate(probe.ID)

	res := r.dispatcher.Query(ctx, probe)
	if !res.OK() {
		return nil
	}
	return res.Statuses
}

// probeRecord builds a transient record for dispatching against an
// unresolved candidate. The session is invalidated after use so probe
// entries do not accumulate in the dispatcher.
func probeRecord(cand discovery.Candidate) *device.Record {
	return &device.Record{
		ID:          "probe:" + cand.IP,
		IP:          cand.IP,
		Protocol:    cand.Protocol,
		PortCount:   device.PortCountStrip,
		Fingerprint: cand.Fingerprint(),
	}
}

// portCountConflicts reports whether the candidate's visible topology
// contradicts a stored port count. Candidates that reveal no topology do not
// conflict.
func portCountConflicts(stored int, cand discovery.Candidate, fp device.Fingerprint) bool {
	if n := device.PortCountFromSerial(fp.Serial); n != 0 && n != stored {
		return true
	}
	if n := len(cand.PortNames); device.ValidPortCount(n) && n != stored {
		return true
	}
	return false
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

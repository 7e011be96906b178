package poll

import (
	"context"
	"sync"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
)

// deviceLoop is one device's polling state machine. All mutable state is
// owned by the loop goroutine except the snapshot, which readers access
// through the mutex.
type deviceLoop struct {
	coord *Coordinator

	done      chan struct{}
	stopOnce  sync.Once
	commandCh chan struct{}

	mu               sync.Mutex
	rec              *device.Record
	snap             Snapshot
	burstUntil       time.Time
	degradedInterval time.Duration
	throttle         errorThrottle
}

func newDeviceLoop(coord *Coordinator, rec *device.Record) *deviceLoop {
	return &deviceLoop{
		coord:     coord,
		done:      make(chan struct{}),
		commandCh: make(chan struct{}, 1),
		rec:       rec,
		snap:      Snapshot{Mode: ModeNormal},
	}
}

// run drives the loop until cancellation. The device's session is released
// on exit regardless of which state the loop was in.
func (l *deviceLoop) run(ctx context.Context) {
	defer l.coord.dispatcher.Invalidate(l.deviceID())

	// First poll immediately so a freshly watched device has a snapshot
	// within one round-trip rather than one interval.
	l.poll(ctx)

	for {
		timer := time.NewTimer(l.interval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.done:
			timer.Stop()
			return
		case <-l.commandCh:
			timer.Stop()
			l.enterBurst()
			l.poll(ctx)
		case <-timer.C:
			l.poll(ctx)
		}
	}
}

// stop signals the loop to exit. Safe to call more than once.
func (l *deviceLoop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// notifyCommand requests a burst window. Non-blocking; a pending request is
// enough.
func (l *deviceLoop) notifyCommand() {
	select {
	case l.commandCh <- struct{}{}:
	default:
	}
}

// poll performs one status query and applies the result to the state
// machine.
func (l *deviceLoop) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	rec := l.currentRecord()
	res := l.coord.dispatcher.Query(ctx, rec)
	if res.OK() {
		if res.SwitchedProtocol != "" {
			l.adoptProtocol(res.SwitchedProtocol)
		}
		l.applySuccess(rec, res.Statuses)
		return
	}
	l.applyFailure(ctx, res.Err)
}

// applySuccess replaces the snapshot wholesale and resets the failure
// machinery.
func (l *deviceLoop) applySuccess(rec *device.Record, statuses []device.PortStatus) {
	now := time.Now()

	l.mu.Lock()
	recovered := l.snap.Mode == ModeDegraded

	l.snap.Statuses = append([]device.PortStatus(nil), statuses...)
	l.snap.LastSuccessAt = now
	l.snap.ConsecutiveFailures = 0
	l.degradedInterval = 0
	l.throttle.reset()

	switch {
	case recovered:
		l.snap.Mode = ModeNormal
	case l.snap.Mode == ModeBurst && now.After(l.burstUntil):
		l.snap.Mode = ModeNormal
	}
	listener := l.coord.listener
	l.mu.Unlock()

	if recovered {
		l.coord.logger.Info("device recovered", "device_id", rec.ID, "ip", rec.IP)
	}
	if listener != nil {
		listener(rec, statuses)
	}
}

// applyFailure advances the failure run: throttled logging, the DEGRADED
// transition, backoff growth, and IP recovery.
func (l *deviceLoop) applyFailure(ctx context.Context, err error) {
	now := time.Now()

	l.mu.Lock()
	l.snap.ConsecutiveFailures++
	failures := l.snap.ConsecutiveFailures
	logIt := l.throttle.shouldLog(now)

	entered := false
	if failures >= l.coord.cfg.FailureThreshold && l.snap.Mode != ModeDegraded {
		l.snap.Mode = ModeDegraded
		l.degradedInterval = l.coord.cfg.DegradedInterval
		entered = true
	} else if l.snap.Mode == ModeDegraded {
		grown := time.Duration(float64(l.degradedInterval) * degradedGrowth)
		if grown > l.coord.cfg.DegradedMax {
			grown = l.coord.cfg.DegradedMax
		}
		l.degradedInterval = grown
	}
	degraded := l.snap.Mode == ModeDegraded
	id, ip := l.rec.ID, l.rec.IP
	l.mu.Unlock()

	if logIt {
		l.coord.logger.Warn("poll failed",
			"device_id", id, "ip", ip,
			"consecutive_failures", failures, "error", err)
	}
	if entered {
		l.coord.logger.Warn("device degraded, backing off",
			"device_id", id, "ip", ip, "failures", failures)
	}
	if degraded {
		l.tryRecoverIP(ctx)
	}
}

// tryRecoverIP scans for the device's fingerprint at a different address.
// Devices that move on a DHCP renew keep answering broadcasts even when
// their old unicast address is dead.
func (l *deviceLoop) tryRecoverIP(ctx context.Context) {
	if l.coord.finder == nil {
		return
	}

	rec := l.currentRecord()
	if rec.Fingerprint.Empty() {
		return
	}

	candidates, err := l.coord.finder.Discover(ctx)
	if err != nil {
		l.coord.logger.Debug("recovery scan failed", "device_id", rec.ID, "error", err)
		return
	}

	for _, cand := range candidates {
		if cand.IP == rec.IP || !cand.Fingerprint().Matches(rec.Fingerprint) {
			continue
		}

		if err := l.coord.records.UpdateIP(ctx, rec.ID, cand.IP); err != nil {
			l.coord.logger.Error("persisting recovered ip failed",
				"device_id", rec.ID, "ip", cand.IP, "error", err)
			return
		}
		l.coord.dispatcher.Invalidate(rec.ID)

		l.mu.Lock()
		l.rec.IP = cand.IP
		// Poll the new address promptly instead of waiting out the
		// degraded backoff.
		l.degradedInterval = l.coord.cfg.BurstInterval
		l.mu.Unlock()

		l.coord.logger.Info("device ip recovered via discovery",
			"device_id", rec.ID, "old_ip", rec.IP, "new_ip", cand.IP)
		return
	}
}

// enterBurst opens the burst window.
func (l *deviceLoop) enterBurst() {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A degraded device stays degraded; the command result already told
	// the caller how reachable it is.
	if l.snap.Mode == ModeDegraded {
		return
	}
	l.snap.Mode = ModeBurst
	l.burstUntil = time.Now().Add(l.coord.cfg.BurstDuration)
}

// interval returns the delay until the next poll for the current mode,
// reverting an expired burst window on the way.
func (l *deviceLoop) interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.snap.Mode {
	case ModeBurst:
		if time.Now().After(l.burstUntil) {
			l.snap.Mode = ModeNormal
			return l.coord.cfg.NormalInterval
		}
		return l.coord.cfg.BurstInterval
	case ModeDegraded:
		return l.degradedInterval
	default:
		return l.coord.cfg.NormalInterval
	}
}

// snapshot returns a copy of the device's snapshot.
func (l *deviceLoop) snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snap
	snap.Statuses = append([]device.PortStatus(nil), l.snap.Statuses...)
	return snap
}

// currentRecord returns a copy of the loop's device record.
func (l *deviceLoop) currentRecord() *device.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Clone()
}

// updateRecord refreshes the loop's record after the identity resolver
// touched it. The loop's own in-flight IP recovery wins over a stale
// address.
func (l *deviceLoop) updateRecord(rec *device.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec = rec.Clone()
}

// adoptProtocol records a protocol correction discovered by the dispatcher.
func (l *deviceLoop) adoptProtocol(proto device.Protocol) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec.Protocol != proto {
		l.coord.logger.Info("device protocol corrected",
			"device_id", l.rec.ID, "protocol", proto)
		l.rec.Protocol = proto
	}
}

func (l *deviceLoop) deviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.ID
}

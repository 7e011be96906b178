package poll

import (
	"context"
	"sync"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/dispatch"
)

// Mode is one state of a device's polling state machine.
type Mode string

// Polling modes.
const (
	// ModeNormal is the steady-state refresh cadence.
	ModeNormal Mode = "normal"

	// ModeBurst is the short high-frequency window after a command.
	ModeBurst Mode = "burst"

	// ModeDegraded is the backed-off cadence after repeated failures.
	// The device is reported unavailable while degraded.
	ModeDegraded Mode = "degraded"
)

// Default scheduling settings.
const (
	DefaultNormalInterval   = 5 * time.Second
	DefaultBurstInterval    = 2 * time.Second
	DefaultBurstDuration    = 10 * time.Second
	DefaultFailureThreshold = 3
	DefaultDegradedInterval = 60 * time.Second
	DefaultDegradedMax      = 300 * time.Second
	DefaultStaleness        = 30 * time.Second
)

// degradedGrowth is the backoff multiplier applied per failed recovery poll.
const degradedGrowth = 1.5

// Logger is the minimal logging interface the coordinator needs.
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

// Dispatcher is the slice of the command dispatcher the coordinator uses.
type Dispatcher interface {
	Query(ctx context.Context, rec *device.Record) dispatch.Result
	Invalidate(deviceID string)
}

// Finder runs discovery scans for IP recovery. Satisfied by
// *discovery.Scanner.
type Finder interface {
	Discover(ctx context.Context) ([]discovery.Candidate, error)
}

// RecordStore is the slice of the device registry the coordinator mutates.
type RecordStore interface {
	UpdateIP(ctx context.Context, id, ip string) error
}

// Config holds coordinator scheduling settings. Zero fields take defaults;
// tests inject short intervals.
type Config struct {
	NormalInterval   time.Duration
	BurstInterval    time.Duration
	BurstDuration    time.Duration
	FailureThreshold int
	DegradedInterval time.Duration
	DegradedMax      time.Duration

	// Staleness marks a device unavailable when no poll has succeeded
	// within this window, even before the failure threshold trips.
	Staleness time.Duration
}

func (c Config) withDefaults() Config {
	if c.NormalInterval == 0 {
		c.NormalInterval = DefaultNormalInterval
	}
	if c.BurstInterval == 0 {
		c.BurstInterval = DefaultBurstInterval
	}
	if c.BurstDuration == 0 {
		c.BurstDuration = DefaultBurstDuration
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.DegradedInterval == 0 {
		c.DegradedInterval = DefaultDegradedInterval
	}
	if c.DegradedMax == 0 {
		c.DegradedMax = DefaultDegradedMax
	}
	if c.Staleness == 0 {
		c.Staleness = DefaultStaleness
	}
	return c
}

// Snapshot is one device's last known state as seen by callers.
type Snapshot struct {
	// Statuses is the port snapshot from the last successful poll.
	// Replaced wholesale per poll; nil until the first success.
	Statuses []device.PortStatus

	// LastSuccessAt is when the last successful poll completed.
	LastSuccessAt time.Time

	// Mode is the loop's current scheduling mode.
	Mode Mode

	// ConsecutiveFailures is the current failure run length.
	ConsecutiveFailures int
}

// Available reports whether callers should treat the device as reachable.
func (s Snapshot) Available(now time.Time, staleness time.Duration) bool {
	if s.Mode == ModeDegraded {
		return false
	}
	if s.LastSuccessAt.IsZero() {
		return false
	}
	return now.Sub(s.LastSuccessAt) <= staleness
}

// StatusListener observes successful polls. Used to fan snapshots out to
// state sinks (MQTT, websocket, time series) without coupling the loop to
// them.
type StatusListener func(rec *device.Record, statuses []device.PortStatus)

// Coordinator owns one polling loop per watched device.
type Coordinator struct {
	cfg        Config
	dispatcher Dispatcher
	records    RecordStore
	finder     Finder
	logger     Logger
	listener   StatusListener

	mu    sync.Mutex
	loops map[string]*deviceLoop
	wg    sync.WaitGroup
}

// New creates a Coordinator. The finder may be nil, which disables IP
// recovery.
func New(cfg Config, dispatcher Dispatcher, records RecordStore, finder Finder) *Coordinator {
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		dispatcher: dispatcher,
		records:    records,
		finder:     finder,
		logger:     noopLogger{},
		loops:      make(map[string]*deviceLoop),
	}
}

// SetLogger installs a logger. Call before Watch.
func (c *Coordinator) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetStatusListener installs a listener for successful polls. Call before
// Watch.
func (c *Coordinator) SetStatusListener(listener StatusListener) {
	c.listener = listener
}

// Watch starts a polling loop for the device. A device already being
// watched has its record refreshed instead of gaining a second loop.
func (c *Coordinator) Watch(ctx context.Context, rec *device.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.loops[rec.ID]; ok {
		l.updateRecord(rec)
		return
	}

	l := newDeviceLoop(c, rec.Clone())
	c.loops[rec.ID] = l

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		l.run(ctx)
	}()

	c.logger.Info("polling loop started", "device_id", rec.ID, "ip", rec.IP)
}

// Unwatch stops the device's loop and releases its session. Called when the
// caller removes a device.
func (c *Coordinator) Unwatch(deviceID string) {
	c.mu.Lock()
	l, ok := c.loops[deviceID]
	if ok {
		delete(c.loops, deviceID)
	}
	c.mu.Unlock()

	if ok {
		l.stop()
		c.logger.Info("polling loop stopped", "device_id", deviceID)
	}
}

// NotifyCommand switches the device's loop to BURST after a successful
// command dispatch, so the resulting state change is confirmed quickly.
func (c *Coordinator) NotifyCommand(deviceID string) {
	c.mu.Lock()
	l, ok := c.loops[deviceID]
	c.mu.Unlock()

	if ok {
		l.notifyCommand()
	}
}

// Status returns the device's snapshot. The second return is false when the
// device is not being watched.
func (c *Coordinator) Status(deviceID string) (Snapshot, bool) {
	c.mu.Lock()
	l, ok := c.loops[deviceID]
	c.mu.Unlock()

	if !ok {
		return Snapshot{}, false
	}
	return l.snapshot(), true
}

// Available reports whether the device is currently reachable.
func (c *Coordinator) Available(deviceID string) bool {
	snap, ok := c.Status(deviceID)
	return ok && snap.Available(time.Now(), c.cfg.Staleness)
}

// Close stops every loop and waits for them to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	loops := c.loops
	c.loops = make(map[string]*deviceLoop)
	c.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
	c.wg.Wait()
}

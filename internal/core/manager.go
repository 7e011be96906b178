package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/dispatch"
	"github.com/voltlink/voltlink-core/internal/identity"
	"github.com/voltlink/voltlink-core/internal/infrastructure/mqtt"
	"github.com/voltlink/voltlink-core/internal/migration"
	"github.com/voltlink/voltlink-core/internal/poll"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// Sentinel errors.
var (
	// ErrUnavailable indicates the device has no fresh status snapshot.
	ErrUnavailable = errors.New("core: device unavailable")

	// ErrNotStarted indicates an operation was attempted before Start.
	ErrNotStarted = errors.New("core: manager not started")
)

// Logger is the minimal logging interface the manager needs.
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

// Commander executes device operations. Satisfied by *dispatch.Dispatcher.
type Commander interface {
	Query(ctx context.Context, rec *device.Record) dispatch.Result
	SetPort(ctx context.Context, rec *device.Record, port int, on bool) dispatch.Result
	Identify(ctx context.Context, rec *device.Record) dispatch.Result
	Invalidate(deviceID string)
	Close() error
}

// Finder locates devices on the network. Satisfied by *discovery.Scanner.
type Finder interface {
	Discover(ctx context.Context) ([]discovery.Candidate, error)
	Probe(ctx context.Context, ip string) (discovery.Candidate, error)
}

// Resolver turns candidates into registry records. Satisfied by
// *identity.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, cand discovery.Candidate) (identity.Resolution, error)
}

// Watcher schedules status polling. Satisfied by *poll.Coordinator.
type Watcher interface {
	Watch(ctx context.Context, rec *device.Record)
	Unwatch(deviceID string)
	NotifyCommand(deviceID string)
	Status(deviceID string) (poll.Snapshot, bool)
	Available(deviceID string) bool
	SetStatusListener(listener poll.StatusListener)
	Close()
}

// Migrator imports legacy records. Satisfied by *migration.Engine.
type Migrator interface {
	Run(ctx context.Context) (*migration.Report, error)
}

// StatePublisher pushes state to the message broker. Satisfied by
// *mqtt.Client. Nil disables MQTT output.
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// TelemetryWriter records power samples. Satisfied by *influxdb.Client.
// Nil disables telemetry.
type TelemetryWriter interface {
	WritePortSample(deviceID string, port int, on bool, powerMilliwatts int64)
	WriteAvailability(deviceID string, available bool)
}

// StatusListener receives every successful poll result after the built-in
// sinks have run. Used by the WebSocket hub.
type StatusListener func(rec *device.Record, statuses []device.PortStatus)

// Config holds manager scheduling settings.
type Config struct {
	// ScanInterval is how often the background discovery scan runs.
	// Zero disables periodic scanning; manual scans still work.
	ScanInterval time.Duration

	// AvailabilityInterval is how often availability transitions are
	// checked. Defaults to 5s.
	AvailabilityInterval time.Duration

	// CommandTimeout bounds commands initiated from the MQTT set topic.
	// Defaults to 10s.
	CommandTimeout time.Duration

	// QoS used for MQTT publishes that are not retained state.
	QoS byte
}

func (c Config) withDefaults() Config {
	if c.AvailabilityInterval <= 0 {
		c.AvailabilityInterval = 5 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	return c
}

// Options carries the manager's collaborators.
type Options struct {
	Config    Config
	Registry  *device.Registry
	Commander Commander
	Finder    Finder
	Resolver  Resolver
	Watcher   Watcher
	Migrator  Migrator

	// Optional sinks.
	Publisher StatePublisher
	Telemetry TelemetryWriter
}

// Manager is the application facade over the device layer.
type Manager struct {
	cfg       Config
	registry  *device.Registry
	commander Commander
	finder    Finder
	resolver  Resolver
	watcher   Watcher
	migrator  Migrator
	publisher StatePublisher
	telemetry TelemetryWriter

	logger   Logger
	loggerMu sync.RWMutex

	// available tracks the last published availability per device so only
	// transitions are pushed to the sinks.
	mu        sync.Mutex
	available map[string]bool
	listeners []StatusListener
	runCtx    context.Context

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Manager. Call Start before using it.
func New(opts Options) *Manager {
	return &Manager{
		cfg:       opts.Config.withDefaults(),
		registry:  opts.Registry,
		commander: opts.Commander,
		finder:    opts.Finder,
		resolver:  opts.Resolver,
		watcher:   opts.Watcher,
		migrator:  opts.Migrator,
		publisher: opts.Publisher,
		telemetry: opts.Telemetry,
		logger:    noopLogger{},
		available: make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// SetLogger installs a logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// AddStatusListener registers a listener for successful poll results.
// Call before Start.
func (m *Manager) AddStatusListener(listener StatusListener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Start brings the device layer up:
//
//  1. Loads the registry cache
//  2. Runs the legacy migration (if configured)
//  3. Starts a polling loop for every known device
//  4. Subscribes to MQTT command topics (if configured)
//  5. Starts the periodic discovery scan and availability loops
//
// The supplied context bounds the manager's lifetime: polling loops stop
// when it is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if err := m.registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}

	if m.migrator != nil {
		report, err := m.migrator.Run(ctx)
		if err != nil {
			// Migration soft-fails: unreachable legacy devices stay
			// pending and are retried on the next start.
			m.log().Warn("legacy migration incomplete", "error", err)
		} else if report != nil {
			m.log().Info("legacy migration complete",
				"migrated", len(report.Migrated),
				"skipped", len(report.Skipped),
				"cleanup", len(report.Cleanup))
			for _, instr := range report.Cleanup {
				m.log().Warn("legacy record needs cleanup",
					"legacy_id", instr.LegacyID,
					"device_id", instr.DeviceID,
					"detail", instr.Detail)
			}
		}
	}

	m.watcher.SetStatusListener(m.handleStatus)

	records, err := m.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for i := range records {
		m.watcher.Watch(ctx, &records[i])
	}
	m.log().Info("watching devices", "count", len(records))

	if m.publisher != nil {
		if err := m.subscribeCommands(); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
	}

	if m.cfg.ScanInterval > 0 {
		m.wg.Add(1)
		go m.scanLoop(ctx)
	}
	m.wg.Add(1)
	go m.availabilityLoop(ctx)

	return nil
}

// Close stops the manager's loops, the polling coordinator, and the
// dispatcher sessions.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	m.watcher.Close()
	return m.commander.Close()
}

// Devices returns all registered devices.
func (m *Manager) Devices(ctx context.Context) ([]device.Record, error) {
	return m.registry.List(ctx)
}

// Device returns one device by ID.
func (m *Manager) Device(ctx context.Context, id string) (*device.Record, error) {
	return m.registry.Get(ctx, id)
}

// Status returns the device's latest poll snapshot. ErrUnavailable is
// returned when the device is degraded or its snapshot has gone stale; the
// stale snapshot is still returned for display.
func (m *Manager) Status(ctx context.Context, id string) (poll.Snapshot, error) {
	if _, err := m.registry.Get(ctx, id); err != nil {
		return poll.Snapshot{}, err
	}

	snap, ok := m.watcher.Status(id)
	if !ok {
		return poll.Snapshot{}, ErrUnavailable
	}
	if !m.watcher.Available(id) {
		return snap, ErrUnavailable
	}
	return snap, nil
}

// SetPort switches one port on or off. Port 0 is accepted for single-port
// plugs. A successful command opens the device's burst polling window so
// the state change shows up quickly.
func (m *Manager) SetPort(ctx context.Context, id string, port int, on bool) (dispatch.Result, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		return dispatch.Result{}, err
	}

	res := m.commander.SetPort(ctx, rec, port, on)
	if res.OK() {
		m.watcher.NotifyCommand(id)
	}
	if res.SwitchedProtocol != "" && res.SwitchedProtocol != rec.Protocol {
		rec.Protocol = res.SwitchedProtocol
		if updateErr := m.registry.Update(ctx, rec); updateErr != nil {
			m.log().Error("persisting corrected protocol failed",
				"device_id", id, "error", updateErr)
		}
	}
	return res, nil
}

// Identify asks the device for its hardware identifiers.
func (m *Manager) Identify(ctx context.Context, id string) (protocol.HardwareIDs, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		return protocol.HardwareIDs{}, err
	}

	res := m.commander.Identify(ctx, rec)
	if !res.OK() {
		return protocol.HardwareIDs{}, res.Err
	}
	return res.IDs, nil
}

// Rename updates a device's display name and optional port names.
func (m *Manager) Rename(ctx context.Context, id, name string, portNames []string) (*device.Record, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(portNames) > rec.PortCount {
		return nil, fmt.Errorf("%w: %d port names for %d ports",
			device.ErrInvalidPort, len(portNames), rec.PortCount)
	}

	if name != "" {
		rec.Name = name
	}
	if portNames != nil {
		rec.PortNames = append([]string(nil), portNames...)
	}

	if err := m.registry.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Forget stops polling a device and removes it from the registry.
func (m *Manager) Forget(ctx context.Context, id string) error {
	if _, err := m.registry.Get(ctx, id); err != nil {
		return err
	}

	m.watcher.Unwatch(id)
	m.commander.Invalidate(id)

	m.mu.Lock()
	delete(m.available, id)
	m.mu.Unlock()

	return m.registry.Delete(ctx, id)
}

// Scan broadcasts a discovery probe and folds every answer into the
// registry. Newly created devices start polling immediately.
func (m *Manager) Scan(ctx context.Context) ([]identity.Resolution, error) {
	candidates, err := m.finder.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery scan: %w", err)
	}

	resolutions := make([]identity.Resolution, 0, len(candidates))
	for _, cand := range candidates {
		res, err := m.resolver.Resolve(ctx, cand)
		if err != nil {
			m.log().Warn("candidate not resolved",
				"ip", cand.IP, "error", err)
			continue
		}
		m.adopt(res)
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}

// Probe targets one address directly and folds the answer into the
// registry. Used for devices on subnets broadcasts don't reach.
func (m *Manager) Probe(ctx context.Context, ip string) (identity.Resolution, error) {
	cand, err := m.finder.Probe(ctx, ip)
	if err != nil {
		return identity.Resolution{}, err
	}

	res, err := m.resolver.Resolve(ctx, cand)
	if err != nil {
		return identity.Resolution{}, err
	}
	m.adopt(res)
	return res, nil
}

// RunMigration re-runs the legacy record import on demand and starts
// polling any devices it created.
func (m *Manager) RunMigration(ctx context.Context) (*migration.Report, error) {
	if m.migrator == nil {
		return &migration.Report{}, nil
	}

	report, err := m.migrator.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, migrated := range report.Migrated {
		rec, getErr := m.registry.Get(ctx, migrated.DeviceID)
		if getErr != nil {
			continue
		}
		m.watcher.Watch(m.watchCtx(), rec)
	}
	return report, nil
}

// adopt starts polling a resolved device and announces new ones.
func (m *Manager) adopt(res identity.Resolution) {
	m.watcher.Watch(m.watchCtx(), res.Record)

	if res.Created {
		m.log().Info("device registered",
			"device_id", res.Record.ID,
			"ip", res.Record.IP,
			"protocol", res.Record.Protocol,
			"ports", res.Record.PortCount)
		m.publishDiscovered(res.Record)
	}
}

// watchCtx returns the context polling loops should run under.
func (m *Manager) watchCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// scanLoop runs the periodic background discovery scan.
func (m *Manager) scanLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			if _, err := m.Scan(ctx); err != nil {
				m.log().Warn("periodic discovery scan failed", "error", err)
			}
		}
	}
}

// availabilityLoop publishes availability transitions. Online transitions
// also arrive via handleStatus; this loop catches devices going dark.
func (m *Manager) availabilityLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.AvailabilityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.checkAvailability(ctx)
		}
	}
}

// checkAvailability compares each device's current availability with the
// last published value and pushes transitions to the sinks.
func (m *Manager) checkAvailability(ctx context.Context) {
	records, err := m.registry.List(ctx)
	if err != nil {
		return
	}

	for i := range records {
		id := records[i].ID
		m.setAvailability(id, m.watcher.Available(id))
	}
}

// setAvailability publishes an availability transition if the state changed.
func (m *Manager) setAvailability(id string, available bool) {
	m.mu.Lock()
	prev, seen := m.available[id]
	if seen && prev == available {
		m.mu.Unlock()
		return
	}
	m.available[id] = available
	m.mu.Unlock()

	if seen {
		m.log().Info("device availability changed",
			"device_id", id, "available", available)
	}
	m.publishAvailability(id, available)
	if m.telemetry != nil {
		m.telemetry.WriteAvailability(id, available)
	}
}

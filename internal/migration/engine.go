package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/identity"
)

// Logger is the minimal logging interface the engine needs.
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

// Prober targets a single address directly. Satisfied by *discovery.Scanner.
type Prober interface {
	Probe(ctx context.Context, ip string) (discovery.Candidate, error)
}

// Resolver resolves candidates into device records. Satisfied by
// *identity.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, cand discovery.Candidate) (identity.Resolution, error)
}

// Engine reconciles legacy records into device records. Run once at
// startup, before coordinator loops begin.
type Engine struct {
	repo     Repository
	prober   Prober
	resolver Resolver
	logger   Logger
}

// New creates an Engine.
func New(repo Repository, prober Prober, resolver Resolver) *Engine {
	return &Engine{
		repo:     repo,
		prober:   prober,
		resolver: resolver,
		logger:   noopLogger{},
	}
}

// SetLogger installs a logger. Call before first use.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Run reconciles every unmigrated legacy record. Already-migrated records
// are skipped, so re-running produces no duplicate links. A record whose
// device does not answer is left for the next run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	legacies, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration: listing legacy records: %w", err)
	}

	report := &Report{}
	for _, legacy := range legacies {
		if legacy.Migrated() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("migration: %w", err)
		}

		e.migrateOne(ctx, legacy, report)
	}

	e.logger.Info("migration run complete",
		"migrated", len(report.Migrated),
		"cleanup", len(report.Cleanup),
		"skipped", len(report.Skipped))
	return report, nil
}

// migrateOne probes, resolves, grades, and links a single legacy record.
// All failures are soft: the record is reported skipped and retried later.
func (e *Engine) migrateOne(ctx context.Context, legacy LegacyRecord, report *Report) {
	cand, err := e.prober.Probe(ctx, legacy.IP)
	if err != nil {
		e.logger.Warn("legacy device unreachable, left unmigrated",
			"legacy_id", legacy.ID, "ip", legacy.IP, "error", err)
		report.Skipped = append(report.Skipped, legacy.ID)
		return
	}

	res, err := e.resolver.Resolve(ctx, cand)
	if err != nil {
		e.logger.Warn("legacy device did not resolve, left unmigrated",
			"legacy_id", legacy.ID, "ip", legacy.IP, "error", err)
		report.Skipped = append(report.Skipped, legacy.ID)
		return
	}

	confidence, ok := e.grade(legacy, res.Record)
	if !ok {
		e.logger.Warn("legacy record contradicts resolved device, left unmigrated",
			"legacy_id", legacy.ID, "device_id", res.Record.ID)
		report.Skipped = append(report.Skipped, legacy.ID)
		return
	}

	now := time.Now().UTC()
	if err := e.repo.MarkMigrated(ctx, legacy.ID, res.Record.ID, confidence, now); err != nil {
		e.logger.Error("persisting migration link failed",
			"legacy_id", legacy.ID, "device_id", res.Record.ID, "error", err)
		report.Skipped = append(report.Skipped, legacy.ID)
		return
	}

	report.Migrated = append(report.Migrated, Record{
		ID:         uuid.NewString(),
		LegacyID:   legacy.ID,
		DeviceID:   res.Record.ID,
		Confidence: confidence,
		MigratedAt: now,
	})

	if legacy.PortCount != 0 && legacy.PortCount != res.Record.PortCount {
		report.Cleanup = append(report.Cleanup, CleanupInstruction{
			LegacyID:        legacy.ID,
			DeviceID:        res.Record.ID,
			StoredPortCount: legacy.PortCount,
			ActualPortCount: res.Record.PortCount,
			Detail: fmt.Sprintf("configured as %d-port but device reports %d ports",
				legacy.PortCount, res.Record.PortCount),
		})
	}

	e.logger.Info("legacy record migrated",
		"legacy_id", legacy.ID, "device_id", res.Record.ID, "confidence", confidence)
}

// grade scores how strongly the legacy record is tied to the resolved
// device. Returns false when a stored identifier actively contradicts the
// resolved fingerprint; address reuse by a different unit must not produce
// a link at all.
func (e *Engine) grade(legacy LegacyRecord, rec *device.Record) (Confidence, bool) {
	legacyFP := device.NewFingerprint(legacy.Serial, legacy.MAC, "")

	if !legacyFP.Empty() {
		if legacyFP.Matches(rec.Fingerprint) {
			return ConfidenceExact, true
		}
		if !rec.Fingerprint.Empty() {
			return "", false
		}
		// The resolved device has no fingerprint to compare against;
		// fall through to topology corroboration.
	}

	// No identifier on either side: the address match stands or falls on
	// topology corroboration. A known protocol or port count that
	// contradicts the resolved device means a different unit now lives at
	// this address.
	if legacy.Protocol != "" && legacy.Protocol != rec.Protocol {
		return "", false
	}
	if legacy.PortCount != 0 {
		if legacy.PortCount != rec.PortCount {
			return "", false
		}
		return ConfidenceMedium, true
	}

	// Address-only. Best effort, surfaced loudly for operator review.
	e.logger.Warn("address-only legacy match, migrating with low confidence",
		"legacy_id", legacy.ID, "device_id", rec.ID)
	return ConfidenceLow, true
}

package api

import (
	"net/http"
	"time"

	"github.com/voltlink/voltlink-core/internal/audit"
	"github.com/voltlink/voltlink-core/internal/migration"
)

// MigratedRecord is one legacy record that was linked to a device.
type MigratedRecord struct {
	LegacyID   string `json:"legacy_id"`
	DeviceID   string `json:"device_id"`
	Confidence string `json:"confidence"`
	MigratedAt string `json:"migrated_at"`
}

// CleanupItem flags a migrated record whose stored entity shape contradicts
// the physical device. The server never deletes caller-owned entities itself.
type CleanupItem struct {
	LegacyID        string `json:"legacy_id"`
	DeviceID        string `json:"device_id"`
	StoredPortCount int    `json:"stored_port_count"`
	ActualPortCount int    `json:"actual_port_count"`
	Detail          string `json:"detail"`
}

// MigrationResponse is the outcome of one migration run.
type MigrationResponse struct {
	Migrated []MigratedRecord `json:"migrated"`
	Cleanup  []CleanupItem    `json:"cleanup"`
	Skipped  []string         `json:"skipped"`
}

// handleRunMigration re-runs the legacy record import on demand. Records
// whose device did not answer stay pending and are retried next run.
func (s *Server) handleRunMigration(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RunMigration(r.Context())
	if err != nil {
		s.logger.Warn("migration run failed", "error", err)
		writeInternalError(w, "migration run failed")
		return
	}

	s.recordAudit(r, audit.ActionMigration, "", map[string]any{
		"migrated": len(report.Migrated),
		"skipped":  len(report.Skipped),
		"cleanup":  len(report.Cleanup),
	})

	writeJSON(w, http.StatusOK, migrationResponse(report))
}

func migrationResponse(report *migration.Report) MigrationResponse {
	resp := MigrationResponse{
		Migrated: make([]MigratedRecord, 0, len(report.Migrated)),
		Cleanup:  make([]CleanupItem, 0, len(report.Cleanup)),
		Skipped:  report.Skipped,
	}
	for _, rec := range report.Migrated {
		resp.Migrated = append(resp.Migrated, MigratedRecord{
			LegacyID:   rec.LegacyID,
			DeviceID:   rec.DeviceID,
			Confidence: string(rec.Confidence),
			MigratedAt: rec.MigratedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, instr := range report.Cleanup {
		resp.Cleanup = append(resp.Cleanup, CleanupItem{
			LegacyID:        instr.LegacyID,
			DeviceID:        instr.DeviceID,
			StoredPortCount: instr.StoredPortCount,
			ActualPortCount: instr.ActualPortCount,
			Detail:          instr.Detail,
		})
	}
	if resp.Skipped == nil {
		resp.Skipped = []string{}
	}
	return resp
}

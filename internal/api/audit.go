package api

import (
	"net/http"
	"strconv"

	"github.com/voltlink/voltlink-core/internal/audit"
)

// recordAudit persists an audit entry for a mutating request. Failures
// are logged and swallowed; the audit trail never blocks the response.
func (s *Server) recordAudit(r *http.Request, action, deviceID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:   action,
		DeviceID: deviceID,
		Source:   "api",
		Details:  details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("failed to record audit entry",
			"action", action,
			"device_id", deviceID,
			"error", err,
		)
	}
}

// handleListAudit returns the audit trail, filtered by query parameters:
//
//	GET /api/v1/audit?action=set_port&device_id=sn-abc&limit=50&offset=0
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

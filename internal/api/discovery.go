package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/voltlink/voltlink-core/internal/audit"
	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/identity"
)

// DiscoveredDevice is one resolved discovery answer.
type DiscoveredDevice struct {
	Device  *device.Record `json:"device"`
	Created bool           `json:"created"`
}

// ScanResponse is the result of a discovery broadcast.
type ScanResponse struct {
	Devices []DiscoveredDevice `json:"devices"`
	Count   int                `json:"count"`
}

// handleScan broadcasts a discovery probe and folds every answer into the
// registry. Blocks for the scan window; clients should allow a few seconds.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	resolutions, err := s.service.Scan(r.Context())
	if err != nil {
		s.logger.Warn("discovery scan failed", "error", err)
		writeInternalError(w, "discovery scan failed")
		return
	}

	created := 0
	for _, res := range resolutions {
		if res.Created {
			created++
		}
	}
	s.recordAudit(r, audit.ActionScan, "", map[string]any{
		"found":   len(resolutions),
		"created": created,
	})

	writeJSON(w, http.StatusOK, scanResponse(resolutions))
}

// ProbeRequest targets one address directly, for devices on subnets
// broadcasts don't reach.
type ProbeRequest struct {
	IP string `json:"ip"`
}

// handleProbe queries a single address and folds the answer into the registry.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if net.ParseIP(req.IP) == nil {
		writeBadRequest(w, "ip must be a valid IP address")
		return
	}

	res, err := s.service.Probe(r.Context(), req.IP)
	if err != nil {
		if errors.Is(err, discovery.ErrNotFound) {
			writeNotFound(w, "no device answered at "+req.IP)
			return
		}
		if errors.Is(err, identity.ErrUnresolved) {
			writeConflict(w, "device answered but could not be resolved")
			return
		}
		writeInternalError(w, "probe failed")
		return
	}

	s.recordAudit(r, audit.ActionProbe, res.Record.ID, map[string]any{
		"ip":      req.IP,
		"created": res.Created,
	})

	writeJSON(w, http.StatusOK, DiscoveredDevice{
		Device:  res.Record,
		Created: res.Created,
	})
}

func scanResponse(resolutions []identity.Resolution) ScanResponse {
	resp := ScanResponse{Devices: make([]DiscoveredDevice, 0, len(resolutions))}
	for _, res := range resolutions {
		resp.Devices = append(resp.Devices, DiscoveredDevice{
			Device:  res.Record,
			Created: res.Created,
		})
	}
	resp.Count = len(resp.Devices)
	return resp
}

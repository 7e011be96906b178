package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voltlink/voltlink-core/internal/audit"
	"github.com/voltlink/voltlink-core/internal/core"
	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/dispatch"
	"github.com/voltlink/voltlink-core/internal/poll"
)

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.Devices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.service.Device(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// StatusResponse is the live-status payload for one device.
type StatusResponse struct {
	DeviceID      string              `json:"device_id"`
	Available     bool                `json:"available"`
	Mode          string              `json:"mode"`
	LastSuccessAt string              `json:"last_success_at,omitempty"`
	Ports         []device.PortStatus `json:"ports"`
}

// handleGetStatus returns the device's latest poll snapshot. An unreachable
// device still returns its last known snapshot with available=false so UIs
// can render stale state.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.service.Status(r.Context(), id)
	available := true
	if err != nil {
		switch {
		case errors.Is(err, device.ErrNotFound):
			writeNotFound(w, "device not found")
			return
		case errors.Is(err, core.ErrUnavailable):
			available = false
		default:
			writeInternalError(w, "failed to get device status")
			return
		}
	}

	resp := StatusResponse{
		DeviceID:  id,
		Available: available,
		Mode:      string(snap.Mode),
		Ports:     snap.Statuses,
	}
	if !snap.LastSuccessAt.IsZero() {
		resp.LastSuccessAt = snap.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	if resp.Ports == nil {
		resp.Ports = []device.PortStatus{}
	}
	if resp.Mode == "" {
		resp.Mode = string(poll.ModeDegraded)
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetPortRequest is the body for PUT /devices/{id}/ports/{port}.
type SetPortRequest struct {
	On bool `json:"on"`
}

// SetPortResponse reports how the switch command ended.
type SetPortResponse struct {
	DeviceID string `json:"device_id"`
	Port     int    `json:"port"`
	On       bool   `json:"on"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
}

// handleSetPort switches one port on or off. Port 0 means all ports.
func (s *Server) handleSetPort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeBadRequest(w, "port must be an integer")
		return
	}

	var req SetPortRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.service.SetPort(r.Context(), id, port, req.On)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		if errors.Is(err, device.ErrInvalidPort) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to switch port")
		return
	}

	resp := SetPortResponse{
		DeviceID: id,
		Port:     port,
		On:       req.On,
		Outcome:  string(res.Outcome),
		Attempts: res.Attempts,
	}

	s.recordAudit(r, audit.ActionSetPort, id, map[string]any{
		"port":     port,
		"on":       req.On,
		"outcome":  string(res.Outcome),
		"attempts": res.Attempts,
	})

	switch res.Outcome {
	case dispatch.OutcomeOK:
		writeJSON(w, http.StatusOK, resp)
	case dispatch.OutcomeRejected:
		writeConflict(w, "device rejected the command")
	case dispatch.OutcomeUnreachable:
		writeUnreachable(w, "device did not answer")
	default:
		writeInternalError(w, "unexpected dispatch outcome")
	}
}

// IdentifyResponse carries the hardware identifiers a device reports.
type IdentifyResponse struct {
	DeviceID   string `json:"device_id"`
	Serial     string `json:"serial,omitempty"`
	MAC        string `json:"mac,omitempty"`
	HardwareID string `json:"hardware_id,omitempty"`
}

// handleIdentify asks the device for its hardware identifiers on demand.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ids, err := s.service.Identify(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeUnreachable(w, "device did not answer identify")
		return
	}

	writeJSON(w, http.StatusOK, IdentifyResponse{
		DeviceID:   id,
		Serial:     ids.Serial,
		MAC:        ids.MAC,
		HardwareID: ids.HardwareID,
	})
}

// RenameRequest is the body for PATCH /devices/{id}. Zero values leave the
// corresponding field untouched.
type RenameRequest struct {
	Name      string   `json:"name"`
	PortNames []string `json:"port_names"`
}

// handleRenameDevice updates a device's display name and port names.
func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.service.Rename(r.Context(), id, req.Name, req.PortNames)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		if errors.Is(err, device.ErrInvalidPort) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	s.recordAudit(r, audit.ActionRename, id, map[string]any{
		"name":       req.Name,
		"port_names": req.PortNames,
	})

	writeJSON(w, http.StatusOK, rec)
}

// handleForgetDevice stops polling a device and removes it from the registry.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.service.Forget(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to forget device")
		return
	}

	s.recordAudit(r, audit.ActionForget, id, nil)

	w.WriteHeader(http.StatusNoContent)
}

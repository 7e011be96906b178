package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/voltlink/voltlink-core/internal/audit"
)

// mockAuditRepo records Create calls and serves canned List results.
type mockAuditRepo struct {
	entries    []audit.Entry
	lastFilter audit.Filter
	listErr    error
}

func (m *mockAuditRepo) Create(_ context.Context, entry *audit.Entry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &audit.ListResult{
		Entries: m.entries,
		Total:   len(m.entries),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func newTestServerWithAudit(t *testing.T) (*Server, *mockService, *mockAuditRepo) {
	t.Helper()
	srv, svc := newTestServer(t)
	repo := &mockAuditRepo{}
	srv.audit = repo
	return srv, svc, repo
}

func TestListAudit(t *testing.T) {
	srv, _, repo := newTestServerWithAudit(t)
	repo.entries = []audit.Entry{
		{ID: "aud-1", Action: audit.ActionSetPort, DeviceID: "sn-swp6340001234", Source: "api"},
		{ID: "aud-2", Action: audit.ActionForget, DeviceID: "sn-swp6340001234", Source: "api"},
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/audit?action=set_port&device_id=sn-swp6340001234&limit=10&offset=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if repo.lastFilter.Action != audit.ActionSetPort {
		t.Errorf("filter action = %q, want %q", repo.lastFilter.Action, audit.ActionSetPort)
	}
	if repo.lastFilter.DeviceID != "sn-swp6340001234" {
		t.Errorf("filter device_id = %q", repo.lastFilter.DeviceID)
	}
	if repo.lastFilter.Limit != 10 || repo.lastFilter.Offset != 5 {
		t.Errorf("filter limit/offset = %d/%d, want 10/5", repo.lastFilter.Limit, repo.lastFilter.Offset)
	}

	result := decodeBody[audit.ListResult](t, rec)
	if result.Total != 2 {
		t.Errorf("total = %d, want 2", result.Total)
	}
}

func TestListAuditBadLimit(t *testing.T) {
	srv, _, _ := newTestServerWithAudit(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/audit?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListAuditNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t) // no audit repository

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/audit", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSetPortRecordsAudit(t *testing.T) {
	srv, svc, repo := newTestServerWithAudit(t)
	svc.devices["sn-swp6340001234"] = testRecord()

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/devices/sn-swp6340001234/ports/3", SetPortRequest{On: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Action != audit.ActionSetPort {
		t.Errorf("action = %q, want %q", entry.Action, audit.ActionSetPort)
	}
	if entry.DeviceID != "sn-swp6340001234" {
		t.Errorf("device_id = %q", entry.DeviceID)
	}
	if entry.Source != "api" {
		t.Errorf("source = %q, want api", entry.Source)
	}
	if on, ok := entry.Details["on"].(bool); !ok || !on {
		t.Errorf("details.on = %v, want true", entry.Details["on"])
	}
}

func TestForgetRecordsAudit(t *testing.T) {
	srv, svc, repo := newTestServerWithAudit(t)
	svc.devices["sn-swp6340001234"] = testRecord()

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/devices/sn-swp6340001234", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	if len(repo.entries) != 1 || repo.entries[0].Action != audit.ActionForget {
		t.Fatalf("expected one forget audit entry, got %+v", repo.entries)
	}
}

func TestAuditFailureDoesNotBlockRequest(t *testing.T) {
	srv, svc, _ := newTestServerWithAudit(t)
	srv.audit = failingAuditRepo{}
	svc.devices["sn-swp6340001234"] = testRecord()

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/devices/sn-swp6340001234", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

type failingAuditRepo struct{}

func (failingAuditRepo) Create(context.Context, *audit.Entry) error {
	return context.DeadlineExceeded
}

func (failingAuditRepo) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return nil, context.DeadlineExceeded
}

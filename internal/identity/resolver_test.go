package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/dispatch"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// memRepository is an in-memory device.Repository.
type memRepository struct {
	mu      sync.Mutex
	records map[string]*device.Record
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]*device.Record)}
}

func (m *memRepository) GetByID(_ context.Context, id string) (*device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memRepository) List(context.Context) ([]device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec.Clone())
	}
	return out, nil
}

func (m *memRepository) Create(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return device.ErrExists
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memRepository) Update(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return device.ErrNotFound
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memRepository) UpdateIP(_ context.Context, id, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return device.ErrNotFound
	}
	rec.IP = ip
	return nil
}

func (m *memRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return device.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// mockDispatcher answers identify and query calls from canned results.
type mockDispatcher struct {
	identifyResult dispatch.Result
	queryResult    dispatch.Result
	identifyCalls  int
	queryCalls     int
	invalidated    []string
}

func (m *mockDispatcher) Query(context.Context, *device.Record) dispatch.Result {
	m.queryCalls++
	return m.queryResult
}

func (m *mockDispatcher) Identify(context.Context, *device.Record) dispatch.Result {
	m.identifyCalls++
	return m.identifyResult
}

func (m *mockDispatcher) Invalidate(id string) {
	m.invalidated = append(m.invalidated, id)
}

func unreachableResult() dispatch.Result {
	return dispatch.Result{Outcome: dispatch.OutcomeUnreachable, Err: errors.New("boom")}
}

func newTestResolver(t *testing.T, disp Dispatcher, seed ...*device.Record) (*Resolver, *device.Registry) {
	t.Helper()

	repo := newMemRepository()
	for _, rec := range seed {
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("seeding record: %v", err)
		}
	}
	registry := device.NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refreshing cache: %v", err)
	}
	return New(registry, disp), registry
}

func TestResolveCreatesRecordFromFullAnnouncement(t *testing.T) {
	disp := &mockDispatcher{identifyResult: unreachableResult()}
	resolver, _ := newTestResolver(t, disp)

	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:              "192.168.1.10",
		Protocol:        device.ProtocolUDPV3,
		Serial:          "SWP6340009999",
		MAC:             "AA:BB:CC:00:00:01",
		Name:            "rack strip",
		FirmwareVersion: "3.14",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Created {
		t.Error("Created = false, want true")
	}
	if res.Record.ID != "sn-swp6340009999" {
		t.Errorf("ID = %q, want serial-derived", res.Record.ID)
	}
	if res.Record.PortCount != device.PortCountStrip {
		t.Errorf("PortCount = %d, want %d (from serial)", res.Record.PortCount, device.PortCountStrip)
	}
}

func TestResolveMatchesExistingByFingerprint(t *testing.T) {
	existing := &device.Record{
		ID:          "sn-swp6340009999",
		IP:          "192.168.1.10",
		Protocol:    device.ProtocolUDPV3,
		PortCount:   device.PortCountStrip,
		Fingerprint: device.NewFingerprint("SWP6340009999", "aa:bb:cc:00:00:01", ""),
	}
	disp := &mockDispatcher{identifyResult: unreachableResult()}
	resolver, registry := newTestResolver(t, disp, existing)

	// Same unit, new address.
	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.23",
		Protocol: device.ProtocolUDPV3,
		Serial:   "SWP6340009999",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Created {
		t.Error("Created = true, want match to existing record")
	}
	if res.Record.ID != existing.ID {
		t.Errorf("ID = %q, want %q (identity stable across readdressing)", res.Record.ID, existing.ID)
	}

	updated, err := registry.Get(context.Background(), existing.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.IP != "192.168.1.23" {
		t.Errorf("IP = %q, want updated to 192.168.1.23", updated.IP)
	}
}

func TestResolveEnrichesViaCapabilityQuery(t *testing.T) {
	disp := &mockDispatcher{
		identifyResult: dispatch.Result{
			Outcome: dispatch.OutcomeOK,
			IDs: protocol.HardwareIDs{
				Serial:     "SWP1040001111",
				MAC:        "AA:BB:CC:00:00:02",
				HardwareID: "cpu-0001",
			},
		},
	}
	resolver, _ := newTestResolver(t, disp)

	// Broadcast announcement carried no identity beyond the name.
	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.11",
		Protocol: device.ProtocolHTTP,
		Name:     "desk plug",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if disp.identifyCalls != 1 {
		t.Errorf("identify calls = %d, want 1", disp.identifyCalls)
	}
	if res.Record.ID != "sn-swp1040001111" {
		t.Errorf("ID = %q, want serial from capability query", res.Record.ID)
	}
	if res.Record.Fingerprint.HardwareID != "cpu-0001" {
		t.Errorf("HardwareID = %q", res.Record.Fingerprint.HardwareID)
	}
	// Probe sessions must not accumulate in the dispatcher.
	if len(disp.invalidated) == 0 {
		t.Error("probe session never invalidated")
	}
}

func TestResolveFallbackIDWhenNoIdentity(t *testing.T) {
	disp := &mockDispatcher{
		identifyResult: unreachableResult(),
		queryResult: dispatch.Result{
			Outcome: dispatch.OutcomeOK,
			Statuses: []device.PortStatus{
				{Port: 1, On: false, PowerMilliwatts: 0},
			},
		},
	}
	resolver, _ := newTestResolver(t, disp)

	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.12",
		Protocol: device.ProtocolHTTP,
		Name:     "mystery plug",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.HasPrefix(res.Record.ID, "dev-") {
		t.Errorf("ID = %q, want fallback id", res.Record.ID)
	}
	if !res.Record.Fingerprint.Empty() {
		t.Errorf("Fingerprint = %+v, want empty", res.Record.Fingerprint)
	}
	if res.Record.PortCount != 1 {
		t.Errorf("PortCount = %d, want 1 (from live query)", res.Record.PortCount)
	}
}

func TestResolveUnresolvedWhenNoTopologySignal(t *testing.T) {
	disp := &mockDispatcher{
		identifyResult: unreachableResult(),
		queryResult:    unreachableResult(),
	}
	resolver, _ := newTestResolver(t, disp)

	_, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.13",
		Protocol: device.ProtocolHTTP,
		Name:     "ghost",
	})
	if !errors.Is(err, ErrUnresolved) {
		t.Errorf("Resolve() error = %v, want ErrUnresolved", err)
	}
}

func TestResolveClaimsLegacyRecordByAddress(t *testing.T) {
	legacy := &device.Record{
		ID:        "dev-0123456789abcdef",
		IP:        "192.168.1.14",
		Protocol:  device.ProtocolHTTP,
		PortCount: device.PortCountStrip,
	}
	disp := &mockDispatcher{identifyResult: unreachableResult()}
	resolver, registry := newTestResolver(t, disp, legacy)

	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.14",
		Protocol: device.ProtocolHTTP,
		Serial:   "SWP6040002222",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Created {
		t.Error("Created = true, want legacy record claimed")
	}
	if res.Record.ID != legacy.ID {
		t.Errorf("ID = %q, want %q", res.Record.ID, legacy.ID)
	}

	updated, err := registry.Get(context.Background(), legacy.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.Fingerprint.Serial != "SWP6040002222" {
		t.Errorf("Fingerprint.Serial = %q, want backfilled", updated.Fingerprint.Serial)
	}
}

func TestResolveRejectsLegacyClaimOnTopologyConflict(t *testing.T) {
	// A 6-port record at this address, but the candidate's serial encodes
	// 1 port: different physical unit, must not hijack the record.
	legacy := &device.Record{
		ID:        "dev-fedcba9876543210",
		IP:        "192.168.1.15",
		Protocol:  device.ProtocolHTTP,
		PortCount: device.PortCountStrip,
	}
	disp := &mockDispatcher{identifyResult: unreachableResult()}
	resolver, _ := newTestResolver(t, disp, legacy)

	res, err := resolver.Resolve(context.Background(), discovery.Candidate{
		IP:       "192.168.1.15",
		Protocol: device.ProtocolHTTP,
		Serial:   "SWP1040003333",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Created {
		t.Error("Created = false, want new record instead of legacy claim")
	}
	if res.Record.ID == legacy.ID {
		t.Error("legacy record hijacked by topology-conflicting candidate")
	}
}

func TestResolveIdempotent(t *testing.T) {
	disp := &mockDispatcher{identifyResult: unreachableResult()}
	resolver, registry := newTestResolver(t, disp)

	cand := discovery.Candidate{
		IP:       "192.168.1.16",
		Protocol: device.ProtocolUDPV3,
		Serial:   "SWP6340004444",
	}

	first, err := resolver.Resolve(context.Background(), cand)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := resolver.Resolve(context.Background(), cand)
	if err != nil {
		t.Fatalf("Resolve() second error = %v", err)
	}

	if !first.Created || second.Created {
		t.Errorf("Created flags = (%v, %v), want (true, false)", first.Created, second.Created)
	}
	if first.Record.ID != second.Record.ID {
		t.Errorf("IDs differ: %q vs %q", first.Record.ID, second.Record.ID)
	}
	if registry.Count() != 1 {
		t.Errorf("record count = %d, want 1", registry.Count())
	}
}

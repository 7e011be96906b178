package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// fakeAnnouncer answers discovery datagrams with a fixed set of payloads,
// all sent from one loopback socket.
func fakeAnnouncer(t *testing.T, payloads ...string) int {
	t.Helper()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, maxAnnouncementBytes)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if !strings.HasPrefix(string(buf[:n]), "00dv=all,") {
				continue
			}
			for _, p := range payloads {
				_, _ = pc.WriteTo([]byte(p), addr)
			}
		}
	}()

	_, portStr, err := net.SplitHostPort(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("splitting listener addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing listener port: %v", err)
	}
	return port
}

func newTestScanner(port int) *Scanner {
	return New(Config{
		Port:          port,
		BroadcastAddr: "127.0.0.1",
		Timeout:       250 * time.Millisecond,
		ProbeTimeout:  250 * time.Millisecond,
	})
}

func TestDiscoverClassifiesProtocols(t *testing.T) {
	port := fakeAnnouncer(t,
		`{"sn":"SWP6340009999","name":"rack strip","ver":"3.14","mac":"aa:bb:cc:00:00:01"}`,
		`{"sn":"SWP1040001111","name":"desk plug","ver":"1.30","mac":"aa:bb:cc:00:00:02"}`,
		`not json at all`,
		`{"sn":"SWP6040002222","ver":"beta"}`,
	)

	candidates, err := newTestScanner(port).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Discover() candidates = %d, want 2 (malformed and unclassifiable dropped)", len(candidates))
	}

	byProto := make(map[device.Protocol]Candidate)
	for _, c := range candidates {
		byProto[c.Protocol] = c
	}
	if c, ok := byProto[device.ProtocolUDPV3]; !ok || c.Serial != "SWP6340009999" {
		t.Errorf("v3 candidate = %+v", c)
	}
	if c, ok := byProto[device.ProtocolHTTP]; !ok || c.Serial != "SWP1040001111" {
		t.Errorf("http candidate = %+v", c)
	}
}

func TestDiscoverDeduplicatesResponses(t *testing.T) {
	// Broadcast commonly delivers the same announcement more than once.
	ann := `{"sn":"SWP6340009999","name":"rack strip","ver":"3.14"}`
	port := fakeAnnouncer(t, ann, ann, ann)

	candidates, err := newTestScanner(port).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Discover() candidates = %d, want 1 after dedup", len(candidates))
	}
}

func TestDiscoverIdempotent(t *testing.T) {
	port := fakeAnnouncer(t,
		`{"sn":"SWP6340009999","ver":"3.14"}`,
		`{"sn":"SWP1040001111","ver":"1.30"}`,
	)
	s := newTestScanner(port)

	first, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	second, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("candidate counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].IP != second[i].IP || first[i].Protocol != second[i].Protocol || first[i].Serial != second[i].Serial {
			t.Errorf("candidate %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDiscoverEmptyNetwork(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	defer pc.Close() //nolint:errcheck // test cleanup
	_, portStr, _ := net.SplitHostPort(pc.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	candidates, err := newTestScanner(port).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Discover() candidates = %d, want 0", len(candidates))
	}
}

func TestDiscoverCancelledMidWindow(t *testing.T) {
	port := fakeAnnouncer(t, `{"sn":"SWP6340009999","ver":"3.14"}`)

	// A long window; cancellation must cut it short, not wait it out.
	s := New(Config{
		Port:          port,
		BroadcastAddr: "127.0.0.1",
		Timeout:       10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	candidates, err := s.Discover(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Discover() returned after %v, cancellation should end the window promptly", elapsed)
	}
	if len(candidates) != 1 {
		t.Errorf("Discover() candidates = %d, want 1 collected before cancellation", len(candidates))
	}
}

func TestProbeUnicast(t *testing.T) {
	port := fakeAnnouncer(t, `{"sn":"SWP6340009999","name":"rack strip","ver":"3.14","mac":"aa:bb:cc:00:00:01"}`)

	cand, err := newTestScanner(port).Probe(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if cand.Protocol != device.ProtocolUDPV3 {
		t.Errorf("Protocol = %q, want %q", cand.Protocol, device.ProtocolUDPV3)
	}
	if cand.Serial != "SWP6340009999" {
		t.Errorf("Serial = %q", cand.Serial)
	}
}

func TestProbeFallsBackToHTTP(t *testing.T) {
	// No UDP listener; the legacy HTTP capability query must answer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cmd"); got != "124" {
			t.Errorf("cmd = %q, want 124", got)
		}
		_, _ = w.Write([]byte(`{"response":124,"code":200,"data":{"sn":"SWP1040001111","mac":"AA:BB:CC:00:00:02"}}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(u.Host)
	httpPort, _ := strconv.Atoi(portStr)

	s := New(Config{
		Port:          1, // no UDP listener here
		BroadcastAddr: "127.0.0.1",
		Timeout:       100 * time.Millisecond,
		ProbeTimeout:  100 * time.Millisecond,
		Transport:     protocol.Config{HTTPPort: httpPort},
	})

	cand, err := s.Probe(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if cand.Protocol != device.ProtocolHTTP {
		t.Errorf("Protocol = %q, want %q", cand.Protocol, device.ProtocolHTTP)
	}
	if cand.Serial != "SWP1040001111" {
		t.Errorf("Serial = %q", cand.Serial)
	}
}

func TestProbeNotFound(t *testing.T) {
	s := New(Config{
		Port:          1,
		BroadcastAddr: "127.0.0.1",
		Timeout:       100 * time.Millisecond,
		ProbeTimeout:  100 * time.Millisecond,
		Transport:     protocol.Config{HTTPPort: 1},
	})

	_, err := s.Probe(context.Background(), "127.0.0.1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Probe() error = %v, want ErrNotFound", err)
	}
}

func TestClassifyProtocol(t *testing.T) {
	tests := []struct {
		version string
		want    device.Protocol
		ok      bool
	}{
		{"3.14", device.ProtocolUDPV3, true},
		{"5.0", device.ProtocolUDPV3, true},
		{"v3.0", device.ProtocolUDPV3, true},
		{"2.11", device.ProtocolHTTP, true},
		{"1.30", device.ProtocolHTTP, true},
		{"", device.ProtocolHTTP, true}, // pre-version firmware is always legacy
		{"beta", "", false},
		{"x.y", "", false},
	}

	for _, tt := range tests {
		got, ok := classifyProtocol(tt.version)
		if ok != tt.ok || got != tt.want {
			t.Errorf("classifyProtocol(%q) = (%q, %v), want (%q, %v)", tt.version, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCandidateFingerprint(t *testing.T) {
	cand := Candidate{Serial: "SWP6340009999", MAC: "AA:BB:CC:00:00:01"}
	fp := cand.Fingerprint()
	if fp.Serial != "SWP6340009999" {
		t.Errorf("Serial = %q", fp.Serial)
	}
	if fp.MAC != "aa:bb:cc:00:00:01" {
		t.Errorf("MAC = %q, want normalised lower-case", fp.MAC)
	}
	if fp.Empty() {
		t.Error("Empty() = true for populated fingerprint")
	}
}

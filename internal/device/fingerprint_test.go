package device

import (
	"strings"
	"testing"
)

func TestNewFingerprintNormalisesMAC(t *testing.T) {
	tests := []struct {
		name string
		mac  string
		want string
	}{
		{"colon separated", "AA:BB:CC:DD:EE:FF", "aabbccddeeff"},
		{"dash separated", "aa-bb-cc-dd-ee-ff", "aabbccddeeff"},
		{"dot separated", "aabb.ccdd.eeff", "aabbccddeeff"},
		{"already normalised", "aabbccddeeff", "aabbccddeeff"},
		{"empty", "", ""},
		{"whitespace", "  AA:BB:CC:DD:EE:FF  ", "aabbccddeeff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := NewFingerprint("", tt.mac, "")
			if fp.MAC != tt.want {
				t.Errorf("NewFingerprint mac = %q, want %q", fp.MAC, tt.want)
			}
		})
	}
}

func TestFingerprintMatches(t *testing.T) {
	tests := []struct {
		name string
		a, b Fingerprint
		want bool
	}{
		{
			name: "all fields equal",
			a:    Fingerprint{Serial: "SWP6040001", MAC: "aabbcc", HardwareID: "cpu01"},
			b:    Fingerprint{Serial: "SWP6040001", MAC: "aabbcc", HardwareID: "cpu01"},
			want: true,
		},
		{
			name: "serial only on both sides",
			a:    Fingerprint{Serial: "SWP6040001"},
			b:    Fingerprint{Serial: "SWP6040001", MAC: "aabbcc"},
			want: true,
		},
		{
			name: "different available sets, shared field agrees",
			a:    Fingerprint{Serial: "SWP6040001", MAC: "aabbcc"},
			b:    Fingerprint{MAC: "aabbcc", HardwareID: "cpu01"},
			want: true,
		},
		{
			name: "shared field disagrees",
			a:    Fingerprint{Serial: "SWP6040001", MAC: "aabbcc"},
			b:    Fingerprint{Serial: "SWP6040002", MAC: "aabbcc"},
			want: false,
		},
		{
			name: "no field in common",
			a:    Fingerprint{Serial: "SWP6040001"},
			b:    Fingerprint{MAC: "aabbcc"},
			want: false,
		},
		{
			name: "both empty",
			a:    Fingerprint{},
			b:    Fingerprint{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Matches(tt.b); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
			// Matching must be symmetric
			if got := tt.b.Matches(tt.a); got != tt.want {
				t.Errorf("Matches() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprintDeviceIDPriority(t *testing.T) {
	tests := []struct {
		name string
		fp   Fingerprint
		want string
	}{
		{
			name: "serial wins over mac and hardware id",
			fp:   Fingerprint{Serial: "SWP6040001", MAC: "aabbcc", HardwareID: "cpu01"},
			want: "sn-swp6040001",
		},
		{
			name: "mac wins over hardware id",
			fp:   Fingerprint{MAC: "aabbcc", HardwareID: "cpu01"},
			want: "mac-aabbcc",
		},
		{
			name: "hardware id alone",
			fp:   Fingerprint{HardwareID: "CPU01"},
			want: "hw-cpu01",
		},
		{
			name: "empty fingerprint",
			fp:   Fingerprint{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fp.DeviceID(); got != tt.want {
				t.Errorf("DeviceID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewFallbackIDIsUnique(t *testing.T) {
	a := NewFallbackID()
	b := NewFallbackID()

	if a == b {
		t.Errorf("NewFallbackID() returned duplicate %q", a)
	}
	if !strings.HasPrefix(a, "dev-") {
		t.Errorf("NewFallbackID() = %q, want dev- prefix", a)
	}
}

func TestPortCountFromSerial(t *testing.T) {
	tests := []struct {
		serial string
		want   int
	}{
		{"SWP6040001234", 6},
		{"SWP1040009876", 1},
		{"SWP", 0},
		{"", 0},
		{"SWP9040001234", 0},
	}

	for _, tt := range tests {
		if got := PortCountFromSerial(tt.serial); got != tt.want {
			t.Errorf("PortCountFromSerial(%q) = %d, want %d", tt.serial, got, tt.want)
		}
	}
}

func TestNormalisePort(t *testing.T) {
	tests := []struct {
		name      string
		portCount int
		port      int
		want      int
		wantOK    bool
	}{
		{"all ports on strip stays zero", 6, 0, 0, true},
		{"all ports on plug becomes port one", 1, 0, 1, true},
		{"port one on plug", 1, 1, 1, true},
		{"port two on plug rejected", 1, 2, 0, false},
		{"port six on strip", 6, 6, 6, true},
		{"port seven on strip rejected", 6, 7, 0, false},
		{"negative port rejected", 6, -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalisePort(tt.portCount, tt.port)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalisePort(%d, %d) = (%d, %v), want (%d, %v)",
					tt.portCount, tt.port, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

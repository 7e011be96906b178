package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// ErrNotFound is returned by Probe when no device answers at the address.
var ErrNotFound = errors.New("discovery: device not found")

// Default scanner settings.
const (
	DefaultPort          = 8888
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultTimeout       = 3 * time.Second
	DefaultProbeTimeout  = 2 * time.Second
)

// maxAnnouncementBytes bounds one discovery response datagram.
const maxAnnouncementBytes = 4 << 10

// Logger is the minimal logging interface the scanner needs.
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

// Config holds scanner settings.
type Config struct {
	// Port is the device discovery port. Default 8888.
	Port int

	// BroadcastAddr is the broadcast destination. Default 255.255.255.255.
	BroadcastAddr string

	// Timeout is the broadcast collection window. Default 3s.
	Timeout time.Duration

	// ProbeTimeout bounds each step of a unicast probe. Default 2s.
	ProbeTimeout time.Duration

	// Transport configures the HTTP fallback probe.
	Transport protocol.Config
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = DefaultBroadcastAddr
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Scanner performs broadcast discovery and unicast probes.
// Safe for concurrent use; each call opens its own socket.
type Scanner struct {
	cfg    Config
	logger Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	return &Scanner{
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
	}
}

// SetLogger installs a logger. Call before first use.
func (s *Scanner) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// probePayload builds the discovery datagram. Devices require the sender's
// wall-clock time in the request; they echo nothing from it.
func probePayload(now time.Time) []byte {
	return []byte("00dv=all," + now.Format("2006-01-02,15:04:05") + ";")
}

// Discover broadcasts a probe and collects announcements until the window
// elapses. Duplicate responses from the same device are deduplicated by
// IP and protocol, so repeated scans over a stable network return the same
// candidate set. Candidates are sorted by IP.
func (s *Scanner) Discover(ctx context.Context) ([]Candidate, error) {
	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery: opening socket: %w", err)
	}
	defer pc.Close() //nolint:errcheck // socket teardown

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.cfg.BroadcastAddr, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("discovery: resolving broadcast address: %w", err)
	}

	if _, err := pc.WriteTo(probePayload(time.Now()), dest); err != nil {
		return nil, fmt.Errorf("discovery: sending probe: %w", err)
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("discovery: setting deadline: %w", err)
	}

	// Closing the socket unblocks a ReadFrom mid-window, so cancellation
	// takes effect immediately rather than at the next packet.
	stop := context.AfterFunc(ctx, func() { pc.Close() }) //nolint:errcheck // socket teardown
	defer stop()

	seen := make(map[string]Candidate)
	buf := make([]byte, maxAnnouncementBytes)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			// Cancellation or deadline expiry ends the collection window;
			// anything already collected is still returned.
			if ctx.Err() != nil {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return nil, fmt.Errorf("discovery: reading responses: %w", err)
		}

		ip, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}

		cand, ok := parseAnnouncement(buf[:n], ip)
		if !ok {
			s.logger.Debug("dropping unparseable discovery response", "from", ip)
			continue
		}

		key := cand.IP + "/" + string(cand.Protocol)
		if _, dup := seen[key]; !dup {
			seen[key] = cand
		}
	}

	candidates := make([]Candidate, 0, len(seen))
	for _, cand := range seen {
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].IP < candidates[j].IP })

	s.logger.Info("discovery scan complete", "candidates", len(candidates))
	return candidates, nil
}

// Probe targets a single address directly, for manual entry of devices a
// broadcast cannot reach. The discovery datagram is tried unicast first
// (answered by V3-capable and most legacy firmware alike), then a legacy
// HTTP capability query. Returns ErrNotFound when neither path answers.
func (s *Scanner) Probe(ctx context.Context, ip string) (Candidate, error) {
	if cand, ok := s.probeUnicast(ctx, ip); ok {
		return cand, nil
	}

	cand, ok := s.probeHTTP(ctx, ip)
	if !ok {
		return Candidate{}, fmt.Errorf("%w: %s", ErrNotFound, ip)
	}
	return cand, nil
}

// probeUnicast sends the discovery datagram straight to the target.
func (s *Scanner) probeUnicast(ctx context.Context, ip string) (Candidate, bool) {
	conn, err := net.Dial("udp4", net.JoinHostPort(ip, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return Candidate{}, false
	}
	defer conn.Close() //nolint:errcheck // socket teardown

	deadline := time.Now().Add(s.cfg.ProbeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Candidate{}, false
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() }) //nolint:errcheck // socket teardown
	defer stop()

	if _, err := conn.Write(probePayload(time.Now())); err != nil {
		return Candidate{}, false
	}

	buf := make([]byte, maxAnnouncementBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return Candidate{}, false
	}

	return parseAnnouncement(buf[:n], ip)
}

// probeHTTP issues a capability query over legacy HTTP. Devices old enough
// to ignore the unicast discovery datagram still answer this.
func (s *Scanner) probeHTTP(ctx context.Context, ip string) (Candidate, bool) {
	cfg := s.cfg.Transport
	if cfg.Timeout == 0 {
		cfg.Timeout = s.cfg.ProbeTimeout
	}

	drv, err := protocol.New(device.ProtocolHTTP, ip, "", cfg)
	if err != nil {
		return Candidate{}, false
	}
	defer drv.Close() //nolint:errcheck // session teardown

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	ids, err := drv.Identify(ctx)
	if err != nil {
		s.logger.Debug("http probe failed", "ip", ip, "error", err)
		return Candidate{}, false
	}

	return Candidate{
		IP:         ip,
		Protocol:   device.ProtocolHTTP,
		Serial:     ids.Serial,
		MAC:        ids.MAC,
		HardwareID: ids.HardwareID,
	}, true
}

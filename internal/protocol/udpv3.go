package protocol

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
)

// maxDatagramBytes is the receive buffer size for V3 responses. The protocol
// is single-packet; device payloads fit comfortably.
const maxDatagramBytes = 8 << 10

// udpDriver speaks the UDP V3 protocol: one JSON request packet, one JSON
// response packet, addressed by serial number. The connected UDP socket is
// the reused session.
type udpDriver struct {
	serial  string
	timeout time.Duration
	conn    net.Conn
}

func newUDPDriver(ip, serial string, cfg Config) (*udpDriver, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(ip, strconv.Itoa(cfg.UDPPort)))
	if err != nil {
		return nil, newError("dial", classifyNetError(err), err)
	}
	return &udpDriver{
		serial:  serial,
		timeout: cfg.Timeout,
		conn:    conn,
	}, nil
}

// v3Request is the request packet shape. Port/State are pointers so that
// query and identify packets omit them entirely.
type v3Request struct {
	Serial string `json:"sn"`
	Cmd    int    `json:"cmd"`
	Port   *int   `json:"port,omitempty"`
	State  *int   `json:"state,omitempty"`
}

// Query fetches the full port status snapshot.
func (d *udpDriver) Query(ctx context.Context) ([]device.PortStatus, error) {
	const op = "query"

	env, err := d.roundTrip(ctx, op, v3Request{Serial: d.serial, Cmd: cmdQuery})
	if err != nil {
		return nil, err
	}
	return decodeStatus(op, env)
}

// SetPort switches a port on or off.
func (d *udpDriver) SetPort(ctx context.Context, port int, on bool) error {
	const op = "set_port"

	state := boolToState(on)
	_, err := d.roundTrip(ctx, op, v3Request{
		Serial: d.serial,
		Cmd:    cmdSetPort,
		Port:   &port,
		State:  &state,
	})
	return err
}

// Identify fetches the device's hardware identifiers.
func (d *udpDriver) Identify(ctx context.Context) (HardwareIDs, error) {
	const op = "identify"

	env, err := d.roundTrip(ctx, op, v3Request{Serial: d.serial, Cmd: cmdIdentify})
	if err != nil {
		return HardwareIDs{}, err
	}
	return decodeIdentify(op, env)
}

// Close releases the UDP socket.
func (d *udpDriver) Close() error {
	return d.conn.Close()
}

// roundTrip sends one request packet and waits for the matching response.
// The deadline is the earlier of the driver timeout and the context deadline.
func (d *udpDriver) roundTrip(ctx context.Context, op string, req v3Request) (*envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, newError(op, ReasonMalformed, err)
	}

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return nil, newError(op, ReasonTimeout, err)
	}

	if _, err := d.conn.Write(payload); err != nil {
		return nil, newError(op, classifyNetError(err), err)
	}

	buf := make([]byte, maxDatagramBytes)
	n, err := d.conn.Read(buf)
	if err != nil {
		return nil, newError(op, classifyNetError(err), err)
	}

	return decodeEnvelope(op, buf[:n], req.Cmd)
}

package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/voltlink/voltlink-core/internal/device"
)

// maxResponseBytes bounds HTTP response bodies. Device payloads are a few
// hundred bytes; anything larger is not a device we recognise.
const maxResponseBytes = 64 << 10

// httpDriver speaks the legacy HTTP protocol. One http.Client per device is
// the reused session; a failed call makes the dispatcher call Close(), which
// drops the idle connection, before retrying on a fresh session.
type httpDriver struct {
	baseURL string
	client  *http.Client
}

func newHTTPDriver(ip string, cfg Config) *httpDriver {
	return &httpDriver{
		baseURL: "http://" + net.JoinHostPort(ip, strconv.Itoa(cfg.HTTPPort)),
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				// One device, one connection
				MaxIdleConns:        1,
				MaxIdleConnsPerHost: 1,
			},
		},
	}
}

// Query fetches the full port status snapshot.
func (d *httpDriver) Query(ctx context.Context) ([]device.PortStatus, error) {
	const op = "query"

	env, err := d.roundTrip(ctx, op, cmdQuery, nil)
	if err != nil {
		return nil, err
	}
	return decodeStatus(op, env)
}

// SetPort switches a port on or off.
func (d *httpDriver) SetPort(ctx context.Context, port int, on bool) error {
	const op = "set_port"

	payload, err := json.Marshal(map[string]int{
		"port":  port,
		"state": boolToState(on),
	})
	if err != nil {
		return newError(op, ReasonMalformed, err)
	}

	_, err = d.roundTrip(ctx, op, cmdSetPort, payload)
	return err
}

// Identify fetches the device's hardware identifiers.
func (d *httpDriver) Identify(ctx context.Context) (HardwareIDs, error) {
	const op = "identify"

	env, err := d.roundTrip(ctx, op, cmdIdentify, nil)
	if err != nil {
		return HardwareIDs{}, err
	}
	return decodeIdentify(op, env)
}

// Close drops the idle connection held by the session.
func (d *httpDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// roundTrip issues one GET /?cmd=N[&json=payload] request and decodes the
// response envelope.
func (d *httpDriver) roundTrip(ctx context.Context, op string, cmd int, jsonArg []byte) (*envelope, error) {
	query := url.Values{}
	query.Set("cmd", strconv.Itoa(cmd))
	if jsonArg != nil {
		query.Set("json", string(jsonArg))
	}
	reqURL := d.baseURL + "/?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newError(op, ReasonMalformed, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, newError(op, classifyNetError(err), err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body, close error not actionable

	if resp.StatusCode != http.StatusOK {
		// The device HTTP stack only ever answers 200; anything else is
		// a different service living on this address.
		return nil, newError(op, ReasonProtocolMismatch,
			fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(op, classifyNetError(err), err)
	}

	return decodeEnvelope(op, body, cmd)
}

package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/voltlink/voltlink-core/internal/device"
)

// Numeric command codes shared by both protocol families.
const (
	cmdQuery    = 511
	cmdSetPort  = 200
	cmdIdentify = 124
)

// ackOK is the device-side success code in a response envelope.
const ackOK = 200

// envelope is the response wrapper both protocol families use.
// Code is only present on firmware that reports rejections explicitly;
// zero means "not reported" and is treated as success.
type envelope struct {
	Response int             `json:"response"`
	Code     int             `json:"code,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// statusData is the payload of a query response. Watt elements are kept raw
// because their encoding differs by firmware family (see normaliseWatts).
type statusData struct {
	Switch []int             `json:"switch"`
	Watt   []json.RawMessage `json:"watt"`
}

// identifyData is the payload of a capability query response.
type identifyData struct {
	Serial     string `json:"sn"`
	MAC        string `json:"mac"`
	HardwareID string `json:"hwid"`
}

// decodeEnvelope parses a response body and verifies it answers the command
// we sent. A body that parses but carries no recognisable response code is
// the signature of probing the wrong protocol family.
func decodeEnvelope(op string, body []byte, wantCmd int) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newError(op, ReasonMalformed, err)
	}
	if env.Response == 0 {
		return nil, newError(op, ReasonProtocolMismatch,
			fmt.Errorf("response carries no command echo"))
	}
	if env.Response != wantCmd {
		return nil, newError(op, ReasonMalformed,
			fmt.Errorf("response echoes command %d, want %d", env.Response, wantCmd))
	}
	if env.Code != 0 && env.Code != ackOK {
		return nil, newError(op, ReasonRejected,
			fmt.Errorf("device returned code %d", env.Code))
	}
	return &env, nil
}

// decodeStatus parses a query envelope into normalised port statuses.
func decodeStatus(op string, env *envelope) ([]device.PortStatus, error) {
	var data statusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, newError(op, ReasonMalformed, err)
	}
	if len(data.Switch) == 0 || len(data.Switch) != len(data.Watt) {
		return nil, newError(op, ReasonMalformed,
			fmt.Errorf("switch/watt length mismatch: %d vs %d", len(data.Switch), len(data.Watt)))
	}

	watts, err := normaliseWatts(data.Watt)
	if err != nil {
		return nil, newError(op, ReasonMalformed, err)
	}

	statuses := make([]device.PortStatus, len(data.Switch))
	for i, sw := range data.Switch {
		statuses[i] = device.PortStatus{
			Port:            i + 1,
			On:              sw != 0,
			PowerMilliwatts: watts[i],
		}
	}
	return statuses, nil
}

// normaliseWatts converts raw watt array elements to milliwatts.
//
// Firmware families encode power differently:
//   - old HTTP firmware: JSON strings holding decimal watts ("5.20")
//   - newer firmware (HTTP and UDP V3): JSON numbers in milliwatts
//
// The encoding is detected per element by shape, not by version string, so a
// mixed or unexpected array still normalises correctly.
func normaliseWatts(raw []json.RawMessage) ([]int64, error) {
	out := make([]int64, len(raw))
	for i, elem := range raw {
		text := strings.TrimSpace(string(elem))
		if text == "" {
			return nil, fmt.Errorf("empty watt element at index %d", i)
		}

		if text[0] == '"' {
			// Decimal watt string
			var s string
			if err := json.Unmarshal(elem, &s); err != nil {
				return nil, fmt.Errorf("watt element %d: %w", i, err)
			}
			watts, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("watt element %d: %w", i, err)
			}
			if watts < 0 {
				return nil, fmt.Errorf("watt element %d: negative power %v", i, watts)
			}
			out[i] = int64(math.Round(watts * 1000))
			continue
		}

		// Milliwatt number
		var mw float64
		if err := json.Unmarshal(elem, &mw); err != nil {
			return nil, fmt.Errorf("watt element %d: %w", i, err)
		}
		if mw < 0 {
			return nil, fmt.Errorf("watt element %d: negative power %v", i, mw)
		}
		out[i] = int64(math.Round(mw))
	}
	return out, nil
}

// decodeIdentify parses a capability query envelope into hardware IDs.
func decodeIdentify(op string, env *envelope) (HardwareIDs, error) {
	var data identifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return HardwareIDs{}, newError(op, ReasonMalformed, err)
	}
	return HardwareIDs{
		Serial:     strings.TrimSpace(data.Serial),
		MAC:        data.MAC,
		HardwareID: strings.TrimSpace(data.HardwareID),
	}, nil
}

// boolToState converts an on/off flag to the wire's 1/0 encoding.
func boolToState(on bool) int {
	if on {
		return 1
	}
	return 0
}

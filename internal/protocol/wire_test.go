package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
)

func TestNormaliseWatts(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    []int64
		wantErr bool
	}{
		{
			name: "decimal watt strings from old firmware",
			raw:  []string{`"5.20"`, `"0.00"`, `"12.5"`},
			want: []int64{5200, 0, 12500},
		},
		{
			name: "integer milliwatts from new firmware",
			raw:  []string{`5200`, `0`, `12500`},
			want: []int64{5200, 0, 12500},
		},
		{
			name: "mixed encodings normalise per element",
			raw:  []string{`"1.00"`, `1000`},
			want: []int64{1000, 1000},
		},
		{
			name:    "garbage string",
			raw:     []string{`"watts"`},
			wantErr: true,
		},
		{
			name:    "negative power",
			raw:     []string{`-5`},
			wantErr: true,
		},
		{
			name:    "empty element",
			raw:     []string{``},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]json.RawMessage, len(tt.raw))
			for i, s := range tt.raw {
				raw[i] = json.RawMessage(s)
			}

			got, err := normaliseWatts(raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normaliseWatts() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("normaliseWatts() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("normaliseWatts() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("normaliseWatts()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormaliseWattsEqualPhysicalDraw(t *testing.T) {
	// An HTTP device reporting "5.20" watts and a V3 device reporting 5200
	// milliwatts describe the same physical draw and must normalise equally.
	old, err := normaliseWatts([]json.RawMessage{json.RawMessage(`"5.20"`)})
	if err != nil {
		t.Fatalf("normaliseWatts(old) error = %v", err)
	}
	v3, err := normaliseWatts([]json.RawMessage{json.RawMessage(`5200`)})
	if err != nil {
		t.Fatalf("normaliseWatts(v3) error = %v", err)
	}
	if old[0] != v3[0] {
		t.Errorf("normalisation differs: old = %d, v3 = %d", old[0], v3[0])
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCmd    int
		wantReason Reason
	}{
		{
			name:    "valid query response",
			body:    `{"response":511,"code":200,"data":{}}`,
			wantCmd: cmdQuery,
		},
		{
			name:    "code omitted treated as success",
			body:    `{"response":511,"data":{}}`,
			wantCmd: cmdQuery,
		},
		{
			name:       "device rejection",
			body:       `{"response":200,"code":400}`,
			wantCmd:    cmdSetPort,
			wantReason: ReasonRejected,
		},
		{
			name:       "not json",
			body:       `<html>router admin page</html>`,
			wantCmd:    cmdQuery,
			wantReason: ReasonMalformed,
		},
		{
			name:       "json but no command echo",
			body:       `{"status":"ok"}`,
			wantCmd:    cmdQuery,
			wantReason: ReasonProtocolMismatch,
		},
		{
			name:       "wrong command echoed",
			body:       `{"response":124,"code":200}`,
			wantCmd:    cmdQuery,
			wantReason: ReasonMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEnvelope("query", []byte(tt.body), tt.wantCmd)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("decodeEnvelope() error = %v", err)
				}
				return
			}
			reason, ok := ReasonOf(err)
			if !ok {
				t.Fatalf("decodeEnvelope() error = %v, want protocol error", err)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	env := &envelope{
		Response: cmdQuery,
		Data:     json.RawMessage(`{"switch":[1,0,1],"watt":["5.20","0.00",1500]}`),
	}

	statuses, err := decodeStatus("query", env)
	if err != nil {
		t.Fatalf("decodeStatus() error = %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("decodeStatus() len = %d, want 3", len(statuses))
	}

	want := []struct {
		port int
		on   bool
		mw   int64
	}{
		{1, true, 5200},
		{2, false, 0},
		{3, true, 1500},
	}
	for i, w := range want {
		if statuses[i].Port != w.port || statuses[i].On != w.on || statuses[i].PowerMilliwatts != w.mw {
			t.Errorf("statuses[%d] = %+v, want {Port:%d On:%v PowerMilliwatts:%d}",
				i, statuses[i], w.port, w.on, w.mw)
		}
	}
}

func TestDecodeStatusLengthMismatch(t *testing.T) {
	env := &envelope{
		Response: cmdQuery,
		Data:     json.RawMessage(`{"switch":[1,0],"watt":[100]}`),
	}

	_, err := decodeStatus("query", env)
	reason, ok := ReasonOf(err)
	if !ok || reason != ReasonMalformed {
		t.Errorf("decodeStatus() error = %v, want malformed", err)
	}
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		reason Reason
		want   bool
	}{
		{ReasonTimeout, true},
		{ReasonConnectionRefused, true},
		{ReasonUnreachable, true},
		{ReasonMalformed, true},
		{ReasonProtocolMismatch, false},
		{ReasonRejected, false},
	}

	for _, tt := range tests {
		err := newError("query", tt.reason, nil)
		if got := Retriable(err); got != tt.want {
			t.Errorf("Retriable(%s) = %v, want %v", tt.reason, got, tt.want)
		}
	}

	if Retriable(errors.New("plain error")) {
		t.Error("Retriable(non-protocol error) = true, want false")
	}
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"context deadline", context.DeadlineExceeded, ReasonTimeout},
		{"os deadline", os.ErrDeadlineExceeded, ReasonTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutNetError{}}, ReasonTimeout},
		{"connection refused", errors.New("dial tcp 192.168.1.40:80: connect: connection refused"), ReasonConnectionRefused},
		{"no route to host", errors.New("dial tcp 192.168.9.1:80: connect: no route to host"), ReasonUnreachable},
		{"network unreachable", errors.New("dial udp 10.0.0.1:8530: connect: network is unreachable"), ReasonUnreachable},
		{"resolver failure", errors.New("lookup plug.local: no such host"), ReasonUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyNetError(tt.err); got != tt.want {
				t.Errorf("classifyNetError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

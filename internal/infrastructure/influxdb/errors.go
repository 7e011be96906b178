package influxdb

import "errors"

// Sentinel errors for telemetry operations; match with errors.Is.
var (
	// ErrNotConnected: write or health check attempted after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed: the initial ping never reached a healthy server.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled: the influxdb section of config.yaml is disabled.
	// Telemetry is optional; callers treat this as "run without it".
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

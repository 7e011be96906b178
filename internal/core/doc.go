// Package core wires the device layer together and exposes the operations
// the API surfaces call: listing devices, reading status snapshots, switching
// ports, discovery scans, and the legacy record migration.
//
// The Manager owns the run loops (periodic discovery, availability
// transitions) and fans successful poll results out to the configured sinks:
// retained MQTT state, InfluxDB power telemetry, and any registered status
// listeners (the WebSocket hub registers one).
//
// Lifecycle:
//
//	mgr := core.New(core.Options{...})
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Close()
package core

// Package logging provides VoltLink's structured logging on top of
// log/slog.
//
// Every entry carries service and version attributes; components add their
// own context with With:
//
//	log := logging.New(cfg.Logging, version)
//	pollLog := log.With("component", "poller")
//	pollLog.Info("device state changed", "device_id", rec.ID, "port", 1)
//
// Output format (json or text), level, and destination come from the
// logging section of config.yaml. Device credentials and API payloads must
// never be logged verbatim; log identifiers (device ID, IP) instead.
package logging

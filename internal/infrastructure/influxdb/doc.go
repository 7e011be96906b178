// Package influxdb stores VoltLink telemetry in InfluxDB v2: per-port
// power draw sampled on every status poll (port_power) and device
// availability transitions (availability).
//
// Writes are batched and non-blocking so the poll loop never stalls on the
// database; batch failures surface through SetOnError. Telemetry is
// optional: Connect returns ErrDisabled when the influxdb section of
// config.yaml is off, and the rest of the system runs without it.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//		return err
//	}
//	client.WritePortSample(rec.ID, 3, true, 12500)
package influxdb

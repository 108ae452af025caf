// Package ingest connects to the MQTT brokers devices publish to and turns
// their messages into sensor readings.
//
// Devices are grouped by broker endpoint (host, port, username) so that
// many devices behind one broker share a single connection. The Pool
// dials every endpoint concurrently, each attempt bounded by the broker
// type's timeout, so one unreachable broker never delays the others.
//
// Message flow:
//
//	broker ──► paho callback ──► inbox (per connection, bounded)
//	                                 │
//	                       Pool.Poll │ single goroutine
//	                                 ▼
//	              Processor.Handle: route by topic ──► Normalizer
//	                                 │
//	                                 ▼
//	              Sink: sensors (SQLite) ─┬─► history (InfluxDB)
//	                                      └─► live feed (WebSocket)
//
// The Normalizer recognises five payload dialects: plain text, LoRaWAN
// uplinks, sensor arrays, explicit {sensor_type, value} objects and flat
// key/value objects. Sensor types and units are resolved through the
// configurable tables in config.NormalizationConfig.
//
// Pool.Resync reloads the active devices and reconciles connections
// without touching endpoints whose configuration is unchanged.
package ingest

// Package sensor stores the latest reading per (device, sensor type).
//
// Sensors are created on the first reading of a new type and updated in
// place afterwards. Both the MQTT pool and the webhook bridge write
// through RecordReading, so the two ingress paths share one canonical key.
package sensor

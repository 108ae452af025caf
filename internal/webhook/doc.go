// Package webhook implements HTTP ingress for devices that cannot hold a
// broker connection.
//
// Each device gets a URL of the form
//
//	POST /api/v1/webhook/mqtt/{deviceId}?token=<hmac>
//
// where the token is derived from the device and owner IDs with a server
// secret. Accepted bodies are normalized with the same sensor-array,
// explicit and flat dialects as MQTT payloads and written through the
// shared ingest.Sink.
package webhook

// Package api implements the HTTP API and live WebSocket feed of the
// ingest service.
//
// This package provides:
//   - Webhook ingress for devices without a broker connection
//   - Read endpoints for devices, their sensors and broker connections
//   - A resync trigger for the connection pool
//   - A WebSocket hub broadcasting readings and device status changes
//   - The Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/system/metrics
//	POST /api/v1/webhook/mqtt/{deviceId}?token=...
//	GET  /api/v1/devices
//	GET  /api/v1/devices/stats
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/devices/{id}/sensors
//	GET  /api/v1/ingest/connections
//	POST /api/v1/ingest/resync
//	GET  <websocket.path>
//	GET  <metrics.path>
//
// User authentication is not handled here; deploy behind a reverse proxy
// when the read endpoints must not be public. Webhook requests carry
// their own per-device token.
package api

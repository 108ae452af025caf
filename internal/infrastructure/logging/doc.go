// Package logging provides structured logging for the ingest service.
//
// It wraps log/slog so every entry carries the service name and build
// version, with JSON output for production and text for development.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("pool").Info("connected", "endpoint", key)
//
// # Security
//
// Never log broker passwords or webhook tokens. Payloads are truncated
// before they are logged.
package logging

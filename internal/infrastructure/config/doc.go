// Package config handles loading and validating the ingest service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling, including the sensor normalization tables
//
// Security Considerations:
//   - Broker passwords live with the device records, not in this file
//   - The webhook secret should be set via GRAYLOGIC_WEBHOOK_SECRET
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Ingest.ConnectTimeout)
package config

// Package config handles loading and validating the Freebox bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FBXBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The Freebox app token is never part of the configuration; it lives in the auth store
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Freebox.Address)
package config

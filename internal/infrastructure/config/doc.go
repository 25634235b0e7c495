// Package config loads and validates hwreg daemon configuration.
//
// Configuration is resolved in three layers:
//   - Built-in defaults
//   - A YAML file (usually configs/config.yaml)
//   - HWREG_* environment variables
//
// The result is validated once at startup; nothing re-reads it at runtime.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Discovery.ParentTimeout
//
// Credentials for the MQTT broker and InfluxDB belong in the environment,
// not in the file.
package config

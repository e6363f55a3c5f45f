// Package config handles loading and validating AimX Core configuration.
//
// One YAML file serves both binaries. The gateway reads the logging, mqtt,
// knx and bindings sections; the console reads logging, mqtt, bindings and
// console.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (AIMX_ prefix)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	table, err := binding.NewTable(cfg.Bindings)
package config

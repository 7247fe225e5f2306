// Package config defines the relay service configuration.
//
// # Overview
//
// Configuration is a YAML file loaded through Load, which applies
// defaults, RELAY_* environment overrides and validation in that order:
//
//	cfg, err := config.Load("config.yaml")
//
// Validation collects every problem rather than stopping at the first;
// the returned *ValidationError lists one *FieldError per offending
// field.
//
// # Environment overrides
//
// Secrets and deploy-specific values override the file, e.g.
// RELAY_STORE_MASTER_KEY, RELAY_SERVER_LISTEN_ADDRESS and
// RELAY_SCHEDULER_STRATEGY.
//
// # Hot reload
//
// NewWatcher watches the config file through fsnotify and invokes a
// callback with each successfully reloaded configuration. A file change
// that fails to load or validate keeps the previous configuration in
// effect.
package config

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file at the specified path.
// It applies default values, applies environment variable overrides,
// validates the result, and returns any errors.
//
// Environment variables use the RELAY_SECTION_FIELD convention
// (e.g. RELAY_SERVER_LISTEN_ADDRESS) and take precedence over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and usage
// recording and metrics enabled. It backs deployments without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.Usage.Enabled = true
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_SERVER_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("RELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RELAY_STORE_MASTER_KEY"); v != "" {
		cfg.Store.MasterKey = v
	}
	if v := os.Getenv("RELAY_SCHEDULER_STRATEGY"); v != "" {
		cfg.Scheduler.Strategy = v
	}
	if v := os.Getenv("RELAY_RELAY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Relay.MaxAttempts = n
		}
	}
	if v := os.Getenv("RELAY_TOKEN_REFRESH_MARGIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Token.RefreshMargin = d
		}
	}
	if v := os.Getenv("RELAY_LOGGING_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
	if v := os.Getenv("RELAY_UPSTREAM_CLAUDE_BASE_URL"); v != "" {
		cfg.Upstream.Claude.BaseURL = v
	}
	if v := os.Getenv("RELAY_UPSTREAM_OPENAI_BASE_URL"); v != "" {
		cfg.Upstream.OpenAI.BaseURL = v
	}
}

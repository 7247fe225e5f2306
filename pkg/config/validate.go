package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "store.path", Message: "path is required"})
	}
	if cfg.MasterKey == "" {
		errs = append(errs, FieldError{
			Field:   "store.master_key",
			Message: "master key is required (set store.master_key or RELAY_STORE_MASTER_KEY)",
		})
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		errs = append(errs, FieldError{
			Field:   "store.max_idle_conns",
			Message: "must not exceed max_open_conns",
		})
	}
	return errs
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError
	switch cfg.Strategy {
	case "round-robin", "least-recent":
	default:
		errs = append(errs, FieldError{
			Field:   "scheduler.strategy",
			Message: fmt.Sprintf("unknown strategy %q (must be one of: round-robin, least-recent)", cfg.Strategy),
		})
	}
	if cfg.DefaultCooldown < 0 {
		errs = append(errs, FieldError{Field: "scheduler.default_cooldown", Message: "must not be negative"})
	}
	return errs
}

func validateRelay(cfg *RelayConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "relay.max_attempts", Message: "must be at least 1"})
	}
	if cfg.MaxBodyBytes < 1 {
		errs = append(errs, FieldError{Field: "relay.max_body_bytes", Message: "must be positive"})
	}
	return errs
}

func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError
	switch cfg.Sink {
	case "store", "log":
	default:
		errs = append(errs, FieldError{
			Field:   "usage.sink",
			Message: fmt.Sprintf("unknown sink %q (must be one of: store, log)", cfg.Sink),
		})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "usage.retention_days", Message: "must not be negative"})
	}
	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError
	endpoints := []struct {
		field string
		url   string
	}{
		{"upstream.claude.base_url", cfg.Claude.BaseURL},
		{"upstream.claude.token_url", cfg.Claude.TokenURL},
		{"upstream.openai.base_url", cfg.OpenAI.BaseURL},
		{"upstream.openai.token_url", cfg.OpenAI.TokenURL},
		{"upstream.console.base_url", cfg.Console.BaseURL},
	}
	for _, ep := range endpoints {
		if ep.url == "" {
			continue
		}
		u, err := url.Parse(ep.url)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   ep.field,
				Message: fmt.Sprintf("invalid URL %q", ep.url),
			})
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q (must be one of: debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q (must be one of: json, text)", cfg.Logging.Format),
		})
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "must start with /",
		})
	}
	return errs
}

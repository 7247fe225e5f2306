package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress     = "127.0.0.1:8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second

	// Store defaults
	DefaultStorePath        = "data/accounts.db"
	DefaultStoreMaxOpen     = 10
	DefaultStoreMaxIdle     = 5
	DefaultStoreBusyTimeout = 5 * time.Second

	// Transport defaults
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second

	// Scheduler defaults
	DefaultStrategy              = "round-robin"
	DefaultCooldown              = 60 * time.Second
	DefaultCooldownSweepSchedule = "* * * * *"

	// Token defaults
	DefaultRefreshMargin  = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultSweepWindow    = 15 * time.Minute
	DefaultSweepSchedule  = "*/5 * * * *"

	// Relay defaults
	DefaultMaxAttempts  = 3
	DefaultMaxBodyBytes = 10 * 1024 * 1024

	// Usage defaults
	DefaultUsageSink         = "store"
	DefaultAsyncBuffer       = 1000
	DefaultWriteTimeout      = 5 * time.Second
	DefaultRetentionDays     = 90
	DefaultRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "claude_relay"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Store defaults
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = DefaultStoreMaxOpen
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = DefaultStoreMaxIdle
	}
	if !cfg.Store.WALMode {
		cfg.Store.WALMode = true
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = DefaultStoreBusyTimeout
	}

	// Transport defaults
	if cfg.Transport.MaxIdleConns == 0 {
		cfg.Transport.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.Transport.MaxIdleConnsPerHost == 0 {
		cfg.Transport.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if cfg.Transport.IdleConnTimeout == 0 {
		cfg.Transport.IdleConnTimeout = DefaultIdleConnTimeout
	}

	// Scheduler defaults
	if cfg.Scheduler.Strategy == "" {
		cfg.Scheduler.Strategy = DefaultStrategy
	}
	if cfg.Scheduler.DefaultCooldown == 0 {
		cfg.Scheduler.DefaultCooldown = DefaultCooldown
	}
	if cfg.Scheduler.CooldownSweepSchedule == "" {
		cfg.Scheduler.CooldownSweepSchedule = DefaultCooldownSweepSchedule
	}

	// Token defaults
	if cfg.Token.RefreshMargin == 0 {
		cfg.Token.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.Token.MaxRetries == 0 {
		cfg.Token.MaxRetries = DefaultMaxRetries
	}
	if cfg.Token.RetryBaseDelay == 0 {
		cfg.Token.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Token.SweepWindow == 0 {
		cfg.Token.SweepWindow = DefaultSweepWindow
	}
	if cfg.Token.SweepSchedule == "" {
		cfg.Token.SweepSchedule = DefaultSweepSchedule
	}

	// Relay defaults
	if cfg.Relay.MaxAttempts == 0 {
		cfg.Relay.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Relay.MaxBodyBytes == 0 {
		cfg.Relay.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Usage defaults
	if cfg.Usage.Sink == "" {
		cfg.Usage.Sink = DefaultUsageSink
	}
	if cfg.Usage.AsyncBuffer == 0 {
		cfg.Usage.AsyncBuffer = DefaultAsyncBuffer
	}
	if cfg.Usage.WriteTimeout == 0 {
		cfg.Usage.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Usage.RetentionDays == 0 {
		cfg.Usage.RetentionDays = DefaultRetentionDays
	}
	if cfg.Usage.RetentionSchedule == "" {
		cfg.Usage.RetentionSchedule = DefaultRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

package config

import "time"

// Config is the root configuration structure for the relay service.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Store contains account store configuration.
	Store StoreConfig `yaml:"store"`

	// Transport contains outbound HTTP client configuration.
	Transport TransportConfig `yaml:"transport"`

	// Scheduler contains account selection configuration.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Token contains credential refresh configuration.
	Token TokenConfig `yaml:"token"`

	// Relay contains request forwarding configuration.
	Relay RelayConfig `yaml:"relay"`

	// Usage contains usage recording configuration.
	Usage UsageConfig `yaml:"usage"`

	// Upstream contains per-platform upstream endpoints.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig contains configuration for the account store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	// Default: "data/accounts.db"
	Path string `yaml:"path"`

	// MasterKey derives the credential encryption keys. It may also be
	// supplied via the RELAY_STORE_MASTER_KEY environment variable.
	MasterKey string `yaml:"master_key"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle database connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TransportConfig contains configuration for outbound HTTP clients.
type TransportConfig struct {
	// Timeout is the overall upstream request timeout. Zero disables it,
	// which streaming deployments generally want.
	// Default: 0
	Timeout time.Duration `yaml:"timeout"`

	// MaxIdleConns caps idle connections per client.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost caps idle connections per upstream host.
	// Default: 10
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout closes idle connections after this duration.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// SchedulerConfig contains configuration for account selection.
type SchedulerConfig struct {
	// Strategy selects the rotation strategy: "round-robin" or
	// "least-recent". This field is hot-reloadable.
	// Default: "round-robin"
	Strategy string `yaml:"strategy"`

	// DefaultCooldown is the rate-limit cooldown used when the upstream
	// does not say when to retry.
	// Default: 60s
	DefaultCooldown time.Duration `yaml:"default_cooldown"`

	// CooldownSweepSchedule is the cron schedule for restoring
	// cooled-down accounts.
	// Default: "* * * * *"
	CooldownSweepSchedule string `yaml:"cooldown_sweep_schedule"`
}

// TokenConfig contains configuration for credential refresh.
type TokenConfig struct {
	// RefreshMargin triggers a refresh when expiry is this close.
	// Default: 10s
	RefreshMargin time.Duration `yaml:"refresh_margin"`

	// MaxRetries bounds transient refresh retries.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the base backoff delay between retries.
	// Default: 500ms
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// SweepWindow is the look-ahead for the background refresh sweep.
	// Default: 15m
	SweepWindow time.Duration `yaml:"sweep_window"`

	// SweepSchedule is the cron schedule for the refresh sweep.
	// Default: "*/5 * * * *"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// RelayConfig contains configuration for request forwarding.
type RelayConfig struct {
	// MaxAttempts bounds how many distinct accounts one client request
	// may try before failing over to an error response.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// MaxBodyBytes caps the client request body size.
	// Default: 10485760 (10MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// UsageConfig contains configuration for usage recording.
type UsageConfig struct {
	// Enabled enables usage recording.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Sink selects the event sink: "store" or "log".
	// Default: "store"
	Sink string `yaml:"sink"`

	// AsyncBuffer is the recorder channel capacity.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds one sink write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how long usage rows are kept. Zero keeps forever.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// RetentionSchedule is the cron schedule for the purge job.
	// Default: "0 3 * * *"
	RetentionSchedule string `yaml:"retention_schedule"`
}

// UpstreamConfig contains per-platform upstream endpoints. Empty fields
// use the public defaults; tests point them at local listeners.
type UpstreamConfig struct {
	Claude  EndpointConfig `yaml:"claude"`
	Console EndpointConfig `yaml:"console"`
	OpenAI  EndpointConfig `yaml:"openai"`
}

// EndpointConfig contains one platform's endpoint overrides.
type EndpointConfig struct {
	// BaseURL overrides the data-plane base URL.
	BaseURL string `yaml:"base_url"`

	// TokenURL overrides the OAuth token endpoint.
	TokenURL string `yaml:"token_url"`

	// ClientID overrides the OAuth client id.
	ClientID string `yaml:"client_id"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables the metrics endpoint.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "claude_relay"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for relay
	// duration in seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

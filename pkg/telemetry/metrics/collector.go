package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadaliao/claude-relay-service/pkg/config"
)

// Collector owns the Prometheus registry and all metric families.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Account pool metrics
	accountMetrics *AccountMetrics

	// Relay metrics
	relayMetrics *RelayMetrics
}

// NewCollector creates a metrics collector with the specified
// configuration and Prometheus registry. If registry is nil, a fresh
// registry is used.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "claude_relay"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// LLM relay latencies run from sub-second to minutes.
		cfg.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0}
	}

	return &Collector{
		config:         cfg,
		registry:       registry,
		accountMetrics: NewAccountMetrics(cfg, registry),
		relayMetrics:   NewRelayMetrics(cfg, registry),
	}
}

// Accounts returns the account pool metrics.
func (c *Collector) Accounts() *AccountMetrics {
	return c.accountMetrics
}

// Relay returns the relay metrics.
func (c *Collector) Relay() *RelayMetrics {
	return c.relayMetrics
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadaliao/claude-relay-service/pkg/config"
)

// RelayMetrics tracks relayed request outcomes and token throughput.
//
// Metrics:
//   - claude_relay_requests_total: Relay outcomes by platform and status
//   - claude_relay_request_duration_seconds: End-to-end relay duration
//   - claude_relay_retries_total: Failover retries to another account
//   - claude_relay_tokens_total: Token throughput by platform and kind
type RelayMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	tokens   *prometheus.CounterVec
}

// NewRelayMetrics creates and registers relay metrics with the provided registry.
func NewRelayMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RelayMetrics {
	rm := &RelayMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total relayed requests by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end relay duration in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"platform"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "retries_total",
				Help:      "Total failover retries to another account",
			},
			[]string{"platform", "reason"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tokens_total",
				Help:      "Total tokens relayed by platform and kind",
			},
			[]string{"platform", "kind"},
		),
	}

	registry.MustRegister(
		rm.requests,
		rm.duration,
		rm.retries,
		rm.tokens,
	)

	return rm
}

// RecordRequest records one finished relay.
// Outcomes: "completed", "failed", "aborted", "no_account".
func (rm *RelayMetrics) RecordRequest(platform, outcome string, durationSeconds float64) {
	rm.requests.WithLabelValues(platform, outcome).Inc()
	rm.duration.WithLabelValues(platform).Observe(durationSeconds)
}

// RecordRetry records a failover retry.
// Reasons: "rate_limited", "auth", "server_error", "network".
func (rm *RelayMetrics) RecordRetry(platform, reason string) {
	rm.retries.WithLabelValues(platform, reason).Inc()
}

// RecordTokens records token throughput for one relay.
func (rm *RelayMetrics) RecordTokens(platform string, input, output, cacheCreate, cacheRead int64) {
	rm.tokens.WithLabelValues(platform, "input").Add(float64(input))
	rm.tokens.WithLabelValues(platform, "output").Add(float64(output))
	if cacheCreate > 0 {
		rm.tokens.WithLabelValues(platform, "cache_create").Add(float64(cacheCreate))
	}
	if cacheRead > 0 {
		rm.tokens.WithLabelValues(platform, "cache_read").Add(float64(cacheRead))
	}
}

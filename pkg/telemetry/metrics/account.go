package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadaliao/claude-relay-service/pkg/config"
)

// AccountMetrics tracks account pool health.
//
// Metrics:
//   - claude_relay_account_status: Per-account availability (1=in that status)
//   - claude_relay_account_in_flight: Relays currently using each account
//   - claude_relay_token_refreshes_total: Token refresh outcomes
type AccountMetrics struct {
	status    *prometheus.GaugeVec
	inFlight  *prometheus.GaugeVec
	refreshes *prometheus.CounterVec
}

// NewAccountMetrics creates and registers account metrics with the provided registry.
func NewAccountMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AccountMetrics {
	am := &AccountMetrics{
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "account_status",
				Help:      "Account availability by status (1 when the account is in that status)",
			},
			[]string{"account_id", "platform", "status"},
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "account_in_flight",
				Help:      "Relays currently in flight through each account",
			},
			[]string{"account_id", "platform"},
		),

		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "token_refreshes_total",
				Help:      "Total token refresh attempts by outcome",
			},
			[]string{"platform", "outcome"},
		),
	}

	registry.MustRegister(
		am.status,
		am.inFlight,
		am.refreshes,
	)

	return am
}

// SetStatus records an account's current status. Every known status
// label is written so a transition clears the previous one.
func (am *AccountMetrics) SetStatus(accountID, platform, current string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == current {
			value = 1.0
		}
		am.status.WithLabelValues(accountID, platform, s).Set(value)
	}
}

// SetInFlight records an account's current in-flight relay count.
func (am *AccountMetrics) SetInFlight(accountID, platform string, n int) {
	am.inFlight.WithLabelValues(accountID, platform).Set(float64(n))
}

// RecordRefresh records a token refresh outcome.
// Outcomes: "success", "transient_failure", "terminal_failure".
func (am *AccountMetrics) RecordRefresh(platform, outcome string) {
	am.refreshes.WithLabelValues(platform, outcome).Inc()
}

package token

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/store"
	"github.com/kadaliao/claude-relay-service/pkg/telemetry/metrics"
	"github.com/kadaliao/claude-relay-service/pkg/transport"
	"github.com/kadaliao/claude-relay-service/pkg/upstream"
)

// Config contains configuration for the token manager.
type Config struct {
	// RefreshMargin triggers a refresh when expiry is this close.
	// It covers clock skew plus the upstream call latency.
	// Default: 10 seconds
	RefreshMargin time.Duration

	// MaxRetries bounds transient-failure retries within one refresh.
	// Default: 3
	MaxRetries int

	// RetryBaseDelay is the base for exponential backoff between retries.
	// Default: 500ms
	RetryBaseDelay time.Duration

	// SweepWindow is the look-ahead window for the background refresh
	// sweep: tokens expiring inside it are refreshed ahead of demand.
	// Default: 15 minutes
	SweepWindow time.Duration
}

// DefaultConfig returns the default token manager configuration.
func DefaultConfig() *Config {
	return &Config{
		RefreshMargin:  10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		SweepWindow:    15 * time.Minute,
	}
}

// Manager validates and refreshes account credentials.
//
// At most one refresh is in flight per account: concurrent callers for
// the same account join the flight and share its result instead of
// issuing redundant refresh calls. Refresh traffic takes the same proxy
// egress path as data-plane calls.
type Manager struct {
	store      *store.Store
	pool       *scheduler.Pool
	transports *transport.Pool
	registry   *upstream.Registry
	config     *Config
	logger     *slog.Logger
	metrics    *metrics.AccountMetrics

	group singleflight.Group
}

// NewManager creates a token manager.
func NewManager(st *store.Store, pool *scheduler.Pool, transports *transport.Pool, registry *upstream.Registry, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		store:      st,
		pool:       pool,
		transports: transports,
		registry:   registry,
		config:     config,
		logger:     slog.Default().With("component", "token"),
	}
}

// SetMetrics wires refresh outcome metrics. Without it refresh
// outcomes are only logged.
func (m *Manager) SetMetrics(am *metrics.AccountMetrics) {
	m.metrics = am
}

func (m *Manager) recordRefresh(platform account.Platform, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordRefresh(string(platform), outcome)
	}
}

// EnsureValid returns a credential guaranteed valid for at least the
// refresh margin, refreshing it first when needed.
//
// Terminal failures mark the account status=error before returning;
// an undecryptable stored blob surfaces as *store.EncryptionError the
// same way. Other accounts keep serving.
func (m *Manager) EnsureValid(ctx context.Context, acc *account.Account) (account.Credential, error) {
	return m.ensure(ctx, acc, m.config.RefreshMargin)
}

// ensure implements EnsureValid with a caller-chosen margin so the
// background sweep can refresh further ahead than the data path.
func (m *Manager) ensure(ctx context.Context, acc *account.Account, margin time.Duration) (account.Credential, error) {
	cred, err := m.store.GetCredential(ctx, acc.ID)
	if err != nil {
		var encErr *store.EncryptionError
		if errors.As(err, &encErr) {
			m.pool.MarkError(ctx, acc.ID, "credential undecryptable")
		}
		return account.Credential{}, err
	}

	if !cred.ExpiresWithin(time.Now(), margin) {
		return cred, nil
	}

	result, err, _ := m.group.Do(acc.ID, func() (any, error) {
		return m.refresh(ctx, acc, margin)
	})
	if err != nil {
		return account.Credential{}, err
	}
	return result.(account.Credential), nil
}

// refresh is the single-flight body: it re-reads the stored credential
// (a previous flight may already have refreshed it), performs the
// upstream exchange with bounded backoff, and persists the new token
// atomically before the flight returns.
func (m *Manager) refresh(ctx context.Context, acc *account.Account, margin time.Duration) (account.Credential, error) {
	cred, err := m.store.GetCredential(ctx, acc.ID)
	if err != nil {
		return account.Credential{}, err
	}

	now := time.Now()
	if !cred.ExpiresWithin(now, margin) {
		return cred, nil
	}

	adapter, err := m.registry.Lookup(acc.Platform)
	if err != nil {
		return account.Credential{}, err
	}

	httpClient, err := m.transports.ClientFor(acc)
	if err != nil {
		return account.Credential{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * m.config.RetryBaseDelay
			select {
			case <-ctx.Done():
				return account.Credential{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		next, err := adapter.Refresh(ctx, httpClient, cred)
		if err == nil {
			if err := m.store.UpdateCredential(ctx, acc.ID, next, time.Now()); err != nil {
				return account.Credential{}, err
			}
			m.pool.NoteRefreshed(acc.ID, time.Now())
			m.recordRefresh(acc.Platform, "success")
			m.logger.Info("credential refreshed",
				"account_id", acc.ID,
				"platform", acc.Platform,
				"expires_at", next.ExpiresAt,
			)
			return next, nil
		}

		if isPermanentRefreshError(err) {
			m.recordRefresh(acc.Platform, "terminal_failure")
			m.pool.MarkError(ctx, acc.ID, "refresh token rejected")
			return account.Credential{}, &RefreshError{AccountID: acc.ID, Terminal: true, Cause: err}
		}

		lastErr = err
		m.recordRefresh(acc.Platform, "transient_failure")
		m.logger.Warn("transient refresh failure, will retry",
			"account_id", acc.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	// Transient failures exhausted the retry budget. If the current
	// token still has life left, keep serving on it; otherwise the
	// margin is truly exhausted and the failure surfaces.
	if cred.ExpiresAt.After(time.Now()) {
		m.logger.Warn("refresh failed, continuing on current token",
			"account_id", acc.ID,
			"expires_at", cred.ExpiresAt,
		)
		return cred, nil
	}

	return account.Credential{}, &RefreshError{AccountID: acc.ID, Cause: lastErr}
}

// SweepExpiring refreshes every account whose token expires within the
// configured sweep window. It backs the periodic cron job and returns the
// number of accounts refreshed.
func (m *Manager) SweepExpiring(ctx context.Context) int {
	accounts, err := m.store.ListAccounts(ctx, "")
	if err != nil {
		m.logger.Error("refresh sweep failed to list accounts", "error", err)
		return 0
	}

	refreshed := 0
	for i := range accounts {
		acc := accounts[i]
		if acc.Status != account.StatusNormal {
			continue
		}

		cred, err := m.ensure(ctx, &acc, m.config.SweepWindow)
		if err != nil {
			m.logger.Warn("refresh sweep skipped account",
				"account_id", acc.ID,
				"error", err,
			)
			continue
		}
		if cred.Static() {
			continue
		}
		refreshed++
	}
	return refreshed
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler/strategies"
	"github.com/kadaliao/claude-relay-service/pkg/store"
)

// DefaultCooldown is applied when an upstream rate limit carries no
// Retry-After hint.
const DefaultCooldown = 60 * time.Second

// NoAccountAvailableError indicates no eligible account exists for the
// platform. It is surfaced to clients as a retry-later response.
type NoAccountAvailableError struct {
	// Platform is the requested platform.
	Platform account.Platform

	// RetryAfter is the earliest cooldown expiry among excluded accounts,
	// zero when no account is merely cooling down.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *NoAccountAvailableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("no account available for platform %q (retry after %s)", e.Platform, e.RetryAfter)
	}
	return fmt.Sprintf("no account available for platform %q", e.Platform)
}

// managed is one account's runtime scheduling state.
type managed struct {
	acc      account.Account
	inFlight int
}

// Pool is the account pool and scheduler.
type Pool struct {
	store    *store.Store
	logger   *slog.Logger
	cooldown time.Duration

	mu       sync.Mutex
	accounts map[string]*managed
	strategy strategies.Strategy
}

// NewPool creates a pool over the given store. Call Reload to populate it.
// cooldown is applied to rate-limited accounts when the upstream gave no
// Retry-After hint; zero means DefaultCooldown.
func NewPool(st *store.Store, strategy strategies.Strategy, cooldown time.Duration) *Pool {
	if strategy == nil {
		strategy = strategies.NewRoundRobin()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Pool{
		store:    st,
		logger:   slog.Default().With("component", "scheduler"),
		cooldown: cooldown,
		accounts: make(map[string]*managed),
		strategy: strategy,
	}
}

// Reload reconciles the in-memory pool with the store. In-flight counts
// of retained accounts are preserved; removed accounts are dropped.
func (p *Pool) Reload(ctx context.Context) error {
	accounts, err := p.store.ListAccounts(ctx, "")
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*managed, len(accounts))
	for _, acc := range accounts {
		m := &managed{acc: acc}
		if prev, ok := p.accounts[acc.ID]; ok {
			m.inFlight = prev.inFlight
		}
		next[acc.ID] = m
	}
	p.accounts = next

	p.logger.Info("account pool reloaded", "accounts", len(accounts))
	return nil
}

// SetStrategy swaps the selection strategy. Used by config hot-reload.
func (p *Pool) SetStrategy(strategy strategies.Strategy) {
	if strategy == nil {
		return
	}
	p.mu.Lock()
	p.strategy = strategy
	p.mu.Unlock()
	p.logger.Info("selection strategy changed", "strategy", strategy.Name())
}

// Lease is one acquired account. Release must be called exactly once per
// lease; extra calls are ignored so scheduler counters stay consistent.
type Lease struct {
	// Account is a snapshot of the selected account's metadata.
	Account account.Account

	pool *Pool
	once sync.Once
}

// Release returns the account's in-flight slot to the pool.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.Account.ID)
	})
}

// Select picks an eligible account for the platform and atomically
// acquires one of its in-flight slots. Accounts whose IDs appear in
// exclude are skipped, which lets the relay retry on distinct accounts.
//
// Rate-limited accounts whose cooldown has elapsed are restored to normal
// here, without manual intervention.
func (p *Pool) Select(ctx context.Context, platform account.Platform, exclude map[string]bool) (*Lease, error) {
	now := time.Now()

	p.mu.Lock()

	var (
		candidates []strategies.Candidate
		members    []*managed
		earliest   time.Time
		restored   []string
	)

	for _, m := range p.accounts {
		if m.acc.Platform != platform || exclude[m.acc.ID] {
			continue
		}

		if m.acc.Status == account.StatusRateLimited && !m.acc.CooldownUntil.After(now) {
			m.acc.Status = account.StatusNormal
			m.acc.CooldownUntil = time.Time{}
			restored = append(restored, m.acc.ID)
		}

		if m.acc.Status != account.StatusNormal {
			if m.acc.Status == account.StatusRateLimited &&
				(earliest.IsZero() || m.acc.CooldownUntil.Before(earliest)) {
				earliest = m.acc.CooldownUntil
			}
			continue
		}

		if m.acc.MaxConcurrency > 0 && m.inFlight >= m.acc.MaxConcurrency {
			continue
		}

		candidates = append(candidates, strategies.Candidate{
			ID:         m.acc.ID,
			Weight:     m.acc.Weight(),
			InFlight:   m.inFlight,
			LastUsedAt: m.acc.LastUsedAt,
		})
		members = append(members, m)
	}

	if len(candidates) == 0 {
		p.mu.Unlock()
		p.persistRestored(platform, restored)
		err := &NoAccountAvailableError{Platform: platform}
		if !earliest.IsZero() {
			if wait := earliest.Sub(now); wait > 0 {
				err.RetryAfter = wait
			}
		}
		return nil, err
	}

	chosen := members[p.strategy.Select(candidates)]
	chosen.inFlight++
	chosen.acc.LastUsedAt = now
	snapshot := chosen.acc
	p.mu.Unlock()

	p.persistRestored(platform, restored)

	// Durable last-used bookkeeping is best effort.
	if err := p.store.TouchLastUsed(ctx, snapshot.ID, now); err != nil {
		p.logger.Warn("failed to persist last-used time", "account_id", snapshot.ID, "error", err)
	}

	return &Lease{Account: snapshot, pool: p}, nil
}

// persistRestored writes cooldown restores observed during selection.
func (p *Pool) persistRestored(platform account.Platform, ids []string) {
	for _, id := range ids {
		p.persistStatus(id, account.StatusNormal, time.Time{})
		p.logger.Info("cooldown elapsed, account restored",
			"account_id", id,
			"platform", platform,
		)
	}
}

// release decrements an account's in-flight count.
func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.accounts[id]
	if !ok {
		return
	}
	if m.inFlight > 0 {
		m.inFlight--
	}
}

// MarkRateLimited transitions the account to rate_limited and schedules
// its automatic return to normal at now+retryAfter.
func (p *Pool) MarkRateLimited(ctx context.Context, id string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = p.cooldown
	}
	until := time.Now().Add(retryAfter)

	p.mu.Lock()
	m, ok := p.accounts[id]
	if ok {
		m.acc.Status = account.StatusRateLimited
		m.acc.CooldownUntil = until
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	p.persistStatus(id, account.StatusRateLimited, until)
	p.logger.Warn("account rate limited",
		"account_id", id,
		"cooldown_until", until,
	)
}

// MarkError marks a terminal per-account failure. The account requires
// external re-authorization before it becomes eligible again.
func (p *Pool) MarkError(ctx context.Context, id string, reason string) {
	p.mu.Lock()
	m, ok := p.accounts[id]
	if ok {
		m.acc.Status = account.StatusError
		m.acc.CooldownUntil = time.Time{}
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	p.persistStatus(id, account.StatusError, time.Time{})
	p.logger.Error("account marked error",
		"account_id", id,
		"reason", reason,
	)
}

// MarkNormal restores an account to normal. Exposed for admin surfaces;
// relay paths never call it.
func (p *Pool) MarkNormal(ctx context.Context, id string) {
	p.mu.Lock()
	m, ok := p.accounts[id]
	if ok {
		m.acc.Status = account.StatusNormal
		m.acc.CooldownUntil = time.Time{}
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	p.persistStatus(id, account.StatusNormal, time.Time{})
}

// NoteRefreshed records a successful credential refresh in the cached
// metadata. The store row was already updated by the token manager.
func (p *Pool) NoteRefreshed(id string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.accounts[id]; ok {
		m.acc.LastRefreshAt = at
	}
}

// RestoreCooledDown restores every rate-limited account whose cooldown
// has elapsed. It backs the periodic sweep; selection also restores
// lazily, so the sweep only shortens the window in idle periods.
func (p *Pool) RestoreCooledDown(ctx context.Context) int {
	now := time.Now()
	restored := 0

	p.mu.Lock()
	var ids []string
	for _, m := range p.accounts {
		if m.acc.Status == account.StatusRateLimited && !m.acc.CooldownUntil.After(now) {
			m.acc.Status = account.StatusNormal
			m.acc.CooldownUntil = time.Time{}
			ids = append(ids, m.acc.ID)
			restored++
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.persistStatus(id, account.StatusNormal, time.Time{})
		p.logger.Info("cooldown elapsed, account restored", "account_id", id)
	}
	return restored
}

// AccountState is one account's observable scheduling state.
type AccountState struct {
	// ID is the account identifier.
	ID string `json:"id"`

	// Platform is the account's platform tag.
	Platform account.Platform `json:"platform"`

	// Name is the account's label.
	Name string `json:"name"`

	// Status is the current availability state.
	Status account.Status `json:"status"`

	// InFlight is the current in-flight request count.
	InFlight int `json:"in_flight"`

	// CooldownUntil is the cooldown expiry for rate-limited accounts.
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`

	// LastUsedAt is when the account last served a relay.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Snapshot returns the observable state of every account, for admin and
// monitoring surfaces.
func (p *Pool) Snapshot() []AccountState {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]AccountState, 0, len(p.accounts))
	for _, m := range p.accounts {
		states = append(states, AccountState{
			ID:            m.acc.ID,
			Platform:      m.acc.Platform,
			Name:          m.acc.Name,
			Status:        m.acc.Status,
			InFlight:      m.inFlight,
			CooldownUntil: m.acc.CooldownUntil,
			LastUsedAt:    m.acc.LastUsedAt,
		})
	}
	return states
}

// persistStatus writes a status transition through the store. Failures
// are logged, not propagated: the in-memory transition already happened
// and the store reconciles on the next restart.
func (p *Pool) persistStatus(id string, status account.Status, cooldownUntil time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.UpdateStatus(ctx, id, status, cooldownUntil); err != nil {
		p.logger.Warn("failed to persist status transition",
			"account_id", id,
			"status", status,
			"error", err,
		)
	}
}

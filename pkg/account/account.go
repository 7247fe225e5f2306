package account

import (
	"fmt"
	"net/url"
	"time"
)

// Platform identifies the upstream provider family an account belongs to.
type Platform string

const (
	// PlatformClaude is an OAuth-authenticated Anthropic account.
	PlatformClaude Platform = "claude"

	// PlatformClaudeConsole is an Anthropic Console account using a static API key.
	PlatformClaudeConsole Platform = "claude-console"

	// PlatformOpenAI is an OAuth-compatible account on OpenAI.
	PlatformOpenAI Platform = "openai"
)

// Valid reports whether the platform is one of the supported values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformClaude, PlatformClaudeConsole, PlatformOpenAI:
		return true
	}
	return false
}

// Status describes an account's availability for selection.
//
// Transitions are driven only by call outcomes (rate limits, terminal
// refresh failures) or explicit admin action; the scheduler never clears
// a status silently.
type Status string

const (
	// StatusNormal marks an account eligible for selection.
	StatusNormal Status = "normal"

	// StatusRateLimited marks an account excluded until its cooldown elapses.
	StatusRateLimited Status = "rate_limited"

	// StatusPaused marks an account excluded by admin action.
	StatusPaused Status = "paused"

	// StatusError marks an account with a terminal credential failure.
	// It requires re-authorization before it can serve again.
	StatusError Status = "error"
)

// Credential holds an account's decrypted credential material.
//
// Credentials exist in cleartext only transiently in memory; the store
// persists them encrypted. OAuth accounts carry an access/refresh token
// pair, console accounts carry a static API key.
type Credential struct {
	// AccessToken is the OAuth bearer token used on data-plane calls.
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is exchanged for a new access token when it expires.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiry time (zero for API keys).
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scopes are the OAuth scopes granted to the token.
	Scopes []string `json:"scopes,omitempty"`

	// APIKey is the static key for console accounts.
	APIKey string `json:"api_key,omitempty"`
}

// Static reports whether the credential never needs refreshing.
func (c Credential) Static() bool {
	return c.APIKey != "" && c.RefreshToken == ""
}

// ExpiresWithin reports whether the credential expires within margin of now.
// Static credentials never expire.
func (c Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.Static() {
		return false
	}
	return c.ExpiresAt.Sub(now) <= margin
}

// ProxyConfig describes the outbound network proxy for one account.
// A zero value means direct egress.
type ProxyConfig struct {
	// Scheme is the proxy protocol: "http", "https" or "socks5".
	Scheme string `json:"scheme,omitempty" yaml:"scheme,omitempty"`

	// Host is the proxy hostname or address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the proxy port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Username is the optional basic-auth user.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	// Password is the optional basic-auth password.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Enabled reports whether a proxy is configured.
func (p ProxyConfig) Enabled() bool {
	return p.Host != ""
}

// URL renders the proxy configuration as a *url.URL.
// Returns nil when no proxy is configured.
func (p ProxyConfig) URL() *url.URL {
	if !p.Enabled() {
		return nil
	}
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u
}

// Fingerprint returns a stable identity for the proxy configuration.
// The transport cache keys client entries on it so that a changed proxy
// invalidates the pooled client for that account.
func (p ProxyConfig) Fingerprint() string {
	if !p.Enabled() {
		return "direct"
	}
	return fmt.Sprintf("%s://%s@%s:%d", p.Scheme, p.Username, p.Host, p.Port)
}

// Account is a credentialed upstream identity used to call a provider on
// behalf of clients.
//
// Accounts are created by the external OAuth-setup flow and mutated only
// through the token manager (credential) and the scheduler (status,
// counters). The in-flight count is runtime-only scheduler state and is
// deliberately not part of this struct.
type Account struct {
	// ID is the unique account identifier.
	ID string `json:"id"`

	// Platform selects the upstream adapter for this account.
	Platform Platform `json:"platform"`

	// Name is a human-readable label for operators.
	Name string `json:"name"`

	// Credential is the decrypted credential material.
	Credential Credential `json:"-"`

	// Proxy is the per-account outbound proxy configuration.
	Proxy ProxyConfig `json:"proxy,omitempty"`

	// Status is the current availability state.
	Status Status `json:"status"`

	// Priority is the selection weight; higher values receive more traffic.
	Priority int `json:"priority"`

	// MaxConcurrency caps simultaneous relays through this account.
	// Zero means unlimited.
	MaxConcurrency int `json:"max_concurrency"`

	// CooldownUntil is the time a rate-limited account becomes eligible again.
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`

	// LastRefreshAt is the time of the last successful token refresh.
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`

	// LastUsedAt is the time the account last served a relay.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Weight returns the effective selection weight (minimum 1).
func (a *Account) Weight() int {
	if a.Priority < 1 {
		return 1
	}
	return a.Priority
}

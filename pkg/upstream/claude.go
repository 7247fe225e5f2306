package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Defaults for OAuth-authenticated Anthropic accounts. The client ID is
// the public Claude CLI OAuth client; token exchange uses PKCE upstream,
// so there is no client secret.
const (
	DefaultClaudeBaseURL  = "https://api.anthropic.com"
	DefaultClaudeTokenURL = "https://console.anthropic.com/v1/oauth/token"
	DefaultClaudeClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	claudeAPIVersion = "2023-06-01"
	claudeBetaHeader = "oauth-2025-04-20"
)

// ClaudeConfig configures the claude adapter.
type ClaudeConfig struct {
	// BaseURL is the data-plane endpoint root.
	BaseURL string `yaml:"base_url"`

	// TokenURL is the OAuth token exchange endpoint.
	TokenURL string `yaml:"token_url"`

	// ClientID is the OAuth client identifier used for refresh.
	ClientID string `yaml:"client_id"`
}

// Claude relays to OAuth-authenticated Anthropic accounts.
type Claude struct {
	config ClaudeConfig
}

// NewClaude creates the claude adapter, filling defaults for empty fields.
func NewClaude(config ClaudeConfig) *Claude {
	if config.BaseURL == "" {
		config.BaseURL = DefaultClaudeBaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = DefaultClaudeTokenURL
	}
	if config.ClientID == "" {
		config.ClientID = DefaultClaudeClientID
	}
	return &Claude{config: config}
}

// Platform returns the platform tag this adapter serves.
func (c *Claude) Platform() account.Platform {
	return account.PlatformClaude
}

// Refresh exchanges the refresh token for a new access token through the
// provided HTTP client, so the exchange takes the account's proxy path.
func (c *Claude) Refresh(ctx context.Context, httpClient *http.Client, cred account.Credential) (account.Credential, error) {
	return oauthRefresh(ctx, httpClient, oauth2.Config{
		ClientID: c.config.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, cred)
}

// NewRequest builds the forwarded request with the account's bearer token.
func (c *Claude) NewRequest(ctx context.Context, cred account.Credential, body io.Reader, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("anthropic-version", claudeAPIVersion)
	req.Header.Set("anthropic-beta", claudeBetaHeader)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// oauthRefresh performs a refresh-token grant through httpClient and maps
// the result back onto a Credential. The rotated refresh token is kept
// when the server issues one (RFC 6749 token rotation).
func oauthRefresh(ctx context.Context, httpClient *http.Client, conf oauth2.Config, cred account.Credential) (account.Credential, error) {
	if cred.Static() {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return account.Credential{}, fmt.Errorf("credential has no refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	token, err := source.Token()
	if err != nil {
		return account.Credential{}, err
	}

	next := account.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       cred.Scopes,
	}
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		// Some token endpoints omit expires_in; fall back to an hour so
		// the margin check still schedules future refreshes.
		next.ExpiresAt = time.Now().Add(time.Hour)
	}
	return next, nil
}

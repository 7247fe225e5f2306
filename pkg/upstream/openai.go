package upstream

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Defaults for OAuth-compatible OpenAI accounts.
const (
	DefaultOpenAIBaseURL  = "https://api.openai.com"
	DefaultOpenAITokenURL = "https://auth.openai.com/oauth/token"
)

// OpenAIConfig configures the openai adapter.
type OpenAIConfig struct {
	// BaseURL is the data-plane endpoint root.
	BaseURL string `yaml:"base_url"`

	// TokenURL is the OAuth token exchange endpoint.
	TokenURL string `yaml:"token_url"`

	// ClientID is the OAuth client identifier used for refresh.
	ClientID string `yaml:"client_id"`
}

// OpenAI relays to OAuth-compatible accounts on OpenAI.
type OpenAI struct {
	config OpenAIConfig
}

// NewOpenAI creates the openai adapter, filling defaults for empty fields.
func NewOpenAI(config OpenAIConfig) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = DefaultOpenAITokenURL
	}
	return &OpenAI{config: config}
}

// Platform returns the platform tag this adapter serves.
func (c *OpenAI) Platform() account.Platform {
	return account.PlatformOpenAI
}

// Refresh exchanges the refresh token for a new access token through the
// provided HTTP client, so the exchange takes the account's proxy path.
func (c *OpenAI) Refresh(ctx context.Context, httpClient *http.Client, cred account.Credential) (account.Credential, error) {
	return oauthRefresh(ctx, httpClient, oauth2.Config{
		ClientID: c.config.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, cred)
}

// NewRequest builds the forwarded request with the account's bearer token.
func (c *OpenAI) NewRequest(ctx context.Context, cred account.Credential, body io.Reader, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/responses", body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

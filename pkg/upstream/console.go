package upstream

import (
	"context"
	"io"
	"net/http"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// ConsoleConfig configures the claude-console adapter.
type ConsoleConfig struct {
	// BaseURL is the data-plane endpoint root.
	BaseURL string `yaml:"base_url"`
}

// Console relays to Anthropic Console accounts, which authenticate with a
// static API key and never refresh.
type Console struct {
	config ConsoleConfig
}

// NewConsole creates the claude-console adapter.
func NewConsole(config ConsoleConfig) *Console {
	if config.BaseURL == "" {
		config.BaseURL = DefaultClaudeBaseURL
	}
	return &Console{config: config}
}

// Platform returns the platform tag this adapter serves.
func (c *Console) Platform() account.Platform {
	return account.PlatformClaudeConsole
}

// Refresh is a no-op for static API-key credentials.
func (c *Console) Refresh(ctx context.Context, httpClient *http.Client, cred account.Credential) (account.Credential, error) {
	return cred, nil
}

// NewRequest builds the forwarded request with the account's API key.
func (c *Console) NewRequest(ctx context.Context, cred account.Credential, body io.Reader, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", cred.APIKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

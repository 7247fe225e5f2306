package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Client is the adapter contract for one upstream platform.
//
// Implementations must be stateless and safe for concurrent use: all
// per-call state (credential, HTTP client) is passed in by the caller so
// that every call takes the selected account's egress path.
type Client interface {
	// Platform returns the platform tag this adapter serves.
	Platform() account.Platform

	// Refresh exchanges the refresh token for a new credential.
	// The exchange must go through httpClient, which the caller builds
	// from the account's proxy configuration. Static credentials are
	// returned unchanged.
	Refresh(ctx context.Context, httpClient *http.Client, cred account.Credential) (account.Credential, error)

	// NewRequest builds the outbound data-plane request with the
	// account's credential injected in place of any client-supplied key.
	NewRequest(ctx context.Context, cred account.Credential, body io.Reader, stream bool) (*http.Request, error)
}

// Registry holds one adapter per platform.
type Registry struct {
	clients map[account.Platform]Client
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[account.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// Lookup returns the adapter for a platform.
func (r *Registry) Lookup(platform account.Platform) (Client, error) {
	c, ok := r.clients[platform]
	if !ok {
		return nil, fmt.Errorf("no upstream adapter registered for platform %q", platform)
	}
	return c, nil
}

// Platforms returns the registered platform tags.
func (r *Registry) Platforms() []account.Platform {
	platforms := make([]account.Platform, 0, len(r.clients))
	for p := range r.clients {
		platforms = append(platforms, p)
	}
	return platforms
}

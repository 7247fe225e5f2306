package usage

import (
	"context"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Event is one relay's usage accounting, captured from the upstream
// response without altering the bytes delivered to the client.
type Event struct {
	// RequestID correlates the event with relay logs.
	RequestID string `json:"request_id"`

	// AccountID is the account that served the relay.
	AccountID string `json:"account_id"`

	// Platform is the account's upstream platform.
	Platform account.Platform `json:"platform"`

	// Model is the model reported by the upstream response.
	Model string `json:"model,omitempty"`

	// InputTokens is the prompt token count.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the completion token count.
	OutputTokens int64 `json:"output_tokens"`

	// CacheCreateTokens is the prompt-cache write token count.
	CacheCreateTokens int64 `json:"cache_create_tokens,omitempty"`

	// CacheReadTokens is the prompt-cache read token count.
	CacheReadTokens int64 `json:"cache_read_tokens,omitempty"`

	// Success reports whether the relay completed without an upstream error.
	Success bool `json:"success"`

	// Timestamp is when the relay finished.
	Timestamp time.Time `json:"timestamp"`
}

// Sink persists usage events.
type Sink interface {
	// Store writes one usage event.
	Store(ctx context.Context, event *Event) error

	// Close releases sink resources.
	Close() error
}

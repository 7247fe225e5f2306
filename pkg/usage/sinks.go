package usage

import (
	"context"
	"log/slog"

	"github.com/kadaliao/claude-relay-service/pkg/store"
)

// StoreSink persists usage events in the account store's database.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink creates a sink backed by the account store.
func NewStoreSink(st *store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Store writes the event as a usage row.
func (s *StoreSink) Store(ctx context.Context, event *Event) error {
	return s.store.InsertUsage(ctx, store.UsageRecord{
		RequestID:         event.RequestID,
		AccountID:         event.AccountID,
		Platform:          event.Platform,
		Model:             event.Model,
		InputTokens:       event.InputTokens,
		OutputTokens:      event.OutputTokens,
		CacheCreateTokens: event.CacheCreateTokens,
		CacheReadTokens:   event.CacheReadTokens,
		Success:           event.Success,
		Timestamp:         event.Timestamp,
	})
}

// Close is a no-op: the store's lifecycle is owned by the caller.
func (s *StoreSink) Close() error { return nil }

// LogSink emits usage events as structured log lines. It backs
// deployments that ship logs instead of querying the database.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("component", "usage")}
}

// Store logs the event.
func (s *LogSink) Store(_ context.Context, event *Event) error {
	s.logger.Info("usage",
		"request_id", event.RequestID,
		"account_id", event.AccountID,
		"platform", event.Platform,
		"model", event.Model,
		"input_tokens", event.InputTokens,
		"output_tokens", event.OutputTokens,
		"cache_create_tokens", event.CacheCreateTokens,
		"cache_read_tokens", event.CacheReadTokens,
		"success", event.Success,
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

package store

import (
	"context"
	"time"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// UsageRecord is one persisted usage event row.
type UsageRecord struct {
	RequestID         string
	AccountID         string
	Platform          account.Platform
	Model             string
	InputTokens       int64
	OutputTokens      int64
	CacheCreateTokens int64
	CacheReadTokens   int64
	Success           bool
	Timestamp         time.Time
}

// UsageTotals aggregates token counts for one account.
type UsageTotals struct {
	AccountID         string `json:"account_id"`
	Requests          int64  `json:"requests"`
	InputTokens       int64  `json:"input_tokens"`
	OutputTokens      int64  `json:"output_tokens"`
	CacheCreateTokens int64  `json:"cache_create_tokens"`
	CacheReadTokens   int64  `json:"cache_read_tokens"`
}

// InsertUsage appends one usage event row.
func (s *Store) InsertUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			request_id, account_id, platform, model,
			input_tokens, output_tokens, cache_create_tokens, cache_read_tokens,
			success, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RequestID, rec.AccountID, string(rec.Platform), rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CacheCreateTokens, rec.CacheReadTokens,
		rec.Success, rec.Timestamp.UTC(),
	)
	if err != nil {
		return &StorageError{Op: "insert_usage", Cause: err}
	}
	return nil
}

// UsageByAccount aggregates usage per account since the given time.
// A zero since aggregates all recorded usage.
func (s *Store) UsageByAccount(ctx context.Context, since time.Time) ([]UsageTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, COUNT(*),
		       SUM(input_tokens), SUM(output_tokens),
		       SUM(cache_create_tokens), SUM(cache_read_tokens)
		FROM usage_events
		WHERE timestamp >= ?
		GROUP BY account_id
		ORDER BY account_id
	`, since.UTC())
	if err != nil {
		return nil, &StorageError{Op: "usage_by_account", Cause: err}
	}
	defer rows.Close()

	var totals []UsageTotals
	for rows.Next() {
		var t UsageTotals
		if err := rows.Scan(&t.AccountID, &t.Requests, &t.InputTokens,
			&t.OutputTokens, &t.CacheCreateTokens, &t.CacheReadTokens); err != nil {
			return nil, &StorageError{Op: "usage_by_account", Cause: err}
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "usage_by_account", Cause: err}
	}
	return totals, nil
}

// PurgeUsageBefore deletes usage rows older than the cutoff and returns
// the number removed. The retention cron job calls this.
func (s *Store) PurgeUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_events WHERE timestamp < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, &StorageError{Op: "purge_usage", Cause: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

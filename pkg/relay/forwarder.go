package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/telemetry/metrics"
	"github.com/kadaliao/claude-relay-service/pkg/token"
	"github.com/kadaliao/claude-relay-service/pkg/transport"
	"github.com/kadaliao/claude-relay-service/pkg/upstream"
	"github.com/kadaliao/claude-relay-service/pkg/usage"
)

// Config contains configuration for the forwarder.
type Config struct {
	// MaxAttempts bounds how many distinct accounts one request may try.
	// Default: 3
	MaxAttempts int

	// MaxBodyBytes caps the client request body size.
	// Default: 10MB
	MaxBodyBytes int64
}

// DefaultConfig returns the default forwarder configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		MaxBodyBytes: 10 * 1024 * 1024,
	}
}

// Forwarder relays client requests through the account pool.
type Forwarder struct {
	pool       *scheduler.Pool
	tokens     *token.Manager
	transports *transport.Pool
	registry   *upstream.Registry
	recorder   *usage.Recorder
	metrics    *metrics.RelayMetrics
	config     *Config
	logger     *slog.Logger
}

// NewForwarder creates a forwarder. The metrics argument may be nil.
func NewForwarder(pool *scheduler.Pool, tokens *token.Manager, transports *transport.Pool, registry *upstream.Registry, recorder *usage.Recorder, rm *metrics.RelayMetrics, config *Config) *Forwarder {
	if config == nil {
		config = DefaultConfig()
	}
	return &Forwarder{
		pool:       pool,
		tokens:     tokens,
		transports: transports,
		registry:   registry,
		recorder:   recorder,
		metrics:    rm,
		config:     config,
		logger:     slog.Default().With("component", "relay"),
	}
}

// Forward relays one client request through the pool, trying the given
// platforms in order when selecting an account. It writes the response
// (or an error response) to w.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, platforms []account.Platform) {
	ctx := r.Context()
	requestID := uuid.NewString()
	start := time.Now()
	logger := f.logger.With("request_id", requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if int64(len(body)) > f.config.MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		return
	}

	stream := wantsStream(body)

	exclude := make(map[string]bool)
	var lastErr error

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		lease, err := f.selectAccount(ctx, platforms, exclude)
		if err != nil {
			var noAccount *scheduler.NoAccountAvailableError
			if errors.As(err, &noAccount) {
				if lastErr != nil {
					// Accounts existed but all attempts failed.
					break
				}
				logger.Warn("no account available", "platforms", platforms)
				f.recordOutcome(platforms[0], "no_account", start)
				writeUnavailable(w, noAccount.RetryAfter)
				return
			}
			logger.Error("account selection failed", "error", err)
			f.recordOutcome(platforms[0], "failed", start)
			writeError(w, http.StatusInternalServerError, "api_error", "account selection failed")
			return
		}

		exclude[lease.Account.ID] = true
		done, err := f.attempt(ctx, w, lease, body, stream, requestID, logger)
		if done {
			outcome := "completed"
			if err != nil {
				if isClientAbort(err) {
					outcome = "aborted"
				} else {
					outcome = "failed"
				}
			}
			f.recordOutcome(lease.Account.Platform, outcome, start)
			return
		}

		lastErr = err
		f.recordRetry(lease.Account.Platform, err)
		logger.Warn("attempt failed, trying next account",
			"account_id", lease.Account.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	logger.Error("all account attempts exhausted", "attempts", len(exclude), "error", lastErr)
	f.recordOutcome(platforms[0], "failed", start)

	var upErr *UpstreamError
	if errors.As(lastErr, &upErr) && upErr.StatusCode == http.StatusTooManyRequests {
		writeUnavailable(w, upErr.RetryAfter)
		return
	}
	writeError(w, http.StatusBadGateway, "api_error",
		(&ExhaustedError{Attempts: len(exclude), LastErr: lastErr}).Error())
}

// selectAccount tries each platform in order until one yields a lease.
// The last platform's unavailability error carries the RetryAfter hint.
func (f *Forwarder) selectAccount(ctx context.Context, platforms []account.Platform, exclude map[string]bool) (*scheduler.Lease, error) {
	var lastErr error
	for _, p := range platforms {
		lease, err := f.pool.Select(ctx, p, exclude)
		if err == nil {
			return lease, nil
		}
		lastErr = err
		var noAccount *scheduler.NoAccountAvailableError
		if !errors.As(err, &noAccount) {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt runs one full forwarding attempt on a leased account.
//
// done=true means a response (or abort) reached the client and the relay
// is finished; done=false means nothing was written and the caller may
// retry on another account. The lease is always released before return,
// and at most one usage event is recorded per attempt.
func (f *Forwarder) attempt(ctx context.Context, w http.ResponseWriter, lease *scheduler.Lease, body []byte, stream bool, requestID string, logger *slog.Logger) (done bool, err error) {
	defer lease.Release()
	acc := &lease.Account

	cred, err := f.tokens.EnsureValid(ctx, acc)
	if err != nil {
		// A dead credential is account-shaped: the next account may serve.
		return false, fmt.Errorf("credential unavailable: %w", err)
	}

	adapter, err := f.registry.Lookup(acc.Platform)
	if err != nil {
		return false, err
	}

	req, err := adapter.NewRequest(ctx, cred, bytes.NewReader(body), stream)
	if err != nil {
		return false, err
	}

	client, err := f.transports.ClientFor(acc)
	if err != nil {
		return false, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The client went away; nothing to deliver, nothing to retry.
			// The attempt still reached the upstream, so it still counts.
			f.record(&usage.Event{
				RequestID: requestID,
				AccountID: acc.ID,
				Platform:  acc.Platform,
				Success:   false,
			})
			return true, ctx.Err()
		}
		return false, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return f.handleErrorResponse(ctx, w, acc, resp, requestID, logger)
	}

	return true, f.deliver(ctx, w, acc, resp, requestID, logger)
}

// handleErrorResponse classifies an upstream error status: account-shaped
// failures mark the account and allow a retry, request-shaped failures
// are relayed to the client as-is.
func (f *Forwarder) handleErrorResponse(ctx context.Context, w http.ResponseWriter, acc *account.Account, resp *http.Response, requestID string, logger *slog.Logger) (bool, error) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	upErr := &UpstreamError{
		AccountID:  acc.ID,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		upErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		f.pool.MarkRateLimited(ctx, acc.ID, upErr.RetryAfter)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		f.pool.MarkError(ctx, acc.ID, fmt.Sprintf("upstream rejected credential (status %d)", resp.StatusCode))
	}

	f.record(&usage.Event{
		RequestID: requestID,
		AccountID: acc.ID,
		Platform:  acc.Platform,
		Success:   false,
	})

	if !upErr.Retryable() {
		// Request-shaped error: every account would answer the same way.
		relayErrorBody(w, resp, body)
		return true, upErr
	}
	return false, upErr
}

// deliver streams the upstream success response to the client and
// records its usage.
func (f *Forwarder) deliver(ctx context.Context, w http.ResponseWriter, acc *account.Account, resp *http.Response, requestID string, logger *slog.Logger) error {
	scan := &usageScanner{}
	event := &usage.Event{
		RequestID: requestID,
		AccountID: acc.ID,
		Platform:  acc.Platform,
		Success:   true,
	}
	defer func() {
		scan.Fill(event)
		f.record(event)
		if f.metrics != nil && scan.Seen() {
			f.metrics.RecordTokens(string(acc.Platform), scan.input, scan.output, scan.cacheCreate, scan.cacheRead)
		}
	}()

	copyResponseHeaders(w, resp)

	if isEventStream(resp) {
		w.WriteHeader(resp.StatusCode)
		written, err := copyStream(w, resp.Body, scan)
		if err != nil {
			event.Success = false
			if isClientAbort(err) || ctx.Err() != nil {
				logger.Info("client aborted mid-stream",
					"account_id", acc.ID,
					"bytes_written", written,
				)
				return &clientWriteError{cause: err}
			}
			logger.Error("upstream stream failed mid-flight",
				"account_id", acc.ID,
				"bytes_written", written,
				"error", err,
			)
			// Bytes already reached the client; a retry would corrupt
			// the stream, so the truncation is surfaced as-is.
			return err
		}
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		event.Success = false
		return fmt.Errorf("failed to read upstream response: %w", err)
	}
	scan.ScanBody(body)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		return &clientWriteError{cause: err}
	}
	return nil
}

// record enqueues a usage event when recording is wired.
func (f *Forwarder) record(event *usage.Event) {
	if f.recorder != nil {
		f.recorder.Record(event)
	}
}

func (f *Forwarder) recordOutcome(platform account.Platform, outcome string, start time.Time) {
	if f.metrics != nil {
		f.metrics.RecordRequest(string(platform), outcome, time.Since(start).Seconds())
	}
}

func (f *Forwarder) recordRetry(platform account.Platform, err error) {
	if f.metrics == nil {
		return
	}
	reason := "network"
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.StatusCode == http.StatusTooManyRequests:
			reason = "rate_limited"
		case upErr.StatusCode == http.StatusUnauthorized || upErr.StatusCode == http.StatusForbidden:
			reason = "auth"
		case upErr.StatusCode >= 500:
			reason = "server_error"
		}
	}
	f.metrics.RecordRetry(string(platform), reason)
}

// wantsStream reports whether the client requested a streaming response.
func wantsStream(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream
}

// isEventStream reports whether the upstream replied with SSE.
func isEventStream(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return len(ct) >= 17 && ct[:17] == "text/event-stream"
}

// isClientAbort reports whether the error came from the client side of
// the relay rather than the upstream side.
func isClientAbort(err error) bool {
	var cw *clientWriteError
	return errors.As(err, &cw) || errors.Is(err, context.Canceled)
}

// copyResponseHeaders copies upstream response headers, dropping
// hop-by-hop headers the relay manages itself.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		switch key {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length":
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

// relayErrorBody forwards a request-shaped upstream error to the client.
func relayErrorBody(w http.ResponseWriter, resp *http.Response, body []byte) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}

// writeError writes an Anthropic-shaped error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

// writeUnavailable writes a 503 with a Retry-After hint when the pool
// has no eligible account.
func writeUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds()+0.5)))
	}
	writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no upstream account available")
}

// Package relay forwards client requests through pooled upstream
// accounts.
//
// # Overview
//
// The Forwarder is the data path of the service. Per request it:
//
//   - selects an account from the pool for the requested platforms
//   - ensures the account's credential is valid (refreshing if needed)
//   - forwards the request over the account's egress path
//   - streams the response back to the client byte-for-byte
//   - captures token usage from the response without altering it
//
// # Failover
//
// Failures are classified as account-shaped or request-shaped. A 429
// cools the account down (honoring Retry-After), a 401/403 marks it
// errored, and a 5xx is treated as transient; all three allow a retry on
// a different account, bounded by MaxAttempts. A 400/404/413/422 would
// fail identically on every account and is relayed to the client as-is.
//
// Once any response byte has reached the client the attempt is final:
// retrying would corrupt the stream, so mid-flight failures surface as
// truncation.
//
// # Usage accounting
//
// Every attempt that reaches the upstream records exactly one
// usage.Event, successful or not. Streaming responses are scanned line
// by line for usage frames; non-streaming bodies are scanned after
// delivery.
package relay

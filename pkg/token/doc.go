// Package token manages OAuth credential validity for upstream accounts.
//
// # Overview
//
// EnsureValid is the single entry point the data path uses:
//
//	cred, err := manager.EnsureValid(ctx, &lease.Account)
//
// It returns a credential valid for at least the configured refresh
// margin, performing the OAuth refresh exchange first when the stored
// token expires within it. Static API-key credentials pass through
// untouched.
//
// # Single flight
//
// Concurrent relays on the same account share one refresh: the flight is
// keyed by account ID, and the flight body re-reads the stored credential
// so late joiners observe a refresh that already completed.
//
// # Failure classification
//
// Refresh failures are permanent (invalid_grant, invalid_client,
// unauthorized_client, revocation) or transient (network errors, 5xx).
// A permanent failure marks the account status=error and surfaces a
// terminal *RefreshError; a transient failure is retried with
// exponential backoff, and if retries run out while the current token is
// still future-valid the relay continues on it.
//
// # Background sweep
//
// SweepExpiring refreshes every account whose token expires within the
// sweep window, keeping data-path refreshes rare.
package token

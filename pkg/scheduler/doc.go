// Package scheduler tracks upstream accounts per platform and selects one
// healthy account per relay under fairness and concurrency constraints.
//
// # Overview
//
// The pool is an explicit service object constructed once at startup and
// passed by reference to the relay forwarder. All mutation of account
// status and in-flight counters goes through its synchronized entry
// points; no other component writes scheduling state directly. The
// in-memory pool is a cache over the credential store, reconciled at
// startup and on Reload.
//
// # Selection
//
// Select filters accounts by platform, status, cooldown and per-account
// concurrency ceiling, then hands the survivors to the configured
// strategy:
//
//	lease, err := pool.Select(ctx, account.PlatformClaude, exclude)
//	if err != nil {
//	    var na *scheduler.NoAccountAvailableError
//	    if errors.As(err, &na) {
//	        // surface na.RetryAfter to the client
//	    }
//	    return err
//	}
//	defer lease.Release()
//
// A Lease pins the account and holds one in-flight slot until Release,
// which is safe to call more than once.
//
// # Status transitions
//
// MarkRateLimited places an account in a timed cooldown and schedules no
// timer: expiry is observed lazily on the next Select and by the
// RestoreCooledDown sweep. MarkError is terminal; only MarkNormal (or an
// operator resume) returns the account to rotation.
//
// # Reload
//
// Reload reconciles the pool against the store without dropping in-flight
// counts, so account add/remove and config hot-reload never distort
// least-loaded selection.
package scheduler

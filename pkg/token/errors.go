package token

import "fmt"

// RefreshError describes a failed credential refresh.
//
// Terminal failures (invalid_grant-class responses) mean the stored
// refresh token is dead: the account is marked status=error and needs
// re-authorization. Non-terminal failures are transient network problems;
// the account stays usable on its current token until the refresh margin
// is truly exhausted.
type RefreshError struct {
	// AccountID is the account whose refresh failed.
	AccountID string

	// Terminal marks invalid_grant-class failures requiring re-authorization.
	Terminal bool

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("%s refresh failure for account %q: %v", kind, e.AccountID, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *RefreshError) Unwrap() error {
	return e.Cause
}

package store

import "fmt"

// NotFoundError indicates the requested account does not exist.
type NotFoundError struct {
	// AccountID is the missing account's identifier.
	AccountID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("account %q not found", e.AccountID)
}

// EncryptionError indicates credential material could not be sealed or
// opened. It is fatal for that account's credential: the caller marks the
// account status=error and continues serving other accounts.
type EncryptionError struct {
	// AccountID is the account whose credential failed (may be empty for
	// seal failures before an account is known).
	AccountID string

	// Op is the failing operation ("encrypt" or "decrypt").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *EncryptionError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("credential %s failed for account %q: %v", e.Op, e.AccountID, e.Cause)
	}
	return fmt.Sprintf("credential %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *EncryptionError) Unwrap() error {
	return e.Cause
}

// StorageError wraps a database-level failure with the failing operation.
type StorageError struct {
	// Op is the storage operation that failed.
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("account store %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

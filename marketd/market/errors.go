package market

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the referenced entity does not exist in the mirror.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved signals a lost conditional update: the row left
	// its active state between read and write. An expected race outcome,
	// not a bug; callers translate it to "already done, safe to stop".
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrChainUnavailable: a ledger read failed or timed out. Soft on the
	// bid guard, hard on sync.
	ErrChainUnavailable = errors.New("chain unavailable")
)

// ValidationError is client-fixable input rejection.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError; sibling packages share the taxonomy.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func invalid(field, reason string) error {
	return Invalid(field, reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

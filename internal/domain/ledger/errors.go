package ledger

import (
	"errors"
	"fmt"

	"github.com/ecolocal/eco-api/internal/pkg/database"
)

var (
	// ErrInvalidEntry is returned when an entry fails validation
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrConflict is returned when an id is re-used with a different payload
	ErrConflict = errors.New("entry id already used with a different payload")

	// ErrEntryNotFound is returned when no entry has the id
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInvalidTransition is returned for any status change other than pending -> settled|failed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSpendNotAllowed is returned when a debit is written outside a
	// redemption, which is the only path that checks the balance
	ErrSpendNotAllowed = errors.New("spends are only written by redemption")

	// ErrTimeout is returned when a store call exceeds its deadline
	ErrTimeout = errors.New("ledger store timeout")

	// ErrStoreUnavailable is returned when the store cannot be reached
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	ErrInternal = errors.New("internal error")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, msg)
}

// StoreError classifies a driver error into the store taxonomy while keeping
// the original error in the chain.
func StoreError(op string, err error) error {
	switch {
	case database.IsTimeout(err):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	case database.IsUnavailable(err):
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
	}
}

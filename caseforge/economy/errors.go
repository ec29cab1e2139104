// Package economy holds the error taxonomy and metrics shared by every
// component of the loot-box economy engine.
package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"
)

// Sentinel errors for every failure kind a caller can observe. Components
// wrap these with fmt.Errorf("...: %w", ...) so errors.Is keeps working
// across package boundaries.
var (
	ErrValidation          = errors.New("invalid request")
	ErrUserNotFound        = errors.New("user not found")
	ErrCaseNotFound        = errors.New("case not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidPool         = errors.New("invalid item pool")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPromoNotFound       = errors.New("promo code not found")
	ErrPromoExpired        = errors.New("promo code expired")
	ErrPromoExhausted      = errors.New("promo code exhausted")
	ErrPromoAlreadyUsed    = errors.New("promo code already used")
	ErrConcurrencyConflict = errors.New("concurrent operation in progress")
	ErrTransientStore      = errors.New("transient store failure")
	ErrInvariantViolation  = errors.New("economy invariant violated")
)

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrTransientStore)
}

// Kind maps an error onto its taxonomy name, for logs, metrics and
// transport-level responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrCaseNotFound):
		return "case_not_found"
	case errors.Is(err, ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrInvalidPool):
		return "invalid_pool"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrPromoNotFound):
		return "promo_not_found"
	case errors.Is(err, ErrPromoExpired):
		return "promo_expired"
	case errors.Is(err, ErrPromoExhausted):
		return "promo_exhausted"
	case errors.Is(err, ErrPromoAlreadyUsed):
		return "promo_already_used"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal"
	}
}

// Postgres error codes that mark a transaction worth retrying.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// ClassifyStoreError maps low-level store failures onto the taxonomy.
// Errors that already carry a taxonomy kind pass through unchanged.
func ClassifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "internal" {
		return err
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	return err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrValidation         = errors.New("validation failed")
	ErrExternalSideEffect = errors.New("external side effect failed")
	ErrStorage            = errors.New("storage failure")
	ErrStateConflict      = errors.New("intake state changed concurrently")
	ErrAccountFrozen      = errors.New("account frozen")
	ErrForbidden          = errors.New("forbidden")
	ErrInvoiceQuota       = errors.New("monthly invoice limit reached")
)

// ValidationError describes rejected user input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// SideEffectError reports a gateway call that failed after a committed
// mutation. It matches ErrExternalSideEffect and unwraps to the cause.
type SideEffectError struct {
	Op  string
	Err error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SideEffectError) Is(target error) bool {
	return target == ErrExternalSideEffect
}

func (e *SideEffectError) Unwrap() error { return e.Err }

// Classify maps err onto the error taxonomy for logs and metrics labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExternalSideEffect):
		return "side_effect"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrAccountFrozen), errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvoiceQuota):
		return "quota"
	default:
		return "storage"
	}
}

package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every ledger package. The root ledger package
// re-exports them.
var (
	// Domain errors
	ErrInvalidInput       = errors.New("ledger: invalid input")
	ErrCurrencyMismatch   = errors.New("ledger: currency mismatch")
	ErrDivisionByZero     = errors.New("ledger: division by zero")
	ErrNegativeAmount     = errors.New("ledger: negative amount")
	ErrPriceNotConfigured = errors.New("ledger: price not configured for package type")

	// Business-rule errors
	ErrInvalidTransition        = errors.New("ledger: invalid state transition")
	ErrPackageDepleted          = errors.New("ledger: package has no remaining sessions")
	ErrPackageExpired           = errors.New("ledger: package is past its expiry date")
	ErrInstallmentSettled       = errors.New("ledger: installment already paid or cancelled")
	ErrInstallmentNotFound      = errors.New("ledger: installment not found")
	ErrPlanCompleted            = errors.New("ledger: payment plan is completed")
	ErrRefundExceedsAmount      = errors.New("ledger: refund exceeds original amount")
	ErrMethodExpired            = errors.New("ledger: payment method is expired")
	ErrInstallmentsNotSupported = errors.New("ledger: payment method does not support installments")

	// Store errors
	ErrNotFound      = errors.New("ledger: not found")
	ErrAlreadyExists = errors.New("ledger: already exists")
	ErrConflict      = errors.New("ledger: version conflict")
	ErrStoreClosed   = errors.New("ledger: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TransitionError reports an illegal state change on an entity. The entity is
// left untouched when one is returned.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: %s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTransitionError builds a TransitionError for the given entity and states.
func NewTransitionError[S ~string](entity string, from, to S) error {
	return &TransitionError{Entity: entity, From: string(from), To: string(to)}
}

// IsBusinessRule reports whether err is a legal-state violation.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPackageDepleted) ||
		errors.Is(err, ErrPackageExpired) ||
		errors.Is(err, ErrInstallmentSettled) ||
		errors.Is(err, ErrPlanCompleted) ||
		errors.Is(err, ErrRefundExceedsAmount) ||
		errors.Is(err, ErrMethodExpired) ||
		errors.Is(err, ErrInstallmentsNotSupported)
}

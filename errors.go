package ledger

import (
	"errors"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Sentinel errors for common failure scenarios, re-exported from the types
// package so callers can match them with errors.Is.
var (
	// Domain errors
	ErrInvalidInput       = types.ErrInvalidInput
	ErrCurrencyMismatch   = types.ErrCurrencyMismatch
	ErrNegativeAmount     = types.ErrNegativeAmount
	ErrPriceNotConfigured = types.ErrPriceNotConfigured

	// Business-rule errors
	ErrInvalidTransition        = types.ErrInvalidTransition
	ErrPackageDepleted          = types.ErrPackageDepleted
	ErrPackageExpired           = types.ErrPackageExpired
	ErrInstallmentSettled       = types.ErrInstallmentSettled
	ErrInstallmentNotFound      = types.ErrInstallmentNotFound
	ErrPlanCompleted            = types.ErrPlanCompleted
	ErrRefundExceedsAmount      = types.ErrRefundExceedsAmount
	ErrMethodExpired            = types.ErrMethodExpired
	ErrInstallmentsNotSupported = types.ErrInstallmentsNotSupported

	// Store errors
	ErrNotFound      = types.ErrNotFound
	ErrAlreadyExists = types.ErrAlreadyExists
	ErrConflict      = types.ErrConflict
	ErrStoreClosed   = types.ErrStoreClosed

	// Gateway errors
	ErrGatewayNotFound = gateway.ErrGatewayNotFound
)

// ValidationError represents a validation failure with details.
type ValidationError = types.ValidationError

// TransitionError reports an illegal state change on an entity.
type TransitionError = types.TransitionError

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrGatewayNotFound)
}

// IsConflict returns true if a concurrent writer got there first. Reloading
// the entity and retrying the operation is safe.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBusinessRule returns true if the operation was refused because of the
// entity's state.
func IsBusinessRule(err error) bool {
	return types.IsBusinessRule(err)
}

// IsRetryable returns true if the error is temporary and the operation can be
// retried: a lost version race or a transient gateway failure. Domain and
// validation errors are never retryable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConflict):
		return true
	default:
		return gateway.IsRetryable(err)
	}
}

package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a gateway failure.
type Code string

const (
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeInvalidCard       Code = "invalid_card"
	CodeExpiredCard       Code = "expired_card"
	CodeBlockedCard       Code = "blocked_card"
	CodeInvalidCVC        Code = "invalid_cvc"
	CodeInvalidAmount     Code = "invalid_amount"

	CodeTimeout     Code = "timeout"
	CodeNetwork     Code = "network_error"
	CodeUnavailable Code = "gateway_unavailable"
	CodeRateLimited Code = "rate_limited"
	CodeCircuitOpen Code = "circuit_open"
	CodeUnknown     Code = "unknown"
)

// nonRetryable lists the codes that describe a permanent condition. Retrying
// them cannot succeed.
var nonRetryable = map[Code]bool{
	CodeInsufficientFunds: true,
	CodeInvalidCard:       true,
	CodeExpiredCard:       true,
	CodeBlockedCard:       true,
	CodeInvalidCVC:        true,
	CodeInvalidAmount:     true,
}

// ErrGatewayNotFound is returned when no gateway is registered under a name.
var ErrGatewayNotFound = errors.New("ledger: payment gateway not found")

// Error is a structured gateway failure.
type Error struct {
	Code    Code
	Message string
	Gateway string
	// Attempts is how many times the charge was tried before giving up.
	Attempts int
	Err      error
}

// NewError returns an Error with the given code and message.
func NewError(gateway string, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Gateway: gateway}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s: %s: %s", e.Gateway, e.Code, e.Message)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return !nonRetryable[e.Code]
}

// IsRetryable reports whether err is a transient gateway failure. Errors that
// are not *Error are never retryable; pass raw gateway errors through
// Classify first.
func IsRetryable(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Retryable()
}

// Classify turns any error returned by a gateway call into an *Error. Context
// deadlines become CodeTimeout; unknown errors become CodeUnknown.
func Classify(gateway string, err error) *Error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		if gwErr.Gateway == "" {
			gwErr.Gateway = gateway
		}
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "gateway call timed out", Gateway: gateway, Err: err}
	}
	return &Error{Code: CodeUnknown, Message: err.Error(), Gateway: gateway, Err: err}
}

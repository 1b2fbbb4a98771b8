package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

type stubGateway struct{ name string }

func (s stubGateway) Name() string { return s.name }
func (stubGateway) ProcessPayment(context.Context, Request) (*Result, error) {
	return nil, nil
}
func (stubGateway) RefundPayment(context.Context, string, *types.Money) (*RefundResult, error) {
	return nil, nil
}
func (stubGateway) GetTransactionStatus(context.Context, string) (Status, error) {
	return StatusPaid, nil
}
func (stubGateway) CreateRecurringPayment(context.Context, RecurringRequest) (*RecurringResult, error) {
	return nil, nil
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeInsufficientFunds, false},
		{CodeInvalidCard, false},
		{CodeExpiredCard, false},
		{CodeBlockedCard, false},
		{CodeInvalidCVC, false},
		{CodeInvalidAmount, false},
		{CodeTimeout, true},
		{CodeNetwork, true},
		{CodeUnavailable, true},
		{CodeRateLimited, true},
		{CodeCircuitOpen, true},
		{CodeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewError("stub", tt.code, "x")
			if got := err.Retryable(); got != tt.want {
				t.Errorf("Retryable: got %v, want %v", got, tt.want)
			}
			if got := IsRetryable(fmt.Errorf("wrapped: %w", err)); got != tt.want {
				t.Errorf("IsRetryable through wrapping: got %v, want %v", got, tt.want)
			}
		})
	}
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
	for _, err := range []error{
		errors.New("boom"),
		context.DeadlineExceeded,
		types.ErrPackageDepleted,
		types.ValidationError{Field: "amount", Message: "x"},
		ErrGatewayNotFound,
	} {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v): got true for an unclassified error", err)
		}
	}
	if !IsRetryable(Classify("stub", context.DeadlineExceeded)) {
		t.Error("a classified deadline must be retryable")
	}
}

func TestClassify(t *testing.T) {
	if Classify("stub", nil) != nil {
		t.Error("Classify(nil) must be nil")
	}

	timeout := Classify("stub", fmt.Errorf("call: %w", context.DeadlineExceeded))
	if timeout.Code != CodeTimeout || !timeout.Retryable() {
		t.Errorf("deadline: got %+v", timeout)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("classified timeout must unwrap to the deadline error")
	}

	unknown := Classify("stub", errors.New("boom"))
	if unknown.Code != CodeUnknown || unknown.Gateway != "stub" {
		t.Errorf("plain error: got %+v", unknown)
	}

	declined := &Error{Code: CodeBlockedCard, Message: "blocked"}
	if got := Classify("stub", declined); got != declined || got.Gateway != "stub" {
		t.Errorf("existing *Error: got %+v", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Code: CodeTimeout, Message: "slow", Gateway: "stub", Attempts: 3}
	if got, want := err.Error(), "gateway stub: timeout: slow (after 3 attempts)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get(""); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("empty registry: got %v", err)
	}
	if err := r.Register(stubGateway{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(stubGateway{name: "beta"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(stubGateway{name: "alpha"}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := r.Register(stubGateway{}); err == nil {
		t.Error("expected error for unnamed gateway")
	}

	if r.Default() != "alpha" {
		t.Errorf("default: got %q, want alpha", r.Default())
	}
	g, err := r.Get("")
	if err != nil || g.Name() != "alpha" {
		t.Errorf("Get default: got %v, %v", g, err)
	}
	if err := r.SetDefault("gamma"); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("SetDefault unknown: got %v", err)
	}
	if err := r.SetDefault("beta"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if g, _ := r.Get(""); g.Name() != "beta" {
		t.Errorf("default after SetDefault: got %s", g.Name())
	}
	if names := r.Names(); len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Names: got %v", names)
	}
}

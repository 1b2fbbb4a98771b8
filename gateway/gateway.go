// Package gateway defines the contract between the ledger and external payment
// gateways, the gateway error taxonomy and a registry of named gateways.
//
// The ledger never talks to a payment provider directly. Each provider
// implements Gateway and is registered under its name; the payment service
// resolves the gateway per call.
package gateway

//go:generate go run go.uber.org/mock/mockgen@latest -source=gateway.go -destination=mocks/gateway.go -package=mocks

import (
	"context"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Status is the gateway-side state of a charge.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Request describes one charge.
type Request struct {
	// IdempotencyKey is reused across the retries of one charge so the
	// gateway never settles it twice.
	IdempotencyKey string
	TransactionID  string
	PatientID      string
	Amount         types.Money
	Method         paymethod.Method
	Installments   int
	Description    string
	Metadata       map[string]string
}

// Result is a charge accepted by the gateway. Status is StatusPaid for
// synchronous settlement or StatusPending when the gateway settles later
// (for example a Pix QR code awaiting payment).
type Result struct {
	GatewayRef  string
	Status      Status
	ProcessedAt time.Time
}

// RefundResult is a refund accepted by the gateway.
type RefundResult struct {
	RefundRef string
	Status    Status
	Amount    types.Money
}

// RecurringRequest asks the gateway to debit a fixed amount every month.
type RecurringRequest struct {
	IdempotencyKey string
	PatientID      string
	PlanID         string
	Amount         types.Money
	Method         paymethod.Method
	Installments   int
	FirstDueDate   time.Time
}

// RecurringResult is a recurring schedule accepted by the gateway.
type RecurringResult struct {
	ScheduleRef string
	Status      Status
}

// Gateway is implemented by every payment provider. Failures are returned as
// *Error so callers can tell permanent declines from transient faults.
type Gateway interface {
	Name() string
	ProcessPayment(ctx context.Context, req Request) (*Result, error)
	// RefundPayment refunds amount, or the whole charge when amount is nil.
	RefundPayment(ctx context.Context, gatewayRef string, amount *types.Money) (*RefundResult, error)
	GetTransactionStatus(ctx context.Context, gatewayRef string) (Status, error)
	CreateRecurringPayment(ctx context.Context, req RecurringRequest) (*RecurringResult, error)
}

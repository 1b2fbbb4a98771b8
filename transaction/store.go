package transaction

import (
	"context"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
)

// Store persists transactions. UpdateTransaction is a compare-and-swap on the
// version the caller loaded; a mismatch returns ErrConflict.
type Store interface {
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction, expectedVersion int64) error
	ListTransactions(ctx context.Context, opts ListOpts) ([]*Transaction, error)
}

type ListOpts struct {
	PatientID string
	Status    Status
	Type      Type
	PlanID    id.PaymentPlanID
	// DueBefore keeps transactions due strictly before the given time.
	DueBefore *time.Time
	// WithGatewayRef keeps only transactions that carry a gateway reference.
	WithGatewayRef bool
	Limit          int
	Offset         int
}

// Matches reports whether t satisfies the filter. In-memory stores use it.
func (o ListOpts) Matches(t *Transaction) bool {
	if o.PatientID != "" && t.PatientID != o.PatientID {
		return false
	}
	if o.Status != "" && t.Status != o.Status {
		return false
	}
	if o.Type != "" && t.Type != o.Type {
		return false
	}
	if !o.PlanID.IsNil() && t.PlanID.String() != o.PlanID.String() {
		return false
	}
	if o.DueBefore != nil && !t.DueDate.Before(*o.DueBefore) {
		return false
	}
	if o.WithGatewayRef && t.GatewayRef == "" {
		return false
	}
	return true
}

package invoice

import (
	"context"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
)

type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice, expectedVersion int64) error
	ListInvoices(ctx context.Context, opts ListOpts) ([]*Invoice, error)
}

type ListOpts struct {
	PatientID     string
	Status        Status
	TransactionID id.TransactionID
	// DueBefore keeps invoices due strictly before the given time.
	DueBefore *time.Time
	Limit     int
	Offset    int
}

func (o ListOpts) Matches(inv *Invoice) bool {
	if o.PatientID != "" && inv.PatientID != o.PatientID {
		return false
	}
	if o.Status != "" && inv.Status != o.Status {
		return false
	}
	if o.DueBefore != nil && !inv.DueDate.Before(*o.DueBefore) {
		return false
	}
	if !o.TransactionID.IsNil() {
		found := false
		for _, t := range inv.TransactionIDs {
			if t.String() == o.TransactionID.String() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

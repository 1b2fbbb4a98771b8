// Package invoice models billing documents that group one or more patient
// transactions into line items.
//
// Totals are never stored: subtotal, tax and total are always derived from
// the line items, the discount and the invoice's tax rates.
package invoice

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

type Invoice struct {
	types.Entity
	ID             id.InvoiceID       `json:"id"`
	PatientID      string             `json:"patient_id"`
	TransactionIDs []id.TransactionID `json:"transaction_ids"`
	Number         string             `json:"number,omitempty"`
	Currency       string             `json:"currency"`
	IssueDate      time.Time          `json:"issue_date"`
	DueDate        time.Time          `json:"due_date"`
	LineItems      []LineItem         `json:"line_items"`
	DiscountAmount types.Money        `json:"discount_amount"`
	TaxRates       []tax.Rate         `json:"tax_rates"`
	Status         Status             `json:"status"`
	IssuedAt       *time.Time         `json:"issued_at,omitempty"`
	PaidAt         *time.Time         `json:"paid_at,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	CancelReason   string             `json:"cancel_reason,omitempty"`
	PaymentRef     string             `json:"payment_ref,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

type LineItem struct {
	ID            id.LineItemID    `json:"id"`
	Description   string           `json:"description"`
	Quantity      int64            `json:"quantity"`
	UnitPrice     types.Money      `json:"unit_price"`
	TransactionID id.TransactionID `json:"transaction_id,omitempty"`
}

// TotalPrice returns unit price × quantity.
func (li LineItem) TotalPrice() types.Money {
	return li.UnitPrice.Multiply(li.Quantity)
}

// NewLineItem validates and returns a line item.
func NewLineItem(description string, quantity int64, unitPrice types.Money, txnID id.TransactionID) (LineItem, error) {
	switch {
	case strings.TrimSpace(description) == "":
		return LineItem{}, types.ValidationError{Field: "line_item.description", Message: "description is required"}
	case quantity < 1:
		return LineItem{}, types.ValidationError{Field: "line_item.quantity", Message: "quantity must be at least 1"}
	case !unitPrice.IsPositive():
		return LineItem{}, types.ValidationError{Field: "line_item.unit_price", Message: "unit price must be positive"}
	}
	return LineItem{
		ID:            id.NewLineItemID(),
		Description:   description,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		TransactionID: txnID,
	}, nil
}

// Params holds everything needed to construct an Invoice.
type Params struct {
	PatientID      string
	TransactionIDs []id.TransactionID
	IssueDate      time.Time
	DueDate        time.Time
	LineItems      []LineItem
	TaxRates       []tax.Rate
	Notes          string
	Metadata       map[string]string
}

// New validates p and returns a draft invoice.
func New(p Params) (*Invoice, error) {
	switch {
	case strings.TrimSpace(p.PatientID) == "":
		return nil, types.ValidationError{Field: "patient_id", Message: "patient is required"}
	case len(p.TransactionIDs) == 0:
		return nil, types.ValidationError{Field: "transaction_ids", Message: "at least one transaction is required"}
	case len(p.LineItems) == 0:
		return nil, types.ValidationError{Field: "line_items", Message: "at least one line item is required"}
	case p.IssueDate.IsZero():
		return nil, types.ValidationError{Field: "issue_date", Message: "issue date is required"}
	case !p.DueDate.After(p.IssueDate):
		return nil, types.ValidationError{Field: "due_date", Message: "due date must be after issue date"}
	}
	if _, err := tax.NewCalculator(p.TaxRates...); err != nil {
		return nil, err
	}

	currency := p.LineItems[0].UnitPrice.Currency
	for _, li := range p.LineItems {
		if li.UnitPrice.Currency != currency {
			return nil, types.ErrCurrencyMismatch
		}
		if li.Quantity < 1 || !li.UnitPrice.IsPositive() {
			return nil, types.ValidationError{Field: "line_items", Message: "line items need a positive quantity and unit price"}
		}
	}

	return &Invoice{
		Entity:         types.NewEntity(),
		ID:             id.NewInvoiceID(),
		PatientID:      p.PatientID,
		TransactionIDs: slices.Clone(p.TransactionIDs),
		Currency:       currency,
		IssueDate:      p.IssueDate.UTC(),
		DueDate:        p.DueDate.UTC(),
		LineItems:      slices.Clone(p.LineItems),
		DiscountAmount: types.Zero(currency),
		TaxRates:       slices.Clone(p.TaxRates),
		Status:         StatusDraft,
		Notes:          p.Notes,
		Metadata:       maps.Clone(p.Metadata),
	}, nil
}

// ──────────────────────────────────────────────────
// Derived totals
// ──────────────────────────────────────────────────

// Subtotal returns the sum of all line item totals.
func (inv *Invoice) Subtotal() types.Money {
	total := types.Zero(inv.Currency)
	for _, li := range inv.LineItems {
		total.Amount += li.TotalPrice().Amount
	}
	return total
}

// Taxes returns the tax breakdown over the discounted subtotal.
func (inv *Invoice) Taxes() tax.Breakdown {
	calc, err := tax.NewCalculator(inv.TaxRates...)
	if err != nil {
		// Rates are validated on construction; an invalid list here was
		// loaded from a corrupted row.
		calc, _ = tax.NewCalculator()
	}
	return calc.Calculate(inv.taxBase())
}

// Total returns subtotal minus discount plus tax.
func (inv *Invoice) Total() types.Money {
	base := inv.taxBase()
	base.Amount += inv.Taxes().Total.Amount
	return base
}

func (inv *Invoice) taxBase() types.Money {
	sub := inv.Subtotal()
	sub.Amount -= inv.DiscountAmount.Amount
	return sub
}

// ──────────────────────────────────────────────────
// Draft editing
// ──────────────────────────────────────────────────

// AddLineItem appends a line item. Draft only.
func (inv *Invoice) AddLineItem(li LineItem) error {
	if inv.Status != StatusDraft {
		return types.NewTransitionError("invoice", inv.Status, StatusDraft)
	}
	if li.UnitPrice.Currency != inv.Currency {
		return types.ErrCurrencyMismatch
	}
	if li.Quantity < 1 || !li.UnitPrice.IsPositive() {
		return types.ValidationError{Field: "line_item", Message: "line items need a positive quantity and unit price"}
	}
	if li.ID.IsNil() {
		li.ID = id.NewLineItemID()
	}
	inv.LineItems = append(inv.LineItems, li)
	inv.Touch()
	return nil
}

// RemoveLineItem drops a line item. Draft only; the last item cannot be removed
// and the discount must still fit the new subtotal.
func (inv *Invoice) RemoveLineItem(liID id.LineItemID) error {
	if inv.Status != StatusDraft {
		return types.NewTransitionError("invoice", inv.Status, StatusDraft)
	}
	idx := slices.IndexFunc(inv.LineItems, func(li LineItem) bool { return li.ID.String() == liID.String() })
	if idx < 0 {
		return fmt.Errorf("%w: line item %s", types.ErrNotFound, liID)
	}
	if len(inv.LineItems) == 1 {
		return types.ValidationError{Field: "line_items", Message: "an invoice needs at least one line item"}
	}
	remaining := inv.Subtotal().Amount - inv.LineItems[idx].TotalPrice().Amount
	if inv.DiscountAmount.Amount > remaining {
		return types.ValidationError{Field: "discount_amount", Message: "discount would exceed the subtotal"}
	}
	inv.LineItems = slices.Delete(inv.LineItems, idx, idx+1)
	inv.Touch()
	return nil
}

// ApplyDiscount sets the invoice discount. Draft only; never above the subtotal.
func (inv *Invoice) ApplyDiscount(amount types.Money) error {
	if inv.Status != StatusDraft {
		return types.NewTransitionError("invoice", inv.Status, StatusDraft)
	}
	if amount.Currency != inv.Currency {
		return types.ErrCurrencyMismatch
	}
	if amount.IsNegative() {
		return types.ValidationError{Field: "discount_amount", Message: "discount cannot be negative"}
	}
	if amount.GreaterThan(inv.Subtotal()) {
		return types.ValidationError{Field: "discount_amount", Message: "discount cannot exceed the subtotal"}
	}
	inv.DiscountAmount = amount
	inv.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// State transitions
// ──────────────────────────────────────────────────

// Issue assigns the invoice number and moves the invoice out of draft.
func (inv *Invoice) Issue(number string, at time.Time) error {
	if inv.Status != StatusDraft {
		return types.NewTransitionError("invoice", inv.Status, StatusIssued)
	}
	if strings.TrimSpace(number) == "" {
		return types.ValidationError{Field: "number", Message: "invoice number is required"}
	}
	issued := at.UTC()
	inv.Number = number
	inv.IssuedAt = &issued
	inv.Status = StatusIssued
	inv.Touch()
	return nil
}

// MarkAsPaid settles an issued or overdue invoice.
func (inv *Invoice) MarkAsPaid(paidAt time.Time, paymentRef string) error {
	if inv.Status != StatusIssued && inv.Status != StatusOverdue {
		return types.NewTransitionError("invoice", inv.Status, StatusPaid)
	}
	paid := paidAt.UTC()
	inv.PaidAt = &paid
	inv.PaymentRef = paymentRef
	inv.Status = StatusPaid
	inv.Touch()
	return nil
}

// MarkAsOverdue flags an issued invoice whose due date has passed.
func (inv *Invoice) MarkAsOverdue(now time.Time) error {
	if inv.Status != StatusIssued {
		return types.NewTransitionError("invoice", inv.Status, StatusOverdue)
	}
	if !now.After(inv.DueDate) {
		return types.ValidationError{Field: "due_date", Message: "invoice is not past its due date"}
	}
	inv.Status = StatusOverdue
	inv.Touch()
	return nil
}

// Cancel voids a draft, issued or overdue invoice.
func (inv *Invoice) Cancel(reason string) error {
	switch inv.Status {
	case StatusDraft, StatusIssued, StatusOverdue:
	default:
		return types.NewTransitionError("invoice", inv.Status, StatusCancelled)
	}
	now := time.Now().UTC()
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.Status = StatusCancelled
	inv.Touch()
	return nil
}

// Clone returns a deep copy.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.TransactionIDs = slices.Clone(inv.TransactionIDs)
	c.LineItems = slices.Clone(inv.LineItems)
	c.TaxRates = slices.Clone(inv.TaxRates)
	c.Metadata = maps.Clone(inv.Metadata)
	for _, p := range []**time.Time{&c.IssuedAt, &c.PaidAt, &c.CancelledAt} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return &c
}

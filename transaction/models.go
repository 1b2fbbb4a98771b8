// Package transaction models the unit of money owed or paid by a patient.
package transaction

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type Type string

const (
	TypePackage     Type = "package"
	TypeSession     Type = "session"
	TypeEvaluation  Type = "evaluation"
	TypeInstallment Type = "installment"
	TypeLateFee     Type = "late_fee"
)

type Transaction struct {
	types.Entity
	ID                id.TransactionID  `json:"id"`
	PatientID         string            `json:"patient_id"`
	Type              Type              `json:"type"`
	Description       string            `json:"description,omitempty"`
	Amount            types.Money       `json:"amount"`
	TaxAmount         types.Money       `json:"tax_amount"`
	PaymentMethod     paymethod.Method  `json:"payment_method"`
	InstallmentCount  int               `json:"installment_count"`
	InstallmentNumber int               `json:"installment_number"`
	DueDate           time.Time         `json:"due_date"`
	PaidDate          *time.Time        `json:"paid_date,omitempty"`
	Status            Status            `json:"status"`
	GatewayName       string            `json:"gateway_name,omitempty"`
	GatewayRef        string            `json:"gateway_ref,omitempty"`
	RefundedAmount    types.Money       `json:"refunded_amount"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	PlanID            id.PaymentPlanID  `json:"plan_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Params holds everything needed to construct a Transaction.
type Params struct {
	PatientID         string
	Type              Type
	Description       string
	Amount            types.Money
	TaxAmount         types.Money
	PaymentMethod     paymethod.Method
	InstallmentCount  int
	InstallmentNumber int
	DueDate           time.Time
	PlanID            id.PaymentPlanID
	Metadata          map[string]string
}

// New validates p and returns a pending transaction at version 1.
// It is the only construction path, so no Transaction exists in an invalid state.
func New(p Params) (*Transaction, error) {
	if p.InstallmentCount == 0 {
		p.InstallmentCount = 1
	}
	if p.InstallmentNumber == 0 {
		p.InstallmentNumber = 1
	}
	if p.TaxAmount.Currency == "" {
		p.TaxAmount = types.Zero(p.Amount.Currency)
	}

	if err := validate(p); err != nil {
		return nil, err
	}

	return &Transaction{
		Entity:            types.NewEntity(),
		ID:                id.NewTransactionID(),
		PatientID:         p.PatientID,
		Type:              p.Type,
		Description:       p.Description,
		Amount:            p.Amount,
		TaxAmount:         p.TaxAmount,
		PaymentMethod:     p.PaymentMethod,
		InstallmentCount:  p.InstallmentCount,
		InstallmentNumber: p.InstallmentNumber,
		DueDate:           p.DueDate.UTC(),
		Status:            StatusPending,
		RefundedAmount:    types.Zero(p.Amount.Currency),
		PlanID:            p.PlanID,
		Metadata:          maps.Clone(p.Metadata),
	}, nil
}

func validate(p Params) error {
	switch {
	case strings.TrimSpace(p.PatientID) == "":
		return types.ValidationError{Field: "patient_id", Message: "patient is required"}
	case p.Type == "":
		return types.ValidationError{Field: "type", Message: "transaction type is required"}
	case !p.Amount.IsPositive():
		return types.ValidationError{Field: "amount", Message: "amount must be positive"}
	case p.TaxAmount.IsNegative():
		return types.ValidationError{Field: "tax_amount", Message: "tax cannot be negative"}
	case p.TaxAmount.Currency != p.Amount.Currency:
		return types.ValidationError{Field: "tax_amount", Message: "tax currency must match amount"}
	case p.DueDate.IsZero():
		return types.ValidationError{Field: "due_date", Message: "due date is required"}
	case p.InstallmentCount < 1 || p.InstallmentCount > paymethod.MaxInstallments:
		return types.ValidationError{Field: "installment_count", Message: fmt.Sprintf("must be within [1, %d]", paymethod.MaxInstallments)}
	case p.InstallmentNumber < 1 || p.InstallmentNumber > p.InstallmentCount:
		return types.ValidationError{Field: "installment_number", Message: "must be within [1, installment_count]"}
	}
	if err := p.PaymentMethod.Validate(); err != nil {
		return err
	}
	if p.InstallmentCount > 1 && !p.PaymentMethod.SupportsInstallments() {
		return types.ErrInstallmentsNotSupported
	}
	return nil
}

// Total returns the amount plus tax.
func (t *Transaction) Total() types.Money {
	return types.Money{Amount: t.Amount.Amount + t.TaxAmount.Amount, Currency: t.Amount.Currency}
}

// IsPayable reports whether the transaction can still be settled.
func (t *Transaction) IsPayable() bool {
	return t.Status == StatusPending || t.Status == StatusOverdue
}

// SettledByPlan reports whether t is a sale financed by a payment plan. Its
// installments carry the debt and the sale is paid when the plan completes.
func (t *Transaction) SettledByPlan() bool {
	return !t.PlanID.IsNil() && t.Type != TypeInstallment && t.Type != TypeLateFee
}

// ──────────────────────────────────────────────────
// State transitions
// ──────────────────────────────────────────────────

// MarkAsPaid settles a pending or overdue transaction.
func (t *Transaction) MarkAsPaid(paidAt time.Time, gatewayRef string) error {
	if !t.IsPayable() {
		return types.NewTransitionError("transaction", t.Status, StatusPaid)
	}
	paid := paidAt.UTC()
	t.PaidDate = &paid
	t.Status = StatusPaid
	if gatewayRef != "" {
		t.GatewayRef = gatewayRef
	}
	t.Touch()
	return nil
}

// MarkAsOverdue flags a pending transaction whose due date has passed.
func (t *Transaction) MarkAsOverdue(now time.Time) error {
	if t.Status != StatusPending {
		return types.NewTransitionError("transaction", t.Status, StatusOverdue)
	}
	if !now.After(t.DueDate) {
		return types.ValidationError{Field: "due_date", Message: "transaction is not past its due date"}
	}
	t.Status = StatusOverdue
	t.Touch()
	return nil
}

// Cancel voids a pending transaction.
func (t *Transaction) Cancel(reason string) error {
	if t.Status != StatusPending {
		return types.NewTransitionError("transaction", t.Status, StatusCancelled)
	}
	now := time.Now().UTC()
	t.CancelledAt = &now
	t.Reason = reason
	t.Status = StatusCancelled
	t.Touch()
	return nil
}

// Refund returns up to the full total of a paid transaction, tax included:
// the amount the charge captured.
func (t *Transaction) Refund(amount types.Money, reason string) error {
	if t.Status != StatusPaid {
		return types.NewTransitionError("transaction", t.Status, StatusRefunded)
	}
	if amount.Currency != t.Amount.Currency {
		return types.ErrCurrencyMismatch
	}
	if !amount.IsPositive() {
		return types.ValidationError{Field: "amount", Message: "refund amount must be positive"}
	}
	if amount.GreaterThan(t.Total()) {
		return fmt.Errorf("%w: %s > %s", types.ErrRefundExceedsAmount, amount, t.Total())
	}
	now := time.Now().UTC()
	t.RefundedAmount = amount
	t.RefundedAt = &now
	t.Reason = reason
	t.Status = StatusRefunded
	t.Touch()
	return nil
}

// AttachGateway records the gateway reference of a charge that the gateway is
// still settling asynchronously (for example a Pix QR code).
func (t *Transaction) AttachGateway(name, ref string) error {
	if !t.IsPayable() {
		return types.NewTransitionError("transaction", t.Status, t.Status)
	}
	t.GatewayName = name
	t.GatewayRef = ref
	t.Touch()
	return nil
}

// DaysOverdue returns whole days past the due date, or 0 unless overdue.
func (t *Transaction) DaysOverdue(now time.Time) int {
	if t.Status != StatusOverdue || !now.After(t.DueDate) {
		return 0
	}
	return int(now.Sub(t.DueDate).Hours() / 24)
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.PaidDate != nil {
		v := *t.PaidDate
		c.PaidDate = &v
	}
	if t.RefundedAt != nil {
		v := *t.RefundedAt
		c.RefundedAt = &v
	}
	if t.CancelledAt != nil {
		v := *t.CancelledAt
		c.CancelledAt = &v
	}
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

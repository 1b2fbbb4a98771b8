// Package plan models installment payment plans: a total amount amortized over
// up to twelve monthly installments, optionally with interest and a flat late
// penalty.
package plan

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// DefaultThreshold is the number of overdue installments that defaults a plan.
const DefaultThreshold = 3

var (
	maxInterestRate = decimal.RequireFromString("0.5")
	maxPenaltyRate  = decimal.RequireFromString("0.1")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDefaulted Status = "defaulted"
	StatusCancelled Status = "cancelled"
)

type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentOverdue   InstallmentStatus = "overdue"
	InstallmentCancelled InstallmentStatus = "cancelled"
)

// Settled reports whether the installment needs no further payment.
func (s InstallmentStatus) Settled() bool {
	return s == InstallmentPaid || s == InstallmentCancelled
}

type Plan struct {
	types.Entity
	ID                  id.PaymentPlanID `json:"id"`
	PatientID           string           `json:"patient_id"`
	OriginTransactionID id.TransactionID `json:"origin_transaction_id,omitempty"`
	TotalAmount         types.Money      `json:"total_amount"`
	InstallmentCount    int              `json:"installment_count"`
	PaymentMethod       paymethod.Method `json:"payment_method"`
	Installments        []Installment    `json:"installments"`
	InterestRate        decimal.Decimal  `json:"interest_rate"`
	PenaltyRate         decimal.Decimal  `json:"penalty_rate"`
	Status              Status           `json:"status"`
	// RecurringRef is the gateway reference of an automatic-debit schedule.
	RecurringRef string     `json:"recurring_ref,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

type Installment struct {
	ID            id.InstallmentID  `json:"id"`
	Number        int               `json:"number"`
	Amount        types.Money       `json:"amount"`
	DueDate       time.Time         `json:"due_date"`
	PaidDate      *time.Time        `json:"paid_date,omitempty"`
	TransactionID id.TransactionID  `json:"transaction_id,omitempty"`
	Status        InstallmentStatus `json:"status"`
}

// Params holds everything needed to construct a Plan.
type Params struct {
	PatientID           string
	OriginTransactionID id.TransactionID
	TotalAmount         types.Money
	InstallmentCount    int
	PaymentMethod       paymethod.Method
	FirstDueDate        time.Time
	InterestRate        decimal.Decimal
	PenaltyRate         decimal.Decimal
}

// New validates p and returns an active plan with every installment
// pre-generated.
func New(p Params) (*Plan, error) {
	switch {
	case strings.TrimSpace(p.PatientID) == "":
		return nil, types.ValidationError{Field: "patient_id", Message: "patient is required"}
	case !p.TotalAmount.IsPositive():
		return nil, types.ValidationError{Field: "total_amount", Message: "total must be positive"}
	case p.InstallmentCount < 1 || p.InstallmentCount > paymethod.MaxInstallments:
		return nil, types.ValidationError{Field: "installment_count", Message: fmt.Sprintf("must be within [1, %d]", paymethod.MaxInstallments)}
	case p.FirstDueDate.IsZero():
		return nil, types.ValidationError{Field: "first_due_date", Message: "first due date is required"}
	case p.InterestRate.IsNegative() || p.InterestRate.GreaterThan(maxInterestRate):
		return nil, types.ValidationError{Field: "interest_rate", Message: "must be within [0, 0.5]"}
	case p.PenaltyRate.IsNegative() || p.PenaltyRate.GreaterThan(maxPenaltyRate):
		return nil, types.ValidationError{Field: "penalty_rate", Message: "must be within [0, 0.1]"}
	}
	if err := p.PaymentMethod.Validate(); err != nil {
		return nil, err
	}
	if p.InstallmentCount > 1 && !p.PaymentMethod.SupportsInstallments() {
		return nil, types.ErrInstallmentsNotSupported
	}

	installments, err := GenerateInstallments(p.TotalAmount, p.InstallmentCount, p.FirstDueDate, p.InterestRate)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Entity:              types.NewEntity(),
		ID:                  id.NewPaymentPlanID(),
		PatientID:           p.PatientID,
		OriginTransactionID: p.OriginTransactionID,
		TotalAmount:         p.TotalAmount,
		InstallmentCount:    p.InstallmentCount,
		PaymentMethod:       p.PaymentMethod,
		Installments:        installments,
		InterestRate:        p.InterestRate,
		PenaltyRate:         p.PenaltyRate,
		Status:              StatusActive,
	}, nil
}

// GenerateInstallments splits total into count monthly installments starting
// at firstDue. Without interest the shares are total / count with the rounding
// remainder on the last one, so they always sum to total. With interest every
// installment carries the same amortized payment
// total × r(1+r)^n / ((1+r)^n − 1), rounded half-up.
func GenerateInstallments(total types.Money, count int, firstDue time.Time, rate decimal.Decimal) ([]Installment, error) {
	if count < 1 {
		return nil, types.ValidationError{Field: "installment_count", Message: "must be at least 1"}
	}

	var amounts []types.Money
	if rate.IsZero() {
		shares, err := total.Split(count)
		if err != nil {
			return nil, err
		}
		amounts = shares
	} else {
		payment := amortizedPayment(total, count, rate)
		amounts = make([]types.Money, count)
		for i := range amounts {
			amounts[i] = payment
		}
	}

	first := firstDue.UTC()
	out := make([]Installment, count)
	for i := range out {
		out[i] = Installment{
			ID:      id.NewInstallmentID(),
			Number:  i + 1,
			Amount:  amounts[i],
			DueDate: addMonths(first, i),
			Status:  InstallmentPending,
		}
	}
	return out, nil
}

func amortizedPayment(total types.Money, n int, r decimal.Decimal) types.Money {
	one := decimal.NewFromInt(1)
	growth := one.Add(r).Pow(decimal.NewFromInt(int64(n)))
	payment := decimal.NewFromInt(total.Amount).
		Mul(r).
		Mul(growth).
		Div(growth.Sub(one)).
		Round(0)
	return types.Money{Amount: payment.IntPart(), Currency: total.Currency}
}

// addMonths moves t forward n calendar months, clamping the day to the end of
// the target month (Jan 31 + 1 month = Feb 28).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := target.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Installment returns the installment with the given id.
func (p *Plan) Installment(instID id.InstallmentID) (*Installment, error) {
	for i := range p.Installments {
		if p.Installments[i].ID.String() == instID.String() {
			return &p.Installments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrInstallmentNotFound, instID)
}

// InstallmentByNumber returns the installment with the given 1-based number.
func (p *Plan) InstallmentByNumber(n int) (*Installment, error) {
	if n < 1 || n > len(p.Installments) {
		return nil, fmt.Errorf("%w: number %d", types.ErrInstallmentNotFound, n)
	}
	return &p.Installments[n-1], nil
}

// InstallmentByTransaction returns the installment linked to txnID.
func (p *Plan) InstallmentByTransaction(txnID id.TransactionID) (*Installment, error) {
	for i := range p.Installments {
		if p.Installments[i].TransactionID.String() == txnID.String() {
			return &p.Installments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", types.ErrInstallmentNotFound, txnID)
}

// OverdueCount returns the number of overdue installments.
func (p *Plan) OverdueCount() int {
	n := 0
	for _, inst := range p.Installments {
		if inst.Status == InstallmentOverdue {
			n++
		}
	}
	return n
}

// Scheduled returns the sum of every installment amount.
func (p *Plan) Scheduled() types.Money {
	total := types.Zero(p.TotalAmount.Currency)
	for _, inst := range p.Installments {
		total.Amount += inst.Amount.Amount
	}
	return total
}

// PaidAmount returns the sum of paid installments.
func (p *Plan) PaidAmount() types.Money {
	total := types.Zero(p.TotalAmount.Currency)
	for _, inst := range p.Installments {
		if inst.Status == InstallmentPaid {
			total.Amount += inst.Amount.Amount
		}
	}
	return total
}

// Outstanding returns the sum of pending and overdue installments.
func (p *Plan) Outstanding() types.Money {
	total := types.Zero(p.TotalAmount.Currency)
	for _, inst := range p.Installments {
		if !inst.Status.Settled() {
			total.Amount += inst.Amount.Amount
		}
	}
	return total
}

// DueInstallments returns pending installments whose due date is before now.
func (p *Plan) DueInstallments(now time.Time) []Installment {
	var out []Installment
	for _, inst := range p.Installments {
		if inst.Status == InstallmentPending && now.After(inst.DueDate) {
			out = append(out, inst)
		}
	}
	return out
}

// CalculatePenalty returns the flat late fee for an installment: amount ×
// penalty rate when the installment is overdue and now is past its due date,
// zero otherwise. The fee does not grow with the number of days late.
func (p *Plan) CalculatePenalty(instID id.InstallmentID, now time.Time) (types.Money, error) {
	inst, err := p.Installment(instID)
	if err != nil {
		return types.Money{}, err
	}
	if inst.Status != InstallmentOverdue || !now.After(inst.DueDate) {
		return types.Zero(inst.Amount.Currency), nil
	}
	return inst.Amount.MultiplyRate(p.PenaltyRate), nil
}

// ──────────────────────────────────────────────────
// State transitions
// ──────────────────────────────────────────────────

// PayInstallment settles an installment. Once every installment is paid or
// cancelled the plan completes.
func (p *Plan) PayInstallment(instID id.InstallmentID, paidAt time.Time, txnID id.TransactionID) error {
	if p.Status == StatusCompleted {
		return types.ErrPlanCompleted
	}
	if p.Status == StatusCancelled {
		return types.NewTransitionError("payment plan", p.Status, StatusCompleted)
	}
	inst, err := p.Installment(instID)
	if err != nil {
		return err
	}
	if inst.Status.Settled() {
		return fmt.Errorf("%w: installment %d is %s", types.ErrInstallmentSettled, inst.Number, inst.Status)
	}

	paid := paidAt.UTC()
	inst.PaidDate = &paid
	inst.Status = InstallmentPaid
	if !txnID.IsNil() {
		inst.TransactionID = txnID
	}
	if p.allSettled() {
		p.close(StatusCompleted, paid)
	}
	p.Touch()
	return nil
}

// MarkInstallmentOverdue flags a pending installment as overdue and reports
// whether it changed anything. Reaching DefaultThreshold overdue installments
// defaults an active plan.
func (p *Plan) MarkInstallmentOverdue(instID id.InstallmentID, now time.Time) (bool, error) {
	inst, err := p.Installment(instID)
	if err != nil {
		return false, err
	}
	if inst.Status != InstallmentPending {
		return false, nil
	}
	inst.Status = InstallmentOverdue
	if p.Status == StatusActive && p.OverdueCount() >= DefaultThreshold {
		p.close(StatusDefaulted, now.UTC())
	}
	p.Touch()
	return true, nil
}

// Cancel cancels every pending or overdue installment.
func (p *Plan) Cancel(now time.Time) error {
	switch p.Status {
	case StatusCompleted:
		return types.ErrPlanCompleted
	case StatusCancelled:
		return types.NewTransitionError("payment plan", p.Status, StatusCancelled)
	}
	for i := range p.Installments {
		if !p.Installments[i].Status.Settled() {
			p.Installments[i].Status = InstallmentCancelled
		}
	}
	p.close(StatusCancelled, now.UTC())
	p.Touch()
	return nil
}

// AttachRecurring records the gateway schedule that debits the installments.
func (p *Plan) AttachRecurring(ref string) error {
	if p.Status != StatusActive {
		return types.NewTransitionError("payment plan", p.Status, p.Status)
	}
	p.RecurringRef = ref
	p.Touch()
	return nil
}

func (p *Plan) allSettled() bool {
	for _, inst := range p.Installments {
		if !inst.Status.Settled() {
			return false
		}
	}
	return true
}

func (p *Plan) close(status Status, at time.Time) {
	p.Status = status
	p.ClosedAt = &at
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Installments = slices.Clone(p.Installments)
	for i := range c.Installments {
		if c.Installments[i].PaidDate != nil {
			v := *c.Installments[i].PaidDate
			c.Installments[i].PaidDate = &v
		}
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}

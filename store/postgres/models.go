package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"
	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

const (
	tableTransactions = "ledger_transactions"
	tablePackages     = "ledger_packages"
	tableInvoices     = "ledger_invoices"
	tablePlans        = "ledger_payment_plans"
	tableSequences    = "ledger_invoice_sequences"
)

// ==================== Transaction rows ====================

var transactionColumns = []string{
	"id", "patient_id", "type", "description", "currency", "amount", "tax_amount",
	"payment_method", "installment_count", "installment_number", "due_date", "paid_date",
	"status", "gateway_name", "gateway_ref", "refunded_amount", "refunded_at", "cancelled_at",
	"reason", "plan_id", "metadata", "version", "created_at", "updated_at",
}

func transactionValues(t *transaction.Transaction) ([]any, error) {
	method, err := json.Marshal(t.PaymentMethod)
	if err != nil {
		return nil, err
	}
	meta, err := marshalMetadata(t.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		t.ID, t.PatientID, string(t.Type), t.Description, t.Amount.Currency, t.Amount.Amount, t.TaxAmount.Amount,
		method, t.InstallmentCount, t.InstallmentNumber, t.DueDate, t.PaidDate,
		string(t.Status), t.GatewayName, t.GatewayRef, t.RefundedAmount.Amount, t.RefundedAt, t.CancelledAt,
		t.Reason, t.PlanID, meta, t.Version, t.CreatedAt, t.UpdatedAt,
	}, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var (
		t                         transaction.Transaction
		typ, status, currency     string
		amount, taxAmt, refundAmt int64
		method, meta              []byte
	)
	err := row.Scan(
		&t.ID, &t.PatientID, &typ, &t.Description, &currency, &amount, &taxAmt,
		&method, &t.InstallmentCount, &t.InstallmentNumber, &t.DueDate, &t.PaidDate,
		&status, &t.GatewayName, &t.GatewayRef, &refundAmt, &t.RefundedAt, &t.CancelledAt,
		&t.Reason, &t.PlanID, &meta, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(method, &t.PaymentMethod); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	if t.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, err
	}
	t.Type = transaction.Type(typ)
	t.Status = transaction.Status(status)
	t.Amount = types.Money{Amount: amount, Currency: currency}
	t.TaxAmount = types.Money{Amount: taxAmt, Currency: currency}
	t.RefundedAmount = types.Money{Amount: refundAmt, Currency: currency}
	normalizeTimes(&t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	normalizeOptional(t.PaidDate, t.RefundedAt, t.CancelledAt)
	return &t, nil
}

// ==================== Package rows ====================

var packageColumns = []string{
	"id", "patient_id", "transaction_id", "type", "total_sessions", "used_sessions",
	"currency", "price", "purchase_date", "expiry_date", "status", "last_used_at",
	"metadata", "version", "created_at", "updated_at",
}

func packageValues(p *prepaid.Package) ([]any, error) {
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.PatientID, p.TransactionID, string(p.Type), p.TotalSessions, p.UsedSessions,
		p.Price.Currency, p.Price.Amount, p.PurchaseDate, p.ExpiryDate, string(p.Status), p.LastUsedAt,
		meta, p.Version, p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanPackage(row pgx.Row) (*prepaid.Package, error) {
	var (
		p                     prepaid.Package
		typ, status, currency string
		price                 int64
		meta                  []byte
	)
	err := row.Scan(
		&p.ID, &p.PatientID, &p.TransactionID, &typ, &p.TotalSessions, &p.UsedSessions,
		&currency, &price, &p.PurchaseDate, &p.ExpiryDate, &status, &p.LastUsedAt,
		&meta, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, err
	}
	p.Type = prepaid.Type(typ)
	p.Status = prepaid.Status(status)
	p.Price = types.Money{Amount: price, Currency: currency}
	normalizeTimes(&p.PurchaseDate, &p.ExpiryDate, &p.CreatedAt, &p.UpdatedAt)
	normalizeOptional(p.LastUsedAt)
	return &p, nil
}

// ==================== Invoice rows ====================

var invoiceColumns = []string{
	"id", "patient_id", "transaction_ids", "number", "currency", "issue_date", "due_date",
	"line_items", "discount_amount", "tax_rates", "status", "issued_at", "paid_at",
	"cancelled_at", "cancel_reason", "payment_ref", "notes", "metadata",
	"version", "created_at", "updated_at",
}

func invoiceValues(inv *invoice.Invoice) ([]any, error) {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return nil, err
	}
	rates, err := json.Marshal(inv.TaxRates)
	if err != nil {
		return nil, err
	}
	meta, err := marshalMetadata(inv.Metadata)
	if err != nil {
		return nil, err
	}
	txnIDs := make([]string, len(inv.TransactionIDs))
	for i, txnID := range inv.TransactionIDs {
		txnIDs[i] = txnID.String()
	}
	return []any{
		inv.ID, inv.PatientID, txnIDs, zeronull.Text(inv.Number), inv.Currency, inv.IssueDate, inv.DueDate,
		items, inv.DiscountAmount.Amount, rates, string(inv.Status), inv.IssuedAt, inv.PaidAt,
		inv.CancelledAt, inv.CancelReason, inv.PaymentRef, inv.Notes, meta,
		inv.Version, inv.CreatedAt, inv.UpdatedAt,
	}, nil
}

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var (
		inv                invoice.Invoice
		number             zeronull.Text
		status             string
		discount           int64
		txnIDs             []string
		items, rates, meta []byte
	)
	err := row.Scan(
		&inv.ID, &inv.PatientID, &txnIDs, &number, &inv.Currency, &inv.IssueDate, &inv.DueDate,
		&items, &discount, &rates, &status, &inv.IssuedAt, &inv.PaidAt,
		&inv.CancelledAt, &inv.CancelReason, &inv.PaymentRef, &inv.Notes, &meta,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	var taxRates []tax.Rate
	if err := json.Unmarshal(rates, &taxRates); err != nil {
		return nil, fmt.Errorf("decode tax rates: %w", err)
	}
	inv.TaxRates = taxRates
	if inv.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, err
	}
	inv.TransactionIDs = make([]id.TransactionID, len(txnIDs))
	for i, s := range txnIDs {
		if inv.TransactionIDs[i], err = id.ParseTransactionID(s); err != nil {
			return nil, err
		}
	}
	inv.Number = string(number)
	inv.Status = invoice.Status(status)
	inv.DiscountAmount = types.Money{Amount: discount, Currency: inv.Currency}
	normalizeTimes(&inv.IssueDate, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt)
	normalizeOptional(inv.IssuedAt, inv.PaidAt, inv.CancelledAt)
	return &inv, nil
}

// ==================== Payment plan rows ====================

var planColumns = []string{
	"id", "patient_id", "origin_transaction_id", "currency", "total_amount", "installment_count",
	"payment_method", "installments", "interest_rate", "penalty_rate", "status",
	"recurring_ref", "closed_at", "version", "created_at", "updated_at",
}

// planSelectColumns reads the rate columns as text so they decode without a
// numeric codec.
var planSelectColumns = []string{
	"id", "patient_id", "origin_transaction_id", "currency", "total_amount", "installment_count",
	"payment_method", "installments", "interest_rate::text", "penalty_rate::text", "status",
	"recurring_ref", "closed_at", "version", "created_at", "updated_at",
}

func planValues(p *plan.Plan) ([]any, error) {
	method, err := json.Marshal(p.PaymentMethod)
	if err != nil {
		return nil, err
	}
	insts, err := json.Marshal(p.Installments)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.PatientID, p.OriginTransactionID, p.TotalAmount.Currency, p.TotalAmount.Amount, p.InstallmentCount,
		method, insts, p.InterestRate.String(), p.PenaltyRate.String(), string(p.Status),
		p.RecurringRef, p.ClosedAt, p.Version, p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanPlan(row pgx.Row) (*plan.Plan, error) {
	var (
		p                 plan.Plan
		currency, status  string
		interest, penalty string
		total             int64
		method, insts     []byte
	)
	err := row.Scan(
		&p.ID, &p.PatientID, &p.OriginTransactionID, &currency, &total, &p.InstallmentCount,
		&method, &insts, &interest, &penalty, &status,
		&p.RecurringRef, &p.ClosedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(method, &p.PaymentMethod); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	if err := json.Unmarshal(insts, &p.Installments); err != nil {
		return nil, fmt.Errorf("decode installments: %w", err)
	}
	if p.InterestRate, err = decimal.NewFromString(interest); err != nil {
		return nil, fmt.Errorf("decode interest rate: %w", err)
	}
	if p.PenaltyRate, err = decimal.NewFromString(penalty); err != nil {
		return nil, fmt.Errorf("decode penalty rate: %w", err)
	}
	p.TotalAmount = types.Money{Amount: total, Currency: currency}
	p.Status = plan.Status(status)
	for i := range p.Installments {
		inst := &p.Installments[i]
		inst.DueDate = inst.DueDate.UTC()
		normalizeOptional(inst.PaidDate)
	}
	normalizeTimes(&p.CreatedAt, &p.UpdatedAt)
	normalizeOptional(p.ClosedAt)
	return &p, nil
}

// ==================== Helpers ====================

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// normalizeTimes maps scanned timestamps to UTC, the zone the domain writes.
func normalizeTimes(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}

func normalizeOptional(ts ...*time.Time) {
	for _, t := range ts {
		if t != nil {
			*t = t.UTC()
		}
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

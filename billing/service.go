// Package billing prices session packages and generates the invoices, payment
// plans and late fees that follow from a sale. It also runs the periodic
// sweeps that age receivables.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/discount"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// DefaultPrices is the package price table in centavos.
func DefaultPrices() map[prepaid.Type]types.Money {
	return map[prepaid.Type]types.Money{
		prepaid.TypeSingleSession: types.BRL(10000),
		prepaid.TypePackage5:      types.BRL(45000),
		prepaid.TypePackage10:     types.BRL(80000),
		prepaid.TypePackage20:     types.BRL(150000),
		prepaid.TypeMonthly:       types.BRL(60000),
	}
}

// Config holds the billing policy. It is read-only once the service is built.
type Config struct {
	Prices   map[prepaid.Type]types.Money
	TaxRates []tax.Rate
	Rules    []discount.Rule
	// RetentionRate is withheld from package refunds.
	RetentionRate decimal.Decimal
	// InvoiceDueDays is the gap between issue and due date of generated invoices.
	InvoiceDueDays int
	// InterestRate and PenaltyRate apply to new payment plans.
	InterestRate decimal.Decimal
	PenaltyRate  decimal.Decimal
}

// DefaultConfig returns the clinic's standard policy: default prices, ISS,
// COFINS and PIS, loyalty and bulk rules, 10% retention, 30-day invoices,
// interest-free plans with a 2% late fee.
func DefaultConfig() Config {
	return Config{
		Prices:         DefaultPrices(),
		TaxRates:       tax.DefaultRates(),
		Rules:          discount.DefaultRules(),
		RetentionRate:  decimal.RequireFromString("0.10"),
		InvoiceDueDays: 30,
		InterestRate:   decimal.Zero,
		PenaltyRate:    decimal.RequireFromString("0.02"),
	}
}

// Service is the billing engine.
type Service struct {
	store   store.Store
	cfg     Config
	taxes   *tax.Calculator
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPlugins routes sweep events to the plugin registry.
func WithPlugins(r *plugin.Registry) Option {
	return func(s *Service) { s.plugins = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates the configuration and returns a Service.
func NewService(st store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:   st,
		cfg:     DefaultConfig(),
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	calc, err := tax.NewCalculator(s.cfg.TaxRates...)
	if err != nil {
		return nil, fmt.Errorf("billing: tax rates: %w", err)
	}
	s.taxes = calc
	for _, r := range s.cfg.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("billing: discount rule %s: %w", r.Name, err)
		}
	}
	for typ, price := range s.cfg.Prices {
		if !typ.Valid() || !price.IsPositive() {
			return nil, types.ValidationError{Field: "prices", Message: fmt.Sprintf("invalid price %s for %q", price, typ)}
		}
	}
	if s.cfg.RetentionRate.IsNegative() || s.cfg.RetentionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, types.ValidationError{Field: "retention_rate", Message: "must be within [0, 1]"}
	}
	if s.cfg.InvoiceDueDays < 1 {
		return nil, types.ValidationError{Field: "invoice_due_days", Message: "must be at least 1"}
	}
	s.cfg.Prices = maps.Clone(s.cfg.Prices)
	return s, nil
}

// Config returns the active policy.
func (s *Service) Config() Config { return s.cfg }

// Taxes returns the tax calculator.
func (s *Service) Taxes() *tax.Calculator { return s.taxes }

// ──────────────────────────────────────────────────
// Pricing
// ──────────────────────────────────────────────────

// Pricing is the full price computation of one package sale.
type Pricing struct {
	Type            prepaid.Type    `json:"type"`
	BasePrice       types.Money     `json:"base_price"`
	Discount        discount.Result `json:"discount"`
	DiscountedPrice types.Money     `json:"discounted_price"`
	Tax             tax.Breakdown   `json:"tax"`
	Total           types.Money     `json:"total"`
	Sessions        int             `json:"sessions"`
	// SessionValue is Total per session, zero for non-session types.
	SessionValue types.Money `json:"session_value"`
}

// Price looks up the configured price of a package type.
func (s *Service) Price(typ prepaid.Type) (types.Money, error) {
	price, ok := s.cfg.Prices[typ]
	if !ok {
		return types.Money{}, fmt.Errorf("%w: %s", types.ErrPriceNotConfigured, typ)
	}
	return price, nil
}

// History derives the discount-relevant history of a patient: the packages
// bought so far (cancelled ones excluded) and whether the patient has paid
// for anything before.
func (s *Service) History(ctx context.Context, patientID string) (discount.History, error) {
	pkgs, err := s.store.ListPackages(ctx, prepaid.ListOpts{PatientID: patientID})
	if err != nil {
		return discount.History{}, err
	}
	var h discount.History
	for _, p := range pkgs {
		if p.Status != prepaid.StatusCancelled {
			h.PriorPackages++
		}
	}
	if h.PriorPackages > 0 {
		h.ReturningPatient = true
		return h, nil
	}

	paid, err := s.store.ListTransactions(ctx, transaction.ListOpts{PatientID: patientID, Status: transaction.StatusPaid, Limit: 1})
	if err != nil {
		return discount.History{}, err
	}
	h.ReturningPatient = len(paid) > 0
	return h, nil
}

// CalculatePackagePricing prices a package for a patient: base price, the
// configured rules plus custom ones capped at 50% of the base, tax on the
// discounted amount, and the resulting per-session value.
func (s *Service) CalculatePackagePricing(ctx context.Context, typ prepaid.Type, patientID string, custom ...discount.Rule) (*Pricing, error) {
	if !typ.Valid() {
		return nil, types.ValidationError{Field: "type", Message: fmt.Sprintf("unknown package type %q", typ)}
	}
	base, err := s.Price(typ)
	if err != nil {
		return nil, err
	}
	h, err := s.History(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("billing: patient history: %w", err)
	}

	rules := append(append([]discount.Rule{}, s.cfg.Rules...), custom...)
	disc, err := discount.Evaluate(base, typ, h, s.now(), rules...)
	if err != nil {
		return nil, err
	}
	discounted, err := base.Subtract(disc.Amount)
	if err != nil {
		return nil, err
	}
	breakdown := s.taxes.Calculate(discounted)
	total, err := discounted.Add(breakdown.Total)
	if err != nil {
		return nil, err
	}

	p := &Pricing{
		Type:            typ,
		BasePrice:       base,
		Discount:        disc,
		DiscountedPrice: discounted,
		Tax:             breakdown,
		Total:           total,
		Sessions:        typ.Sessions(),
		SessionValue:    types.Zero(base.Currency),
	}
	if p.Sessions > 0 {
		if p.SessionValue, err = total.Divide(int64(p.Sessions)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Documents
// ──────────────────────────────────────────────────

// GenerateInvoice builds the draft invoice of a package sale: one line item
// for the package at its base price, the pricing discount and the configured
// tax rates, so the invoice total equals the pricing total.
func (s *Service) GenerateInvoice(txn *transaction.Transaction, pkg *prepaid.Package, pricing *Pricing) (*invoice.Invoice, error) {
	li, err := invoice.NewLineItem(PackageDescription(pkg.Type), 1, pricing.BasePrice, txn.ID)
	if err != nil {
		return nil, err
	}
	issued := s.now().UTC()
	inv, err := invoice.New(invoice.Params{
		PatientID:      txn.PatientID,
		TransactionIDs: []id.TransactionID{txn.ID},
		IssueDate:      issued,
		DueDate:        issued.AddDate(0, 0, s.cfg.InvoiceDueDays),
		LineItems:      []invoice.LineItem{li},
		TaxRates:       s.taxes.Rates(),
		Metadata:       map[string]string{"package_id": pkg.ID.String()},
	})
	if err != nil {
		return nil, err
	}
	if pricing.Discount.Amount.IsPositive() {
		if err := inv.ApplyDiscount(pricing.Discount.Amount); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// CreatePaymentPlan splits a sale into installments and creates one pending
// installment transaction per installment, linked to the plan by id. The sale
// is linked to the plan too, so only the plan can settle it. Nothing is
// persisted.
func (s *Service) CreatePaymentPlan(origin *transaction.Transaction, count int, firstDue time.Time) (*plan.Plan, []*transaction.Transaction, error) {
	if !origin.PlanID.IsNil() {
		return nil, nil, types.ValidationError{Field: "plan_id", Message: "sale is already financed by a payment plan"}
	}
	p, err := plan.New(plan.Params{
		PatientID:           origin.PatientID,
		OriginTransactionID: origin.ID,
		TotalAmount:         origin.Total(),
		InstallmentCount:    count,
		PaymentMethod:       origin.PaymentMethod,
		FirstDueDate:        firstDue,
		InterestRate:        s.cfg.InterestRate,
		PenaltyRate:         s.cfg.PenaltyRate,
	})
	if err != nil {
		return nil, nil, err
	}

	txns := make([]*transaction.Transaction, 0, count)
	for i := range p.Installments {
		inst := &p.Installments[i]
		txn, err := transaction.New(transaction.Params{
			PatientID:         origin.PatientID,
			Type:              transaction.TypeInstallment,
			Description:       fmt.Sprintf("%s (%d/%d)", origin.Description, inst.Number, count),
			Amount:            inst.Amount,
			PaymentMethod:     origin.PaymentMethod,
			InstallmentCount:  count,
			InstallmentNumber: inst.Number,
			DueDate:           inst.DueDate,
			PlanID:            p.ID,
			Metadata: map[string]string{
				"origin_transaction_id": origin.ID.String(),
				"installment_id":        inst.ID.String(),
			},
		})
		if err != nil {
			return nil, nil, err
		}
		inst.TransactionID = txn.ID
		txns = append(txns, txn)
	}
	origin.PlanID = p.ID
	return p, txns, nil
}

// CalculateRefundAmount returns what a package refund pays back: the value of
// the unused sessions minus the retention fee.
func (s *Service) CalculateRefundAmount(pkg *prepaid.Package) (types.Money, error) {
	remaining := pkg.RemainingValue()
	retention := remaining.MultiplyRate(s.cfg.RetentionRate)
	return remaining.Subtract(retention)
}

// PackageDescription is the label used on transactions and invoice lines.
func PackageDescription(typ prepaid.Type) string {
	switch {
	case typ == prepaid.TypeMonthly:
		return "Plano mensal"
	case typ.Sessions() == 1:
		return "Sessão avulsa"
	default:
		return fmt.Sprintf("Pacote de %d sessões", typ.Sessions())
	}
}

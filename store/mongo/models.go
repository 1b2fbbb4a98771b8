package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// ==================== Shared models ====================

type methodModel struct {
	Type        string `bson:"type"`
	Brand       string `bson:"brand,omitempty"`
	LastFour    string `bson:"last_four,omitempty"`
	HolderName  string `bson:"holder_name,omitempty"`
	ExpiryMonth int    `bson:"expiry_month,omitempty"`
	ExpiryYear  int    `bson:"expiry_year,omitempty"`
	Token       string `bson:"token,omitempty"`
}

func toMethodModel(m paymethod.Method) methodModel {
	return methodModel{
		Type:        string(m.Type),
		Brand:       m.Brand,
		LastFour:    m.LastFour,
		HolderName:  m.HolderName,
		ExpiryMonth: m.ExpiryMonth,
		ExpiryYear:  m.ExpiryYear,
		Token:       m.Token,
	}
}

func fromMethodModel(m methodModel) paymethod.Method {
	return paymethod.Method{
		Type:        paymethod.Type(m.Type),
		Brand:       m.Brand,
		LastFour:    m.LastFour,
		HolderName:  m.HolderName,
		ExpiryMonth: m.ExpiryMonth,
		ExpiryYear:  m.ExpiryYear,
		Token:       m.Token,
	}
}

// ==================== Transaction models ====================

type transactionModel struct {
	ID                string            `bson:"_id"`
	PatientID         string            `bson:"patient_id"`
	Type              string            `bson:"type"`
	Description       string            `bson:"description"`
	Currency          string            `bson:"currency"`
	Amount            int64             `bson:"amount"`
	TaxAmount         int64             `bson:"tax_amount"`
	PaymentMethod     methodModel       `bson:"payment_method"`
	InstallmentCount  int               `bson:"installment_count"`
	InstallmentNumber int               `bson:"installment_number"`
	DueDate           time.Time         `bson:"due_date"`
	PaidDate          *time.Time        `bson:"paid_date,omitempty"`
	Status            string            `bson:"status"`
	GatewayName       string            `bson:"gateway_name"`
	GatewayRef        string            `bson:"gateway_ref"`
	RefundedAmount    int64             `bson:"refunded_amount"`
	RefundedAt        *time.Time        `bson:"refunded_at,omitempty"`
	CancelledAt       *time.Time        `bson:"cancelled_at,omitempty"`
	Reason            string            `bson:"reason"`
	PlanID            string            `bson:"plan_id"`
	Metadata          map[string]string `bson:"metadata,omitempty"`
	Version           int64             `bson:"version"`
	CreatedAt         time.Time         `bson:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:                t.ID.String(),
		PatientID:         t.PatientID,
		Type:              string(t.Type),
		Description:       t.Description,
		Currency:          t.Amount.Currency,
		Amount:            t.Amount.Amount,
		TaxAmount:         t.TaxAmount.Amount,
		PaymentMethod:     toMethodModel(t.PaymentMethod),
		InstallmentCount:  t.InstallmentCount,
		InstallmentNumber: t.InstallmentNumber,
		DueDate:           t.DueDate,
		PaidDate:          t.PaidDate,
		Status:            string(t.Status),
		GatewayName:       t.GatewayName,
		GatewayRef:        t.GatewayRef,
		RefundedAmount:    t.RefundedAmount.Amount,
		RefundedAt:        t.RefundedAt,
		CancelledAt:       t.CancelledAt,
		Reason:            t.Reason,
		PlanID:            t.PlanID.String(),
		Metadata:          t.Metadata,
		Version:           t.Version,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParseOptional(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		Entity:            entity(m.Version, m.CreatedAt, m.UpdatedAt),
		ID:                txnID,
		PatientID:         m.PatientID,
		Type:              transaction.Type(m.Type),
		Description:       m.Description,
		Amount:            types.Money{Amount: m.Amount, Currency: m.Currency},
		TaxAmount:         types.Money{Amount: m.TaxAmount, Currency: m.Currency},
		PaymentMethod:     fromMethodModel(m.PaymentMethod),
		InstallmentCount:  m.InstallmentCount,
		InstallmentNumber: m.InstallmentNumber,
		DueDate:           m.DueDate.UTC(),
		PaidDate:          utcPtr(m.PaidDate),
		Status:            transaction.Status(m.Status),
		GatewayName:       m.GatewayName,
		GatewayRef:        m.GatewayRef,
		RefundedAmount:    types.Money{Amount: m.RefundedAmount, Currency: m.Currency},
		RefundedAt:        utcPtr(m.RefundedAt),
		CancelledAt:       utcPtr(m.CancelledAt),
		Reason:            m.Reason,
		PlanID:            planID,
		Metadata:          m.Metadata,
	}, nil
}

// ==================== Package models ====================

type packageModel struct {
	ID            string            `bson:"_id"`
	PatientID     string            `bson:"patient_id"`
	TransactionID string            `bson:"transaction_id"`
	Type          string            `bson:"type"`
	TotalSessions int               `bson:"total_sessions"`
	UsedSessions  int               `bson:"used_sessions"`
	Currency      string            `bson:"currency"`
	Price         int64             `bson:"price"`
	PurchaseDate  time.Time         `bson:"purchase_date"`
	ExpiryDate    time.Time         `bson:"expiry_date"`
	Status        string            `bson:"status"`
	LastUsedAt    *time.Time        `bson:"last_used_at,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	Version       int64             `bson:"version"`
	CreatedAt     time.Time         `bson:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at"`
}

func toPackageModel(p *prepaid.Package) *packageModel {
	return &packageModel{
		ID:            p.ID.String(),
		PatientID:     p.PatientID,
		TransactionID: p.TransactionID.String(),
		Type:          string(p.Type),
		TotalSessions: p.TotalSessions,
		UsedSessions:  p.UsedSessions,
		Currency:      p.Price.Currency,
		Price:         p.Price.Amount,
		PurchaseDate:  p.PurchaseDate,
		ExpiryDate:    p.ExpiryDate,
		Status:        string(p.Status),
		LastUsedAt:    p.LastUsedAt,
		Metadata:      p.Metadata,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPackageModel(m *packageModel) (*prepaid.Package, error) {
	pkgID, err := id.ParsePackageID(m.ID)
	if err != nil {
		return nil, err
	}
	txnID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, err
	}
	return &prepaid.Package{
		Entity:        entity(m.Version, m.CreatedAt, m.UpdatedAt),
		ID:            pkgID,
		PatientID:     m.PatientID,
		TransactionID: txnID,
		Type:          prepaid.Type(m.Type),
		TotalSessions: m.TotalSessions,
		UsedSessions:  m.UsedSessions,
		Price:         types.Money{Amount: m.Price, Currency: m.Currency},
		PurchaseDate:  m.PurchaseDate.UTC(),
		ExpiryDate:    m.ExpiryDate.UTC(),
		Status:        prepaid.Status(m.Status),
		LastUsedAt:    utcPtr(m.LastUsedAt),
		Metadata:      m.Metadata,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	ID             string            `bson:"_id"`
	PatientID      string            `bson:"patient_id"`
	TransactionIDs []string          `bson:"transaction_ids"`
	Number         string            `bson:"number,omitempty"`
	Currency       string            `bson:"currency"`
	IssueDate      time.Time         `bson:"issue_date"`
	DueDate        time.Time         `bson:"due_date"`
	LineItems      []lineItemModel   `bson:"line_items"`
	DiscountAmount int64             `bson:"discount_amount"`
	TaxRates       []taxRateModel    `bson:"tax_rates"`
	Status         string            `bson:"status"`
	IssuedAt       *time.Time        `bson:"issued_at,omitempty"`
	PaidAt         *time.Time        `bson:"paid_at,omitempty"`
	CancelledAt    *time.Time        `bson:"cancelled_at,omitempty"`
	CancelReason   string            `bson:"cancel_reason"`
	PaymentRef     string            `bson:"payment_ref"`
	Notes          string            `bson:"notes"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	Version        int64             `bson:"version"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

type lineItemModel struct {
	ID            string `bson:"id"`
	Description   string `bson:"description"`
	Quantity      int64  `bson:"quantity"`
	UnitPrice     int64  `bson:"unit_price"`
	TransactionID string `bson:"transaction_id,omitempty"`
}

type taxRateModel struct {
	Name string `bson:"name"`
	Rate string `bson:"rate"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	txnIDs := make([]string, len(inv.TransactionIDs))
	for i, txnID := range inv.TransactionIDs {
		txnIDs[i] = txnID.String()
	}
	items := make([]lineItemModel, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = lineItemModel{
			ID:            li.ID.String(),
			Description:   li.Description,
			Quantity:      li.Quantity,
			UnitPrice:     li.UnitPrice.Amount,
			TransactionID: li.TransactionID.String(),
		}
	}
	rates := make([]taxRateModel, len(inv.TaxRates))
	for i, r := range inv.TaxRates {
		rates[i] = taxRateModel{Name: r.Name, Rate: r.Rate.String()}
	}
	return &invoiceModel{
		ID:             inv.ID.String(),
		PatientID:      inv.PatientID,
		TransactionIDs: txnIDs,
		Number:         inv.Number,
		Currency:       inv.Currency,
		IssueDate:      inv.IssueDate,
		DueDate:        inv.DueDate,
		LineItems:      items,
		DiscountAmount: inv.DiscountAmount.Amount,
		TaxRates:       rates,
		Status:         string(inv.Status),
		IssuedAt:       inv.IssuedAt,
		PaidAt:         inv.PaidAt,
		CancelledAt:    inv.CancelledAt,
		CancelReason:   inv.CancelReason,
		PaymentRef:     inv.PaymentRef,
		Notes:          inv.Notes,
		Metadata:       inv.Metadata,
		Version:        inv.Version,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	txnIDs := make([]id.TransactionID, len(m.TransactionIDs))
	for i, s := range m.TransactionIDs {
		if txnIDs[i], err = id.ParseTransactionID(s); err != nil {
			return nil, err
		}
	}
	items := make([]invoice.LineItem, len(m.LineItems))
	for i, li := range m.LineItems {
		liID, err := id.ParseLineItemID(li.ID)
		if err != nil {
			return nil, err
		}
		txnID, err := id.ParseOptional(li.TransactionID)
		if err != nil {
			return nil, err
		}
		items[i] = invoice.LineItem{
			ID:            liID,
			Description:   li.Description,
			Quantity:      li.Quantity,
			UnitPrice:     types.Money{Amount: li.UnitPrice, Currency: m.Currency},
			TransactionID: txnID,
		}
	}
	rates := make([]tax.Rate, len(m.TaxRates))
	for i, r := range m.TaxRates {
		d, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("tax rate %s: %w", r.Name, err)
		}
		rates[i] = tax.Rate{Name: r.Name, Rate: d}
	}
	return &invoice.Invoice{
		Entity:         entity(m.Version, m.CreatedAt, m.UpdatedAt),
		ID:             invID,
		PatientID:      m.PatientID,
		TransactionIDs: txnIDs,
		Number:         m.Number,
		Currency:       m.Currency,
		IssueDate:      m.IssueDate.UTC(),
		DueDate:        m.DueDate.UTC(),
		LineItems:      items,
		DiscountAmount: types.Money{Amount: m.DiscountAmount, Currency: m.Currency},
		TaxRates:       rates,
		Status:         invoice.Status(m.Status),
		IssuedAt:       utcPtr(m.IssuedAt),
		PaidAt:         utcPtr(m.PaidAt),
		CancelledAt:    utcPtr(m.CancelledAt),
		CancelReason:   m.CancelReason,
		PaymentRef:     m.PaymentRef,
		Notes:          m.Notes,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Payment plan models ====================

type planModel struct {
	ID                  string             `bson:"_id"`
	PatientID           string             `bson:"patient_id"`
	OriginTransactionID string             `bson:"origin_transaction_id,omitempty"`
	Currency            string             `bson:"currency"`
	TotalAmount         int64              `bson:"total_amount"`
	InstallmentCount    int                `bson:"installment_count"`
	PaymentMethod       methodModel        `bson:"payment_method"`
	Installments        []installmentModel `bson:"installments"`
	InterestRate        string             `bson:"interest_rate"`
	PenaltyRate         string             `bson:"penalty_rate"`
	Status              string             `bson:"status"`
	RecurringRef        string             `bson:"recurring_ref,omitempty"`
	ClosedAt            *time.Time         `bson:"closed_at,omitempty"`
	Version             int64              `bson:"version"`
	CreatedAt           time.Time          `bson:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at"`
}

type installmentModel struct {
	ID            string     `bson:"id"`
	Number        int        `bson:"number"`
	Amount        int64      `bson:"amount"`
	DueDate       time.Time  `bson:"due_date"`
	PaidDate      *time.Time `bson:"paid_date,omitempty"`
	TransactionID string     `bson:"transaction_id,omitempty"`
	Status        string     `bson:"status"`
}

func toPlanModel(p *plan.Plan) *planModel {
	insts := make([]installmentModel, len(p.Installments))
	for i, inst := range p.Installments {
		insts[i] = installmentModel{
			ID:            inst.ID.String(),
			Number:        inst.Number,
			Amount:        inst.Amount.Amount,
			DueDate:       inst.DueDate,
			PaidDate:      inst.PaidDate,
			TransactionID: inst.TransactionID.String(),
			Status:        string(inst.Status),
		}
	}
	return &planModel{
		ID:                  p.ID.String(),
		PatientID:           p.PatientID,
		OriginTransactionID: p.OriginTransactionID.String(),
		Currency:            p.TotalAmount.Currency,
		TotalAmount:         p.TotalAmount.Amount,
		InstallmentCount:    p.InstallmentCount,
		PaymentMethod:       toMethodModel(p.PaymentMethod),
		Installments:        insts,
		InterestRate:        p.InterestRate.String(),
		PenaltyRate:         p.PenaltyRate.String(),
		Status:              string(p.Status),
		RecurringRef:        p.RecurringRef,
		ClosedAt:            p.ClosedAt,
		Version:             p.Version,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePaymentPlanID(m.ID)
	if err != nil {
		return nil, err
	}
	originID, err := id.ParseOptional(m.OriginTransactionID)
	if err != nil {
		return nil, err
	}
	interest, err := decimal.NewFromString(m.InterestRate)
	if err != nil {
		return nil, fmt.Errorf("interest rate: %w", err)
	}
	penalty, err := decimal.NewFromString(m.PenaltyRate)
	if err != nil {
		return nil, fmt.Errorf("penalty rate: %w", err)
	}
	insts := make([]plan.Installment, len(m.Installments))
	for i, im := range m.Installments {
		instID, err := id.ParseInstallmentID(im.ID)
		if err != nil {
			return nil, err
		}
		txnID, err := id.ParseOptional(im.TransactionID)
		if err != nil {
			return nil, err
		}
		insts[i] = plan.Installment{
			ID:            instID,
			Number:        im.Number,
			Amount:        types.Money{Amount: im.Amount, Currency: m.Currency},
			DueDate:       im.DueDate.UTC(),
			PaidDate:      utcPtr(im.PaidDate),
			TransactionID: txnID,
			Status:        plan.InstallmentStatus(im.Status),
		}
	}
	return &plan.Plan{
		Entity:              entity(m.Version, m.CreatedAt, m.UpdatedAt),
		ID:                  planID,
		PatientID:           m.PatientID,
		OriginTransactionID: originID,
		TotalAmount:         types.Money{Amount: m.TotalAmount, Currency: m.Currency},
		InstallmentCount:    m.InstallmentCount,
		PaymentMethod:       fromMethodModel(m.PaymentMethod),
		Installments:        insts,
		InterestRate:        interest,
		PenaltyRate:         penalty,
		Status:              plan.Status(m.Status),
		RecurringRef:        m.RecurringRef,
		ClosedAt:            utcPtr(m.ClosedAt),
	}, nil
}

// ==================== Helpers ====================

func entity(version int64, created, updated time.Time) types.Entity {
	return types.Entity{CreatedAt: created.UTC(), UpdatedAt: updated.UTC(), Version: version}
}

// utcPtr maps a decoded timestamp to UTC. BSON dates carry milliseconds only.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

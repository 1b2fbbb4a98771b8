// Package paymethod models the payment instruments a patient can pay with.
package paymethod

import (
	"fmt"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// MaxInstallments is the largest installment count any method accepts.
const MaxInstallments = 12

// Type identifies the kind of payment instrument.
type Type string

const (
	TypeCash         Type = "cash"
	TypePix          Type = "pix"
	TypeBankSlip     Type = "bank_slip"
	TypeCreditCard   Type = "credit_card"
	TypeDebitCard    Type = "debit_card"
	TypeBankTransfer Type = "bank_transfer"
)

// Valid reports whether t is a known method type.
func (t Type) Valid() bool {
	switch t {
	case TypeCash, TypePix, TypeBankSlip, TypeCreditCard, TypeDebitCard, TypeBankTransfer:
		return true
	}
	return false
}

// IsCard reports whether t is a card type, which must carry an expiry.
func (t Type) IsCard() bool {
	return t == TypeCreditCard || t == TypeDebitCard
}

// Method is an immutable snapshot of the instrument used for a transaction.
type Method struct {
	Type        Type   `json:"type"`
	Brand       string `json:"brand,omitempty"`
	LastFour    string `json:"last_four,omitempty"`
	HolderName  string `json:"holder_name,omitempty"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
	// Token is the gateway-side card token. Raw card data never enters the ledger.
	Token string `json:"token,omitempty"`
}

// New returns a non-card method of the given type.
func New(t Type) (Method, error) {
	m := Method{Type: t}
	if t.IsCard() {
		return Method{}, types.ValidationError{Field: "type", Message: "card methods require card details"}
	}
	if err := m.Validate(); err != nil {
		return Method{}, err
	}
	return m, nil
}

// Card describes a tokenized card.
type Card struct {
	Brand       string
	LastFour    string
	HolderName  string
	ExpiryMonth int
	ExpiryYear  int
	Token       string
}

// NewCard returns a credit or debit card method.
func NewCard(t Type, c Card) (Method, error) {
	m := Method{
		Type:        t,
		Brand:       c.Brand,
		LastFour:    c.LastFour,
		HolderName:  c.HolderName,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
		Token:       c.Token,
	}
	if !t.IsCard() {
		return Method{}, types.ValidationError{Field: "type", Message: fmt.Sprintf("%s is not a card type", t)}
	}
	if err := m.Validate(); err != nil {
		return Method{}, err
	}
	return m, nil
}

// Validate checks the structural invariants of the method.
func (m Method) Validate() error {
	if !m.Type.Valid() {
		return types.ValidationError{Field: "payment_method.type", Message: fmt.Sprintf("unknown payment method %q", m.Type)}
	}
	if !m.Type.IsCard() {
		return nil
	}
	if m.ExpiryMonth < 1 || m.ExpiryMonth > 12 {
		return types.ValidationError{Field: "payment_method.expiry_month", Message: "card expiry month must be within [1, 12]"}
	}
	if m.ExpiryYear < 2000 {
		return types.ValidationError{Field: "payment_method.expiry_year", Message: "card expiry year is required"}
	}
	if m.LastFour != "" && len(m.LastFour) != 4 {
		return types.ValidationError{Field: "payment_method.last_four", Message: "last four must have 4 digits"}
	}
	return nil
}

// SupportsInstallments reports whether the method can be split into
// installments.
func (m Method) SupportsInstallments() bool {
	return m.Type == TypeCreditCard || m.Type == TypeBankSlip
}

// MaxInstallments returns the largest installment count the method accepts.
func (m Method) MaxInstallments() int {
	if m.SupportsInstallments() {
		return MaxInstallments
	}
	return 1
}

// RequiresOnlineProcessing reports whether a charge must go through a
// payment gateway before the transaction can be settled.
func (m Method) RequiresOnlineProcessing() bool {
	switch m.Type {
	case TypeCreditCard, TypeDebitCard, TypePix:
		return true
	}
	return false
}

// IsExpired reports whether a card is past its expiry month at now. Non-card
// methods never expire.
func (m Method) IsExpired(now time.Time) bool {
	if !m.Type.IsCard() {
		return false
	}
	// Cards are valid through the last instant of their expiry month.
	firstOfNext := time.Date(m.ExpiryYear, time.Month(m.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext)
}

// CheckCharge verifies the method can take a new charge split into the given
// number of installments.
func (m Method) CheckCharge(installments int, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.IsExpired(now) {
		return types.ErrMethodExpired
	}
	if installments < 1 || installments > MaxInstallments {
		return types.ValidationError{Field: "installments", Message: fmt.Sprintf("installments must be within [1, %d]", MaxInstallments)}
	}
	if installments > 1 && !m.SupportsInstallments() {
		return types.ErrInstallmentsNotSupported
	}
	return nil
}

// String returns a display label such as "credit_card visa ****4242".
func (m Method) String() string {
	if m.Type.IsCard() && m.LastFour != "" {
		return fmt.Sprintf("%s %s ****%s", m.Type, m.Brand, m.LastFour)
	}
	return string(m.Type)
}

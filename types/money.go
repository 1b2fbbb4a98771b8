// Package types provides the value objects and error taxonomy shared by every
// ledger package.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyBRL is the ledger's operating currency.
const CurrencyBRL = "brl"

// Money represents a monetary value in the smallest currency unit.
// All arithmetic on amounts is integer-only; rates go through decimal and are
// rounded half-up back into minor units.
//
// Examples:
//   - BRL(76068) = R$760.68 (76068 centavos)
//   - USD(4900) = $49.00 (4900 cents)
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (centavos, cents)
	Currency string `json:"currency"` // ISO 4217 lowercase: "brl", "usd"
}

// BRL creates a Money value in Brazilian Reais (centavos).
func BRL(centavos int64) Money { return Money{Amount: centavos, Currency: CurrencyBRL} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// FromDecimal converts a major-unit decimal ("800.00") into Money, rounding
// half-up to the currency's minor unit.
func FromDecimal(d decimal.Decimal, currency string) Money {
	currency = strings.ToLower(currency)
	scaled := d.Shift(int32(currencyDecimals(currency))).Round(0)
	return Money{Amount: scaled.IntPart(), Currency: currency}
}

// ParseMoney parses a major-unit string such as "760.68".
func ParseMoney(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, ValidationError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return FromDecimal(d, currency), nil
}

// Decimal returns the amount expressed in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add adds two Money values of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract subtracts another Money value of the same currency. A negative
// result is rejected with ErrNegativeAmount.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if m.Amount < other.Amount {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, m, other)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// MultiplyRate multiplies the Money by a rate and rounds half-up to the
// minor unit.
func (m Money) MultiplyRate(rate decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(rate).Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Divide divides the Money by n, rounding half-up (half away from zero for
// negative amounts).
func (m Money) Divide(n int64) (Money, error) {
	if n == 0 {
		return Money{}, ErrDivisionByZero
	}
	return Money{Amount: divRoundHalfUp(m.Amount, n), Currency: m.Currency}, nil
}

// Split divides the Money into n shares. Every share but the last is the
// rounded quotient; the last share absorbs the remainder so the shares always
// sum to the original amount.
func (m Money) Split(n int) ([]Money, error) {
	if n <= 0 {
		return nil, ErrDivisionByZero
	}
	share, err := m.Divide(int64(n))
	if err != nil {
		return nil, err
	}

	last := m.Amount - share.Amount*int64(n-1)
	if (m.Amount >= 0 && last < 0) || (m.Amount < 0 && last > 0) {
		return nil, fmt.Errorf("%w: %s cannot be split into %d shares", ErrNegativeAmount, m, n)
	}

	shares := make([]Money, n)
	for i := 0; i < n-1; i++ {
		shares[i] = share
	}
	shares[n-1] = Money{Amount: last, Currency: m.Currency}
	return shares, nil
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values have the same amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// GreaterThan reports whether m is greater than other. Values in different
// currencies are not comparable and report false.
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount > other.Amount
}

// LessThan reports whether m is less than other. Values in different
// currencies are not comparable and report false.
func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount < other.Amount
}

// Min returns the smaller of two Money values of the same currency.
func (m Money) Min(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if m.Amount < other.Amount {
		return m, nil
	}
	return other, nil
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

// FormatMajor returns the major unit string without currency symbol:
// "760.68" for BRL(76068).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol: "R$760.68".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// Sum adds Money values of one currency. An empty list sums to zero in the
// given currency.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func divRoundHalfUp(a, n int64) int64 {
	q, r := a/n, a%n
	if r == 0 {
		return q
	}
	if r < 0 {
		r = -r
	}
	absN := n
	if absN < 0 {
		absN = -absN
	}
	if 2*r >= absN {
		if (a < 0) != (n < 0) {
			return q - 1
		}
		return q + 1
	}
	return q
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "brl":
		return "R$"
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "clp", "pyg":
		return 0
	}
	return 2
}

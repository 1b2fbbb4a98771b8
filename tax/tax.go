// Package tax computes named percentage taxes over a base amount.
//
// Each rate applies to the same base independently; rates never compound.
// The same base and the same ordered rate list always yield the same
// breakdown.
package tax

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Rate is a named percentage expressed as a fraction (0.02 = 2%).
type Rate struct {
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

// NewRate validates and builds a Rate.
func NewRate(name string, rate decimal.Decimal) (Rate, error) {
	if strings.TrimSpace(name) == "" {
		return Rate{}, types.ValidationError{Field: "name", Message: "tax rate name is required"}
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, types.ValidationError{Field: "rate", Message: fmt.Sprintf("tax rate %s must be within [0, 1]", rate)}
	}
	return Rate{Name: name, Rate: rate}, nil
}

// MustRate is like NewRate but panics on error. Use for hardcoded rates.
func MustRate(name, rate string) Rate {
	r, err := NewRate(name, decimal.RequireFromString(rate))
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRates returns the service-tax rates applied to clinic sales:
// ISS 2%, COFINS 3% and PIS 0.65%.
func DefaultRates() []Rate {
	return []Rate{
		MustRate("ISS", "0.02"),
		MustRate("COFINS", "0.03"),
		MustRate("PIS", "0.0065"),
	}
}

// Line is the tax owed for one rate.
type Line struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount types.Money     `json:"amount"`
}

// Breakdown is the per-rate tax detail over a base amount.
type Breakdown struct {
	Base  types.Money `json:"base"`
	Lines []Line      `json:"lines"`
	Total types.Money `json:"total"`
}

// Calculator applies an ordered list of rates. It is read-only after
// construction and safe for concurrent use.
type Calculator struct {
	rates []Rate
}

// NewCalculator validates the rates and returns a Calculator.
func NewCalculator(rates ...Rate) (*Calculator, error) {
	copied := make([]Rate, len(rates))
	for i, r := range rates {
		valid, err := NewRate(r.Name, r.Rate)
		if err != nil {
			return nil, err
		}
		copied[i] = valid
	}
	return &Calculator{rates: copied}, nil
}

// Rates returns a copy of the configured rates.
func (c *Calculator) Rates() []Rate {
	out := make([]Rate, len(c.rates))
	copy(out, c.rates)
	return out
}

// EffectiveRate returns the sum of all rates.
func (c *Calculator) EffectiveRate() decimal.Decimal {
	total := decimal.Zero
	for _, r := range c.rates {
		total = total.Add(r.Rate)
	}
	return total
}

// Calculate computes each rate's amount over base, rounded half-up to the
// minor unit, and their sum.
func (c *Calculator) Calculate(base types.Money) Breakdown {
	b := Breakdown{
		Base:  base,
		Lines: make([]Line, 0, len(c.rates)),
		Total: types.Zero(base.Currency),
	}
	for _, r := range c.rates {
		amount := base.MultiplyRate(r.Rate)
		b.Lines = append(b.Lines, Line{Name: r.Name, Rate: r.Rate, Amount: amount})
		b.Total.Amount += amount.Amount
	}
	return b
}

// Package discount evaluates package discount rules against a patient's
// purchase history.
//
// Every matching rule contributes; the combined discount is capped at half of
// the base price no matter how many rules match.
package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// MaxRate is the largest fraction of the base price any combination of rules
// can take off.
var MaxRate = decimal.RequireFromString("0.5")

type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Conditions restrict when a rule applies. Zero values mean "no restriction".
type Conditions struct {
	MinPriorPackages     int          `json:"min_prior_packages,omitempty"`
	PackageType          prepaid.Type `json:"package_type,omitempty"`
	ReturningPatientOnly bool         `json:"returning_patient_only,omitempty"`
}

type Rule struct {
	Name       string          `json:"name"`
	Kind       Kind            `json:"kind"`
	Percentage decimal.Decimal `json:"percentage,omitempty"`
	Amount     types.Money     `json:"amount,omitempty"`
	Conditions Conditions      `json:"conditions"`
	ValidFrom  *time.Time      `json:"valid_from,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
}

// Percent returns a percentage rule taking rate (0.10 = 10%) off the base.
func Percent(name string, rate string, cond Conditions) Rule {
	return Rule{Name: name, Kind: KindPercentage, Percentage: decimal.RequireFromString(rate), Conditions: cond}
}

// Fixed returns a rule taking a fixed amount off the base.
func Fixed(name string, amount types.Money, cond Conditions) Rule {
	return Rule{Name: name, Kind: KindFixed, Amount: amount, Conditions: cond}
}

// DefaultRules returns the clinic's standing discounts: 10% for patients with
// at least three prior packages and 5% on 20-session packages.
func DefaultRules() []Rule {
	return []Rule{
		Percent("loyalty", "0.10", Conditions{MinPriorPackages: 3}),
		Percent("bulk_package_20", "0.05", Conditions{PackageType: prepaid.TypePackage20}),
	}
}

// Validate checks the rule's structural invariants.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return types.ValidationError{Field: "discount.name", Message: "rule name is required"}
	}
	switch r.Kind {
	case KindPercentage:
		if !r.Percentage.IsPositive() || r.Percentage.GreaterThan(decimal.NewFromInt(1)) {
			return types.ValidationError{Field: "discount.percentage", Message: fmt.Sprintf("rule %s: percentage must be within (0, 1]", r.Name)}
		}
	case KindFixed:
		if !r.Amount.IsPositive() {
			return types.ValidationError{Field: "discount.amount", Message: fmt.Sprintf("rule %s: amount must be positive", r.Name)}
		}
	default:
		return types.ValidationError{Field: "discount.kind", Message: fmt.Sprintf("rule %s: unknown kind %q", r.Name, r.Kind)}
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidUntil.After(*r.ValidFrom) {
		return types.ValidationError{Field: "discount.valid_until", Message: fmt.Sprintf("rule %s: validity window is empty", r.Name)}
	}
	return nil
}

// History is the part of a patient's record the rules look at.
type History struct {
	PriorPackages    int
	ReturningPatient bool
}

// Applies reports whether the rule matches the purchase at now.
func (r Rule) Applies(typ prepaid.Type, h History, now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return false
	}
	c := r.Conditions
	if c.MinPriorPackages > 0 && h.PriorPackages < c.MinPriorPackages {
		return false
	}
	if c.PackageType != "" && c.PackageType != typ {
		return false
	}
	if c.ReturningPatientOnly && !h.ReturningPatient {
		return false
	}
	return true
}

// Applied is one rule's contribution to a discount.
type Applied struct {
	Rule   string      `json:"rule"`
	Amount types.Money `json:"amount"`
}

// Result is the outcome of evaluating a rule set.
type Result struct {
	Applied []Applied   `json:"applied"`
	Amount  types.Money `json:"amount"`
	// Rate is Amount as a fraction of the base price.
	Rate   decimal.Decimal `json:"rate"`
	Capped bool            `json:"capped"`
}

// Evaluate sums every matching rule over base and caps the total at MaxRate of
// base, rounded down so the cap is never exceeded.
func Evaluate(base types.Money, typ prepaid.Type, h History, now time.Time, rules ...Rule) (Result, error) {
	res := Result{Amount: types.Zero(base.Currency), Rate: decimal.Zero}
	if !base.IsPositive() {
		return res, nil
	}

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return Result{}, err
		}
		if !r.Applies(typ, h, now) {
			continue
		}
		var amount types.Money
		switch r.Kind {
		case KindPercentage:
			amount = base.MultiplyRate(r.Percentage)
		case KindFixed:
			if r.Amount.Currency != base.Currency {
				return Result{}, fmt.Errorf("discount rule %s: %w", r.Name, types.ErrCurrencyMismatch)
			}
			amount = r.Amount
		}
		res.Applied = append(res.Applied, Applied{Rule: r.Name, Amount: amount})
		res.Amount.Amount += amount.Amount
	}

	limit := decimal.NewFromInt(base.Amount).Mul(MaxRate).Floor().IntPart()
	if res.Amount.Amount > limit {
		res.Amount.Amount = limit
		res.Capped = true
	}
	res.Rate = decimal.NewFromInt(res.Amount.Amount).Div(decimal.NewFromInt(base.Amount))
	return res, nil
}

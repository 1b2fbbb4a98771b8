package discount

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func TestLoyaltyScenario(t *testing.T) {
	res, err := Evaluate(types.BRL(80000), prepaid.TypePackage10, History{PriorPackages: 3}, now, DefaultRules()...)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Amount.Equal(types.BRL(8000)) {
		t.Errorf("amount: got %v, want R$80.00", res.Amount)
	}
	if len(res.Applied) != 1 || res.Applied[0].Rule != "loyalty" {
		t.Errorf("applied: %+v", res.Applied)
	}
	if res.Rate.String() != "0.1" || res.Capped {
		t.Errorf("rate=%s capped=%v", res.Rate, res.Capped)
	}
}

func TestConditions(t *testing.T) {
	tests := []struct {
		name string
		typ  prepaid.Type
		h    History
		want int64
	}{
		{"new patient", prepaid.TypePackage10, History{}, 0},
		{"two prior", prepaid.TypePackage10, History{PriorPackages: 2}, 0},
		{"bulk only", prepaid.TypePackage20, History{}, 7500},
		{"bulk and loyal", prepaid.TypePackage20, History{PriorPackages: 5}, 22500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(types.BRL(150000), tt.typ, tt.h, now, DefaultRules()...)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Amount.Amount != tt.want {
				t.Errorf("got %d, want %d", res.Amount.Amount, tt.want)
			}
		})
	}

	returning := Percent("welcome_back", "0.15", Conditions{ReturningPatientOnly: true})
	if returning.Applies(prepaid.TypePackage5, History{}, now) {
		t.Error("returning-patient rule applied to a new patient")
	}
	if !returning.Applies(prepaid.TypePackage5, History{ReturningPatient: true}, now) {
		t.Error("returning-patient rule skipped a returning patient")
	}
}

func TestValidityWindow(t *testing.T) {
	from := now.AddDate(0, 0, -1)
	until := now.AddDate(0, 0, 1)
	r := Percent("campaign", "0.2", Conditions{})
	r.ValidFrom, r.ValidUntil = &from, &until

	if !r.Applies(prepaid.TypePackage5, History{}, now) {
		t.Error("rule should apply inside its window")
	}
	if r.Applies(prepaid.TypePackage5, History{}, until) {
		t.Error("rule should not apply at its end instant")
	}
	if r.Applies(prepaid.TypePackage5, History{}, from.Add(-time.Second)) {
		t.Error("rule should not apply before its window")
	}
}

func TestCapNeverExceedsHalf(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		base := types.BRL(rng.Int64N(500000) + 1)
		var rules []Rule
		for j := 0; j < rng.IntN(6)+1; j++ {
			if rng.IntN(2) == 0 {
				rules = append(rules, Percent("p", "0.3", Conditions{}))
			} else {
				rules = append(rules, Fixed("f", types.BRL(rng.Int64N(base.Amount)+1), Conditions{}))
			}
		}
		res, err := Evaluate(base, prepaid.TypePackage5, History{}, now, rules...)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Amount.Amount*2 > base.Amount {
			t.Fatalf("discount %d exceeds half of base %d", res.Amount.Amount, base.Amount)
		}
		if res.Rate.GreaterThan(MaxRate) {
			t.Fatalf("rate %s exceeds cap", res.Rate)
		}
	}
}

func TestCappedFlag(t *testing.T) {
	res, _ := Evaluate(types.BRL(10000), prepaid.TypePackage5, History{}, now,
		Percent("a", "0.4", Conditions{}),
		Fixed("b", types.BRL(2000), Conditions{}),
	)
	if !res.Capped || !res.Amount.Equal(types.BRL(5000)) {
		t.Errorf("got amount=%v capped=%v, want R$50.00 capped", res.Amount, res.Capped)
	}
}

func TestInvalidRules(t *testing.T) {
	bad := []Rule{
		{Name: "", Kind: KindPercentage},
		Percent("zero", "0", Conditions{}),
		Percent("over", "1.1", Conditions{}),
		Fixed("neg", types.BRL(-1), Conditions{}),
		{Name: "weird", Kind: "bogo"},
	}
	for _, r := range bad {
		if _, err := Evaluate(types.BRL(100), prepaid.TypePackage5, History{}, now, r); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("rule %q: got %v", r.Name, err)
		}
	}
	if _, err := Evaluate(types.BRL(100), prepaid.TypePackage5, History{}, now, Fixed("usd", types.USD(10), Conditions{})); !errors.Is(err, types.ErrCurrencyMismatch) {
		t.Errorf("currency mismatch: got %v", err)
	}
}

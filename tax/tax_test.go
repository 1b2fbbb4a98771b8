package tax

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

func TestCalculateDefaultRates(t *testing.T) {
	calc, err := NewCalculator(DefaultRates()...)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}

	b := calc.Calculate(types.BRL(72000))

	want := []struct {
		name   string
		amount int64
	}{
		{"ISS", 1440},
		{"COFINS", 2160},
		{"PIS", 468},
	}
	if len(b.Lines) != len(want) {
		t.Fatalf("lines: got %d, want %d", len(b.Lines), len(want))
	}
	for i, w := range want {
		if b.Lines[i].Name != w.name || b.Lines[i].Amount.Amount != w.amount {
			t.Errorf("line %d: got %s=%d, want %s=%d", i, b.Lines[i].Name, b.Lines[i].Amount.Amount, w.name, w.amount)
		}
	}
	if !b.Total.Equal(types.BRL(4068)) {
		t.Errorf("total: got %v, want R$40.68", b.Total)
	}
	if got := calc.EffectiveRate().String(); got != "0.0565" {
		t.Errorf("effective rate: got %s, want 0.0565", got)
	}
}

func TestCalculateIsNotCompounded(t *testing.T) {
	calc, err := NewCalculator(MustRate("A", "0.10"), MustRate("B", "0.10"))
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	b := calc.Calculate(types.BRL(10000))
	if !b.Total.Equal(types.BRL(2000)) {
		t.Errorf("total: got %v, want R$20.00", b.Total)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	calc, _ := NewCalculator(DefaultRates()...)
	first := calc.Calculate(types.BRL(12345))
	for i := 0; i < 10; i++ {
		if again := calc.Calculate(types.BRL(12345)); !reflect.DeepEqual(first, again) {
			t.Fatalf("breakdown changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestCalculateEmpty(t *testing.T) {
	calc, _ := NewCalculator()
	b := calc.Calculate(types.BRL(500))
	if !b.Total.IsZero() || len(b.Lines) != 0 {
		t.Errorf("expected zero tax, got %+v", b)
	}
}

func TestNewRateValidation(t *testing.T) {
	tests := []struct {
		name string
		rate string
		ok   bool
	}{
		{"ISS", "0.02", true},
		{"zero", "0", true},
		{"full", "1", true},
		{"negative", "-0.01", false},
		{"above one", "1.5", false},
		{"", "0.02", false},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.rate, func(t *testing.T) {
			_, err := NewRate(tt.name, decimal.RequireFromString(tt.rate))
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, types.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

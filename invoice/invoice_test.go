package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var issued = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newDraft(t *testing.T) *Invoice {
	t.Helper()
	txnID := id.NewTransactionID()
	li, err := NewLineItem("Pacote 10 sessões", 1, types.BRL(80000), txnID)
	if err != nil {
		t.Fatalf("NewLineItem: %v", err)
	}
	inv, err := New(Params{
		PatientID:      "patient-1",
		TransactionIDs: []id.TransactionID{txnID},
		IssueDate:      issued,
		DueDate:        issued.AddDate(0, 0, 30),
		LineItems:      []LineItem{li},
		TaxRates:       tax.DefaultRates(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inv
}

func TestDerivedTotals(t *testing.T) {
	inv := newDraft(t)

	if err := inv.ApplyDiscount(types.BRL(8000)); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if !inv.Subtotal().Equal(types.BRL(80000)) {
		t.Errorf("subtotal: got %v", inv.Subtotal())
	}
	if !inv.Taxes().Total.Equal(types.BRL(4068)) {
		t.Errorf("tax: got %v, want R$40.68", inv.Taxes().Total)
	}
	if !inv.Total().Equal(types.BRL(76068)) {
		t.Errorf("total: got %v, want R$760.68", inv.Total())
	}

	if err := inv.AddLineItem(LineItem{Description: "Avaliação", Quantity: 2, UnitPrice: types.BRL(5000)}); err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if !inv.Subtotal().Equal(types.BRL(90000)) {
		t.Errorf("subtotal after add: got %v, want R$900.00", inv.Subtotal())
	}
	if inv.LineItems[1].ID.IsNil() {
		t.Error("added line item was not given an id")
	}
}

func TestNewValidation(t *testing.T) {
	li, _ := NewLineItem("x", 1, types.BRL(100), id.Nil)
	txn := []id.TransactionID{id.NewTransactionID()}

	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"no patient", Params{TransactionIDs: txn, LineItems: []LineItem{li}, IssueDate: issued, DueDate: issued.Add(time.Hour)}, types.ErrInvalidInput},
		{"no transactions", Params{PatientID: "p", LineItems: []LineItem{li}, IssueDate: issued, DueDate: issued.Add(time.Hour)}, types.ErrInvalidInput},
		{"no line items", Params{PatientID: "p", TransactionIDs: txn, IssueDate: issued, DueDate: issued.Add(time.Hour)}, types.ErrInvalidInput},
		{"due before issue", Params{PatientID: "p", TransactionIDs: txn, LineItems: []LineItem{li}, IssueDate: issued, DueDate: issued}, types.ErrInvalidInput},
		{"mixed currency", Params{PatientID: "p", TransactionIDs: txn, LineItems: []LineItem{li, {Description: "y", Quantity: 1, UnitPrice: types.USD(1)}}, IssueDate: issued, DueDate: issued.Add(time.Hour)}, types.ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewLineItem("x", 0, types.BRL(1), id.Nil); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("zero quantity: got %v", err)
	}
}

func TestDiscountBounds(t *testing.T) {
	inv := newDraft(t)
	if err := inv.ApplyDiscount(types.BRL(80001)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("discount above subtotal: got %v", err)
	}
	if err := inv.ApplyDiscount(types.BRL(-1)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative discount: got %v", err)
	}
	if err := inv.ApplyDiscount(types.BRL(80000)); err != nil {
		t.Errorf("discount equal to subtotal: %v", err)
	}
	if !inv.Total().IsZero() {
		t.Errorf("fully discounted total: got %v", inv.Total())
	}
}

func TestRemoveLineItem(t *testing.T) {
	inv := newDraft(t)
	first := inv.LineItems[0].ID

	if err := inv.RemoveLineItem(first); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("remove last item: got %v", err)
	}
	_ = inv.AddLineItem(LineItem{Description: "extra", Quantity: 1, UnitPrice: types.BRL(1000)})
	if err := inv.RemoveLineItem(id.NewLineItemID()); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("remove unknown: got %v", err)
	}
	if err := inv.RemoveLineItem(first); err != nil {
		t.Fatalf("RemoveLineItem: %v", err)
	}
	if len(inv.LineItems) != 1 || !inv.Subtotal().Equal(types.BRL(1000)) {
		t.Errorf("after remove: %d items, subtotal %v", len(inv.LineItems), inv.Subtotal())
	}
}

func TestLifecycle(t *testing.T) {
	inv := newDraft(t)

	if err := inv.Issue("", issued); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("issue without number: got %v", err)
	}
	if err := inv.Issue("2026000001", issued); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := inv.Issue("2026000002", issued); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("issue twice: got %v", err)
	}
	if inv.Number != "2026000001" {
		t.Errorf("number overwritten: %s", inv.Number)
	}
	if err := inv.AddLineItem(LineItem{Description: "late", Quantity: 1, UnitPrice: types.BRL(1)}); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("edit issued: got %v", err)
	}
	if err := inv.ApplyDiscount(types.BRL(1)); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("discount issued: got %v", err)
	}

	if err := inv.MarkAsOverdue(inv.DueDate); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("overdue on due date: got %v", err)
	}
	if err := inv.MarkAsOverdue(inv.DueDate.Add(time.Hour)); err != nil {
		t.Fatalf("MarkAsOverdue: %v", err)
	}
	if err := inv.MarkAsPaid(inv.DueDate.Add(2*time.Hour), "gw_1"); err != nil {
		t.Fatalf("MarkAsPaid: %v", err)
	}
	if err := inv.Cancel("too late"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("cancel paid: got %v", err)
	}
}

func TestCancelDraft(t *testing.T) {
	inv := newDraft(t)
	if err := inv.MarkAsPaid(issued, ""); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("pay draft: got %v", err)
	}
	if err := inv.Cancel("duplicate"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := inv.Issue("2026000003", issued); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("issue cancelled: got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	inv := newDraft(t)
	c := inv.Clone()
	c.LineItems[0].Quantity = 99
	c.TransactionIDs[0] = id.Nil

	if inv.LineItems[0].Quantity != 1 || inv.TransactionIDs[0].IsNil() {
		t.Error("clone shares slices with the original")
	}
}

func TestNumberFormat(t *testing.T) {
	n, err := FormatNumber(2026, 42)
	if err != nil || n != "2026000042" {
		t.Fatalf("FormatNumber: got %q, %v", n, err)
	}
	year, seq, err := ParseNumber(n)
	if err != nil || year != 2026 || seq != 42 {
		t.Errorf("ParseNumber: got %d/%d, %v", year, seq, err)
	}

	for _, bad := range []string{"", "2026", "20260000420", "2026abcdef", "2026000000"} {
		if _, _, err := ParseNumber(bad); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("ParseNumber(%q): got %v", bad, err)
		}
	}
	if _, err := FormatNumber(2026, MaxSequence+1); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("sequence overflow: got %v", err)
	}
}

package id_test

import (
	"strings"
	"testing"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
)

var constructors = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"TransactionID", id.NewTransactionID, id.ParseTransactionID, "txn_"},
	{"PackageID", id.NewPackageID, id.ParsePackageID, "pkg_"},
	{"InvoiceID", id.NewInvoiceID, id.ParseInvoiceID, "inv_"},
	{"LineItemID", id.NewLineItemID, id.ParseLineItemID, "li_"},
	{"PaymentPlanID", id.NewPaymentPlanID, id.ParsePaymentPlanID, "pplan_"},
	{"InstallmentID", id.NewInstallmentID, id.ParseInstallmentID, "inst_"},
	{"PaymentID", id.NewPaymentID, id.ParsePaymentID, "pay_"},
}

func TestConstructors(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixTransaction)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixTransaction {
		t.Errorf("expected prefix %q, got %q", id.PrefixTransaction, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	for i, tt := range constructors {
		other := constructors[(i+1)%len(constructors)]
		t.Run(tt.name+" rejects "+other.prefix, func(t *testing.T) {
			input := other.newFn().String()
			if _, err := tt.parseFn(input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", input)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("")
	if err != nil || !got.IsNil() {
		t.Errorf("ParseOptional(\"\"): got %v, %v", got, err)
	}

	original := id.NewPaymentPlanID()
	got, err = id.ParseOptional(original.String())
	if err != nil || got.String() != original.String() {
		t.Errorf("ParseOptional: got %v, %v", got, err)
	}
}

func TestParseWithPrefix(t *testing.T) {
	i := id.NewTransactionID()
	parsed, err := id.ParseWithPrefix(i.String(), id.PrefixTransaction)
	if err != nil {
		t.Fatalf("ParseWithPrefix failed: %v", err)
	}
	if parsed.String() != i.String() {
		t.Errorf("mismatch: %q != %q", parsed.String(), i.String())
	}

	_, err = id.ParseWithPrefix(i.String(), id.PrefixInvoice)
	if err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewTransactionID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	// Nil round-trip.
	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewPackageID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	// Nil round-trip.
	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewTransactionID()
	b := id.NewTransactionID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewTransactionID() calls returned the same ID: %q", a.String())
	}
}

// Package id defines TypeID-based identity types for ledger aggregates.
//
// Every aggregate uses a single ID struct with a prefix naming the entity
// type. IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix". Cross-entity references are always IDs, never
// pointers.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for ledger entity types.
const (
	PrefixTransaction Prefix = "txn"   // Patient transaction
	PrefixPackage     Prefix = "pkg"   // Prepaid session package
	PrefixInvoice     Prefix = "inv"   // Invoice
	PrefixLineItem    Prefix = "li"    // Invoice line item
	PrefixPaymentPlan Prefix = "pplan" // Installment payment plan
	PrefixInstallment Prefix = "inst"  // Payment plan installment
	PrefixPayment     Prefix = "pay"   // Gateway charge
)

// ID is the primary identifier type for ledger aggregates.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "txn_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ParseOptional parses s, mapping the empty string to Nil. Used for optional
// references such as a transaction's payment plan.
func ParseOptional(s string) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return Parse(s)
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// TransactionID identifies a transaction (prefix: "txn").
type TransactionID = ID

// PackageID identifies a prepaid package (prefix: "pkg").
type PackageID = ID

// InvoiceID identifies an invoice (prefix: "inv").
type InvoiceID = ID

// LineItemID identifies an invoice line item (prefix: "li").
type LineItemID = ID

// PaymentPlanID identifies a payment plan (prefix: "pplan").
type PaymentPlanID = ID

// InstallmentID identifies a plan installment (prefix: "inst").
type InstallmentID = ID

// PaymentID identifies a gateway charge (prefix: "pay").
type PaymentID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewTransactionID generates a new unique transaction ID.
func NewTransactionID() ID { return New(PrefixTransaction) }

// NewPackageID generates a new unique package ID.
func NewPackageID() ID { return New(PrefixPackage) }

// NewInvoiceID generates a new unique invoice ID.
func NewInvoiceID() ID { return New(PrefixInvoice) }

// NewLineItemID generates a new unique line item ID.
func NewLineItemID() ID { return New(PrefixLineItem) }

// NewPaymentPlanID generates a new unique payment plan ID.
func NewPaymentPlanID() ID { return New(PrefixPaymentPlan) }

// NewInstallmentID generates a new unique installment ID.
func NewInstallmentID() ID { return New(PrefixInstallment) }

// NewPaymentID generates a new unique gateway charge ID.
func NewPaymentID() ID { return New(PrefixPayment) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseTransactionID parses a string and validates the "txn" prefix.
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }

// ParsePackageID parses a string and validates the "pkg" prefix.
func ParsePackageID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPackage) }

// ParseInvoiceID parses a string and validates the "inv" prefix.
func ParseInvoiceID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInvoice) }

// ParseLineItemID parses a string and validates the "li" prefix.
func ParseLineItemID(s string) (ID, error) { return ParseWithPrefix(s, PrefixLineItem) }

// ParsePaymentPlanID parses a string and validates the "pplan" prefix.
func ParsePaymentPlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPaymentPlan) }

// ParseInstallmentID parses a string and validates the "inst" prefix.
func ParseInstallmentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInstallment) }

// ParsePaymentID parses a string and validates the "pay" prefix.
func ParsePaymentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPayment) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

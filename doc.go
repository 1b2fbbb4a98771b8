// Package ledger provides the patient receivables engine of a physiotherapy
// clinic: prepaid session packages, invoices, installment payment plans and
// online charges through pluggable payment gateways.
//
// Ledger is designed as a library, not a service. Import it directly into your Go
// application, or run the cmd/ledgerd worker. It provides:
//
//   - Package pricing with stackable loyalty and volume discounts
//   - Brazilian service taxes (ISS, PIS, COFINS) computed per invoice
//   - Sequential invoice numbering per year (INV-2025-000001)
//   - Installment payment plans with interest, late fees and default tracking
//   - Gateway charges with retries, circuit breaking and status sync
//   - Scheduled sweeps for recurring billing, expiry and overdue aging
//   - Lifecycle hooks for audit trails, metrics and event publishing
//
// # Quick Start
//
// Create a ledger instance with your preferred store and a gateway:
//
//	import (
//	    "github.com/rafaelminatto1/dudufisio-AI-sub004"
//	    "github.com/rafaelminatto1/dudufisio-AI-sub004/gateway/sandbox"
//	    "github.com/rafaelminatto1/dudufisio-AI-sub004/store/postgres"
//	)
//
//	pool, err := postgres.Connect(ctx, databaseURL, 10)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l, err := ledger.New(postgres.New(pool),
//	    ledger.WithGateway(sandbox.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start migrates the store and schedules the sweeps.
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Packages are prepaid bundles of sessions. Selling one prices it, charges
// the patient and records the sale transaction, the package and a draft
// invoice together:
//
//	purchase, err := l.PurchasePackage(ctx, ledger.PurchaseRequest{
//	    PatientID:     "patient-42",
//	    Type:          prepaid.TypePackage10,
//	    PaymentMethod: paymethod.CreditCard,
//	})
//
// Sessions are consumed one at a time; the last one expires the package:
//
//	pkg, err := l.ConsumeSession(ctx, purchase.Package.ID)
//
// Refunds return the value of the unused sessions minus the retention fee:
//
//	refund, err := l.RefundPackage(ctx, pkg.ID, "patient moved")
//
// Payment plans split a sale into monthly installments. Each installment is
// its own transaction, paid with PayInstallment; paying the last one settles
// the sale.
//
// # Money
//
// All monetary calculations use integer arithmetic to avoid floating-point
// precision issues. The Money type represents amounts in centavos, and rates
// are shopspring decimals rounded half-up at the end of each calculation.
//
// # Concurrency
//
// Every update is a compare-and-swap on the entity's version. A writer that
// loses the race gets ErrConflict and can reload and retry. Multi-entity
// writes run inside Store.WithTransaction.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41    // Transaction ID
//	pkg_01h2xcejqtf2nbrexx3vqjhp41    // Package ID
//	inv_01h455vb4pex5vsknk084sn02q    // Invoice ID
//	pplan_01h455vb4pex5vsknk084sn02q  // Payment plan ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package ledger

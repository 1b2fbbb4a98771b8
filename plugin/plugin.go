// Package plugin provides an extensible plugin system for the ledger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionPaid is called when a transaction is settled.
type OnTransactionPaid interface {
	Plugin
	OnTransactionPaid(ctx context.Context, txn *transaction.Transaction) error
}

// OnTransactionRefunded is called when a transaction is refunded.
type OnTransactionRefunded interface {
	Plugin
	OnTransactionRefunded(ctx context.Context, txn *transaction.Transaction) error
}

// OnTransactionOverdue is called when a transaction passes its due date unpaid.
type OnTransactionOverdue interface {
	Plugin
	OnTransactionOverdue(ctx context.Context, txn *transaction.Transaction) error
}

// OnPaymentFailed is called when a gateway charge fails after all retries.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, txn *transaction.Transaction, err error) error
}

// ──────────────────────────────────────────────────
// Package hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased is called when a session package is sold.
type OnPackagePurchased interface {
	Plugin
	OnPackagePurchased(ctx context.Context, pkg *prepaid.Package, txn *transaction.Transaction) error
}

// OnSessionConsumed is called when a package session is used.
type OnSessionConsumed interface {
	Plugin
	OnSessionConsumed(ctx context.Context, pkg *prepaid.Package) error
}

// OnPackageExpired is called when a package expires by date or depletion.
type OnPackageExpired interface {
	Plugin
	OnPackageExpired(ctx context.Context, pkg *prepaid.Package) error
}

// OnPackageCancelled is called when a package is cancelled.
type OnPackageCancelled interface {
	Plugin
	OnPackageCancelled(ctx context.Context, pkg *prepaid.Package, refund types.Money) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued is called when an invoice receives its number.
type OnInvoiceIssued interface {
	Plugin
	OnInvoiceIssued(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoicePaid is called when an invoice is paid.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceOverdue is called when an issued invoice passes its due date.
type OnInvoiceOverdue interface {
	Plugin
	OnInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) error
}

// ──────────────────────────────────────────────────
// Payment plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a payment plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// OnInstallmentOverdue is called when an installment is marked overdue, with
// the late fee charged for it.
type OnInstallmentOverdue interface {
	Plugin
	OnInstallmentOverdue(ctx context.Context, p *plan.Plan, inst plan.Installment, penalty types.Money) error
}

// OnPlanCompleted is called when every installment of a plan is settled.
type OnPlanCompleted interface {
	Plugin
	OnPlanCompleted(ctx context.Context, p *plan.Plan) error
}

// OnPlanDefaulted is called when a plan reaches the overdue threshold.
type OnPlanDefaulted interface {
	Plugin
	OnPlanDefaulted(ctx context.Context, p *plan.Plan) error
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted is called after every periodic sweep run.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, sweep string, processed, failed int, elapsed time.Duration) error
}

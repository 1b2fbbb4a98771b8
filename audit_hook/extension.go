// Package audithook bridges ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on any
// particular audit store. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnTransactionPaid     = (*Extension)(nil)
	_ plugin.OnTransactionRefunded = (*Extension)(nil)
	_ plugin.OnTransactionOverdue  = (*Extension)(nil)
	_ plugin.OnPaymentFailed       = (*Extension)(nil)
	_ plugin.OnPackagePurchased    = (*Extension)(nil)
	_ plugin.OnSessionConsumed     = (*Extension)(nil)
	_ plugin.OnPackageExpired      = (*Extension)(nil)
	_ plugin.OnPackageCancelled    = (*Extension)(nil)
	_ plugin.OnInvoiceIssued       = (*Extension)(nil)
	_ plugin.OnInvoicePaid         = (*Extension)(nil)
	_ plugin.OnInvoiceOverdue      = (*Extension)(nil)
	_ plugin.OnPlanCreated         = (*Extension)(nil)
	_ plugin.OnInstallmentOverdue  = (*Extension)(nil)
	_ plugin.OnPlanCompleted       = (*Extension)(nil)
	_ plugin.OnPlanDefaulted       = (*Extension)(nil)
	_ plugin.OnSweepCompleted      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionPaid implements plugin.OnTransactionPaid.
func (e *Extension) OnTransactionPaid(ctx context.Context, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionPaid, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryPayment, nil,
		"patient_id", txn.PatientID,
		"type", string(txn.Type),
		"amount", txn.Total().String(),
		"payment_method", string(txn.PaymentMethod.Type),
		"gateway_ref", txn.GatewayRef,
	)
}

// OnTransactionRefunded implements plugin.OnTransactionRefunded.
func (e *Extension) OnTransactionRefunded(ctx context.Context, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionRefunded, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryPayment, nil,
		"patient_id", txn.PatientID,
		"refunded_amount", txn.RefundedAmount.String(),
		"reason", txn.Reason,
	)
}

// OnTransactionOverdue implements plugin.OnTransactionOverdue.
func (e *Extension) OnTransactionOverdue(ctx context.Context, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionOverdue, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryCollection, nil,
		"patient_id", txn.PatientID,
		"amount", txn.Total().String(),
		"due_date", txn.DueDate.Format(time.DateOnly),
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, txn *transaction.Transaction, err error) error {
	return e.record(ctx, ActionPaymentFailed, SeverityError, OutcomeFailure,
		ResourceTransaction, txn.ID.String(), CategoryPayment, err,
		"patient_id", txn.PatientID,
		"amount", txn.Total().String(),
		"payment_method", string(txn.PaymentMethod.Type),
	)
}

// ──────────────────────────────────────────────────
// Package hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased implements plugin.OnPackagePurchased.
func (e *Extension) OnPackagePurchased(ctx context.Context, pkg *prepaid.Package, txn *transaction.Transaction) error {
	return e.record(ctx, ActionPackagePurchased, SeverityInfo, OutcomeSuccess,
		ResourcePackage, pkg.ID.String(), CategoryPackage, nil,
		"patient_id", pkg.PatientID,
		"package_type", string(pkg.Type),
		"price", pkg.Price.String(),
		"transaction_id", txn.ID.String(),
	)
}

// OnSessionConsumed implements plugin.OnSessionConsumed.
func (e *Extension) OnSessionConsumed(ctx context.Context, pkg *prepaid.Package) error {
	return e.record(ctx, ActionSessionConsumed, SeverityInfo, OutcomeSuccess,
		ResourcePackage, pkg.ID.String(), CategoryPackage, nil,
		"patient_id", pkg.PatientID,
		"used_sessions", pkg.UsedSessions,
		"remaining_sessions", pkg.RemainingSessions(),
	)
}

// OnPackageExpired implements plugin.OnPackageExpired.
func (e *Extension) OnPackageExpired(ctx context.Context, pkg *prepaid.Package) error {
	return e.record(ctx, ActionPackageExpired, SeverityInfo, OutcomeSuccess,
		ResourcePackage, pkg.ID.String(), CategoryPackage, nil,
		"patient_id", pkg.PatientID,
		"remaining_sessions", pkg.RemainingSessions(),
	)
}

// OnPackageCancelled implements plugin.OnPackageCancelled.
func (e *Extension) OnPackageCancelled(ctx context.Context, pkg *prepaid.Package, refund types.Money) error {
	return e.record(ctx, ActionPackageCancelled, SeverityWarning, OutcomeSuccess,
		ResourcePackage, pkg.ID.String(), CategoryPackage, nil,
		"patient_id", pkg.PatientID,
		"refund", refund.String(),
	)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued implements plugin.OnInvoiceIssued.
func (e *Extension) OnInvoiceIssued(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceIssued, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling, nil,
		"patient_id", inv.PatientID,
		"number", inv.Number,
		"total", inv.Total().String(),
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling, nil,
		"number", inv.Number,
		"payment_ref", inv.PaymentRef,
	)
}

// OnInvoiceOverdue implements plugin.OnInvoiceOverdue.
func (e *Extension) OnInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceOverdue, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryCollection, nil,
		"number", inv.Number,
		"due_date", inv.DueDate.Format(time.DateOnly),
	)
}

// ──────────────────────────────────────────────────
// Payment plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryBilling, nil,
		"patient_id", p.PatientID,
		"total", p.TotalAmount.String(),
		"installments", p.InstallmentCount,
	)
}

// OnInstallmentOverdue implements plugin.OnInstallmentOverdue.
func (e *Extension) OnInstallmentOverdue(ctx context.Context, p *plan.Plan, inst plan.Installment, penalty types.Money) error {
	return e.record(ctx, ActionInstallmentOverdue, SeverityWarning, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryCollection, nil,
		"installment", inst.Number,
		"amount", inst.Amount.String(),
		"penalty", penalty.String(),
	)
}

// OnPlanCompleted implements plugin.OnPlanCompleted.
func (e *Extension) OnPlanCompleted(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanCompleted, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryBilling, nil,
		"patient_id", p.PatientID,
	)
}

// OnPlanDefaulted implements plugin.OnPlanDefaulted.
func (e *Extension) OnPlanDefaulted(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanDefaulted, SeverityCritical, OutcomeFailure,
		ResourcePlan, p.ID.String(), CategoryCollection, nil,
		"patient_id", p.PatientID,
		"overdue", p.OverdueCount(),
		"outstanding", p.Outstanding().String(),
	)
}

// ──────────────────────────────────────────────────
// Scheduler hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, sweep string, processed, failed int, elapsed time.Duration) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if failed > 0 {
		outcome, severity = OutcomePartial, SeverityWarning
	}
	return e.record(ctx, ActionSweepCompleted, severity, outcome,
		ResourceSweep, sweep, CategoryScheduler, nil,
		"processed", processed,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

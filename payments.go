package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/payment"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// SweepSyncPayments is the sweep name of the gateway status sync.
const SweepSyncPayments = "sync_payments"

func (l *Ledger) gatewayName(name string) string {
	if name == "" {
		return l.cfg.DefaultGateway
	}
	return name
}

// settlement collects what a payment settled, to be announced once the
// writes have committed.
type settlement struct {
	paid      []*transaction.Transaction
	completed *plan.Plan
	invoices  []*invoice.Invoice
}

func (s *settlement) emit(ctx context.Context, l *Ledger) {
	for _, txn := range s.paid {
		l.plugins.EmitTransactionPaid(ctx, txn)
	}
	if s.completed != nil {
		l.logger.Info("payment plan completed", "plan_id", s.completed.ID.String())
		l.plugins.EmitPlanCompleted(ctx, s.completed)
	}
	for _, inv := range s.invoices {
		l.plugins.EmitInvoicePaid(ctx, inv)
	}
}

// PayTransaction settles a pending or overdue transaction. Online methods
// are charged through the named gateway; other methods are recorded as paid
// at the front desk. Paying an installment updates its plan, and the last
// installment marks the plan's sale transaction paid. Invoices whose
// transactions are all paid are marked paid.
//
// A charge the gateway leaves pending only records the gateway reference;
// SyncPayments settles it later. A sale financed by a payment plan is paid
// through its installments and cannot be paid directly.
func (l *Ledger) PayTransaction(ctx context.Context, txnID id.TransactionID, gatewayName string) (*transaction.Transaction, error) {
	txn, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if !txn.IsPayable() || txn.SettledByPlan() {
		return nil, types.NewTransitionError("transaction", txn.Status, transaction.StatusPaid)
	}

	work := txn.Clone()
	if work.PaymentMethod.RequiresOnlineProcessing() {
		if _, err := l.payments.Charge(ctx, work, l.gatewayName(gatewayName)); err != nil {
			return nil, err
		}
	} else if err := work.MarkAsPaid(l.now(), ""); err != nil {
		return nil, err
	}

	var settled settlement
	err = l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		settled = settlement{}
		if err := tx.UpdateTransaction(ctx, work, txn.Version); err != nil {
			return err
		}
		if work.Status != transaction.StatusPaid {
			return nil
		}
		settled.paid = append(settled.paid, work)
		return l.settle(ctx, tx, work, &settled)
	})
	if err != nil {
		if work.GatewayRef != "" {
			l.logger.Error("charge captured but the payment was not recorded",
				"transaction_id", txnID.String(),
				"gateway", work.GatewayName,
				"gateway_ref", work.GatewayRef,
				"error", err,
			)
		}
		return nil, fmt.Errorf("ledger: record payment of %s: %w", txnID, err)
	}

	settled.emit(ctx, l)
	return work, nil
}

// PayInstallment pays one installment of a plan through its installment
// transaction. Defaulted plans still accept payments.
func (l *Ledger) PayInstallment(ctx context.Context, planID id.PaymentPlanID, instID id.InstallmentID, gatewayName string) (*plan.Plan, error) {
	p, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	inst, err := p.Installment(instID)
	if err != nil {
		return nil, err
	}
	if inst.Status.Settled() {
		return nil, fmt.Errorf("%w: installment %d is %s", types.ErrInstallmentSettled, inst.Number, inst.Status)
	}
	if inst.TransactionID.IsNil() {
		return nil, types.ValidationError{Field: "installment", Message: "installment has no transaction"}
	}
	if _, err := l.PayTransaction(ctx, inst.TransactionID, gatewayName); err != nil {
		return nil, err
	}
	return l.store.GetPlan(ctx, planID)
}

// settle applies a paid transaction to its plan and invoices inside tx.
func (l *Ledger) settle(ctx context.Context, tx store.Store, txn *transaction.Transaction, out *settlement) error {
	paidAt := l.now()
	if txn.PaidDate != nil {
		paidAt = *txn.PaidDate
	}

	if txn.Type == transaction.TypeInstallment && !txn.PlanID.IsNil() {
		p, err := tx.GetPlan(ctx, txn.PlanID)
		if err != nil {
			return err
		}
		inst, err := p.InstallmentByTransaction(txn.ID)
		if err != nil {
			return err
		}
		if !inst.Status.Settled() {
			work := p.Clone()
			if err := work.PayInstallment(inst.ID, paidAt, txn.ID); err != nil {
				return err
			}
			if err := tx.UpdatePlan(ctx, work, p.Version); err != nil {
				return err
			}
			if work.Status == plan.StatusCompleted && !work.OriginTransactionID.IsNil() {
				out.completed = work
				if err := l.settleOrigin(ctx, tx, work, paidAt, out); err != nil {
					return err
				}
			}
		}
	}
	return settleInvoices(ctx, tx, txn.ID, paidAt, txn.GatewayRef, out)
}

// settleOrigin marks the sale a completed plan paid for.
func (l *Ledger) settleOrigin(ctx context.Context, tx store.Store, p *plan.Plan, paidAt time.Time, out *settlement) error {
	origin, err := tx.GetTransaction(ctx, p.OriginTransactionID)
	if err != nil {
		return err
	}
	if !origin.IsPayable() {
		return nil
	}
	work := origin.Clone()
	if err := work.MarkAsPaid(paidAt, ""); err != nil {
		return err
	}
	if work.Metadata == nil {
		work.Metadata = make(map[string]string)
	}
	work.Metadata["settled_by_plan"] = p.ID.String()
	if err := tx.UpdateTransaction(ctx, work, origin.Version); err != nil {
		return err
	}
	out.paid = append(out.paid, work)
	return settleInvoices(ctx, tx, work.ID, paidAt, "", out)
}

// settleInvoices marks paid the open invoices of txnID whose transactions
// are all paid.
func settleInvoices(ctx context.Context, tx store.Store, txnID id.TransactionID, paidAt time.Time, ref string, out *settlement) error {
	invs, err := tx.ListInvoices(ctx, invoice.ListOpts{TransactionID: txnID})
	if err != nil {
		return err
	}
	for _, inv := range invs {
		if inv.Status != invoice.StatusIssued && inv.Status != invoice.StatusOverdue {
			continue
		}
		paid, err := allPaid(ctx, tx, inv.TransactionIDs)
		if err != nil {
			return err
		}
		if !paid {
			continue
		}
		work := inv.Clone()
		if err := work.MarkAsPaid(paidAt, ref); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, work, inv.Version); err != nil {
			return err
		}
		out.invoices = append(out.invoices, work)
	}
	return nil
}

func allPaid(ctx context.Context, tx store.Store, txnIDs []id.TransactionID) (bool, error) {
	for _, txnID := range txnIDs {
		txn, err := tx.GetTransaction(ctx, txnID)
		if err != nil {
			return false, err
		}
		if txn.Status != transaction.StatusPaid {
			return false, nil
		}
	}
	return true, nil
}

// IssueInvoice numbers a draft invoice with the next sequence value of the
// current year. An invoice whose transactions are already paid is settled
// on the spot.
func (l *Ledger) IssueInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	now := l.now()
	var (
		issued  *invoice.Invoice
		settled settlement
	)
	err := l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		settled = settlement{}
		inv, err := tx.GetInvoice(ctx, invID)
		if err != nil {
			return err
		}
		if inv.Status != invoice.StatusDraft {
			return types.NewTransitionError("invoice", inv.Status, invoice.StatusIssued)
		}
		seq, err := tx.NextInvoiceNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		number, err := invoice.FormatNumber(now.Year(), seq)
		if err != nil {
			return err
		}
		work := inv.Clone()
		if err := work.Issue(number, now); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, work, inv.Version); err != nil {
			return err
		}
		issued = work

		paid, err := allPaid(ctx, tx, work.TransactionIDs)
		if err != nil || !paid {
			return err
		}
		settledInv := work.Clone()
		if err := settledInv.MarkAsPaid(now, ""); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, settledInv, work.Version); err != nil {
			return err
		}
		settled.invoices = append(settled.invoices, settledInv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("invoice issued", "invoice_id", invID.String(), "number", issued.Number)
	l.plugins.EmitInvoiceIssued(ctx, issued)
	settled.emit(ctx, l)
	if len(settled.invoices) > 0 {
		return settled.invoices[0], nil
	}
	return issued, nil
}

// SyncPayments reconciles pending gateway charges with their gateways, then
// applies the newly paid ones to their plans and invoices.
func (l *Ledger) SyncPayments(ctx context.Context) (payment.SyncReport, error) {
	start := time.Now()
	report, syncErr := l.payments.SyncPending(ctx)

	var settleErr error
	if report.Updated > 0 {
		settleErr = l.reconcileSettlements(ctx)
	}

	l.plugins.EmitSweepCompleted(ctx, SweepSyncPayments, report.Updated, report.Failed, time.Since(start))
	return report, errors.Join(syncErr, settleErr)
}

// reconcileSettlements applies paid installment transactions that their
// plans have not recorded yet, and settles invoices left open after their
// transactions were paid.
func (l *Ledger) reconcileSettlements(ctx context.Context) error {
	var errs []error
	for _, status := range []plan.Status{plan.StatusActive, plan.StatusDefaulted} {
		plans, err := l.store.ListPlans(ctx, plan.ListOpts{Status: status})
		if err != nil {
			return err
		}
		for _, p := range plans {
			for _, inst := range p.Installments {
				if inst.Status.Settled() || inst.TransactionID.IsNil() {
					continue
				}
				if err := l.settlePaidTransaction(ctx, inst.TransactionID); err != nil {
					errs = append(errs, fmt.Errorf("plan %s installment %d: %w", p.ID, inst.Number, err))
				}
			}
		}
	}

	for _, status := range []invoice.Status{invoice.StatusIssued, invoice.StatusOverdue} {
		invs, err := l.store.ListInvoices(ctx, invoice.ListOpts{Status: status})
		if err != nil {
			return err
		}
		for _, inv := range invs {
			for _, txnID := range inv.TransactionIDs {
				if err := l.settlePaidTransaction(ctx, txnID); err != nil {
					errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) settlePaidTransaction(ctx context.Context, txnID id.TransactionID) error {
	var settled settlement
	err := l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		settled = settlement{}
		txn, err := tx.GetTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if txn.Status != transaction.StatusPaid {
			return nil
		}
		return l.settle(ctx, tx, txn, &settled)
	})
	if err != nil {
		return err
	}
	settled.emit(ctx, l)
	return nil
}

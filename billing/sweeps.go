package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Sweep names reported to plugins.
const (
	SweepRecurringBilling    = "recurring_billing"
	SweepExpirePackages      = "expire_packages"
	SweepOverdueInvoices     = "overdue_invoices"
	SweepOverdueTransactions = "overdue_transactions"
)

// SweepReport summarizes one sweep run. Processed counts items changed.
type SweepReport struct {
	Processed int
	Failed    int
	Elapsed   time.Duration
}

// overdueEvent is what a plan sweep emits once its transaction has committed.
type overdueEvent struct {
	inst    plan.Installment
	penalty types.Money
	txn     *transaction.Transaction
}

// ProcessRecurringBilling ages every active payment plan: installments past
// their due date turn overdue, their transactions turn overdue, and a late-fee
// transaction carrying the penalty is created for each. Every plan is handled
// in its own repository transaction; one plan's failure is logged and the
// sweep goes on.
func (s *Service) ProcessRecurringBilling(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	plans, err := s.store.ListPlans(ctx, plan.ListOpts{Status: plan.StatusActive})
	if err != nil {
		return SweepReport{}, err
	}

	var (
		report SweepReport
		errs   []error
	)
	for _, p := range plans {
		if len(p.DueInstallments(now)) == 0 {
			continue
		}
		n, err := s.agePlan(ctx, p, now)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("plan %s: %w", p.ID, err))
			s.logger.Warn("recurring billing failed for plan",
				"plan_id", p.ID.String(),
				"patient_id", p.PatientID,
				"error", err,
			)
			continue
		}
		report.Processed += n
	}

	report.Elapsed = time.Since(start)
	s.plugins.EmitSweepCompleted(ctx, SweepRecurringBilling, report.Processed, report.Failed, report.Elapsed)
	return report, errors.Join(errs...)
}

func (s *Service) agePlan(ctx context.Context, p *plan.Plan, now time.Time) (int, error) {
	var (
		updated *plan.Plan
		events  []overdueEvent
	)

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		events = events[:0]
		cur, err := tx.GetPlan(ctx, p.ID)
		if err != nil {
			return err
		}
		expected := cur.Version
		work := cur.Clone()

		for _, inst := range work.DueInstallments(now) {
			changed, err := work.MarkInstallmentOverdue(inst.ID, now)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}

			ev := overdueEvent{inst: inst}
			ev.inst.Status = plan.InstallmentOverdue
			if !inst.TransactionID.IsNil() {
				txn, err := tx.GetTransaction(ctx, inst.TransactionID)
				if err != nil {
					return err
				}
				if txn.Status == transaction.StatusPending {
					before := txn.Version
					if err := txn.MarkAsOverdue(now); err != nil {
						return err
					}
					if err := tx.UpdateTransaction(ctx, txn, before); err != nil {
						return err
					}
					ev.txn = txn
				}
			}

			penalty, err := work.CalculatePenalty(inst.ID, now)
			if err != nil {
				return err
			}
			ev.penalty = penalty
			if penalty.IsPositive() {
				fee, err := transaction.New(transaction.Params{
					PatientID:     work.PatientID,
					Type:          transaction.TypeLateFee,
					Description:   fmt.Sprintf("Multa por atraso da parcela %d/%d", inst.Number, work.InstallmentCount),
					Amount:        penalty,
					PaymentMethod: work.PaymentMethod,
					DueDate:       now,
					PlanID:        work.ID,
					Metadata: map[string]string{
						"installment_id":     inst.ID.String(),
						"installment_number": strconv.Itoa(inst.Number),
					},
				})
				if err != nil {
					return err
				}
				if err := tx.CreateTransaction(ctx, fee); err != nil {
					return err
				}
			}
			events = append(events, ev)
		}

		if err := tx.UpdatePlan(ctx, work, expected); err != nil {
			return err
		}
		updated = work
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		s.logger.Info("installment overdue",
			"plan_id", updated.ID.String(),
			"installment", ev.inst.Number,
			"penalty", ev.penalty.String(),
		)
		s.plugins.EmitInstallmentOverdue(ctx, updated, ev.inst, ev.penalty)
		if ev.txn != nil {
			s.plugins.EmitTransactionOverdue(ctx, ev.txn)
		}
	}
	if updated.Status == plan.StatusDefaulted {
		s.logger.Warn("payment plan defaulted",
			"plan_id", updated.ID.String(),
			"patient_id", updated.PatientID,
			"overdue", updated.OverdueCount(),
		)
		s.plugins.EmitPlanDefaulted(ctx, updated)
	}
	return len(events), nil
}

// ExpirePackages retires active and suspended packages past their expiry date.
func (s *Service) ExpirePackages(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	var (
		report SweepReport
		errs   []error
	)
	for _, status := range []prepaid.Status{prepaid.StatusActive, prepaid.StatusSuspended} {
		pkgs, err := s.store.ListPackages(ctx, prepaid.ListOpts{Status: status, ExpiresBefore: &now})
		if err != nil {
			return report, err
		}
		for _, p := range pkgs {
			before := p.Version
			if err := p.Expire(now); err != nil {
				report.Failed++
				errs = append(errs, fmt.Errorf("package %s: %w", p.ID, err))
				continue
			}
			if err := s.store.UpdatePackage(ctx, p, before); err != nil {
				report.Failed++
				errs = append(errs, fmt.Errorf("package %s: %w", p.ID, err))
				s.logger.Warn("package expiry failed", "package_id", p.ID.String(), "error", err)
				continue
			}
			report.Processed++
			s.plugins.EmitPackageExpired(ctx, p)
		}
	}

	report.Elapsed = time.Since(start)
	s.plugins.EmitSweepCompleted(ctx, SweepExpirePackages, report.Processed, report.Failed, report.Elapsed)
	return report, errors.Join(errs...)
}

// MarkOverdueInvoices flags issued invoices past their due date.
func (s *Service) MarkOverdueInvoices(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	invs, err := s.store.ListInvoices(ctx, invoice.ListOpts{Status: invoice.StatusIssued, DueBefore: &now})
	if err != nil {
		return SweepReport{}, err
	}

	var (
		report SweepReport
		errs   []error
	)
	for _, inv := range invs {
		financed, err := s.financedByPlan(ctx, inv)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		if financed {
			continue
		}
		before := inv.Version
		if err := inv.MarkAsOverdue(now); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		if err := s.store.UpdateInvoice(ctx, inv, before); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			s.logger.Warn("invoice overdue update failed", "invoice_id", inv.ID.String(), "error", err)
			continue
		}
		report.Processed++
		s.plugins.EmitInvoiceOverdue(ctx, inv)
	}

	report.Elapsed = time.Since(start)
	s.plugins.EmitSweepCompleted(ctx, SweepOverdueInvoices, report.Processed, report.Failed, report.Elapsed)
	return report, errors.Join(errs...)
}

// financedByPlan reports whether inv bills a sale whose payment plan carries
// the debt. Such an invoice is aged through the plan's installments.
func (s *Service) financedByPlan(ctx context.Context, inv *invoice.Invoice) (bool, error) {
	for _, txnID := range inv.TransactionIDs {
		txn, err := s.store.GetTransaction(ctx, txnID)
		if err != nil {
			return false, err
		}
		if txn.SettledByPlan() {
			return true, nil
		}
	}
	return false, nil
}

// MarkOverdueTransactions flags pending stand-alone transactions past their
// due date. Installment transactions and plan-financed sales are aged with
// their plan.
func (s *Service) MarkOverdueTransactions(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	txns, err := s.store.ListTransactions(ctx, transaction.ListOpts{Status: transaction.StatusPending, DueBefore: &now})
	if err != nil {
		return SweepReport{}, err
	}

	var (
		report SweepReport
		errs   []error
	)
	for _, txn := range txns {
		if !txn.PlanID.IsNil() || !now.After(txn.DueDate) {
			continue
		}
		before := txn.Version
		if err := txn.MarkAsOverdue(now); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("transaction %s: %w", txn.ID, err))
			continue
		}
		if err := s.store.UpdateTransaction(ctx, txn, before); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("transaction %s: %w", txn.ID, err))
			s.logger.Warn("transaction overdue update failed", "transaction_id", txn.ID.String(), "error", err)
			continue
		}
		report.Processed++
		s.plugins.EmitTransactionOverdue(ctx, txn)
	}

	report.Elapsed = time.Since(start)
	s.plugins.EmitSweepCompleted(ctx, SweepOverdueTransactions, report.Processed, report.Failed, report.Elapsed)
	return report, errors.Join(errs...)
}

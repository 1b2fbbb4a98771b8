package ledger

import (
	"context"
	"fmt"
	"maps"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/billing"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/discount"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// PurchaseRequest describes a package sale.
type PurchaseRequest struct {
	PatientID     string
	Type          prepaid.Type
	PaymentMethod paymethod.Method
	// Installments splits the sale. With PaymentPlan set the ledger collects
	// the installments itself; otherwise the split is passed to the gateway
	// as a card installment charge.
	Installments int
	PaymentPlan  bool
	// Gateway names the gateway for online methods. Empty uses the default.
	Gateway string
	// Rules are applied on top of the configured discount rules.
	Rules    []discount.Rule
	Metadata map[string]string
}

// Purchase is everything a package sale created.
type Purchase struct {
	Pricing     *billing.Pricing
	Transaction *transaction.Transaction
	Package     *prepaid.Package
	Invoice     *invoice.Invoice
	// Plan and Installments are set for sales paid through a payment plan.
	Plan         *plan.Plan
	Installments []*transaction.Transaction
}

// PurchasePackage prices and sells a package. Online methods are charged
// before anything is written: a declined charge leaves no trace in the
// ledger. For plan sales the first installment is the one charged. The sale
// transaction, package, draft invoice, plan and installment transactions are
// then written atomically.
func (l *Ledger) PurchasePackage(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	now := l.now()
	count := max(req.Installments, 1)
	if req.PaymentPlan && count < 2 {
		return nil, types.ValidationError{Field: "installments", Message: "a payment plan needs at least 2 installments"}
	}

	pricing, err := l.billing.CalculatePackagePricing(ctx, req.Type, req.PatientID, req.Rules...)
	if err != nil {
		return nil, err
	}

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["package_type"] = string(req.Type)

	txn, err := transaction.New(transaction.Params{
		PatientID:        req.PatientID,
		Type:             transaction.TypePackage,
		Description:      billing.PackageDescription(req.Type),
		Amount:           pricing.DiscountedPrice,
		TaxAmount:        pricing.Tax.Total,
		PaymentMethod:    req.PaymentMethod,
		InstallmentCount: count,
		DueDate:          now,
		Metadata:         meta,
	})
	if err != nil {
		return nil, err
	}
	pkg, err := prepaid.New(req.PatientID, txn.ID, req.Type, pricing.Total, now)
	if err != nil {
		return nil, err
	}
	inv, err := l.billing.GenerateInvoice(txn, pkg, pricing)
	if err != nil {
		return nil, err
	}
	out := &Purchase{Pricing: pricing, Transaction: txn, Package: pkg, Invoice: inv}

	charged := txn
	if req.PaymentPlan {
		if out.Plan, out.Installments, err = l.billing.CreatePaymentPlan(txn, count, now); err != nil {
			return nil, err
		}
		charged = out.Installments[0]
	}

	if charged.PaymentMethod.RequiresOnlineProcessing() {
		if _, err := l.payments.Charge(ctx, charged, l.gatewayName(req.Gateway)); err != nil {
			return nil, err
		}
	}
	if out.Plan != nil && charged.Status == transaction.StatusPaid {
		if err := out.Plan.PayInstallment(out.Plan.Installments[0].ID, *charged.PaidDate, charged.ID); err != nil {
			return nil, err
		}
	}

	err = l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.CreatePackage(ctx, pkg); err != nil {
			return err
		}
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		for _, it := range out.Installments {
			if err := tx.CreateTransaction(ctx, it); err != nil {
				return err
			}
		}
		if out.Plan != nil {
			return tx.CreatePlan(ctx, out.Plan)
		}
		return nil
	})
	if err != nil {
		if charged.GatewayRef != "" {
			l.logger.Error("charge captured but the sale was not recorded",
				"transaction_id", charged.ID.String(),
				"gateway", charged.GatewayName,
				"gateway_ref", charged.GatewayRef,
				"error", err,
			)
		}
		return nil, fmt.Errorf("ledger: record purchase: %w", err)
	}

	l.logger.Info("package purchased",
		"package_id", pkg.ID.String(),
		"patient_id", req.PatientID,
		"type", req.Type,
		"total", pricing.Total.String(),
		"plan", out.Plan != nil,
	)
	l.plugins.EmitPackagePurchased(ctx, pkg, txn)
	if charged.Status == transaction.StatusPaid {
		l.plugins.EmitTransactionPaid(ctx, charged)
	}
	if out.Plan != nil {
		l.plugins.EmitPlanCreated(ctx, out.Plan)
	}
	return out, nil
}

// ConsumeSession uses one session of a package. Using the last session
// expires the package.
func (l *Ledger) ConsumeSession(ctx context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	pkg, err := l.updatePackage(ctx, pkgID, func(p *prepaid.Package) error {
		return p.ConsumeSession(l.now())
	})
	if err != nil {
		return nil, err
	}
	l.plugins.EmitSessionConsumed(ctx, pkg)
	if pkg.Status == prepaid.StatusExpired {
		l.plugins.EmitPackageExpired(ctx, pkg)
	}
	return pkg, nil
}

// SuspendPackage freezes an active package.
func (l *Ledger) SuspendPackage(ctx context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	return l.updatePackage(ctx, pkgID, (*prepaid.Package).Suspend)
}

// ReactivatePackage resumes a suspended package that is not past expiry.
func (l *Ledger) ReactivatePackage(ctx context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	return l.updatePackage(ctx, pkgID, func(p *prepaid.Package) error {
		return p.Reactivate(l.now())
	})
}

func (l *Ledger) updatePackage(ctx context.Context, pkgID id.PackageID, fn func(*prepaid.Package) error) (*prepaid.Package, error) {
	pkg, err := l.store.GetPackage(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	work := pkg.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	if err := l.store.UpdatePackage(ctx, work, pkg.Version); err != nil {
		return nil, err
	}
	return work, nil
}

// Refund is the outcome of a package refund.
type Refund struct {
	Package     *prepaid.Package
	Transaction *transaction.Transaction
	Amount      types.Money
}

// RefundPackage cancels an active package and refunds the value of its
// unused sessions minus the retention fee against the sale transaction,
// which must be paid. The gateway refund runs first; the refunded sale and
// the cancelled package are then written together, provided neither changed
// in the meantime.
func (l *Ledger) RefundPackage(ctx context.Context, pkgID id.PackageID, reason string) (*Refund, error) {
	pkg, err := l.store.GetPackage(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	if err := pkg.Clone().Cancel(); err != nil {
		return nil, err
	}
	amount, err := l.billing.CalculateRefundAmount(pkg)
	if err != nil {
		return nil, err
	}

	out := &Refund{Amount: amount}
	var sale *transaction.Transaction
	if amount.IsPositive() {
		if sale, err = l.store.GetTransaction(ctx, pkg.TransactionID); err != nil {
			return nil, err
		}
		out.Transaction = sale.Clone()
		if err := l.payments.Refund(ctx, out.Transaction, &amount, reason); err != nil {
			return nil, err
		}
	}

	err = l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		cur, err := tx.GetPackage(ctx, pkgID)
		if err != nil {
			return err
		}
		recomputed, err := l.billing.CalculateRefundAmount(cur)
		if err != nil {
			return err
		}
		if !recomputed.Equal(amount) {
			return fmt.Errorf("%w: package %s refund moved from %s to %s", types.ErrConflict, pkgID, amount, recomputed)
		}
		work := cur.Clone()
		if err := work.Cancel(); err != nil {
			return err
		}
		if err := tx.UpdatePackage(ctx, work, cur.Version); err != nil {
			return err
		}
		out.Package = work

		if sale == nil {
			return nil
		}
		return tx.UpdateTransaction(ctx, out.Transaction, sale.Version)
	})
	if err != nil {
		if out.Transaction != nil {
			l.logger.Error("refund issued but not recorded",
				"package_id", pkgID.String(),
				"transaction_id", out.Transaction.ID.String(),
				"gateway_ref", out.Transaction.GatewayRef,
				"amount", amount.String(),
				"error", err,
			)
		}
		return nil, fmt.Errorf("ledger: record package refund: %w", err)
	}

	l.logger.Info("package refunded",
		"package_id", pkgID.String(),
		"patient_id", pkg.PatientID,
		"amount", amount.String(),
	)
	if out.Transaction != nil {
		l.plugins.EmitTransactionRefunded(ctx, out.Transaction)
	}
	l.plugins.EmitPackageCancelled(ctx, out.Package, amount)
	return out, nil
}

// CancelPackage voids an active package without a refund. A sale that is
// still unpaid is cancelled with it, along with its payment plan, pending
// installments and open invoices.
func (l *Ledger) CancelPackage(ctx context.Context, pkgID id.PackageID, reason string) (*prepaid.Package, error) {
	var cancelled *prepaid.Package
	err := l.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		pkg, err := tx.GetPackage(ctx, pkgID)
		if err != nil {
			return err
		}
		work := pkg.Clone()
		if err := work.Cancel(); err != nil {
			return err
		}
		if err := tx.UpdatePackage(ctx, work, pkg.Version); err != nil {
			return err
		}
		cancelled = work

		sale, err := tx.GetTransaction(ctx, pkg.TransactionID)
		if err != nil {
			return err
		}
		if sale.Status != transaction.StatusPending {
			return nil
		}
		if err := cancelTransaction(ctx, tx, sale, reason); err != nil {
			return err
		}
		if err := l.cancelPlansOf(ctx, tx, sale, reason); err != nil {
			return err
		}
		return cancelOpenInvoices(ctx, tx, sale.ID, reason)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("package cancelled", "package_id", pkgID.String(), "reason", reason)
	l.plugins.EmitPackageCancelled(ctx, cancelled, types.Zero(cancelled.Price.Currency))
	return cancelled, nil
}

func (l *Ledger) cancelPlansOf(ctx context.Context, tx store.Store, sale *transaction.Transaction, reason string) error {
	plans, err := tx.ListPlans(ctx, plan.ListOpts{PatientID: sale.PatientID})
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.OriginTransactionID.String() != sale.ID.String() || p.Status == plan.StatusCompleted || p.Status == plan.StatusCancelled {
			continue
		}
		work := p.Clone()
		if err := work.Cancel(l.now()); err != nil {
			return err
		}
		if err := tx.UpdatePlan(ctx, work, p.Version); err != nil {
			return err
		}
		for _, inst := range work.Installments {
			if inst.Status != plan.InstallmentCancelled || inst.TransactionID.IsNil() {
				continue
			}
			txn, err := tx.GetTransaction(ctx, inst.TransactionID)
			if err != nil {
				return err
			}
			if txn.Status == transaction.StatusPending {
				if err := cancelTransaction(ctx, tx, txn, reason); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func cancelTransaction(ctx context.Context, tx store.Store, txn *transaction.Transaction, reason string) error {
	work := txn.Clone()
	if err := work.Cancel(reason); err != nil {
		return err
	}
	return tx.UpdateTransaction(ctx, work, txn.Version)
}

func cancelOpenInvoices(ctx context.Context, tx store.Store, txnID id.TransactionID, reason string) error {
	invs, err := tx.ListInvoices(ctx, invoice.ListOpts{TransactionID: txnID})
	if err != nil {
		return err
	}
	for _, inv := range invs {
		switch inv.Status {
		case invoice.StatusDraft, invoice.StatusIssued, invoice.StatusOverdue:
		default:
			continue
		}
		work := inv.Clone()
		if err := work.Cancel(reason); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, work, inv.Version); err != nil {
			return err
		}
	}
	return nil
}

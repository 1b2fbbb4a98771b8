// Package observability provides a metrics extension for the ledger that
// records lifecycle event counts in a Prometheus registry.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnTransactionPaid     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRefunded = (*MetricsExtension)(nil)
	_ plugin.OnTransactionOverdue  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed       = (*MetricsExtension)(nil)
	_ plugin.OnPackagePurchased    = (*MetricsExtension)(nil)
	_ plugin.OnSessionConsumed     = (*MetricsExtension)(nil)
	_ plugin.OnPackageExpired      = (*MetricsExtension)(nil)
	_ plugin.OnPackageCancelled    = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceIssued       = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid         = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceOverdue      = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated         = (*MetricsExtension)(nil)
	_ plugin.OnInstallmentOverdue  = (*MetricsExtension)(nil)
	_ plugin.OnPlanCompleted       = (*MetricsExtension)(nil)
	_ plugin.OnPlanDefaulted       = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted      = (*MetricsExtension)(nil)
)

const namespace = "ledger"

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a ledger plugin to track receivables automatically.
type MetricsExtension struct {
	// Registry owns every collector below. Expose it on /metrics.
	Registry *prometheus.Registry

	// Transaction metrics, labelled by transaction type.
	TransactionsPaid     *prometheus.CounterVec
	TransactionsRefunded *prometheus.CounterVec
	TransactionsOverdue  *prometheus.CounterVec
	RevenueCentavos      *prometheus.CounterVec
	RefundedCentavos     prometheus.Counter

	// Payment failures, labelled by payment method.
	PaymentFailures *prometheus.CounterVec

	// Package metrics, labelled by package type.
	PackagesPurchased *prometheus.CounterVec
	SessionsConsumed  *prometheus.CounterVec
	PackagesExpired   *prometheus.CounterVec
	PackagesCancelled *prometheus.CounterVec

	// Invoice metrics
	InvoicesIssued  prometheus.Counter
	InvoicesPaid    prometheus.Counter
	InvoicesOverdue prometheus.Counter
	InvoiceTotal    prometheus.Histogram

	// Payment plan metrics
	PlansCreated        prometheus.Counter
	PlansCompleted      prometheus.Counter
	PlansDefaulted      prometheus.Counter
	InstallmentsOverdue prometheus.Counter
	PenaltyCentavos     prometheus.Counter

	// Sweep metrics, labelled by sweep name.
	SweepProcessed *prometheus.CounterVec
	SweepFailed    *prometheus.CounterVec
	SweepDuration  *prometheus.HistogramVec
}

// NewMetricsExtension creates a MetricsExtension on a private registry, so it
// can be built more than once in one process.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWith(prometheus.NewRegistry())
}

// NewMetricsExtensionWith registers the collectors in reg.
func NewMetricsExtensionWith(reg *prometheus.Registry) *MetricsExtension {
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &MetricsExtension{
		Registry: reg,

		TransactionsPaid:     counterVec("transactions_paid_total", "Transactions settled.", "type"),
		TransactionsRefunded: counterVec("transactions_refunded_total", "Transactions refunded.", "type"),
		TransactionsOverdue:  counterVec("transactions_overdue_total", "Transactions that passed their due date unpaid.", "type"),
		RevenueCentavos:      counterVec("revenue_centavos_total", "Settled amount in minor units.", "currency"),
		RefundedCentavos:     counter("refunded_centavos_total", "Refunded amount in minor units."),

		PaymentFailures: counterVec("payment_failures_total", "Gateway charges that failed after retries.", "method"),

		PackagesPurchased: counterVec("packages_purchased_total", "Session packages sold.", "type"),
		SessionsConsumed:  counterVec("sessions_consumed_total", "Package sessions used.", "type"),
		PackagesExpired:   counterVec("packages_expired_total", "Packages expired by date or depletion.", "type"),
		PackagesCancelled: counterVec("packages_cancelled_total", "Packages cancelled.", "type"),

		InvoicesIssued:  counter("invoices_issued_total", "Invoices issued."),
		InvoicesPaid:    counter("invoices_paid_total", "Invoices paid."),
		InvoicesOverdue: counter("invoices_overdue_total", "Invoices past due."),
		InvoiceTotal: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoice_total_reais",
			Help:      "Total of issued invoices in major units.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 1500, 2500, 5000},
		}),

		PlansCreated:        counter("plans_created_total", "Payment plans created."),
		PlansCompleted:      counter("plans_completed_total", "Payment plans paid off."),
		PlansDefaulted:      counter("plans_defaulted_total", "Payment plans defaulted."),
		InstallmentsOverdue: counter("installments_overdue_total", "Installments marked overdue."),
		PenaltyCentavos:     counter("penalty_centavos_total", "Late fees charged in minor units."),

		SweepProcessed: counterVec("sweep_processed_total", "Items changed by sweeps.", "sweep"),
		SweepFailed:    counterVec("sweep_failed_total", "Items a sweep failed to change.", "sweep"),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionPaid implements plugin.OnTransactionPaid.
func (m *MetricsExtension) OnTransactionPaid(_ context.Context, txn *transaction.Transaction) error {
	m.TransactionsPaid.WithLabelValues(string(txn.Type)).Inc()
	total := txn.Total()
	m.RevenueCentavos.WithLabelValues(total.Currency).Add(float64(total.Amount))
	return nil
}

// OnTransactionRefunded implements plugin.OnTransactionRefunded.
func (m *MetricsExtension) OnTransactionRefunded(_ context.Context, txn *transaction.Transaction) error {
	m.TransactionsRefunded.WithLabelValues(string(txn.Type)).Inc()
	m.RefundedCentavos.Add(float64(txn.RefundedAmount.Amount))
	return nil
}

// OnTransactionOverdue implements plugin.OnTransactionOverdue.
func (m *MetricsExtension) OnTransactionOverdue(_ context.Context, txn *transaction.Transaction) error {
	m.TransactionsOverdue.WithLabelValues(string(txn.Type)).Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, txn *transaction.Transaction, _ error) error {
	m.PaymentFailures.WithLabelValues(string(txn.PaymentMethod.Type)).Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Package hooks
// ──────────────────────────────────────────────────

// OnPackagePurchased implements plugin.OnPackagePurchased.
func (m *MetricsExtension) OnPackagePurchased(_ context.Context, pkg *prepaid.Package, _ *transaction.Transaction) error {
	m.PackagesPurchased.WithLabelValues(string(pkg.Type)).Inc()
	return nil
}

// OnSessionConsumed implements plugin.OnSessionConsumed.
func (m *MetricsExtension) OnSessionConsumed(_ context.Context, pkg *prepaid.Package) error {
	m.SessionsConsumed.WithLabelValues(string(pkg.Type)).Inc()
	return nil
}

// OnPackageExpired implements plugin.OnPackageExpired.
func (m *MetricsExtension) OnPackageExpired(_ context.Context, pkg *prepaid.Package) error {
	m.PackagesExpired.WithLabelValues(string(pkg.Type)).Inc()
	return nil
}

// OnPackageCancelled implements plugin.OnPackageCancelled.
func (m *MetricsExtension) OnPackageCancelled(_ context.Context, pkg *prepaid.Package, _ types.Money) error {
	m.PackagesCancelled.WithLabelValues(string(pkg.Type)).Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued implements plugin.OnInvoiceIssued.
func (m *MetricsExtension) OnInvoiceIssued(_ context.Context, inv *invoice.Invoice) error {
	m.InvoicesIssued.Inc()
	m.InvoiceTotal.Observe(inv.Total().Decimal().InexactFloat64())
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicesPaid.Inc()
	return nil
}

// OnInvoiceOverdue implements plugin.OnInvoiceOverdue.
func (m *MetricsExtension) OnInvoiceOverdue(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicesOverdue.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlansCreated.Inc()
	return nil
}

// OnInstallmentOverdue implements plugin.OnInstallmentOverdue.
func (m *MetricsExtension) OnInstallmentOverdue(_ context.Context, _ *plan.Plan, _ plan.Installment, penalty types.Money) error {
	m.InstallmentsOverdue.Inc()
	m.PenaltyCentavos.Add(float64(penalty.Amount))
	return nil
}

// OnPlanCompleted implements plugin.OnPlanCompleted.
func (m *MetricsExtension) OnPlanCompleted(_ context.Context, _ *plan.Plan) error {
	m.PlansCompleted.Inc()
	return nil
}

// OnPlanDefaulted implements plugin.OnPlanDefaulted.
func (m *MetricsExtension) OnPlanDefaulted(_ context.Context, _ *plan.Plan) error {
	m.PlansDefaulted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, sweep string, processed, failed int, elapsed time.Duration) error {
	m.SweepProcessed.WithLabelValues(sweep).Add(float64(processed))
	m.SweepFailed.WithLabelValues(sweep).Add(float64(failed))
	m.SweepDuration.WithLabelValues(sweep).Observe(elapsed.Seconds())
	return nil
}

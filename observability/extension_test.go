package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

func TestTransactionMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMetricsExtension()

	card, err := paymethod.NewCard(paymethod.TypeCreditCard, paymethod.Card{
		Brand: "visa", LastFour: "4242", HolderName: "Ana", ExpiryMonth: 12, ExpiryYear: 2030, Token: "tok",
	})
	require.NoError(t, err)
	txn, err := transaction.New(transaction.Params{
		PatientID:     "patient-1",
		Type:          transaction.TypePackage,
		Amount:        types.BRL(80000),
		PaymentMethod: card,
		DueDate:       time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, m.OnTransactionPaid(ctx, txn))
	require.NoError(t, m.OnTransactionPaid(ctx, txn))
	require.NoError(t, m.OnPaymentFailed(ctx, txn, assert.AnError))

	assert.InDelta(t, 2, testutil.ToFloat64(m.TransactionsPaid.WithLabelValues("package")), 0)
	assert.InDelta(t, 160000, testutil.ToFloat64(m.RevenueCentavos.WithLabelValues("brl")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PaymentFailures.WithLabelValues("credit_card")), 0)
}

func TestPackageAndPlanMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMetricsExtension()

	pkg, err := prepaid.New("patient-1", id.NewTransactionID(), prepaid.TypePackage5, types.BRL(45000), time.Now())
	require.NoError(t, err)
	require.NoError(t, m.OnSessionConsumed(ctx, pkg))
	require.NoError(t, m.OnSessionConsumed(ctx, pkg))
	require.NoError(t, m.OnPackageCancelled(ctx, pkg, types.BRL(100)))

	assert.InDelta(t, 2, testutil.ToFloat64(m.SessionsConsumed.WithLabelValues("package_5")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PackagesCancelled.WithLabelValues("package_5")), 0)

	require.NoError(t, m.OnInstallmentOverdue(ctx, &plan.Plan{}, plan.Installment{Number: 1}, types.BRL(560)))
	require.NoError(t, m.OnInstallmentOverdue(ctx, &plan.Plan{}, plan.Installment{Number: 2}, types.BRL(560)))
	require.NoError(t, m.OnPlanDefaulted(ctx, &plan.Plan{}))

	assert.InDelta(t, 2, testutil.ToFloat64(m.InstallmentsOverdue), 0)
	assert.InDelta(t, 1120, testutil.ToFloat64(m.PenaltyCentavos), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PlansDefaulted), 0)
}

func TestSweepMetrics(t *testing.T) {
	m := NewMetricsExtension()
	require.NoError(t, m.OnSweepCompleted(context.Background(), "overdue_invoices", 4, 1, 250*time.Millisecond))

	assert.InDelta(t, 4, testutil.ToFloat64(m.SweepProcessed.WithLabelValues("overdue_invoices")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SweepFailed.WithLabelValues("overdue_invoices")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepDuration))
}

func TestPrivateRegistries(t *testing.T) {
	a := NewMetricsExtension()
	b := NewMetricsExtension()
	require.NoError(t, a.OnPlanCreated(context.Background(), &plan.Plan{}))

	assert.InDelta(t, 1, testutil.ToFloat64(a.PlansCreated), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.PlansCreated), 0)
}

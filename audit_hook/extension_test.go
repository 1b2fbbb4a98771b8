package audithook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

type capture struct {
	events []*AuditEvent
	err    error
}

func (c *capture) recorder() Recorder {
	return RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		c.events = append(c.events, evt)
		return c.err
	})
}

func sampleTxn(t *testing.T) *transaction.Transaction {
	t.Helper()
	pix, err := paymethod.New(paymethod.TypePix)
	require.NoError(t, err)
	txn, err := transaction.New(transaction.Params{
		PatientID:     "patient-1",
		Type:          transaction.TypePackage,
		Amount:        types.BRL(80000),
		PaymentMethod: pix,
		DueDate:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return txn
}

func TestRecordsPackagePurchase(t *testing.T) {
	c := &capture{}
	ext := New(c.recorder())
	txn := sampleTxn(t)
	pkg, err := prepaid.New("patient-1", txn.ID, prepaid.TypePackage10, types.BRL(80000), time.Now())
	require.NoError(t, err)

	require.NoError(t, ext.OnPackagePurchased(context.Background(), pkg, txn))

	require.Len(t, c.events, 1)
	evt := c.events[0]
	assert.Equal(t, ActionPackagePurchased, evt.Action)
	assert.Equal(t, ResourcePackage, evt.Resource)
	assert.Equal(t, pkg.ID.String(), evt.ResourceID)
	assert.Equal(t, OutcomeSuccess, evt.Outcome)
	assert.Equal(t, "package_10", evt.Metadata["package_type"])
	assert.Equal(t, txn.ID.String(), evt.Metadata["transaction_id"])
}

func TestPaymentFailureCarriesReason(t *testing.T) {
	c := &capture{}
	ext := New(c.recorder())

	require.NoError(t, ext.OnPaymentFailed(context.Background(), sampleTxn(t), errors.New("card declined")))

	require.Len(t, c.events, 1)
	assert.Equal(t, OutcomeFailure, c.events[0].Outcome)
	assert.Equal(t, SeverityError, c.events[0].Severity)
	assert.Equal(t, "card declined", c.events[0].Reason)
	assert.Equal(t, "card declined", c.events[0].Metadata["error"])
}

func TestSweepWithFailuresIsPartial(t *testing.T) {
	c := &capture{}
	ext := New(c.recorder())
	ctx := context.Background()

	require.NoError(t, ext.OnSweepCompleted(ctx, "expire_packages", 3, 0, time.Second))
	require.NoError(t, ext.OnSweepCompleted(ctx, "expire_packages", 3, 1, time.Second))

	require.Len(t, c.events, 2)
	assert.Equal(t, OutcomeSuccess, c.events[0].Outcome)
	assert.Equal(t, OutcomePartial, c.events[1].Outcome)
	assert.Equal(t, int64(1000), c.events[1].Metadata["elapsed_ms"])
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	txn := sampleTxn(t)

	t.Run("enabled", func(t *testing.T) {
		c := &capture{}
		ext := New(c.recorder(), WithEnabledActions(ActionTransactionRefunded))
		require.NoError(t, ext.OnTransactionPaid(ctx, txn))
		require.NoError(t, ext.OnTransactionRefunded(ctx, txn))
		require.Len(t, c.events, 1)
		assert.Equal(t, ActionTransactionRefunded, c.events[0].Action)
	})

	t.Run("disabled", func(t *testing.T) {
		c := &capture{}
		ext := New(c.recorder(), WithDisabledActions(ActionTransactionPaid))
		require.NoError(t, ext.OnTransactionPaid(ctx, txn))
		require.NoError(t, ext.OnTransactionOverdue(ctx, txn))
		require.Len(t, c.events, 1)
		assert.Equal(t, ActionTransactionOverdue, c.events[0].Action)
	})
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	c := &capture{err: errors.New("backend down")}
	ext := New(c.recorder())
	assert.NoError(t, ext.OnTransactionPaid(context.Background(), sampleTxn(t)))
	assert.Len(t, c.events, 1)
}

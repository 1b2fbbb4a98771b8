package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var clock = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

func visa(t *testing.T) paymethod.Method {
	t.Helper()
	m, err := paymethod.NewCard(paymethod.TypeCreditCard, paymethod.Card{Brand: "visa", LastFour: "4242", ExpiryMonth: 12, ExpiryYear: 2030})
	require.NoError(t, err)
	return m
}

func TestCardChargeSettlesImmediately(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()

	res, err := g.ProcessPayment(ctx, gateway.Request{IdempotencyKey: "k1", Amount: types.BRL(10000), Method: visa(t)})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPaid, res.Status)
	assert.Equal(t, "sbx_000001", res.GatewayRef)
	assert.Equal(t, clock(), res.ProcessedAt)

	status, err := g.GetTransactionStatus(ctx, res.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPaid, status)
}

func TestIdempotencyKeyReplaysResult(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()
	req := gateway.Request{IdempotencyKey: "same", Amount: types.BRL(500), Method: visa(t)}

	first, err := g.ProcessPayment(ctx, req)
	require.NoError(t, err)
	second, err := g.ProcessPayment(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.GatewayRef, second.GatewayRef)
	assert.Equal(t, 2, g.Calls())
}

func TestPixStaysPendingUntilSettled(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()
	pix, _ := paymethod.New(paymethod.TypePix)

	res, err := g.ProcessPayment(ctx, gateway.Request{Amount: types.BRL(500), Method: pix})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, res.Status)

	require.NoError(t, g.Settle(res.GatewayRef, gateway.StatusPaid))
	status, err := g.GetTransactionStatus(ctx, res.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPaid, status)

	assert.Error(t, g.Settle("missing", gateway.StatusPaid))
}

func TestScriptedFailures(t *testing.T) {
	g := New(WithName("flaky"), WithClock(clock))
	g.FailNext(gateway.CodeTimeout, gateway.CodeBlockedCard)
	ctx := context.Background()
	req := gateway.Request{Amount: types.BRL(500), Method: visa(t)}

	_, err := g.ProcessPayment(ctx, req)
	require.Error(t, err)
	assert.True(t, gateway.IsRetryable(err))

	_, err = g.ProcessPayment(ctx, req)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeBlockedCard, gwErr.Code)
	assert.Equal(t, "flaky", gwErr.Gateway)

	_, err = g.ProcessPayment(ctx, req)
	assert.NoError(t, err)
}

func TestDeclines(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()

	expired, err := paymethod.NewCard(paymethod.TypeCreditCard, paymethod.Card{Brand: "visa", ExpiryMonth: 1, ExpiryYear: 2026})
	require.NoError(t, err)

	_, err = g.ProcessPayment(ctx, gateway.Request{Amount: types.BRL(500), Method: expired})
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeExpiredCard, gwErr.Code)

	_, err = g.ProcessPayment(ctx, gateway.Request{Amount: types.BRL(0), Method: visa(t)})
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeInvalidAmount, gwErr.Code)
}

func TestRefund(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()

	res, err := g.ProcessPayment(ctx, gateway.Request{Amount: types.BRL(1000), Method: visa(t)})
	require.NoError(t, err)

	partial := types.BRL(400)
	rf, err := g.RefundPayment(ctx, res.GatewayRef, &partial)
	require.NoError(t, err)
	assert.Equal(t, types.BRL(400), rf.Amount)

	too := types.BRL(601)
	_, err = g.RefundPayment(ctx, res.GatewayRef, &too)
	assert.Error(t, err)

	rest, err := g.RefundPayment(ctx, res.GatewayRef, nil)
	require.NoError(t, err)
	assert.Equal(t, types.BRL(600), rest.Amount)

	status, _ := g.GetTransactionStatus(ctx, res.GatewayRef)
	assert.Equal(t, gateway.StatusRefunded, status)
}

func TestRecurring(t *testing.T) {
	g := New(WithClock(clock))
	ctx := context.Background()

	res, err := g.CreateRecurringPayment(ctx, gateway.RecurringRequest{Amount: types.BRL(28000), Method: visa(t), Installments: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ScheduleRef)

	slip, _ := paymethod.New(paymethod.TypeBankSlip)
	_, err = g.CreateRecurringPayment(ctx, gateway.RecurringRequest{Amount: types.BRL(28000), Method: slip, Installments: 3})
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ProcessPayment(ctx, gateway.Request{Amount: types.BRL(1), Method: visa(t)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.Calls())
}

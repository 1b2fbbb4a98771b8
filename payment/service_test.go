package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway/mocks"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway/sandbox"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store/memory"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var clock = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

// recorder captures payment events emitted through the plugin registry.
type recorder struct {
	mu       sync.Mutex
	paid     []string
	refunded []string
	failed   []error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnTransactionPaid(_ context.Context, txn *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, txn.ID.String())
	return nil
}

func (r *recorder) OnTransactionRefunded(_ context.Context, txn *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunded = append(r.refunded, txn.ID.String())
	return nil
}

func (r *recorder) OnPaymentFailed(_ context.Context, _ *transaction.Transaction, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
	return nil
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	sandbox *sandbox.Gateway
	events  *recorder
	sleeps  []time.Duration
}

func newFixture(t *testing.T, gws ...gateway.Gateway) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), events: &recorder{}}

	reg := gateway.NewRegistry()
	if len(gws) == 0 {
		f.sandbox = sandbox.New(sandbox.WithClock(clock))
		gws = []gateway.Gateway{f.sandbox}
	}
	for _, g := range gws {
		require.NoError(t, reg.Register(g))
	}

	plugins := plugin.NewRegistry()
	require.NoError(t, plugins.Register(f.events))

	cfg := DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	f.svc = NewService(reg, f.store,
		WithConfig(cfg),
		WithPlugins(plugins),
		WithClock(clock),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
	return f
}

func card(t *testing.T, typ paymethod.Type, month, year int) paymethod.Method {
	t.Helper()
	m, err := paymethod.NewCard(typ, paymethod.Card{Brand: "visa", LastFour: "4242", ExpiryMonth: month, ExpiryYear: year})
	require.NoError(t, err)
	return m
}

func (f *fixture) persist(t *testing.T, method paymethod.Method, amount int64) *transaction.Transaction {
	t.Helper()
	txn, err := transaction.New(transaction.Params{
		PatientID:     "patient-1",
		Type:          transaction.TypePackage,
		Amount:        types.BRL(amount),
		PaymentMethod: method,
		DueDate:       clock(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTransaction(context.Background(), txn))
	return txn
}

func TestBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, Backoff(base, 1))
	assert.Equal(t, 1*time.Second, Backoff(base, 2))
	assert.Equal(t, 2*time.Second, Backoff(base, 3))
	assert.Equal(t, 500*time.Millisecond, Backoff(base, 0))
}

func TestProcessPaymentCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 80000)

	paid, err := f.svc.ProcessPayment(ctx, txn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, paid.Status)
	assert.Equal(t, "sbx_000001", paid.GatewayRef)
	assert.Equal(t, sandbox.Name, paid.GatewayName)

	stored, err := f.store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, []string{txn.ID.String()}, f.events.paid)
	assert.Empty(t, f.sleeps)
}

func TestRetryBoundary(t *testing.T) {
	tests := []struct {
		name      string
		script    []gateway.Code
		wantCode  gateway.Code
		wantCalls int
		wantSleep []time.Duration
	}{
		{
			name:      "non-retryable stops at first attempt",
			script:    []gateway.Code{gateway.CodeInsufficientFunds},
			wantCode:  gateway.CodeInsufficientFunds,
			wantCalls: 1,
		},
		{
			name:      "blocked card stops at first attempt",
			script:    []gateway.Code{gateway.CodeBlockedCard},
			wantCode:  gateway.CodeBlockedCard,
			wantCalls: 1,
		},
		{
			name:      "retryable exhausts max attempts",
			script:    []gateway.Code{gateway.CodeTimeout, gateway.CodeNetwork, gateway.CodeUnavailable},
			wantCode:  gateway.CodeUnavailable,
			wantCalls: 3,
			wantSleep: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:      "retryable then decline",
			script:    []gateway.Code{gateway.CodeRateLimited, gateway.CodeInvalidCVC},
			wantCode:  gateway.CodeInvalidCVC,
			wantCalls: 2,
			wantSleep: []time.Duration{100 * time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
			f.sandbox.FailNext(tt.script...)

			_, err := f.svc.ProcessPayment(ctx, txn.ID, "")
			var gwErr *gateway.Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantCode, gwErr.Code)
			assert.Equal(t, tt.wantCalls, gwErr.Attempts)
			assert.Equal(t, tt.wantCalls, f.sandbox.Calls())
			assert.Equal(t, tt.wantSleep, f.sleeps)

			stored, err := f.store.GetTransaction(ctx, txn.ID)
			require.NoError(t, err)
			assert.Equal(t, transaction.StatusPending, stored.Status)
			assert.Equal(t, int64(1), stored.Version)
			assert.Empty(t, stored.GatewayRef)
			assert.Len(t, f.events.failed, 1)
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
	f.sandbox.FailNext(gateway.CodeTimeout, gateway.CodeTimeout)

	paid, err := f.svc.ProcessPayment(ctx, txn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, paid.Status)
	assert.Equal(t, 3, f.sandbox.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps)
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	f.svc.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
	f.sandbox.FailNext(gateway.CodeTimeout, gateway.CodeTimeout, gateway.CodeTimeout)

	_, err := f.svc.ProcessPayment(context.Background(), txn.ID, "")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 1, gwErr.Attempts)
	assert.Equal(t, 1, f.sandbox.Calls())
}

func TestIdempotencyKeyReusedAcrossAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()

	var keys []string
	gomock.InOrder(
		gw.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req gateway.Request) (*gateway.Result, error) {
				keys = append(keys, req.IdempotencyKey)
				return nil, gateway.NewError("mock", gateway.CodeTimeout, "slow")
			}),
		gw.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req gateway.Request) (*gateway.Result, error) {
				keys = append(keys, req.IdempotencyKey)
				assert.Equal(t, types.BRL(10000), req.Amount)
				return &gateway.Result{GatewayRef: "mock-1", Status: gateway.StatusPaid, ProcessedAt: clock()}, nil
			}),
	)

	f := newFixture(t, gw)
	txn := f.persist(t, card(t, paymethod.TypeDebitCard, 12, 2030), 10000)

	paid, err := f.svc.ProcessPayment(context.Background(), txn.ID, "mock")
	require.NoError(t, err)
	assert.Equal(t, "mock-1", paid.GatewayRef)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	_, err = id.ParsePaymentID(keys[0])
	assert.NoError(t, err)
}

func TestChargeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cash, err := paymethod.New(paymethod.TypeCash)
	require.NoError(t, err)
	offline := f.persist(t, cash, 10000)
	_, err = f.svc.ProcessPayment(ctx, offline.ID, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	expired := f.persist(t, card(t, paymethod.TypeCreditCard, 1, 2026), 10000)
	_, err = f.svc.ProcessPayment(ctx, expired.ID, "")
	assert.ErrorIs(t, err, types.ErrMethodExpired)

	good := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
	_, err = f.svc.ProcessPayment(ctx, good.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ProcessPayment(ctx, good.ID, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = f.svc.ProcessPayment(ctx, good.ID, "missing")
	assert.Error(t, err)

	financed, err := transaction.New(transaction.Params{
		PatientID:     "patient-1",
		Type:          transaction.TypePackage,
		Amount:        types.BRL(10000),
		PaymentMethod: card(t, paymethod.TypeCreditCard, 12, 2030),
		DueDate:       clock(),
		PlanID:        id.NewPaymentPlanID(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTransaction(ctx, financed))
	_, err = f.svc.ProcessPayment(ctx, financed.ID, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	assert.Equal(t, 1, f.sandbox.Calls())
}

func TestPixPendingThenSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pix, _ := paymethod.New(paymethod.TypePix)
	txn := f.persist(t, pix, 5000)

	pending, err := f.svc.ProcessPayment(ctx, txn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, pending.Status)
	assert.NotEmpty(t, pending.GatewayRef)
	assert.Empty(t, f.events.paid)

	changed, err := f.svc.SyncTransactionStatus(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, f.sandbox.Settle(pending.GatewayRef, gateway.StatusPaid))
	changed, err = f.svc.SyncTransactionStatus(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, _ := f.store.GetTransaction(ctx, txn.ID)
	assert.Equal(t, transaction.StatusPaid, stored.Status)
	assert.Equal(t, pending.GatewayRef, stored.GatewayRef)
	assert.Len(t, f.events.paid, 1)

	changed, err = f.svc.SyncTransactionStatus(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSyncPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pix, _ := paymethod.New(paymethod.TypePix)

	a := f.persist(t, pix, 5000)
	b := f.persist(t, pix, 6000)
	c := f.persist(t, pix, 7000)
	ra, err := f.svc.ProcessPayment(ctx, a.ID, "")
	require.NoError(t, err)
	rb, err := f.svc.ProcessPayment(ctx, b.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ProcessPayment(ctx, c.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.sandbox.Settle(ra.GatewayRef, gateway.StatusPaid))
	require.NoError(t, f.sandbox.Settle(rb.GatewayRef, gateway.StatusCancelled))

	// A reference to an unregistered gateway fails without stopping the batch.
	ghost := f.persist(t, pix, 8000)
	cur, _ := f.store.GetTransaction(ctx, ghost.ID)
	require.NoError(t, cur.AttachGateway("ghost", "ghost-1"))
	require.NoError(t, f.store.UpdateTransaction(ctx, cur, 1))

	report, err := f.svc.SyncPending(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrGatewayNotFound)
	assert.Equal(t, SyncReport{Checked: 4, Updated: 2, Failed: 1}, report)

	sa, _ := f.store.GetTransaction(ctx, a.ID)
	sb, _ := f.store.GetTransaction(ctx, b.ID)
	sc, _ := f.store.GetTransaction(ctx, c.ID)
	assert.Equal(t, transaction.StatusPaid, sa.Status)
	assert.Equal(t, transaction.StatusCancelled, sb.Status)
	assert.Equal(t, transaction.StatusPending, sc.Status)
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)

	_, err := f.svc.RefundPayment(ctx, txn.ID, nil, "not paid yet")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = f.svc.ProcessPayment(ctx, txn.ID, "")
	require.NoError(t, err)

	tooMuch := types.BRL(10001)
	_, err = f.svc.RefundPayment(ctx, txn.ID, &tooMuch, "x")
	assert.ErrorIs(t, err, types.ErrRefundExceedsAmount)

	partial := types.BRL(4000)
	refunded, err := f.svc.RefundPayment(ctx, txn.ID, &partial, "patient moved")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, refunded.Status)
	assert.Equal(t, types.BRL(4000), refunded.RefundedAmount)
	assert.Equal(t, "patient moved", refunded.Reason)
	assert.Equal(t, []string{txn.ID.String()}, f.events.refunded)
}

func TestRefundOfflineIsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash, _ := paymethod.New(paymethod.TypeCash)
	txn := f.persist(t, cash, 10000)

	cur, _ := f.store.GetTransaction(ctx, txn.ID)
	require.NoError(t, cur.MarkAsPaid(clock(), ""))
	require.NoError(t, f.store.UpdateTransaction(ctx, cur, 1))

	refunded, err := f.svc.RefundPayment(ctx, txn.ID, nil, "cancelled treatment")
	require.NoError(t, err)
	assert.Equal(t, types.BRL(10000), refunded.RefundedAmount)
	assert.Equal(t, 0, f.sandbox.Calls())
}

// paidAt marks a persisted transaction paid by the named gateway.
func (f *fixture) paidAt(t *testing.T, txn *transaction.Transaction, gw, ref string) {
	t.Helper()
	ctx := context.Background()
	cur, err := f.store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NoError(t, cur.MarkAsPaid(clock(), ref))
	cur.GatewayName = gw
	require.NoError(t, f.store.UpdateTransaction(ctx, cur, txn.Version))
}

func TestRefundRetriesTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		gw.EXPECT().RefundPayment(gomock.Any(), "mock-1", gomock.Any()).
			Return(nil, gateway.NewError("mock", gateway.CodeTimeout, "slow")),
		gw.EXPECT().RefundPayment(gomock.Any(), "mock-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, amount *types.Money) (*gateway.RefundResult, error) {
				return &gateway.RefundResult{RefundRef: "rf-1", Status: gateway.StatusRefunded, Amount: *amount}, nil
			}),
	)

	f := newFixture(t, gw)
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
	f.paidAt(t, txn, "mock", "mock-1")

	partial := types.BRL(4000)
	refunded, err := f.svc.RefundPayment(context.Background(), txn.ID, &partial, "patient moved")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, refunded.Status)
	assert.Equal(t, types.BRL(4000), refunded.RefundedAmount)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, f.sleeps)
	assert.Equal(t, []string{txn.ID.String()}, f.events.refunded)
}

func TestRefundDeclineIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().RefundPayment(gomock.Any(), "mock-1", gomock.Any()).
		Return(nil, gateway.NewError("mock", gateway.CodeInvalidAmount, "already refunded")).
		Times(1)

	f := newFixture(t, gw)
	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 10000)
	f.paidAt(t, txn, "mock", "mock-1")

	_, err := f.svc.RefundPayment(context.Background(), txn.ID, nil, "x")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeInvalidAmount, gwErr.Code)
	assert.Equal(t, 1, gwErr.Attempts)
	assert.Empty(t, f.sleeps)

	stored, err := f.store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, stored.Status)
	assert.Empty(t, f.events.refunded)
}

func TestCreateRecurringPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := plan.New(plan.Params{
		PatientID:        "patient-1",
		TotalAmount:      types.BRL(84000),
		InstallmentCount: 3,
		PaymentMethod:    card(t, paymethod.TypeCreditCard, 12, 2030),
		FirstDueDate:     clock(),
		InterestRate:     decimal.Zero,
		PenaltyRate:      decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePlan(ctx, p))

	got, err := f.svc.CreateRecurringPayment(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "sbx_sub_000001", got.RecurringRef)

	stored, _ := f.store.GetPlan(ctx, p.ID)
	assert.Equal(t, got.RecurringRef, stored.RecurringRef)

	slip, _ := paymethod.New(paymethod.TypeBankSlip)
	bySlip, err := plan.New(plan.Params{
		PatientID:        "patient-1",
		TotalAmount:      types.BRL(84000),
		InstallmentCount: 3,
		PaymentMethod:    slip,
		FirstDueDate:     clock(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePlan(ctx, bySlip))
	_, err = f.svc.CreateRecurringPayment(ctx, bySlip.ID, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCircuitBreakerOpens(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("flaky").AnyTimes()
	gw.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).
		Return(nil, gateway.NewError("flaky", gateway.CodeUnavailable, "down")).
		Times(5)

	f := newFixture(t, gw)
	f.svc.cfg.MaxAttempts = 1
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 1000)
		_, err := f.svc.ProcessPayment(ctx, txn.ID, "flaky")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, f.svc.BreakerState("flaky"))

	txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 1000)
	_, err := f.svc.ProcessPayment(ctx, txn.ID, "flaky")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeCircuitOpen, gwErr.Code)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestDeclinesDoNotTripBreaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		f.sandbox.FailNext(gateway.CodeInsufficientFunds)
		txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 1000)
		_, err := f.svc.ProcessPayment(ctx, txn.ID, "")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, f.svc.BreakerState(sandbox.Name))
}

func TestUnclassifiedGatewayErrorsTripBreaker(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("flaky").AnyTimes()
	gw.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset by peer")).
		Times(5)

	f := newFixture(t, gw)
	f.svc.cfg.MaxAttempts = 1
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		txn := f.persist(t, card(t, paymethod.TypeCreditCard, 12, 2030), 1000)
		_, err := f.svc.ProcessPayment(ctx, txn.ID, "flaky")
		var gwErr *gateway.Error
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, gateway.CodeUnknown, gwErr.Code)
	}
	assert.Equal(t, gobreaker.StateOpen, f.svc.BreakerState("flaky"))
}

package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
)

type recorder struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(hook string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.calls = append(r.calls, hook)
	r.mu.Unlock()
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnTransactionPaid(context.Context, *transaction.Transaction) error {
	return r.record("transaction_paid")
}

func (r *recorder) OnSessionConsumed(context.Context, *prepaid.Package) error {
	return r.record("session_consumed")
}

// paidOnly implements a single hook.
type paidOnly struct {
	mu    sync.Mutex
	count int
}

func (p *paidOnly) Name() string { return "paid-only" }

func (p *paidOnly) OnTransactionPaid(context.Context, *transaction.Transaction) error {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))
	require.NoError(t, r.Register(&recorder{name: "b"}))

	assert.Equal(t, 2, r.Count())
	assert.NotNil(t, r.Get("b"))
	assert.Nil(t, r.Get("missing"))

	names := []string{}
	for _, p := range r.List() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestEmitReachesOnlyImplementers(t *testing.T) {
	r := NewRegistry()
	full := &recorder{name: "full"}
	single := &paidOnly{}
	require.NoError(t, r.Register(full))
	require.NoError(t, r.Register(single))

	ctx := context.Background()
	r.EmitTransactionPaid(ctx, &transaction.Transaction{})
	r.EmitSessionConsumed(ctx, &prepaid.Package{})
	r.EmitInvoicePaid(ctx, nil)

	assert.Equal(t, []string{"transaction_paid", "session_consumed"}, full.got())
	assert.Equal(t, 1, single.count)
}

func TestFailingPluginDoesNotStopOthers(t *testing.T) {
	r := NewRegistry()
	failing := &recorder{name: "failing", err: errors.New("boom")}
	healthy := &recorder{name: "healthy"}
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(healthy))

	r.EmitTransactionPaid(context.Background(), &transaction.Transaction{})

	assert.Len(t, failing.got(), 1)
	assert.Len(t, healthy.got(), 1)
}

func TestSlowPluginTimesOut(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	slow := &recorder{name: "slow", delay: 200 * time.Millisecond}
	require.NoError(t, r.Register(slow))

	start := time.Now()
	r.EmitTransactionPaid(context.Background(), &transaction.Transaction{})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestCallWithTimeoutHonoursContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.callWithTimeout(ctx, "blocked", func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

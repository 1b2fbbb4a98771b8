// Package sandbox provides a deterministic in-memory payment gateway for local
// runs and tests.
//
// Card and cash-like charges settle immediately; Pix charges stay pending
// until Settle is called, mirroring a QR code awaiting payment. Failures can
// be scripted with FailNext.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Name is the registry name of the sandbox gateway.
const Name = "sandbox"

type charge struct {
	ref      string
	amount   types.Money
	refunded types.Money
	status   gateway.Status
}

// Gateway is the sandbox implementation of gateway.Gateway.
type Gateway struct {
	mu        sync.Mutex
	name      string
	seq       int
	charges   map[string]*charge
	byKey     map[string]*gateway.Result
	scripted  []error
	schedules map[string]gateway.RecurringRequest
	calls     int
	now       func() time.Time
}

// Option configures a sandbox Gateway.
type Option func(*Gateway)

// WithName registers the sandbox under a different name, so tests can run
// several independent sandboxes.
func WithName(name string) Option {
	return func(g *Gateway) { g.name = name }
}

// WithClock sets the clock used for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a sandbox gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		name:      Name,
		charges:   make(map[string]*charge),
		byKey:     make(map[string]*gateway.Result),
		schedules: make(map[string]gateway.RecurringRequest),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Name() string { return g.name }

// FailNext makes the next ProcessPayment calls fail with the given codes, one
// per call, in order.
func (g *Gateway) FailNext(codes ...gateway.Code) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range codes {
		g.scripted = append(g.scripted, gateway.NewError(g.name, c, "scripted failure"))
	}
}

// Calls returns how many times ProcessPayment was invoked.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Settle moves a pending charge to the given status.
func (g *Gateway) Settle(ref string, status gateway.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[ref]
	if !ok {
		return fmt.Errorf("sandbox: unknown charge %s", ref)
	}
	c.status = status
	return nil
}

func (g *Gateway) ProcessPayment(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if len(g.scripted) > 0 {
		err := g.scripted[0]
		g.scripted = g.scripted[1:]
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if prev, ok := g.byKey[req.IdempotencyKey]; ok {
			res := *prev
			return &res, nil
		}
	}
	if !req.Amount.IsPositive() {
		return nil, gateway.NewError(g.name, gateway.CodeInvalidAmount, "amount must be positive")
	}
	if req.Method.IsExpired(g.now()) {
		return nil, gateway.NewError(g.name, gateway.CodeExpiredCard, "card expired")
	}

	g.seq++
	ref := fmt.Sprintf("sbx_%06d", g.seq)
	status := gateway.StatusPaid
	if req.Method.Type == paymethod.TypePix {
		status = gateway.StatusPending
	}
	g.charges[ref] = &charge{ref: ref, amount: req.Amount, refunded: types.Zero(req.Amount.Currency), status: status}

	res := &gateway.Result{GatewayRef: ref, Status: status, ProcessedAt: g.now().UTC()}
	if req.IdempotencyKey != "" {
		stored := *res
		g.byKey[req.IdempotencyKey] = &stored
	}
	return res, nil
}

func (g *Gateway) RefundPayment(ctx context.Context, gatewayRef string, amount *types.Money) (*gateway.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[gatewayRef]
	if !ok {
		return nil, gateway.NewError(g.name, gateway.CodeInvalidAmount, fmt.Sprintf("unknown charge %s", gatewayRef))
	}
	if c.status != gateway.StatusPaid {
		return nil, gateway.NewError(g.name, gateway.CodeInvalidAmount, fmt.Sprintf("charge %s is %s", gatewayRef, c.status))
	}

	refund := types.Money{Amount: c.amount.Amount - c.refunded.Amount, Currency: c.amount.Currency}
	if amount != nil {
		if amount.Currency != c.amount.Currency || !amount.IsPositive() || amount.GreaterThan(refund) {
			return nil, gateway.NewError(g.name, gateway.CodeInvalidAmount, "refund amount out of range")
		}
		refund = *amount
	}
	c.refunded.Amount += refund.Amount
	if c.refunded.Amount == c.amount.Amount {
		c.status = gateway.StatusRefunded
	}

	g.seq++
	return &gateway.RefundResult{
		RefundRef: fmt.Sprintf("sbx_rf_%06d", g.seq),
		Status:    gateway.StatusRefunded,
		Amount:    refund,
	}, nil
}

func (g *Gateway) GetTransactionStatus(ctx context.Context, gatewayRef string) (gateway.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[gatewayRef]
	if !ok {
		return "", gateway.NewError(g.name, gateway.CodeUnknown, fmt.Sprintf("unknown charge %s", gatewayRef))
	}
	return c.status, nil
}

func (g *Gateway) CreateRecurringPayment(ctx context.Context, req gateway.RecurringRequest) (*gateway.RecurringResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Method.Type.IsCard() {
		return nil, gateway.NewError(g.name, gateway.CodeInvalidCard, "recurring debits require a card")
	}
	if !req.Amount.IsPositive() || req.Installments < 1 {
		return nil, gateway.NewError(g.name, gateway.CodeInvalidAmount, "recurring amount and count must be positive")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	ref := fmt.Sprintf("sbx_sub_%06d", g.seq)
	g.schedules[ref] = req
	return &gateway.RecurringResult{ScheduleRef: ref, Status: gateway.StatusPending}, nil
}

var _ gateway.Gateway = (*Gateway)(nil)

// Package payment orchestrates charges, refunds and status reconciliation
// against the registered payment gateways.
//
// The ledger is never mutated speculatively: a transaction changes only after
// the gateway has accepted the operation, and a failed charge leaves it
// exactly as it was loaded.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var tracer = otel.Tracer("github.com/rafaelminatto1/dudufisio-AI-sub004/payment")

// Store is the part of the repository the payment service reads and writes.
type Store interface {
	transaction.Store
	plan.Store
}

// Config controls retries and concurrency.
type Config struct {
	// MaxAttempts bounds the attempts of one charge, the first included.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt; it doubles after
	// every further failure.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single gateway call. A timeout is retryable.
	AttemptTimeout time.Duration
	// SyncConcurrency bounds parallel gateway lookups in SyncPending.
	SyncConcurrency int
}

// DefaultConfig returns the default retry policy: 3 attempts, 500ms base
// delay, 10s per attempt.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       500 * time.Millisecond,
		AttemptTimeout:  10 * time.Second,
		SyncConcurrency: 4,
	}
}

// Backoff returns the wait after the given failed attempt: base × 2^(attempt−1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Service is the payment orchestrator.
type Service struct {
	gateways *gateway.Registry
	store    Store
	plugins  *plugin.Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPlugins routes payment events to the plugin registry.
func WithPlugins(r *plugin.Registry) Option {
	return func(s *Service) { s.plugins = r }
}

// WithClock sets the clock used for paid and refund timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSleeper replaces the wait between retry attempts.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// NewService creates a payment service over the given gateways and store.
func NewService(gateways *gateway.Registry, store Store, opts ...Option) *Service {
	s := &Service{
		gateways: gateways,
		store:    store,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxAttempts < 1 {
		s.cfg.MaxAttempts = 1
	}
	if s.cfg.SyncConcurrency < 1 {
		s.cfg.SyncConcurrency = 1
	}
	return s
}

// ──────────────────────────────────────────────────
// Charges
// ──────────────────────────────────────────────────

// Charge sends txn to the named gateway (the default when empty) and, on
// success, marks it paid or attaches the gateway reference when the gateway
// settles asynchronously. txn is not persisted. On failure txn is untouched
// and a *gateway.Error is returned.
func (s *Service) Charge(ctx context.Context, txn *transaction.Transaction, gatewayName string) (*gateway.Result, error) {
	if err := s.validateCharge(txn); err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "payment.Charge")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.transaction.id", txn.ID.String()),
		attribute.String("ledger.gateway", gw.Name()),
		attribute.Int64("ledger.amount", txn.Total().Amount),
	)

	req := gateway.Request{
		IdempotencyKey: id.NewPaymentID().String(),
		TransactionID:  txn.ID.String(),
		PatientID:      txn.PatientID,
		Amount:         txn.Total(),
		Method:         txn.PaymentMethod,
		Installments:   gatewayInstallments(txn),
		Description:    txn.Description,
		Metadata:       txn.Metadata,
	}

	out, gwErr := s.withRetry(ctx, span, gw, "payment", func(ctx context.Context) (any, error) {
		res, err := gw.ProcessPayment(ctx, req)
		if err == nil && res == nil {
			return nil, gateway.NewError(gw.Name(), gateway.CodeUnknown, "gateway returned no result")
		}
		return res, err
	})
	if gwErr != nil {
		span.RecordError(gwErr)
		span.SetStatus(codes.Error, string(gwErr.Code))
		s.logger.Warn("payment failed",
			"transaction_id", txn.ID.String(),
			"gateway", gw.Name(),
			"code", gwErr.Code,
			"attempts", gwErr.Attempts,
			"error", gwErr.Message,
		)
		if s.plugins != nil {
			s.plugins.EmitPaymentFailed(ctx, txn, gwErr)
		}
		return nil, gwErr
	}

	res := out.(*gateway.Result)
	switch res.Status {
	case gateway.StatusPaid:
		paidAt := res.ProcessedAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		if err := txn.MarkAsPaid(paidAt, res.GatewayRef); err != nil {
			return nil, err
		}
		txn.GatewayName = gw.Name()
	case gateway.StatusPending:
		if err := txn.AttachGateway(gw.Name(), res.GatewayRef); err != nil {
			return nil, err
		}
	default:
		gwErr := &gateway.Error{
			Code:    gateway.CodeUnknown,
			Message: fmt.Sprintf("charge accepted with unexpected status %q", res.Status),
			Gateway: gw.Name(),
		}
		span.SetStatus(codes.Error, string(gwErr.Code))
		return nil, gwErr
	}

	span.SetAttributes(attribute.String("ledger.gateway.ref", res.GatewayRef))
	s.logger.Info("payment accepted",
		"transaction_id", txn.ID.String(),
		"gateway", gw.Name(),
		"gateway_ref", res.GatewayRef,
		"status", res.Status,
	)
	return res, nil
}

// ProcessPayment loads a persisted transaction, charges it and stores the
// result under the version that was loaded.
func (s *Service) ProcessPayment(ctx context.Context, txnID id.TransactionID, gatewayName string) (*transaction.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	work := txn.Clone()
	if _, err := s.Charge(ctx, work, gatewayName); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTransaction(ctx, work, txn.Version); err != nil {
		return nil, fmt.Errorf("payment: persist charge of %s: %w", txnID, err)
	}
	if work.Status == transaction.StatusPaid && s.plugins != nil {
		s.plugins.EmitTransactionPaid(ctx, work)
	}
	return work, nil
}

// gatewayInstallments is the split the gateway applies. A plan installment is
// one payment of the ledger-managed schedule.
func gatewayInstallments(txn *transaction.Transaction) int {
	if txn.Type == transaction.TypeInstallment {
		return 1
	}
	return txn.InstallmentCount
}

func (s *Service) validateCharge(txn *transaction.Transaction) error {
	if !txn.IsPayable() || txn.SettledByPlan() {
		return types.NewTransitionError("transaction", txn.Status, transaction.StatusPaid)
	}
	if txn.GatewayRef != "" {
		return types.ValidationError{Field: "gateway_ref", Message: "transaction already has a charge in progress"}
	}
	if !txn.Total().IsPositive() {
		return types.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if !txn.PaymentMethod.RequiresOnlineProcessing() {
		return types.ValidationError{Field: "payment_method", Message: fmt.Sprintf("%s is settled offline", txn.PaymentMethod.Type)}
	}
	return txn.PaymentMethod.CheckCharge(txn.InstallmentCount, s.now())
}

// withRetry runs call up to MaxAttempts times, waiting Backoff between
// attempts. Non-retryable codes stop the loop at once, as does a cancelled
// context. op names the operation in logs.
func (s *Service) withRetry(ctx context.Context, span trace.Span, gw gateway.Gateway, op string, call func(ctx context.Context) (any, error)) (any, *gateway.Error) {
	var lastErr *gateway.Error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("ledger.payment.attempts", attempt))

		out, err := s.attempt(ctx, gw, call)
		if err == nil {
			return out, nil
		}

		lastErr = err
		lastErr.Attempts = attempt
		if !lastErr.Retryable() || attempt == s.cfg.MaxAttempts {
			break
		}

		delay := Backoff(s.cfg.BaseDelay, attempt)
		s.logger.Debug("retrying "+op,
			"gateway", gw.Name(),
			"attempt", attempt,
			"code", lastErr.Code,
			"delay", delay,
		)
		if err := s.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, lastErr
}

// attempt makes one call through the gateway's breaker. Gateway errors are
// classified before the breaker sees them.
func (s *Service) attempt(ctx context.Context, gw gateway.Gateway, call func(ctx context.Context) (any, error)) (any, *gateway.Error) {
	actx := ctx
	if s.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		defer cancel()
	}

	out, err := s.breaker(gw.Name()).Execute(func() (interface{}, error) {
		out, err := call(actx)
		if err != nil {
			return nil, gateway.Classify(gw.Name(), err)
		}
		return out, nil
	})
	if err != nil {
		return nil, breakerError(gw.Name(), err)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Refunds
// ──────────────────────────────────────────────────

// Refund returns amount of a paid transaction to the patient and marks txn
// refunded. amount nil refunds the full total. Charges captured online are
// refunded through their gateway with the same retry policy as charges;
// transactions settled offline are refunded locally only. txn is not
// persisted. On failure it is untouched.
func (s *Service) Refund(ctx context.Context, txn *transaction.Transaction, amount *types.Money, reason string) error {
	if txn.Status != transaction.StatusPaid {
		return types.NewTransitionError("transaction", txn.Status, transaction.StatusRefunded)
	}

	refund := txn.Total()
	if amount != nil {
		refund = *amount
	}
	if refund.Currency != txn.Amount.Currency {
		return types.ErrCurrencyMismatch
	}
	if !refund.IsPositive() {
		return types.ValidationError{Field: "amount", Message: "refund amount must be positive"}
	}
	if refund.GreaterThan(txn.Total()) {
		return fmt.Errorf("%w: %s > %s", types.ErrRefundExceedsAmount, refund, txn.Total())
	}

	if txn.GatewayRef != "" {
		gw, err := s.gateways.Get(txn.GatewayName)
		if err != nil {
			return err
		}

		ctx, span := tracer.Start(ctx, "payment.Refund")
		defer span.End()
		span.SetAttributes(
			attribute.String("ledger.transaction.id", txn.ID.String()),
			attribute.String("ledger.gateway", gw.Name()),
			attribute.Int64("ledger.amount", refund.Amount),
		)

		requested := refund
		out, gwErr := s.withRetry(ctx, span, gw, "refund", func(ctx context.Context) (any, error) {
			return gw.RefundPayment(ctx, txn.GatewayRef, &requested)
		})
		if gwErr != nil {
			span.RecordError(gwErr)
			span.SetStatus(codes.Error, string(gwErr.Code))
			s.logger.Warn("refund failed",
				"transaction_id", txn.ID.String(),
				"gateway", gw.Name(),
				"code", gwErr.Code,
				"attempts", gwErr.Attempts,
				"error", gwErr.Message,
			)
			return gwErr
		}
		if rf, ok := out.(*gateway.RefundResult); ok && rf != nil && rf.Amount.Currency != "" {
			refund = rf.Amount
		}
	}

	if err := txn.Refund(refund, reason); err != nil {
		return err
	}
	s.logger.Info("payment refunded",
		"transaction_id", txn.ID.String(),
		"amount", refund.String(),
	)
	return nil
}

// RefundPayment loads a paid transaction, refunds it and stores the result
// under the version that was loaded.
func (s *Service) RefundPayment(ctx context.Context, txnID id.TransactionID, amount *types.Money, reason string) (*transaction.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	work := txn.Clone()
	if err := s.Refund(ctx, work, amount, reason); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTransaction(ctx, work, txn.Version); err != nil {
		return nil, fmt.Errorf("payment: persist refund of %s: %w", txnID, err)
	}
	if s.plugins != nil {
		s.plugins.EmitTransactionRefunded(ctx, work)
	}
	return work, nil
}

// ──────────────────────────────────────────────────
// Status reconciliation
// ──────────────────────────────────────────────────

// SyncTransactionStatus reconciles a transaction with the status its gateway
// reports. It only applies legal transitions and reports whether it changed
// anything.
func (s *Service) SyncTransactionStatus(ctx context.Context, txnID id.TransactionID) (bool, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return false, err
	}
	if txn.GatewayRef == "" {
		return false, nil
	}
	gw, err := s.gateways.Get(txn.GatewayName)
	if err != nil {
		return false, err
	}

	remote, err := gw.GetTransactionStatus(ctx, txn.GatewayRef)
	if err != nil {
		return false, gateway.Classify(gw.Name(), err)
	}

	work := txn.Clone()
	changed, err := reconcile(work, remote, s.now())
	if err != nil {
		s.logger.Warn("gateway status cannot be applied",
			"transaction_id", txnID.String(),
			"local", txn.Status,
			"remote", remote,
			"error", err,
		)
		return false, nil
	}
	if !changed {
		return false, nil
	}
	if err := s.store.UpdateTransaction(ctx, work, txn.Version); err != nil {
		return false, fmt.Errorf("payment: persist sync of %s: %w", txnID, err)
	}

	s.logger.Info("transaction reconciled",
		"transaction_id", txnID.String(),
		"from", txn.Status,
		"to", work.Status,
	)
	if s.plugins != nil {
		switch work.Status {
		case transaction.StatusPaid:
			s.plugins.EmitTransactionPaid(ctx, work)
		case transaction.StatusRefunded:
			s.plugins.EmitTransactionRefunded(ctx, work)
		}
	}
	return true, nil
}

func reconcile(txn *transaction.Transaction, remote gateway.Status, now time.Time) (bool, error) {
	switch remote {
	case gateway.StatusPaid:
		if txn.Status == transaction.StatusPaid {
			return false, nil
		}
		return true, txn.MarkAsPaid(now, "")
	case gateway.StatusCancelled, gateway.StatusFailed:
		if txn.Status == transaction.StatusCancelled {
			return false, nil
		}
		return true, txn.Cancel(fmt.Sprintf("gateway reported %s", remote))
	case gateway.StatusRefunded:
		if txn.Status == transaction.StatusRefunded {
			return false, nil
		}
		return true, txn.Refund(txn.Total(), "refunded at gateway")
	}
	return false, nil
}

// SyncReport summarizes a SyncPending run.
type SyncReport struct {
	Checked int
	Updated int
	Failed  int
}

// SyncPending reconciles every pending or overdue transaction that carries a
// gateway reference. One transaction's failure never stops the others; their
// errors are joined into the returned error.
func (s *Service) SyncPending(ctx context.Context) (SyncReport, error) {
	var candidates []*transaction.Transaction
	for _, status := range []transaction.Status{transaction.StatusPending, transaction.StatusOverdue} {
		txns, err := s.store.ListTransactions(ctx, transaction.ListOpts{Status: status, WithGatewayRef: true})
		if err != nil {
			return SyncReport{}, err
		}
		candidates = append(candidates, txns...)
	}

	var (
		mu     sync.Mutex
		report SyncReport
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.SyncConcurrency)
	for _, txn := range candidates {
		g.Go(func() error {
			changed, err := s.SyncTransactionStatus(ctx, txn.ID)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				report.Failed++
				errs = append(errs, fmt.Errorf("sync %s: %w", txn.ID, err))
				s.logger.Warn("transaction sync failed", "transaction_id", txn.ID.String(), "error", err)
				return nil
			}
			if changed {
				report.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Recurring debits
// ──────────────────────────────────────────────────

// CreateRecurringPayment registers the plan's installments as a monthly card
// debit at the gateway and records the schedule reference on the plan.
func (s *Service) CreateRecurringPayment(ctx context.Context, planID id.PaymentPlanID, gatewayName string) (*plan.Plan, error) {
	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status != plan.StatusActive {
		return nil, types.NewTransitionError("payment plan", p.Status, p.Status)
	}
	if !p.PaymentMethod.Type.IsCard() {
		return nil, types.ValidationError{Field: "payment_method", Message: "recurring debits require a card"}
	}
	if p.PaymentMethod.IsExpired(s.now()) {
		return nil, types.ErrMethodExpired
	}
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	first := p.Installments[0]
	ctx, span := tracer.Start(ctx, "payment.CreateRecurring")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.plan.id", p.ID.String()),
		attribute.String("ledger.gateway", gw.Name()),
	)

	req := gateway.RecurringRequest{
		IdempotencyKey: id.NewPaymentID().String(),
		PatientID:      p.PatientID,
		PlanID:         p.ID.String(),
		Amount:         first.Amount,
		Method:         p.PaymentMethod,
		Installments:   p.InstallmentCount,
		FirstDueDate:   first.DueDate,
	}
	out, gwErr := s.attempt(ctx, gw, func(ctx context.Context) (any, error) {
		return gw.CreateRecurringPayment(ctx, req)
	})
	if gwErr != nil {
		span.RecordError(gwErr)
		span.SetStatus(codes.Error, string(gwErr.Code))
		return nil, gwErr
	}
	res, _ := out.(*gateway.RecurringResult)
	if res == nil {
		return nil, gateway.NewError(gw.Name(), gateway.CodeUnknown, "gateway returned no schedule")
	}

	work := p.Clone()
	if err := work.AttachRecurring(res.ScheduleRef); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePlan(ctx, work, p.Version); err != nil {
		return nil, fmt.Errorf("payment: persist recurring schedule of %s: %w", planID, err)
	}
	return work, nil
}

// ──────────────────────────────────────────────────
// Circuit breakers
// ──────────────────────────────────────────────────

// breaker returns the circuit breaker of the named gateway. Declines do not
// count as failures; only transient faults trip the breaker.
func (s *Service) breaker(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway:" + name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !gateway.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("gateway circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	s.breakers[name] = cb
	return cb
}

// BreakerState returns the state of the named gateway's breaker.
func (s *Service) BreakerState(name string) gobreaker.State {
	return s.breaker(name).State()
}

func breakerError(name string, err error) *gateway.Error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &gateway.Error{Code: gateway.CodeCircuitOpen, Message: "gateway circuit is open", Gateway: name, Err: err}
	}
	return gateway.Classify(name, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

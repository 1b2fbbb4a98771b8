package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onTransactionPaid     []OnTransactionPaid
	onTransactionRefunded []OnTransactionRefunded
	onTransactionOverdue  []OnTransactionOverdue
	onPaymentFailed       []OnPaymentFailed
	onPackagePurchased    []OnPackagePurchased
	onSessionConsumed     []OnSessionConsumed
	onPackageExpired      []OnPackageExpired
	onPackageCancelled    []OnPackageCancelled
	onInvoiceIssued       []OnInvoiceIssued
	onInvoicePaid         []OnInvoicePaid
	onInvoiceOverdue      []OnInvoiceOverdue
	onPlanCreated         []OnPlanCreated
	onInstallmentOverdue  []OnInstallmentOverdue
	onPlanCompleted       []OnPlanCompleted
	onPlanDefaulted       []OnPlanDefaulted
	onSweepCompleted      []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionPaid); ok {
		r.onTransactionPaid = append(r.onTransactionPaid, v)
	}
	if v, ok := p.(OnTransactionRefunded); ok {
		r.onTransactionRefunded = append(r.onTransactionRefunded, v)
	}
	if v, ok := p.(OnTransactionOverdue); ok {
		r.onTransactionOverdue = append(r.onTransactionOverdue, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnPackagePurchased); ok {
		r.onPackagePurchased = append(r.onPackagePurchased, v)
	}
	if v, ok := p.(OnSessionConsumed); ok {
		r.onSessionConsumed = append(r.onSessionConsumed, v)
	}
	if v, ok := p.(OnPackageExpired); ok {
		r.onPackageExpired = append(r.onPackageExpired, v)
	}
	if v, ok := p.(OnPackageCancelled); ok {
		r.onPackageCancelled = append(r.onPackageCancelled, v)
	}
	if v, ok := p.(OnInvoiceIssued); ok {
		r.onInvoiceIssued = append(r.onInvoiceIssued, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnInvoiceOverdue); ok {
		r.onInvoiceOverdue = append(r.onInvoiceOverdue, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnInstallmentOverdue); ok {
		r.onInstallmentOverdue = append(r.onInstallmentOverdue, v)
	}
	if v, ok := p.(OnPlanCompleted); ok {
		r.onPlanCompleted = append(r.onPlanCompleted, v)
	}
	if v, ok := p.(OnPlanDefaulted); ok {
		r.onPlanDefaulted = append(r.onPlanDefaulted, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnTransactionPaid", reflect.TypeFor[OnTransactionPaid]()},
	{"OnTransactionRefunded", reflect.TypeFor[OnTransactionRefunded]()},
	{"OnTransactionOverdue", reflect.TypeFor[OnTransactionOverdue]()},
	{"OnPaymentFailed", reflect.TypeFor[OnPaymentFailed]()},
	{"OnPackagePurchased", reflect.TypeFor[OnPackagePurchased]()},
	{"OnSessionConsumed", reflect.TypeFor[OnSessionConsumed]()},
	{"OnPackageExpired", reflect.TypeFor[OnPackageExpired]()},
	{"OnPackageCancelled", reflect.TypeFor[OnPackageCancelled]()},
	{"OnInvoiceIssued", reflect.TypeFor[OnInvoiceIssued]()},
	{"OnInvoicePaid", reflect.TypeFor[OnInvoicePaid]()},
	{"OnInvoiceOverdue", reflect.TypeFor[OnInvoiceOverdue]()},
	{"OnPlanCreated", reflect.TypeFor[OnPlanCreated]()},
	{"OnInstallmentOverdue", reflect.TypeFor[OnInstallmentOverdue]()},
	{"OnPlanCompleted", reflect.TypeFor[OnPlanCompleted]()},
	{"OnPlanDefaulted", reflect.TypeFor[OnPlanDefaulted]()},
	{"OnSweepCompleted", reflect.TypeFor[OnSweepCompleted]()},
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			interfaces = append(interfaces, h.name)
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks, logging failures. Hooks never fail
// the operation that triggered them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *hooks
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error { return p.OnInit(ctx, l) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitTransactionPaid(ctx context.Context, txn *transaction.Transaction) {
	emit(ctx, r, "OnTransactionPaid", &r.onTransactionPaid, func(p OnTransactionPaid) error {
		return p.OnTransactionPaid(ctx, txn)
	})
}

func (r *Registry) EmitTransactionRefunded(ctx context.Context, txn *transaction.Transaction) {
	emit(ctx, r, "OnTransactionRefunded", &r.onTransactionRefunded, func(p OnTransactionRefunded) error {
		return p.OnTransactionRefunded(ctx, txn)
	})
}

func (r *Registry) EmitTransactionOverdue(ctx context.Context, txn *transaction.Transaction) {
	emit(ctx, r, "OnTransactionOverdue", &r.onTransactionOverdue, func(p OnTransactionOverdue) error {
		return p.OnTransactionOverdue(ctx, txn)
	})
}

func (r *Registry) EmitPaymentFailed(ctx context.Context, txn *transaction.Transaction, err error) {
	emit(ctx, r, "OnPaymentFailed", &r.onPaymentFailed, func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, txn, err)
	})
}

func (r *Registry) EmitPackagePurchased(ctx context.Context, pkg *prepaid.Package, txn *transaction.Transaction) {
	emit(ctx, r, "OnPackagePurchased", &r.onPackagePurchased, func(p OnPackagePurchased) error {
		return p.OnPackagePurchased(ctx, pkg, txn)
	})
}

func (r *Registry) EmitSessionConsumed(ctx context.Context, pkg *prepaid.Package) {
	emit(ctx, r, "OnSessionConsumed", &r.onSessionConsumed, func(p OnSessionConsumed) error {
		return p.OnSessionConsumed(ctx, pkg)
	})
}

func (r *Registry) EmitPackageExpired(ctx context.Context, pkg *prepaid.Package) {
	emit(ctx, r, "OnPackageExpired", &r.onPackageExpired, func(p OnPackageExpired) error {
		return p.OnPackageExpired(ctx, pkg)
	})
}

func (r *Registry) EmitPackageCancelled(ctx context.Context, pkg *prepaid.Package, refund types.Money) {
	emit(ctx, r, "OnPackageCancelled", &r.onPackageCancelled, func(p OnPackageCancelled) error {
		return p.OnPackageCancelled(ctx, pkg, refund)
	})
}

func (r *Registry) EmitInvoiceIssued(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoiceIssued", &r.onInvoiceIssued, func(p OnInvoiceIssued) error {
		return p.OnInvoiceIssued(ctx, inv)
	})
}

func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoicePaid", &r.onInvoicePaid, func(p OnInvoicePaid) error {
		return p.OnInvoicePaid(ctx, inv)
	})
}

func (r *Registry) EmitInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoiceOverdue", &r.onInvoiceOverdue, func(p OnInvoiceOverdue) error {
		return p.OnInvoiceOverdue(ctx, inv)
	})
}

func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	emit(ctx, r, "OnPlanCreated", &r.onPlanCreated, func(p OnPlanCreated) error {
		return p.OnPlanCreated(ctx, pl)
	})
}

func (r *Registry) EmitInstallmentOverdue(ctx context.Context, pl *plan.Plan, inst plan.Installment, penalty types.Money) {
	emit(ctx, r, "OnInstallmentOverdue", &r.onInstallmentOverdue, func(p OnInstallmentOverdue) error {
		return p.OnInstallmentOverdue(ctx, pl, inst, penalty)
	})
}

func (r *Registry) EmitPlanCompleted(ctx context.Context, pl *plan.Plan) {
	emit(ctx, r, "OnPlanCompleted", &r.onPlanCompleted, func(p OnPlanCompleted) error {
		return p.OnPlanCompleted(ctx, pl)
	})
}

func (r *Registry) EmitPlanDefaulted(ctx context.Context, pl *plan.Plan) {
	emit(ctx, r, "OnPlanDefaulted", &r.onPlanDefaulted, func(p OnPlanDefaulted) error {
		return p.OnPlanDefaulted(ctx, pl)
	})
}

func (r *Registry) EmitSweepCompleted(ctx context.Context, sweep string, processed, failed int, elapsed time.Duration) {
	emit(ctx, r, "OnSweepCompleted", &r.onSweepCompleted, func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, sweep, processed, failed, elapsed)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/billing"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/payment"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
)

// Config is the engine's policy.
type Config struct {
	Billing billing.Config
	Payment payment.Config
	// DefaultGateway is charged when a call names no gateway. Empty means the
	// first registered gateway.
	DefaultGateway string
	Schedule       Schedule
}

// Schedule holds the cron specs of the periodic sweeps. An empty spec
// disables the sweep.
type Schedule struct {
	RecurringBilling    string
	ExpirePackages      string
	OverdueInvoices     string
	OverdueTransactions string
	SyncPayments        string
}

// DefaultConfig returns the default billing and retry policy with daily
// sweeps and a gateway sync every ten minutes.
func DefaultConfig() Config {
	return Config{
		Billing: billing.DefaultConfig(),
		Payment: payment.DefaultConfig(),
		Schedule: Schedule{
			RecurringBilling:    "0 6 * * *",
			ExpirePackages:      "15 0 * * *",
			OverdueInvoices:     "30 0 * * *",
			OverdueTransactions: "45 0 * * *",
			SyncPayments:        "*/10 * * * *",
		},
	}
}

// Ledger is the patient receivables engine.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	gateways *gateway.Registry
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	billing  *billing.Service
	payments *payment.Service

	cron   *cron.Cron
	cancel context.CancelFunc

	optErrs []error
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
		l.gateways.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		if err := l.plugins.Register(p); err != nil {
			l.optErrs = append(l.optErrs, err)
		}
	}
}

// WithGateway registers a payment gateway.
func WithGateway(g gateway.Gateway) Option {
	return func(l *Ledger) {
		if err := l.gateways.Register(g); err != nil {
			l.optErrs = append(l.optErrs, err)
		}
	}
}

// WithConfig replaces the default policy.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) { l.cfg = cfg }
}

// WithClock sets the clock used for business dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger on s. Invalid options and policies are reported here.
func New(s store.Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    s,
		plugins:  plugin.NewRegistry(),
		gateways: gateway.NewRegistry(),
		logger:   slog.Default(),
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := errors.Join(l.optErrs...); err != nil {
		return nil, fmt.Errorf("ledger: options: %w", err)
	}

	b, err := billing.NewService(s,
		billing.WithConfig(l.cfg.Billing),
		billing.WithLogger(l.logger),
		billing.WithPlugins(l.plugins),
		billing.WithClock(l.now),
	)
	if err != nil {
		return nil, err
	}
	l.billing = b
	l.payments = payment.NewService(l.gateways, s,
		payment.WithConfig(l.cfg.Payment),
		payment.WithLogger(l.logger),
		payment.WithPlugins(l.plugins),
		payment.WithClock(l.now),
	)
	return l, nil
}

// Billing returns the billing service, for pricing previews and reports.
func (l *Ledger) Billing() *billing.Service { return l.billing }

// Payments returns the payment service.
func (l *Ledger) Payments() *payment.Service { return l.payments }

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Start migrates the store, initializes plugins and schedules the sweeps.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}

	l.plugins.EmitInit(ctx, l)

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(l.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{billing.SweepRecurringBilling, l.cfg.Schedule.RecurringBilling, l.sweep(l.billing.ProcessRecurringBilling)},
		{billing.SweepExpirePackages, l.cfg.Schedule.ExpirePackages, l.sweep(l.billing.ExpirePackages)},
		{billing.SweepOverdueInvoices, l.cfg.Schedule.OverdueInvoices, l.sweep(l.billing.MarkOverdueInvoices)},
		{billing.SweepOverdueTransactions, l.cfg.Schedule.OverdueTransactions, l.sweep(l.billing.MarkOverdueTransactions)},
		{SweepSyncPayments, l.cfg.Schedule.SyncPayments, func(ctx context.Context) error {
			_, err := l.SyncPayments(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := c.AddFunc(job.spec, func() {
			if err := job.run(runCtx); err != nil {
				l.logger.Warn("sweep finished with errors", "sweep", job.name, "error", err)
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("ledger: schedule %s: %w", job.name, err)
		}
	}

	l.cron = c
	l.cancel = cancel
	c.Start()

	l.logger.Info("ledger started",
		"plugins", l.plugins.Count(),
		"jobs", len(c.Entries()),
	)
	return nil
}

// Stop waits for running sweeps, shuts plugins down and closes the store.
func (l *Ledger) Stop() error {
	if l.cron != nil {
		l.cancel()
		<-l.cron.Stop().Done()
	}

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	l.logger.Info("ledger stopped")
	return l.store.Close()
}

// sweep adapts a billing sweep to a scheduled job. Each run reads the clock
// once.
func (l *Ledger) sweep(fn func(ctx context.Context, now time.Time) (billing.SweepReport, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := fn(ctx, l.now())
		return err
	}
}

// RunSweeps runs every periodic sweep once, in dependency order: plans are
// aged before stand-alone transactions. Each sweep runs even when an earlier
// one failed.
func (l *Ledger) RunSweeps(ctx context.Context) error {
	now := l.now()
	var errs []error
	for _, fn := range []func(context.Context, time.Time) (billing.SweepReport, error){
		l.billing.ProcessRecurringBilling,
		l.billing.ExpirePackages,
		l.billing.MarkOverdueInvoices,
		l.billing.MarkOverdueTransactions,
	} {
		if _, err := fn(ctx, now); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := l.SyncPayments(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

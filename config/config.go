// Package config loads the ledger worker configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	ledger "github.com/rafaelminatto1/dudufisio-AI-sub004"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/billing"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/payment"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Logger    Logger
	Store     Store
	Payment   Payment
	Billing   Billing
	Scheduler Scheduler
	Kafka     Kafka
	Metrics   Metrics
}

type Logger struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type Store struct {
	Driver           string `env:"LEDGER_STORE_DRIVER" envDefault:"memory"`
	PostgresDSN      string `env:"POSTGRES_DSN" envDefault:""`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MongoURI         string `env:"MONGO_URI" envDefault:""`
	MongoDatabase    string `env:"MONGO_DATABASE" envDefault:"ledger"`
}

type Payment struct {
	MaxAttempts     int           `env:"PAYMENT_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay       time.Duration `env:"PAYMENT_BASE_DELAY" envDefault:"500ms"`
	AttemptTimeout  time.Duration `env:"PAYMENT_ATTEMPT_TIMEOUT" envDefault:"10s"`
	SyncConcurrency int           `env:"PAYMENT_SYNC_CONCURRENCY" envDefault:"4"`
	DefaultGateway  string        `env:"PAYMENT_DEFAULT_GATEWAY" envDefault:"sandbox"`
}

type Billing struct {
	// Prices overrides package prices in centavos, e.g. "package_10:80000,monthly:150000".
	Prices         map[string]int64 `env:"BILLING_PRICES" envDefault:""`
	RetentionRate  decimal.Decimal  `env:"BILLING_RETENTION_RATE" envDefault:"0.10"`
	InvoiceDueDays int              `env:"BILLING_INVOICE_DUE_DAYS" envDefault:"30"`
	InterestRate   decimal.Decimal  `env:"BILLING_INTEREST_RATE" envDefault:"0"`
	PenaltyRate    decimal.Decimal  `env:"BILLING_PENALTY_RATE" envDefault:"0.02"`
}

// Scheduler holds cron specs of the periodic sweeps. An empty spec disables
// the sweep.
type Scheduler struct {
	RecurringBilling    string `env:"SCHEDULE_RECURRING_BILLING" envDefault:"0 6 * * *"`
	ExpirePackages      string `env:"SCHEDULE_EXPIRE_PACKAGES" envDefault:"15 0 * * *"`
	OverdueInvoices     string `env:"SCHEDULE_OVERDUE_INVOICES" envDefault:"30 0 * * *"`
	OverdueTransactions string `env:"SCHEDULE_OVERDUE_TRANSACTIONS" envDefault:"45 0 * * *"`
	SyncPayments        string `env:"SCHEDULE_SYNC_PAYMENTS" envDefault:"*/10 * * * *"`
}

type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:""`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.events"`
}

// Metrics serves the Prometheus registry. An empty address disables it.
type Metrics struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads envPath when it exists, then parses the environment. Every
// field must be set unless it carries a default.
func Load(envPath string) (Config, error) {
	err := godotenv.Load(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	c, err := env.ParseAsWithOptions[Config](env.Options{
		RequiredIfNoDef: true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("config: POSTGRES_DSN is required for the postgres driver")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("config: MONGO_URI is required for the mongo driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Payment.MaxAttempts < 1 {
		return errors.New("config: PAYMENT_MAX_ATTEMPTS must be at least 1")
	}
	for typ := range c.Billing.Prices {
		if !prepaid.Type(typ).Valid() {
			return fmt.Errorf("config: BILLING_PRICES: unknown package type %q", typ)
		}
	}
	return nil
}

// Engine maps the configuration onto the engine's policy, starting from the
// default price table, tax rates and discount rules.
func (c Config) Engine() ledger.Config {
	bc := billing.DefaultConfig()
	for typ, centavos := range c.Billing.Prices {
		bc.Prices[prepaid.Type(typ)] = types.BRL(centavos)
	}
	bc.RetentionRate = c.Billing.RetentionRate
	bc.InvoiceDueDays = c.Billing.InvoiceDueDays
	bc.InterestRate = c.Billing.InterestRate
	bc.PenaltyRate = c.Billing.PenaltyRate

	return ledger.Config{
		Billing: bc,
		Payment: payment.Config{
			MaxAttempts:     c.Payment.MaxAttempts,
			BaseDelay:       c.Payment.BaseDelay,
			AttemptTimeout:  c.Payment.AttemptTimeout,
			SyncConcurrency: c.Payment.SyncConcurrency,
		},
		DefaultGateway: c.Payment.DefaultGateway,
		Schedule: ledger.Schedule{
			RecurringBilling:    c.Scheduler.RecurringBilling,
			ExpirePackages:      c.Scheduler.ExpirePackages,
			OverdueInvoices:     c.Scheduler.OverdueInvoices,
			OverdueTransactions: c.Scheduler.OverdueTransactions,
			SyncPayments:        c.Scheduler.SyncPayments,
		},
	}
}

// NewLogger builds the process logger writing to w.
func (l Logger) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

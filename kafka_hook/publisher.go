// Package kafkahook publishes ledger lifecycle events to a Kafka topic as
// JSON messages keyed by patient, so every event of one patient lands on the
// same partition in order.
package kafkahook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/segmentio/kafka-go"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plugin"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var (
	_ plugin.Plugin                = (*Publisher)(nil)
	_ plugin.OnShutdown            = (*Publisher)(nil)
	_ plugin.OnTransactionPaid     = (*Publisher)(nil)
	_ plugin.OnTransactionRefunded = (*Publisher)(nil)
	_ plugin.OnTransactionOverdue  = (*Publisher)(nil)
	_ plugin.OnPaymentFailed       = (*Publisher)(nil)
	_ plugin.OnPackagePurchased    = (*Publisher)(nil)
	_ plugin.OnSessionConsumed     = (*Publisher)(nil)
	_ plugin.OnPackageExpired      = (*Publisher)(nil)
	_ plugin.OnPackageCancelled    = (*Publisher)(nil)
	_ plugin.OnInvoiceIssued       = (*Publisher)(nil)
	_ plugin.OnInvoicePaid         = (*Publisher)(nil)
	_ plugin.OnInvoiceOverdue      = (*Publisher)(nil)
	_ plugin.OnPlanCreated         = (*Publisher)(nil)
	_ plugin.OnInstallmentOverdue  = (*Publisher)(nil)
	_ plugin.OnPlanCompleted       = (*Publisher)(nil)
	_ plugin.OnPlanDefaulted       = (*Publisher)(nil)
)

// Event types published on the topic.
const (
	EventTransactionPaid     = "transaction.paid"
	EventTransactionRefunded = "transaction.refunded"
	EventTransactionOverdue  = "transaction.overdue"
	EventPaymentFailed       = "payment.failed"
	EventPackagePurchased    = "package.purchased"
	EventSessionConsumed     = "package.session_consumed"
	EventPackageExpired      = "package.expired"
	EventPackageCancelled    = "package.cancelled"
	EventInvoiceIssued       = "invoice.issued"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceOverdue      = "invoice.overdue"
	EventPlanCreated         = "plan.created"
	EventInstallmentOverdue  = "plan.installment_overdue"
	EventPlanCompleted       = "plan.completed"
	EventPlanDefaulted       = "plan.defaulted"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the envelope of every published message.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	PatientID  string    `json:"patient_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher is a ledger plugin writing events to Kafka. Publish failures are
// logged and never fail the ledger operation that raised the event.
type Publisher struct {
	l     *slog.Logger
	w     MessageWriter
	topic string
	now   func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.l = l }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewWriter returns an async writer for brokers with its logs routed to l.
func NewWriter(l *slog.Logger, brokers []string) *kafka.Writer {
	l = l.WithGroup("kafka")
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		Async:                  true,
		Logger:                 &infoLogger{l: l},
		ErrorLogger:            &errorLogger{l: l},
		AllowAutoTopicCreation: true,
	}
}

// New returns a Publisher writing to topic through w.
func New(w MessageWriter, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		l:     slog.Default(),
		w:     w,
		topic: topic,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.l = p.l.With("topic", topic)
	return p
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "kafka-publisher" }

// OnShutdown flushes and closes the writer.
func (p *Publisher) OnShutdown(_ context.Context) error {
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, typ, patientID string, data any) {
	evt := Event{
		ID:         uuid.Must(uuid.NewV4()),
		Type:       typ,
		PatientID:  patientID,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	b, err := json.Marshal(evt)
	if err != nil {
		p.l.Error("marshal event", "type", typ, "error", err)
		return
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(patientID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(typ)},
		},
	})
	if err != nil {
		p.l.Error("write kafka message", "type", typ, "event_id", evt.ID.String(), "error", err)
	}
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

func (p *Publisher) OnTransactionPaid(ctx context.Context, txn *transaction.Transaction) error {
	p.publish(ctx, EventTransactionPaid, txn.PatientID, txn)
	return nil
}

func (p *Publisher) OnTransactionRefunded(ctx context.Context, txn *transaction.Transaction) error {
	p.publish(ctx, EventTransactionRefunded, txn.PatientID, txn)
	return nil
}

func (p *Publisher) OnTransactionOverdue(ctx context.Context, txn *transaction.Transaction) error {
	p.publish(ctx, EventTransactionOverdue, txn.PatientID, txn)
	return nil
}

type paymentFailure struct {
	Transaction *transaction.Transaction `json:"transaction"`
	Error       string                   `json:"error"`
}

func (p *Publisher) OnPaymentFailed(ctx context.Context, txn *transaction.Transaction, err error) error {
	data := paymentFailure{Transaction: txn}
	if err != nil {
		data.Error = err.Error()
	}
	p.publish(ctx, EventPaymentFailed, txn.PatientID, data)
	return nil
}

// ──────────────────────────────────────────────────
// Package hooks
// ──────────────────────────────────────────────────

type packagePurchase struct {
	Package     *prepaid.Package         `json:"package"`
	Transaction *transaction.Transaction `json:"transaction"`
}

func (p *Publisher) OnPackagePurchased(ctx context.Context, pkg *prepaid.Package, txn *transaction.Transaction) error {
	p.publish(ctx, EventPackagePurchased, pkg.PatientID, packagePurchase{Package: pkg, Transaction: txn})
	return nil
}

func (p *Publisher) OnSessionConsumed(ctx context.Context, pkg *prepaid.Package) error {
	p.publish(ctx, EventSessionConsumed, pkg.PatientID, pkg)
	return nil
}

func (p *Publisher) OnPackageExpired(ctx context.Context, pkg *prepaid.Package) error {
	p.publish(ctx, EventPackageExpired, pkg.PatientID, pkg)
	return nil
}

type packageCancellation struct {
	Package *prepaid.Package `json:"package"`
	Refund  types.Money      `json:"refund"`
}

func (p *Publisher) OnPackageCancelled(ctx context.Context, pkg *prepaid.Package, refund types.Money) error {
	p.publish(ctx, EventPackageCancelled, pkg.PatientID, packageCancellation{Package: pkg, Refund: refund})
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

func (p *Publisher) OnInvoiceIssued(ctx context.Context, inv *invoice.Invoice) error {
	p.publish(ctx, EventInvoiceIssued, inv.PatientID, inv)
	return nil
}

func (p *Publisher) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	p.publish(ctx, EventInvoicePaid, inv.PatientID, inv)
	return nil
}

func (p *Publisher) OnInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) error {
	p.publish(ctx, EventInvoiceOverdue, inv.PatientID, inv)
	return nil
}

// ──────────────────────────────────────────────────
// Payment plan hooks
// ──────────────────────────────────────────────────

func (p *Publisher) OnPlanCreated(ctx context.Context, pl *plan.Plan) error {
	p.publish(ctx, EventPlanCreated, pl.PatientID, pl)
	return nil
}

type installmentOverdue struct {
	PlanID      string           `json:"plan_id"`
	Installment plan.Installment `json:"installment"`
	Penalty     types.Money      `json:"penalty"`
}

func (p *Publisher) OnInstallmentOverdue(ctx context.Context, pl *plan.Plan, inst plan.Installment, penalty types.Money) error {
	p.publish(ctx, EventInstallmentOverdue, pl.PatientID, installmentOverdue{
		PlanID:      pl.ID.String(),
		Installment: inst,
		Penalty:     penalty,
	})
	return nil
}

func (p *Publisher) OnPlanCompleted(ctx context.Context, pl *plan.Plan) error {
	p.publish(ctx, EventPlanCompleted, pl.PatientID, pl)
	return nil
}

func (p *Publisher) OnPlanDefaulted(ctx context.Context, pl *plan.Plan) error {
	p.publish(ctx, EventPlanDefaulted, pl.PatientID, pl)
	return nil
}

type infoLogger struct {
	l *slog.Logger
}

func (l *infoLogger) Printf(format string, v ...any) {
	l.l.Info(fmt.Sprintf(format, v...))
}

type errorLogger struct {
	l *slog.Logger
}

func (l *errorLogger) Printf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
}

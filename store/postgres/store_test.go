package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/billing"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

func TestPaginateOrdersAndLimits(t *testing.T) {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	q, args, err := paginate(sb.Select("id").From(tableTransactions).Where(sq.Eq{"status": "pending"}), 10, 20).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM ledger_transactions WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT 10 OFFSET 20", q)
	assert.Equal(t, []any{"pending"}, args)
}

func TestColumnListsMatchValues(t *testing.T) {
	pix, err := paymethod.New(paymethod.TypePix)
	require.NoError(t, err)
	txn, err := transaction.New(transaction.Params{
		PatientID: "p", Type: transaction.TypeSession, Amount: types.BRL(100), PaymentMethod: pix, DueDate: time.Now(),
	})
	require.NoError(t, err)
	vals, err := transactionValues(txn)
	require.NoError(t, err)
	assert.Len(t, vals, len(transactionColumns))

	pkg, err := prepaid.New("p", txn.ID, prepaid.TypePackage5, types.BRL(45000), time.Now())
	require.NoError(t, err)
	vals, err = packageValues(pkg)
	require.NoError(t, err)
	assert.Len(t, vals, len(packageColumns))

	p, err := plan.New(plan.Params{
		PatientID: "p", OriginTransactionID: txn.ID, TotalAmount: types.BRL(84000), InstallmentCount: 3,
		PaymentMethod: mustCard(t), FirstDueDate: time.Now(),
	})
	require.NoError(t, err)
	vals, err = planValues(p)
	require.NoError(t, err)
	assert.Len(t, vals, len(planColumns))
	assert.Len(t, planSelectColumns, len(planColumns))
	for i, col := range planSelectColumns {
		assert.True(t, strings.HasPrefix(col, planColumns[i]))
	}
}

func mustCard(t *testing.T) paymethod.Method {
	t.Helper()
	m, err := paymethod.NewCard(paymethod.TypeCreditCard, paymethod.Card{
		Brand: "visa", LastFour: "4242", HolderName: "Ana Souza", ExpiryMonth: 12, ExpiryYear: 2031, Token: "tok_1",
	})
	require.NoError(t, err)
	return m
}

// ──────────────────────────────────────────────────
// Database round trips, run when LEDGER_TEST_POSTGRES_DSN is set
// ──────────────────────────────────────────────────

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	s := New(pool)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := transaction.New(transaction.Params{
		PatientID:     "pg-patient",
		Type:          transaction.TypePackage,
		Amount:        types.BRL(72000),
		TaxAmount:     types.BRL(4068),
		PaymentMethod: mustCard(t),
		DueDate:       time.Now().UTC().Truncate(time.Microsecond),
		Metadata:      map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateTransaction(ctx, txn))
	assert.ErrorIs(t, s.CreateTransaction(ctx, txn), types.ErrAlreadyExists)

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.Total(), got.Total())
	assert.Equal(t, "4242", got.PaymentMethod.LastFour)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.True(t, got.PlanID.IsNil())

	require.NoError(t, got.MarkAsPaid(time.Now(), "gw-1"))
	require.NoError(t, s.UpdateTransaction(ctx, got, 1))
	assert.ErrorIs(t, s.UpdateTransaction(ctx, got, 1), types.ErrConflict)

	_, err = s.GetTransaction(ctx, id.NewTransactionID())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresWithTransactionRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	txn, err := transaction.New(transaction.Params{
		PatientID: "pg-rollback", Type: transaction.TypeSession, Amount: types.BRL(10000),
		PaymentMethod: mustCard(t), DueDate: time.Now(),
	})
	require.NoError(t, err)

	err = s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	_, err = s.GetTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresInvoiceAndPlan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	svc, err := billing.NewService(s)
	require.NoError(t, err)

	origin, err := transaction.New(transaction.Params{
		PatientID: "pg-plan", Type: transaction.TypePackage, Amount: types.BRL(84000),
		PaymentMethod: mustCard(t), DueDate: time.Now(),
	})
	require.NoError(t, err)
	p, insts, err := svc.CreatePaymentPlan(origin, 3, time.Now())
	require.NoError(t, err)

	err = s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateTransaction(ctx, origin); err != nil {
			return err
		}
		for _, it := range insts {
			if err := tx.CreateTransaction(ctx, it); err != nil {
				return err
			}
		}
		return tx.CreatePlan(ctx, p)
	})
	require.NoError(t, err)

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Installments, 3)
	assert.Equal(t, insts[1].ID, got.Installments[1].TransactionID)
	assert.True(t, p.PenaltyRate.Equal(got.PenaltyRate))

	linked, err := s.ListTransactions(ctx, transaction.ListOpts{PlanID: p.ID})
	require.NoError(t, err)
	assert.Len(t, linked, 3)

	li, err := invoice.NewLineItem("Pacote de 10 sessões", 1, types.BRL(84000), origin.ID)
	require.NoError(t, err)
	inv, err := invoice.New(invoice.Params{
		PatientID: "pg-plan", TransactionIDs: []id.TransactionID{origin.ID},
		IssueDate: time.Now(), DueDate: time.Now().AddDate(0, 0, 30), LineItems: []invoice.LineItem{li},
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	n, err := s.NextInvoiceNumber(ctx, 1999)
	require.NoError(t, err)
	num, err := invoice.FormatNumber(1999, n)
	require.NoError(t, err)
	require.NoError(t, inv.Issue(num, time.Now()))
	require.NoError(t, s.UpdateInvoice(ctx, inv, 1))

	byNumber, err := s.GetInvoiceByNumber(ctx, num)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, byNumber.ID)
	assert.Equal(t, li.UnitPrice, byNumber.LineItems[0].UnitPrice)

	byTxn, err := s.ListInvoices(ctx, invoice.ListOpts{TransactionID: origin.ID})
	require.NoError(t, err)
	assert.Len(t, byTxn, 1)

	next, err := s.NextInvoiceNumber(ctx, 1999)
	require.NoError(t, err)
	assert.Equal(t, n+1, next)
}

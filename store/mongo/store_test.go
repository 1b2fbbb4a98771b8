package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/paymethod"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/tax"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

func mustCard(t *testing.T) paymethod.Method {
	t.Helper()
	m, err := paymethod.NewCard(paymethod.TypeCreditCard, paymethod.Card{
		Brand: "mastercard", LastFour: "5454", HolderName: "Bruno Lima", ExpiryMonth: 6, ExpiryYear: 2030, Token: "tok_2",
	})
	require.NoError(t, err)
	return m
}

func TestTransactionModelKeepsOptionalPlan(t *testing.T) {
	txn, err := transaction.New(transaction.Params{
		PatientID: "p", Type: transaction.TypeSession, Amount: types.BRL(18000), TaxAmount: types.BRL(1017),
		PaymentMethod: mustCard(t), DueDate: time.Now(),
	})
	require.NoError(t, err)

	m := toTransactionModel(txn)
	assert.Empty(t, m.PlanID)
	assert.Equal(t, "brl", m.Currency)

	back, err := fromTransactionModel(m)
	require.NoError(t, err)
	assert.True(t, back.PlanID.IsNil())
	assert.Equal(t, txn.ID, back.ID)
	assert.Equal(t, txn.Total(), back.Total())
	assert.Equal(t, "5454", back.PaymentMethod.LastFour)
}

func TestInvoiceModelCarriesRatesAndItems(t *testing.T) {
	txnID := id.NewTransactionID()
	li, err := invoice.NewLineItem("Sessão avulsa", 2, types.BRL(18000), txnID)
	require.NoError(t, err)
	inv, err := invoice.New(invoice.Params{
		PatientID: "p", TransactionIDs: []id.TransactionID{txnID},
		IssueDate: time.Now(), DueDate: time.Now().AddDate(0, 0, 30), LineItems: []invoice.LineItem{li},
		TaxRates: []tax.Rate{{Name: "ISS", Rate: decimal.RequireFromString("0.05")}},
	})
	require.NoError(t, err)

	m := toInvoiceModel(inv)
	assert.Empty(t, m.Number)
	assert.Equal(t, "0.05", m.TaxRates[0].Rate)

	back, err := fromInvoiceModel(m)
	require.NoError(t, err)
	assert.Equal(t, []id.TransactionID{txnID}, back.TransactionIDs)
	assert.Equal(t, li.UnitPrice, back.LineItems[0].UnitPrice)
	assert.True(t, back.TaxRates[0].Rate.Equal(decimal.RequireFromString("0.05")))
}

func TestPlanModelRoundTrip(t *testing.T) {
	p, err := plan.New(plan.Params{
		PatientID: "p", OriginTransactionID: id.NewTransactionID(), TotalAmount: types.BRL(84000),
		InstallmentCount: 3, PaymentMethod: mustCard(t), FirstDueDate: time.Now(),
	})
	require.NoError(t, err)

	back, err := fromPlanModel(toPlanModel(p))
	require.NoError(t, err)
	require.Len(t, back.Installments, 3)
	assert.Equal(t, p.Installments[2].Amount, back.Installments[2].Amount)
	assert.True(t, p.PenaltyRate.Equal(back.PenaltyRate))
	assert.Equal(t, p.OriginTransactionID, back.OriginTransactionID)
}

func TestModelRejectsForeignID(t *testing.T) {
	m := &packageModel{ID: id.NewTransactionID().String(), TransactionID: id.NewTransactionID().String()}
	_, err := fromPackageModel(m)
	assert.Error(t, err)
}

func TestInvoiceNumberIndexIsPartial(t *testing.T) {
	idx := migrationIndexes()[colInvoices]
	require.NotEmpty(t, idx)
	assert.NotNil(t, idx[0].Options)
}

// ──────────────────────────────────────────────────
// Database round trips, run when LEDGER_TEST_MONGO_URI is set
// ──────────────────────────────────────────────────

func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LEDGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LEDGER_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	s := New(client, fmt.Sprintf("ledger_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestMongoPackageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := transaction.New(transaction.Params{
		PatientID: "mongo-patient", Type: transaction.TypePackage, Amount: types.BRL(45000),
		PaymentMethod: mustCard(t), DueDate: time.Now(),
	})
	require.NoError(t, err)
	pkg, err := prepaid.New("mongo-patient", txn.ID, prepaid.TypePackage5, types.BRL(45000), time.Now())
	require.NoError(t, err)

	require.NoError(t, s.CreateTransaction(ctx, txn))
	require.NoError(t, s.CreatePackage(ctx, pkg))
	assert.ErrorIs(t, s.CreatePackage(ctx, pkg), types.ErrAlreadyExists)

	got, err := s.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.RemainingSessions())

	require.NoError(t, got.ConsumeSession(time.Now()))
	require.NoError(t, s.UpdatePackage(ctx, got, 1))
	assert.ErrorIs(t, s.UpdatePackage(ctx, got, 1), types.ErrConflict)

	active, err := s.ListPackages(ctx, prepaid.ListOpts{PatientID: "mongo-patient"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].UsedSessions)

	_, err = s.GetTransaction(ctx, id.NewTransactionID())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMongoWithTransactionRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	txn, err := transaction.New(transaction.Params{
		PatientID: "mongo-rollback", Type: transaction.TypeSession, Amount: types.BRL(18000),
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

func TestMongoInvoiceSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.NextInvoiceNumber(ctx, 2031)
	require.NoError(t, err)
	second, err := s.NextInvoiceNumber(ctx, 2031)
	require.NoError(t, err)
	other, err := s.NextInvoiceNumber(ctx, 2032)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, int64(1), other)
}

// Package mongo implements store.Store on MongoDB with the official v2
// driver. Atomic scopes run as multi-document transactions, so the
// deployment must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// Collection name constants.
const (
	colTransactions = "ledger_transactions"
	colPackages     = "ledger_packages"
	colInvoices     = "ledger_invoices"
	colPlans        = "ledger_payment_plans"
	colCounters     = "ledger_counters"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	inTx   bool
}

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	const connectTimeout = 5 * time.Second

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ledger/mongo: ping: %w", err)
	}
	return client, nil
}

// New creates a store on the named database. The store owns client from
// here on.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Migrate creates indexes for all ledger collections. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client. It is a no-op on a transaction-scoped store.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// WithTransaction runs fn inside a session transaction. The driver retries
// fn on transient errors, so fn must be safe to run more than once. A nested
// call joins the enclosing transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("ledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	scoped := &Store{client: s.client, db: s.db, inTx: true}
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, scoped)
	})
	return err
}

type counterModel struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// NextInvoiceNumber increments the per-year counter document.
func (s *Store) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	var c counterModel
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": fmt.Sprintf("invoice:%d", year)},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: next invoice number: %w", err)
	}
	if c.Value > invoice.MaxSequence {
		return 0, fmt.Errorf("ledger/mongo: invoice sequence of %d exhausted", year)
	}
	return c.Value, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction) error {
	return s.insert(ctx, colTransactions, "transaction", t.ID.String(), toTransactionModel(t))
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	if err := s.findOne(ctx, colTransactions, "transaction", txnID.String(), bson.M{"_id": txnID.String()}, &m); err != nil {
		return nil, err
	}
	return fromTransactionModel(&m)
}

func (s *Store) UpdateTransaction(ctx context.Context, t *transaction.Transaction, expectedVersion int64) error {
	return s.replace(ctx, colTransactions, "transaction", t.ID.String(), expectedVersion, toTransactionModel(t))
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{}
	if opts.PatientID != "" {
		filter["patient_id"] = opts.PatientID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if !opts.PlanID.IsNil() {
		filter["plan_id"] = opts.PlanID.String()
	}
	if opts.DueBefore != nil {
		filter["due_date"] = bson.M{"$lt": *opts.DueBefore}
	}
	if opts.WithGatewayRef {
		filter["gateway_ref"] = bson.M{"$ne": ""}
	}
	return findMany(ctx, s.db.Collection(colTransactions), filter, opts.Limit, opts.Offset, fromTransactionModel)
}

// ==================== Package Store ====================

func (s *Store) CreatePackage(ctx context.Context, p *prepaid.Package) error {
	return s.insert(ctx, colPackages, "package", p.ID.String(), toPackageModel(p))
}

func (s *Store) GetPackage(ctx context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	var m packageModel
	if err := s.findOne(ctx, colPackages, "package", pkgID.String(), bson.M{"_id": pkgID.String()}, &m); err != nil {
		return nil, err
	}
	return fromPackageModel(&m)
}

func (s *Store) UpdatePackage(ctx context.Context, p *prepaid.Package, expectedVersion int64) error {
	return s.replace(ctx, colPackages, "package", p.ID.String(), expectedVersion, toPackageModel(p))
}

func (s *Store) ListPackages(ctx context.Context, opts prepaid.ListOpts) ([]*prepaid.Package, error) {
	filter := bson.M{}
	if opts.PatientID != "" {
		filter["patient_id"] = opts.PatientID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.ExpiresBefore != nil {
		filter["expiry_date"] = bson.M{"$lt": *opts.ExpiresBefore}
	}
	return findMany(ctx, s.db.Collection(colPackages), filter, opts.Limit, opts.Offset, fromPackageModel)
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return s.insert(ctx, colInvoices, "invoice", inv.ID.String(), toInvoiceModel(inv))
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := s.findOne(ctx, colInvoices, "invoice", invID.String(), bson.M{"_id": invID.String()}, &m); err != nil {
		return nil, err
	}
	return fromInvoiceModel(&m)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := s.findOne(ctx, colInvoices, "invoice", "number "+number, bson.M{"number": number}, &m); err != nil {
		return nil, err
	}
	return fromInvoiceModel(&m)
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	return s.replace(ctx, colInvoices, "invoice", inv.ID.String(), expectedVersion, toInvoiceModel(inv))
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	filter := bson.M{}
	if opts.PatientID != "" {
		filter["patient_id"] = opts.PatientID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.TransactionID.IsNil() {
		// Equality on an array field matches any element.
		filter["transaction_ids"] = opts.TransactionID.String()
	}
	if opts.DueBefore != nil {
		filter["due_date"] = bson.M{"$lt": *opts.DueBefore}
	}
	return findMany(ctx, s.db.Collection(colInvoices), filter, opts.Limit, opts.Offset, fromInvoiceModel)
}

// ==================== Payment Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	return s.insert(ctx, colPlans, "payment plan", p.ID.String(), toPlanModel(p))
}

func (s *Store) GetPlan(ctx context.Context, planID id.PaymentPlanID) (*plan.Plan, error) {
	var m planModel
	if err := s.findOne(ctx, colPlans, "payment plan", planID.String(), bson.M{"_id": planID.String()}, &m); err != nil {
		return nil, err
	}
	return fromPlanModel(&m)
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan, expectedVersion int64) error {
	return s.replace(ctx, colPlans, "payment plan", p.ID.String(), expectedVersion, toPlanModel(p))
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	filter := bson.M{}
	if opts.PatientID != "" {
		filter["patient_id"] = opts.PatientID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return findMany(ctx, s.db.Collection(colPlans), filter, opts.Limit, opts.Offset, fromPlanModel)
}

// ==================== Helpers ====================

func (s *Store) insert(ctx context.Context, col, entity, key string, doc any) error {
	if _, err := s.db.Collection(col).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s %s", types.ErrAlreadyExists, entity, key)
		}
		return fmt.Errorf("ledger/mongo: insert %s: %w", entity, err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, col, entity, key string, filter bson.M, out any) error {
	if err := s.db.Collection(col).FindOne(ctx, filter).Decode(out); err != nil {
		if isNoDocuments(err) {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, key)
		}
		return fmt.Errorf("ledger/mongo: get %s: %w", entity, err)
	}
	return nil
}

// replace swaps the whole document, guarded by the version the caller read.
func (s *Store) replace(ctx context.Context, col, entity, key string, expected int64, doc any) error {
	c := s.db.Collection(col)
	res, err := c.ReplaceOne(ctx, bson.M{"_id": key, "version": expected}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s %s", types.ErrAlreadyExists, entity, key)
		}
		return fmt.Errorf("ledger/mongo: update %s: %w", entity, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	var current struct {
		Version int64 `bson:"version"`
	}
	err = c.FindOne(ctx, bson.M{"_id": key}, options.FindOne().SetProjection(bson.M{"version": 1})).Decode(&current)
	if err != nil {
		if isNoDocuments(err) {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, key)
		}
		return fmt.Errorf("ledger/mongo: update %s: %w", entity, err)
	}
	return fmt.Errorf("%w: %s %s is at version %d, expected %d", types.ErrConflict, entity, key, current.Version, expected)
}

func findMany[M any, T any](ctx context.Context, c *mongo.Collection, filter bson.M, limit, offset int, conv func(*M) (T, error)) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}

	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list: %w", err)
	}
	var models []M
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list: %w", err)
	}

	out := make([]T, 0, len(models))
	for i := range models {
		v, err := conv(&models[i])
		if err != nil {
			return nil, fmt.Errorf("ledger/mongo: list: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
			{Keys: bson.D{{Key: "plan_id", Value: 1}}},
		},
		colPackages: {
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiry_date", Value: 1}}},
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		},
		colInvoices: {
			{
				Keys: bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"number": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
			{Keys: bson.D{{Key: "transaction_ids", Value: 1}}},
		},
		colPlans: {
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

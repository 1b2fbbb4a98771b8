// Package postgres implements store.Store on PostgreSQL with pgx and
// squirrel. Schema changes ship as embedded goose migrations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// querier is what both the pool and a pgx.Tx offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on a pgx pool. A Store handed to a
// WithTransaction callback runs every statement on that transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	sb   sq.StatementBuilderType
	inTx bool
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	const connectTimeout = 5 * time.Second

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger/postgres: ping: %w", err)
	}
	return pool, nil
}

// New creates a store on pool. The store owns the pool from here on.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		db:   pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool. It is a no-op on a transaction-scoped store.
func (s *Store) Close() error {
	if !s.inTx {
		s.pool.Close()
	}
	return nil
}

// WithTransaction runs fn inside a database transaction. A nested call joins
// the enclosing transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ledger/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	scoped := &Store{pool: s.pool, db: tx, sb: s.sb, inTx: true}
	if err := fn(ctx, scoped); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return nil
}

// NextInvoiceNumber increments the per-year counter row. Inside a
// transaction the reservation rolls back with it.
func (s *Store) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	q, args, err := s.sb.Insert(tableSequences).
		Columns("year", "value").
		Values(year, 1).
		Suffix("ON CONFLICT (year) DO UPDATE SET value = " + tableSequences + ".value + 1 RETURNING value").
		ToSql()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger/postgres: next invoice number: %w", err)
	}
	if n > invoice.MaxSequence {
		return 0, fmt.Errorf("ledger/postgres: invoice sequence of %d exhausted", year)
	}
	return n, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction) error {
	vals, err := transactionValues(t)
	if err != nil {
		return err
	}
	return s.insert(ctx, tableTransactions, "transaction", t.ID.String(), transactionColumns, vals)
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	q, args, err := s.sb.Select(transactionColumns...).
		From(tableTransactions).
		Where(sq.Eq{"id": txnID.String()}).
		ToSql()
	if err != nil {
		return nil, err
	}
	t, err := scanTransaction(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.readErr(err, "transaction", txnID.String())
	}
	return t, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, t *transaction.Transaction, expectedVersion int64) error {
	vals, err := transactionValues(t)
	if err != nil {
		return err
	}
	return s.update(ctx, tableTransactions, "transaction", t.ID.String(), expectedVersion, transactionColumns, vals)
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	qb := s.sb.Select(transactionColumns...).From(tableTransactions)
	if opts.PatientID != "" {
		qb = qb.Where(sq.Eq{"patient_id": opts.PatientID})
	}
	if opts.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(opts.Status)})
	}
	if opts.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(opts.Type)})
	}
	if !opts.PlanID.IsNil() {
		qb = qb.Where(sq.Eq{"plan_id": opts.PlanID.String()})
	}
	if opts.DueBefore != nil {
		qb = qb.Where(sq.Lt{"due_date": *opts.DueBefore})
	}
	if opts.WithGatewayRef {
		qb = qb.Where(sq.NotEq{"gateway_ref": ""})
	}
	return list(ctx, s, paginate(qb, opts.Limit, opts.Offset), scanTransaction)
}

// ==================== Package Store ====================

func (s *Store) CreatePackage(ctx context.Context, p *prepaid.Package) error {
	vals, err := packageValues(p)
	if err != nil {
		return err
	}
	return s.insert(ctx, tablePackages, "package", p.ID.String(), packageColumns, vals)
}

func (s *Store) GetPackage(ctx context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	q, args, err := s.sb.Select(packageColumns...).
		From(tablePackages).
		Where(sq.Eq{"id": pkgID.String()}).
		ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPackage(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.readErr(err, "package", pkgID.String())
	}
	return p, nil
}

func (s *Store) UpdatePackage(ctx context.Context, p *prepaid.Package, expectedVersion int64) error {
	vals, err := packageValues(p)
	if err != nil {
		return err
	}
	return s.update(ctx, tablePackages, "package", p.ID.String(), expectedVersion, packageColumns, vals)
}

func (s *Store) ListPackages(ctx context.Context, opts prepaid.ListOpts) ([]*prepaid.Package, error) {
	qb := s.sb.Select(packageColumns...).From(tablePackages)
	if opts.PatientID != "" {
		qb = qb.Where(sq.Eq{"patient_id": opts.PatientID})
	}
	if opts.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(opts.Status)})
	}
	if opts.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(opts.Type)})
	}
	if opts.ExpiresBefore != nil {
		qb = qb.Where(sq.Lt{"expiry_date": *opts.ExpiresBefore})
	}
	return list(ctx, s, paginate(qb, opts.Limit, opts.Offset), scanPackage)
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	vals, err := invoiceValues(inv)
	if err != nil {
		return err
	}
	return s.insert(ctx, tableInvoices, "invoice", inv.ID.String(), invoiceColumns, vals)
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.getInvoiceBy(ctx, sq.Eq{"id": invID.String()}, invID.String())
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return s.getInvoiceBy(ctx, sq.Eq{"number": number}, "number "+number)
}

func (s *Store) getInvoiceBy(ctx context.Context, where sq.Eq, key string) (*invoice.Invoice, error) {
	q, args, err := s.sb.Select(invoiceColumns...).From(tableInvoices).Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	inv, err := scanInvoice(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.readErr(err, "invoice", key)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	vals, err := invoiceValues(inv)
	if err != nil {
		return err
	}
	return s.update(ctx, tableInvoices, "invoice", inv.ID.String(), expectedVersion, invoiceColumns, vals)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	qb := s.sb.Select(invoiceColumns...).From(tableInvoices)
	if opts.PatientID != "" {
		qb = qb.Where(sq.Eq{"patient_id": opts.PatientID})
	}
	if opts.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(opts.Status)})
	}
	if !opts.TransactionID.IsNil() {
		qb = qb.Where(sq.Expr("? = ANY(transaction_ids)", opts.TransactionID.String()))
	}
	if opts.DueBefore != nil {
		qb = qb.Where(sq.Lt{"due_date": *opts.DueBefore})
	}
	return list(ctx, s, paginate(qb, opts.Limit, opts.Offset), scanInvoice)
}

// ==================== Payment Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	vals, err := planValues(p)
	if err != nil {
		return err
	}
	return s.insert(ctx, tablePlans, "payment plan", p.ID.String(), planColumns, vals)
}

func (s *Store) GetPlan(ctx context.Context, planID id.PaymentPlanID) (*plan.Plan, error) {
	q, args, err := s.sb.Select(planSelectColumns...).
		From(tablePlans).
		Where(sq.Eq{"id": planID.String()}).
		ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, s.readErr(err, "payment plan", planID.String())
	}
	return p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan, expectedVersion int64) error {
	vals, err := planValues(p)
	if err != nil {
		return err
	}
	return s.update(ctx, tablePlans, "payment plan", p.ID.String(), expectedVersion, planColumns, vals)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	qb := s.sb.Select(planSelectColumns...).From(tablePlans)
	if opts.PatientID != "" {
		qb = qb.Where(sq.Eq{"patient_id": opts.PatientID})
	}
	if opts.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(opts.Status)})
	}
	return list(ctx, s, paginate(qb, opts.Limit, opts.Offset), scanPlan)
}

// ==================== Helpers ====================

func (s *Store) insert(ctx context.Context, table, entity, key string, cols []string, vals []any) error {
	q, args, err := s.sb.Insert(table).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", types.ErrAlreadyExists, entity, key)
		}
		return fmt.Errorf("ledger/postgres: insert %s: %w", entity, err)
	}
	return nil
}

// update writes every column except the primary key, guarded by the version
// the caller read.
func (s *Store) update(ctx context.Context, table, entity, key string, expected int64, cols []string, vals []any) error {
	set := make(map[string]any, len(cols)-1)
	for i, col := range cols {
		if col == "id" {
			continue
		}
		set[col] = vals[i]
	}

	q, args, err := s.sb.Update(table).
		SetMap(set).
		Where(sq.Eq{"id": key, "version": expected}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", types.ErrAlreadyExists, entity, key)
		}
		return fmt.Errorf("ledger/postgres: update %s: %w", entity, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: tell a missing row from a stale version.
	var stored int64
	vq, vargs, err := s.sb.Select("version").From(table).Where(sq.Eq{"id": key}).ToSql()
	if err != nil {
		return err
	}
	if err := s.db.QueryRow(ctx, vq, vargs...).Scan(&stored); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, key)
		}
		return fmt.Errorf("ledger/postgres: update %s: %w", entity, err)
	}
	return fmt.Errorf("%w: %s %s is at version %d, expected %d", types.ErrConflict, entity, key, stored, expected)
}

func (s *Store) readErr(err error, entity, key string) error {
	if isNoRows(err) {
		return fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, key)
	}
	return fmt.Errorf("ledger/postgres: get %s: %w", entity, err)
}

func paginate(qb sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	qb = qb.OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	if offset > 0 {
		qb = qb.Offset(uint64(offset))
	}
	return qb
}

func list[T any](ctx context.Context, s *Store, qb sq.SelectBuilder, scan func(pgx.Row) (T, error)) ([]T, error) {
	q, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger/postgres: list: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: list: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

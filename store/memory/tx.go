package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

var errTxDone = errors.New("ledger/memory: transaction already finished")

type rowKind int

const (
	kindTransaction rowKind = iota
	kindPackage
	kindInvoice
	kindPlan
)

type rowKey struct {
	kind rowKind
	key  string
}

// tx is the store handed to a WithTransaction callback. It reads and writes a
// private snapshot and remembers, for every row it wrote, the version that row
// had when the transaction first touched it (0 for rows it created).
type tx struct {
	parent *Store
	data   *tables
	writes map[rowKey]int64
	done   bool
}

var _ store.Store = (*tx)(nil)

// WithTransaction runs fn against a snapshot of the store and commits its
// writes atomically. The commit fails with ErrConflict if a row the
// transaction wrote was changed by someone else in the meantime.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return types.ErrStoreClosed
	}
	t := &tx{
		parent: s,
		data:   s.data.snapshot(),
		writes: make(map[rowKey]int64),
	}
	s.mu.RUnlock()

	err := fn(ctx, t)
	t.done = true
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	for k, expected := range t.writes {
		current, exists := s.data.version(k)
		switch {
		case expected == 0 && exists:
			return fmt.Errorf("%w: %s was created concurrently", types.ErrAlreadyExists, k.key)
		case expected != 0 && current != expected:
			return conflict(k.kind.String(), k.key, current, expected)
		}
	}
	for k := range t.writes {
		switch k.kind {
		case kindTransaction:
			s.data.transactions[k.key] = t.data.transactions[k.key]
		case kindPackage:
			s.data.packages[k.key] = t.data.packages[k.key]
		case kindInvoice:
			s.data.invoices[k.key] = t.data.invoices[k.key]
		case kindPlan:
			s.data.plans[k.key] = t.data.plans[k.key]
		}
	}
	return nil
}

func (k rowKind) String() string {
	switch k {
	case kindTransaction:
		return "transaction"
	case kindPackage:
		return "package"
	case kindInvoice:
		return "invoice"
	default:
		return "payment plan"
	}
}

func (t *tables) version(k rowKey) (int64, bool) {
	switch k.kind {
	case kindTransaction:
		if row, ok := t.transactions[k.key]; ok {
			return row.Version, true
		}
	case kindPackage:
		if row, ok := t.packages[k.key]; ok {
			return row.Version, true
		}
	case kindInvoice:
		if row, ok := t.invoices[k.key]; ok {
			return row.Version, true
		}
	case kindPlan:
		if row, ok := t.plans[k.key]; ok {
			return row.Version, true
		}
	}
	return 0, false
}

// track records the pre-image version of a row before its first write.
func (t *tx) track(kind rowKind, key string) {
	k := rowKey{kind: kind, key: key}
	if _, seen := t.writes[k]; seen {
		return
	}
	v, _ := t.data.version(k)
	t.writes[k] = v
}

func (t *tx) check() error {
	if t.done {
		return errTxDone
	}
	return nil
}

// WithTransaction joins the enclosing transaction.
func (t *tx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if err := t.check(); err != nil {
		return err
	}
	return fn(ctx, t)
}

func (t *tx) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.parent.NextInvoiceNumber(ctx, year)
}

func (t *tx) Migrate(ctx context.Context) error { return t.parent.Migrate(ctx) }
func (t *tx) Ping(ctx context.Context) error    { return t.parent.Ping(ctx) }

// Close is a no-op; the parent store owns the lifecycle.
func (t *tx) Close() error { return nil }

// ==================== Transaction Store ====================

func (t *tx) CreateTransaction(_ context.Context, txn *transaction.Transaction) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindTransaction, txn.ID.String())
	if err := t.data.createTransaction(txn); err != nil {
		t.untrack(kindTransaction, txn.ID.String())
		return err
	}
	return nil
}

func (t *tx) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.getTransaction(txnID)
}

func (t *tx) UpdateTransaction(_ context.Context, txn *transaction.Transaction, expectedVersion int64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindTransaction, txn.ID.String())
	if err := t.data.updateTransaction(txn, expectedVersion); err != nil {
		t.untrack(kindTransaction, txn.ID.String())
		return err
	}
	return nil
}

func (t *tx) ListTransactions(_ context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.listTransactions(opts), nil
}

// ==================== Package Store ====================

func (t *tx) CreatePackage(_ context.Context, p *prepaid.Package) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindPackage, p.ID.String())
	if err := t.data.createPackage(p); err != nil {
		t.untrack(kindPackage, p.ID.String())
		return err
	}
	return nil
}

func (t *tx) GetPackage(_ context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.getPackage(pkgID)
}

func (t *tx) UpdatePackage(_ context.Context, p *prepaid.Package, expectedVersion int64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindPackage, p.ID.String())
	if err := t.data.updatePackage(p, expectedVersion); err != nil {
		t.untrack(kindPackage, p.ID.String())
		return err
	}
	return nil
}

func (t *tx) ListPackages(_ context.Context, opts prepaid.ListOpts) ([]*prepaid.Package, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.listPackages(opts), nil
}

// ==================== Invoice Store ====================

func (t *tx) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindInvoice, inv.ID.String())
	if err := t.data.createInvoice(inv); err != nil {
		t.untrack(kindInvoice, inv.ID.String())
		return err
	}
	return nil
}

func (t *tx) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.getInvoice(invID)
}

func (t *tx) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.getInvoiceByNumber(number)
}

func (t *tx) UpdateInvoice(_ context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindInvoice, inv.ID.String())
	if err := t.data.updateInvoice(inv, expectedVersion); err != nil {
		t.untrack(kindInvoice, inv.ID.String())
		return err
	}
	return nil
}

func (t *tx) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.listInvoices(opts), nil
}

// ==================== Payment Plan Store ====================

func (t *tx) CreatePlan(_ context.Context, p *plan.Plan) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindPlan, p.ID.String())
	if err := t.data.createPlan(p); err != nil {
		t.untrack(kindPlan, p.ID.String())
		return err
	}
	return nil
}

func (t *tx) GetPlan(_ context.Context, planID id.PaymentPlanID) (*plan.Plan, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.getPlan(planID)
}

func (t *tx) UpdatePlan(_ context.Context, p *plan.Plan, expectedVersion int64) error {
	if err := t.check(); err != nil {
		return err
	}
	t.track(kindPlan, p.ID.String())
	if err := t.data.updatePlan(p, expectedVersion); err != nil {
		t.untrack(kindPlan, p.ID.String())
		return err
	}
	return nil
}

func (t *tx) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.data.listPlans(opts), nil
}

// untrack forgets a row whose first write failed. Rows already written keep
// their recorded pre-image.
func (t *tx) untrack(kind rowKind, key string) {
	k := rowKey{kind: kind, key: key}
	cur, exists := t.data.version(k)
	pre := t.writes[k]
	if (pre == 0 && !exists) || (pre != 0 && cur == pre) {
		delete(t.writes, k)
	}
}

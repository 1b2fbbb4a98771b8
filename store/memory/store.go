// Package memory provides an in-memory implementation of store.Store.
//
// Entities are cloned on the way in and on the way out, so callers never
// share state with the store. WithTransaction works on a copy of the tables
// and publishes its writes at commit after checking that none of the rows it
// wrote changed underneath it.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

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

type Store struct {
	mu        sync.RWMutex
	data      *tables
	sequences map[int]int64
	closed    bool
}

func New() *Store {
	return &Store{
		data:      newTables(),
		sequences: make(map[int]int64),
	}
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// read runs fn under the read lock.
func (s *Store) read(fn func(t *tables) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return fn(s.data)
}

// write runs fn under the write lock.
func (s *Store) write(fn func(t *tables) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return fn(s.data)
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(_ context.Context, t *transaction.Transaction) error {
	return s.write(func(tb *tables) error { return tb.createTransaction(t) })
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var out *transaction.Transaction
	err := s.read(func(tb *tables) (err error) {
		out, err = tb.getTransaction(txnID)
		return err
	})
	return out, err
}

func (s *Store) UpdateTransaction(_ context.Context, t *transaction.Transaction, expectedVersion int64) error {
	return s.write(func(tb *tables) error { return tb.updateTransaction(t, expectedVersion) })
}

func (s *Store) ListTransactions(_ context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var out []*transaction.Transaction
	err := s.read(func(tb *tables) error {
		out = tb.listTransactions(opts)
		return nil
	})
	return out, err
}

// ==================== Package Store ====================

func (s *Store) CreatePackage(_ context.Context, p *prepaid.Package) error {
	return s.write(func(tb *tables) error { return tb.createPackage(p) })
}

func (s *Store) GetPackage(_ context.Context, pkgID id.PackageID) (*prepaid.Package, error) {
	var out *prepaid.Package
	err := s.read(func(tb *tables) (err error) {
		out, err = tb.getPackage(pkgID)
		return err
	})
	return out, err
}

func (s *Store) UpdatePackage(_ context.Context, p *prepaid.Package, expectedVersion int64) error {
	return s.write(func(tb *tables) error { return tb.updatePackage(p, expectedVersion) })
}

func (s *Store) ListPackages(_ context.Context, opts prepaid.ListOpts) ([]*prepaid.Package, error) {
	var out []*prepaid.Package
	err := s.read(func(tb *tables) error {
		out = tb.listPackages(opts)
		return nil
	})
	return out, err
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	return s.write(func(tb *tables) error { return tb.createInvoice(inv) })
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := s.read(func(tb *tables) (err error) {
		out, err = tb.getInvoice(invID)
		return err
	})
	return out, err
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := s.read(func(tb *tables) (err error) {
		out, err = tb.getInvoiceByNumber(number)
		return err
	})
	return out, err
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	return s.write(func(tb *tables) error { return tb.updateInvoice(inv, expectedVersion) })
}

func (s *Store) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var out []*invoice.Invoice
	err := s.read(func(tb *tables) error {
		out = tb.listInvoices(opts)
		return nil
	})
	return out, err
}

// ==================== Payment Plan Store ====================

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	return s.write(func(tb *tables) error { return tb.createPlan(p) })
}

func (s *Store) GetPlan(_ context.Context, planID id.PaymentPlanID) (*plan.Plan, error) {
	var out *plan.Plan
	err := s.read(func(tb *tables) (err error) {
		out, err = tb.getPlan(planID)
		return err
	})
	return out, err
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan, expectedVersion int64) error {
	return s.write(func(tb *tables) error { return tb.updatePlan(p, expectedVersion) })
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var out []*plan.Plan
	err := s.read(func(tb *tables) error {
		out = tb.listPlans(opts)
		return nil
	})
	return out, err
}

// ==================== Invoice numbering ====================

// NextInvoiceNumber increments the year's counter immediately. A rolled back
// transaction leaves a gap in the sequence, never a repeat.
func (s *Store) NextInvoiceNumber(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}
	if s.sequences[year] >= invoice.MaxSequence {
		return 0, fmt.Errorf("ledger/memory: invoice sequence of %d exhausted", year)
	}
	s.sequences[year]++
	return s.sequences[year], nil
}

// ==================== Tables ====================

type tables struct {
	transactions map[string]*transaction.Transaction
	packages     map[string]*prepaid.Package
	invoices     map[string]*invoice.Invoice
	plans        map[string]*plan.Plan
}

func newTables() *tables {
	return &tables{
		transactions: make(map[string]*transaction.Transaction),
		packages:     make(map[string]*prepaid.Package),
		invoices:     make(map[string]*invoice.Invoice),
		plans:        make(map[string]*plan.Plan),
	}
}

// snapshot copies the indexes. Stored rows are never mutated in place, so
// sharing them between copies is safe.
func (t *tables) snapshot() *tables {
	return &tables{
		transactions: maps.Clone(t.transactions),
		packages:     maps.Clone(t.packages),
		invoices:     maps.Clone(t.invoices),
		plans:        maps.Clone(t.plans),
	}
}

func notFound(entity string, key string) error {
	return fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, key)
}

func conflict(entity, key string, stored, expected int64) error {
	return fmt.Errorf("%w: %s %s is at version %d, expected %d", types.ErrConflict, entity, key, stored, expected)
}

func (t *tables) createTransaction(txn *transaction.Transaction) error {
	key := txn.ID.String()
	if _, ok := t.transactions[key]; ok {
		return fmt.Errorf("%w: transaction %s", types.ErrAlreadyExists, key)
	}
	t.transactions[key] = txn.Clone()
	return nil
}

func (t *tables) getTransaction(txnID id.TransactionID) (*transaction.Transaction, error) {
	row, ok := t.transactions[txnID.String()]
	if !ok {
		return nil, notFound("transaction", txnID.String())
	}
	return row.Clone(), nil
}

func (t *tables) updateTransaction(txn *transaction.Transaction, expected int64) error {
	key := txn.ID.String()
	row, ok := t.transactions[key]
	if !ok {
		return notFound("transaction", key)
	}
	if row.Version != expected {
		return conflict("transaction", key, row.Version, expected)
	}
	t.transactions[key] = txn.Clone()
	return nil
}

func (t *tables) listTransactions(opts transaction.ListOpts) []*transaction.Transaction {
	out := make([]*transaction.Transaction, 0)
	for _, row := range t.transactions {
		if opts.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *transaction.Transaction) int {
		return byCreation(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(out, opts.Limit, opts.Offset)
}

func (t *tables) createPackage(p *prepaid.Package) error {
	key := p.ID.String()
	if _, ok := t.packages[key]; ok {
		return fmt.Errorf("%w: package %s", types.ErrAlreadyExists, key)
	}
	t.packages[key] = p.Clone()
	return nil
}

func (t *tables) getPackage(pkgID id.PackageID) (*prepaid.Package, error) {
	row, ok := t.packages[pkgID.String()]
	if !ok {
		return nil, notFound("package", pkgID.String())
	}
	return row.Clone(), nil
}

func (t *tables) updatePackage(p *prepaid.Package, expected int64) error {
	key := p.ID.String()
	row, ok := t.packages[key]
	if !ok {
		return notFound("package", key)
	}
	if row.Version != expected {
		return conflict("package", key, row.Version, expected)
	}
	t.packages[key] = p.Clone()
	return nil
}

func (t *tables) listPackages(opts prepaid.ListOpts) []*prepaid.Package {
	out := make([]*prepaid.Package, 0)
	for _, row := range t.packages {
		if opts.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *prepaid.Package) int {
		return byCreation(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(out, opts.Limit, opts.Offset)
}

func (t *tables) createInvoice(inv *invoice.Invoice) error {
	key := inv.ID.String()
	if _, ok := t.invoices[key]; ok {
		return fmt.Errorf("%w: invoice %s", types.ErrAlreadyExists, key)
	}
	if inv.Number != "" {
		if err := t.checkNumberFree(inv.Number, key); err != nil {
			return err
		}
	}
	t.invoices[key] = inv.Clone()
	return nil
}

func (t *tables) checkNumberFree(number, owner string) error {
	for key, row := range t.invoices {
		if key != owner && row.Number == number {
			return fmt.Errorf("%w: invoice number %s", types.ErrAlreadyExists, number)
		}
	}
	return nil
}

func (t *tables) getInvoice(invID id.InvoiceID) (*invoice.Invoice, error) {
	row, ok := t.invoices[invID.String()]
	if !ok {
		return nil, notFound("invoice", invID.String())
	}
	return row.Clone(), nil
}

func (t *tables) getInvoiceByNumber(number string) (*invoice.Invoice, error) {
	for _, row := range t.invoices {
		if row.Number != "" && row.Number == number {
			return row.Clone(), nil
		}
	}
	return nil, notFound("invoice number", number)
}

func (t *tables) updateInvoice(inv *invoice.Invoice, expected int64) error {
	key := inv.ID.String()
	row, ok := t.invoices[key]
	if !ok {
		return notFound("invoice", key)
	}
	if row.Version != expected {
		return conflict("invoice", key, row.Version, expected)
	}
	if inv.Number != "" && inv.Number != row.Number {
		if err := t.checkNumberFree(inv.Number, key); err != nil {
			return err
		}
	}
	t.invoices[key] = inv.Clone()
	return nil
}

func (t *tables) listInvoices(opts invoice.ListOpts) []*invoice.Invoice {
	out := make([]*invoice.Invoice, 0)
	for _, row := range t.invoices {
		if opts.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *invoice.Invoice) int {
		return byCreation(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(out, opts.Limit, opts.Offset)
}

func (t *tables) createPlan(p *plan.Plan) error {
	key := p.ID.String()
	if _, ok := t.plans[key]; ok {
		return fmt.Errorf("%w: payment plan %s", types.ErrAlreadyExists, key)
	}
	t.plans[key] = p.Clone()
	return nil
}

func (t *tables) getPlan(planID id.PaymentPlanID) (*plan.Plan, error) {
	row, ok := t.plans[planID.String()]
	if !ok {
		return nil, notFound("payment plan", planID.String())
	}
	return row.Clone(), nil
}

func (t *tables) updatePlan(p *plan.Plan, expected int64) error {
	key := p.ID.String()
	row, ok := t.plans[key]
	if !ok {
		return notFound("payment plan", key)
	}
	if row.Version != expected {
		return conflict("payment plan", key, row.Version, expected)
	}
	t.plans[key] = p.Clone()
	return nil
}

func (t *tables) listPlans(opts plan.ListOpts) []*plan.Plan {
	out := make([]*plan.Plan, 0)
	for _, row := range t.plans {
		if opts.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *plan.Plan) int {
		return byCreation(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(out, opts.Limit, opts.Offset)
}

func byCreation(a, b time.Time, aID, bID string) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	return cmp.Compare(aID, bID)
}

// page applies limit/offset. A zero limit means no limit.
func page[T any](rows []T, limit, offset int) []T {
	start := min(max(offset, 0), len(rows))
	end := len(rows)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return rows[start:end]
}

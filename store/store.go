// Package store defines the repository boundary of the ledger.
package store

import (
	"context"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/invoice"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/plan"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/prepaid"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/transaction"
)

// Store is the unified storage interface for all ledger entities.
// The entity stores prefix their methods with the entity name, so they embed
// without conflicts.
type Store interface {
	transaction.Store
	prepaid.Store
	invoice.Store
	plan.Store

	// NextInvoiceNumber reserves the next sequence value of the given year.
	// Values are strictly increasing within a year and start at 1.
	NextInvoiceNumber(ctx context.Context, year int) (int64, error)

	// WithTransaction runs fn inside an atomic scope. Every write made through
	// tx lands when fn returns nil and none does when it returns an error.
	// tx must not be used after fn returns.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

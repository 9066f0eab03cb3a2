// Package ledger defines the store contract for owner scoped transactions.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"budget/internal/core"

	"cloud.google.com/go/civil"
)

// ErrNotFound is returned when a transaction does not exist or belongs to
// another owner. Callers cannot tell the two apart.
var ErrNotFound = errors.New("transaction not found")

// Query selects an owner's transactions. Zero dates leave that side of the
// range open; bounds are inclusive. An empty Type matches every type.
type Query struct {
	Owner string
	From  civil.Date
	To    civil.Date
	Type  core.Type
}

// Matches reports whether tx falls inside q.
func (q Query) Matches(tx core.Transaction) bool {
	if tx.Owner != q.Owner {
		return false
	}
	if q.Type != "" && tx.Type != q.Type {
		return false
	}
	if q.From.IsValid() && tx.Date.Before(q.From) {
		return false
	}
	if q.To.IsValid() && tx.Date.After(q.To) {
		return false
	}
	return true
}

// MonthTotal is the sum of one owner's amounts for a (year, month, type).
// Type is whatever the store holds and may be outside the known set.
type MonthTotal struct {
	Year  int
	Month time.Month
	Type  core.Type
	Total float64
}

// Ports for ledger adapters.
type (
	Finder interface {
		// Find returns matching transactions, newest date first.
		Find(ctx context.Context, q Query) ([]core.Transaction, error)
		Get(ctx context.Context, owner, id string) (core.Transaction, error)
	}

	Creator interface {
		// Create assigns ID and timestamps and persists tx.
		Create(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	}

	Updater interface {
		// Update replaces type, amount, category and note of an existing entry.
		Update(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	}

	Deleter interface {
		Delete(ctx context.Context, owner, id string) error
	}

	Store interface {
		Finder
		Creator
		Updater
		Deleter
	}

	// MonthGrouper is implemented by stores able to aggregate server side.
	MonthGrouper interface {
		SumByMonth(ctx context.Context, owner string, from civil.Date) ([]MonthTotal, error)
	}

	// Pinger is implemented by stores with a remote dependency.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// SortNewestFirst orders by date descending, then creation time descending.
func SortNewestFirst(txs []core.Transaction) {
	slices.SortStableFunc(txs, func(a, b core.Transaction) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Package memory is an in-process ledger store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"

	"github.com/google/uuid"
)

type Store struct {
	mu    sync.RWMutex
	items map[string]core.Transaction
	now   func() time.Time
}

func New() *Store {
	return &Store{items: make(map[string]core.Transaction), now: time.Now}
}

// Seed stores transactions as given, keeping any ID already set.
func (s *Store) Seed(txs ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.items[tx.ID] = tx
	}
}

func (s *Store) Create(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	now := s.now().UTC()
	tx.ID = uuid.NewString()
	tx.CreatedAt, tx.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[tx.ID] = tx
	return tx, nil
}

func (s *Store) Get(_ context.Context, owner, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.items[id]
	if !ok || tx.Owner != owner {
		return core.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (s *Store) Find(_ context.Context, q ledger.Query) ([]core.Transaction, error) {
	s.mu.RLock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.items {
		if q.Matches(tx) {
			out = append(out, tx)
		}
	}
	s.mu.RUnlock()
	ledger.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Update(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[tx.ID]
	if !ok || cur.Owner != tx.Owner {
		return core.Transaction{}, ledger.ErrNotFound
	}
	cur.Type = tx.Type
	cur.Amount = tx.Amount
	cur.Category = tx.Category
	cur.Note = tx.Note
	cur.UpdatedAt = s.now().UTC()
	s.items[cur.ID] = cur
	return cur, nil
}

func (s *Store) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.Owner != owner {
		return ledger.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Len reports how many transactions are stored across all owners.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

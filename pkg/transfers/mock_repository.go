// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package transfers

import (
	"fmt"
	"sync"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/tasks"
)

// MockRepository keeps transactions in memory with the same versioning rules as the
// SQL repository. Tasks and ledger postings written alongside are collected, postings
// are never applied.
type MockRepository struct {
	mu           sync.Mutex
	transactions map[id.Transaction]FundingTransaction

	Tasks    []*tasks.Task
	Postings []*ledger.Posting
	Err      error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions: make(map[id.Transaction]FundingTransaction),
	}
}

func (r *MockRepository) Create(txn *FundingTransaction, next *tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	if _, exists := r.transactions[txn.ID]; exists {
		return fmt.Errorf("transaction=%s already exists", txn.ID)
	}
	r.transactions[txn.ID] = *txn
	if next != nil {
		r.Tasks = append(r.Tasks, next)
	}
	return nil
}

func (r *MockRepository) Get(transactionID id.Transaction) (*FundingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	txn, exists := r.transactions[transactionID]
	if !exists {
		return nil, fmt.Errorf("transaction=%s: %w", transactionID, ErrNotFound)
	}
	return &txn, nil
}

func (r *MockRepository) Transition(txn *FundingTransaction, target State, change Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	stored, exists := r.transactions[txn.ID]
	if !exists {
		return fmt.Errorf("transaction=%s: %w", txn.ID, ErrNotFound)
	}
	if stored.Version != txn.Version || stored.State() != txn.State() {
		return fmt.Errorf("transaction=%s: %w", txn.ID, ledger.ErrConcurrentModification)
	}

	next := *txn
	if err := next.Transition(target); err != nil {
		return err
	}
	applyChange(&next, change)
	next.Version++
	next.Modified = time.Now().UTC()

	r.transactions[txn.ID] = next
	if change.Posting != nil {
		r.Postings = append(r.Postings, change.Posting)
	}
	if change.Next != nil {
		r.Tasks = append(r.Tasks, change.Next)
	}
	*txn = next
	return nil
}

func (r *MockRepository) ListStale(cutoff time.Time, limit int) ([]*FundingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*FundingTransaction
	for _, txn := range r.transactions {
		if !txn.Terminal() && txn.Modified.Before(cutoff) && len(out) < limit {
			t := txn
			out = append(out, &t)
		}
	}
	return out, r.Err
}

func (r *MockRepository) MarkNotified(transactionID id.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return false, r.Err
	}
	txn, exists := r.transactions[transactionID]
	if !exists || txn.State() != DepositCompleted || txn.NotifiedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	txn.NotifiedAt = &now
	r.transactions[transactionID] = txn
	return true, nil
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package funds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moov-io/moneymovement/pkg/model"

	"github.com/google/uuid"
)

// memoryOps holds operations for the in-memory providers. Operations stay pending
// until Complete or Fail is called on them.
type memoryOps struct {
	mu    sync.Mutex
	ops   map[string]*Operation
	byKey map[string]string

	calls int
	err   error
}

func newMemoryOps() memoryOps {
	return memoryOps{
		ops:   make(map[string]*Operation),
		byKey: make(map[string]string),
	}
}

func (m *memoryOps) create(accountID string, amount model.Money, key string, initial SubState) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return Operation{}, m.err
	}
	if opID, exists := m.byKey[key]; exists && key != "" {
		return *m.ops[opID], nil
	}
	m.calls++

	now := time.Now().UTC()
	op := &Operation{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Amount:         amount,
		State:          initial,
		IdempotencyKey: key,
		Version:        1,
		Created:        now,
		Modified:       now,
	}
	m.ops[op.ID] = op
	m.byKey[key] = op.ID
	return *op, nil
}

func (m *memoryOps) status(opID, accountID string) (SubState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	op, exists := m.ops[opID]
	if !exists {
		return "", fmt.Errorf("operation=%s: %w", opID, ErrNotFound)
	}
	if op.AccountID != accountID {
		return "", fmt.Errorf("operation=%s account=%s: %w", opID, accountID, ErrAccountMismatch)
	}
	return op.State, nil
}

func (m *memoryOps) settle(opID string, target SubState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.ops[opID]
	if !exists {
		return fmt.Errorf("operation=%s: %w", opID, ErrNotFound)
	}
	if err := op.advance(target); err != nil {
		return err
	}
	op.Version++
	op.Modified = time.Now().UTC()
	return nil
}

// Calls returns how many operations were created, idempotent replays are not counted.
func (m *memoryOps) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SetError makes every following call return err, nil resets it.
func (m *memoryOps) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memoryOps) completeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.ops))
	for opID, op := range m.ops {
		if op.State.Pending() {
			ids = append(ids, opID)
		}
	}
	m.mu.Unlock()

	for i := range ids {
		m.settle(ids[i], Completed)
	}
}

// InMemoryInvestors is an InvestorFunds provider kept entirely in memory.
type InMemoryInvestors struct {
	memoryOps

	balances map[string]model.Money
}

func NewInMemoryInvestors() *InMemoryInvestors {
	return &InMemoryInvestors{
		memoryOps: newMemoryOps(),
		balances:  make(map[string]model.Money),
	}
}

// SetBalance creates or overwrites an account at the provider.
func (p *InMemoryInvestors) SetBalance(accountID string, balance model.Money) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[accountID] = balance
}

func (p *InMemoryInvestors) Ping() error {
	return nil
}

func (p *InMemoryInvestors) CheckBalance(_ context.Context, accountID string) (model.Money, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return model.Money{}, p.err
	}
	balance, exists := p.balances[accountID]
	if !exists {
		return model.Money{}, fmt.Errorf("investor=%s: %w", accountID, ErrAccountNotFound)
	}
	return balance, nil
}

func (p *InMemoryInvestors) WithdrawFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Withdrawal, error) {
	if _, err := p.CheckBalance(ctx, accountID); err != nil {
		return nil, err
	}
	op, err := p.create(accountID, amount, idempotencyKey, InProgress)
	if err != nil {
		return nil, err
	}
	w := Withdrawal(op)
	return &w, nil
}

func (p *InMemoryInvestors) WithdrawalStatus(_ context.Context, withdrawalID, accountID string) (SubState, error) {
	return p.status(withdrawalID, accountID)
}

func (p *InMemoryInvestors) Complete(withdrawalID string) error {
	return p.settle(withdrawalID, Completed)
}

func (p *InMemoryInvestors) Fail(withdrawalID string) error {
	return p.settle(withdrawalID, Failed)
}

// CompleteAll settles every pending withdrawal.
func (p *InMemoryInvestors) CompleteAll() {
	p.completeAll()
}

// InMemoryFunds is a FundDeposits provider kept entirely in memory.
type InMemoryFunds struct {
	memoryOps

	accounts map[string]bool
}

func NewInMemoryFunds() *InMemoryFunds {
	return &InMemoryFunds{
		memoryOps: newMemoryOps(),
		accounts:  make(map[string]bool),
	}
}

func (p *InMemoryFunds) AddAccount(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[accountID] = true
}

func (p *InMemoryFunds) Ping() error {
	return nil
}

func (p *InMemoryFunds) DepositFunds(_ context.Context, accountID string, amount model.Money, idempotencyKey string) (*Deposit, error) {
	p.mu.Lock()
	known := p.accounts[accountID]
	p.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("fund=%s: %w", accountID, ErrAccountNotFound)
	}

	op, err := p.create(accountID, amount, idempotencyKey, Created)
	if err != nil {
		return nil, err
	}
	d := Deposit(op)
	return &d, nil
}

func (p *InMemoryFunds) DepositStatus(_ context.Context, depositID, accountID string) (SubState, error) {
	return p.status(depositID, accountID)
}

func (p *InMemoryFunds) Complete(depositID string) error {
	return p.settle(depositID, Completed)
}

func (p *InMemoryFunds) Fail(depositID string) error {
	return p.settle(depositID, Failed)
}

// CompleteAll settles every pending deposit.
func (p *InMemoryFunds) CompleteAll() {
	p.completeAll()
}

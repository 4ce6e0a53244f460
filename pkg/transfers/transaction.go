// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package transfers holds funding transactions: money withdrawn from an investor's
// account and deposited into a fund. Each transaction is a saga whose state only
// moves forward, persisted with a version so concurrent writers are detected.
package transfers

import (
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/statemachine"
)

var (
	ErrNotFound = errors.New("transaction not found")
)

type State string

const (
	Initiated           State = "INITIATED"
	WithdrawalPending   State = "WITHDRAWAL_PENDING"
	WithdrawalCompleted State = "WITHDRAWAL_COMPLETED"
	DepositPending      State = "DEPOSIT_PENDING"
	DepositCompleted    State = "DEPOSIT_COMPLETED"
	Failed              State = "FAILED"
)

// States is the saga's transition table. DEPOSIT_COMPLETED and FAILED are absorbing.
var States = statemachine.Table[State]{
	Initiated:           {WithdrawalPending, Failed},
	WithdrawalPending:   {WithdrawalCompleted, Failed},
	WithdrawalCompleted: {DepositPending, Failed},
	DepositPending:      {DepositCompleted, Failed},
	DepositCompleted:    {},
	Failed:              {},
}

// order ranks states along the happy path, FAILED is ranked after all of them.
var order = map[State]int{
	Initiated:           0,
	WithdrawalPending:   1,
	WithdrawalCompleted: 2,
	DepositPending:      3,
	DepositCompleted:    4,
	Failed:              5,
}

// After returns true if s is further along than other.
func (s State) After(other State) bool {
	return order[s] > order[other]
}

func (s State) Validate() error {
	if _, exists := States[s]; !exists {
		return fmt.Errorf("unknown state %q", s)
	}
	return nil
}

type FundingTransaction struct {
	ID         id.Transaction
	InvestorID id.Investor
	FundID     id.Fund
	Amount     model.Money

	machine statemachine.Machine[State]
	Version int64

	WithdrawalID  string
	DepositID     string
	FailureReason string
	NotifiedAt    *time.Time

	Created  time.Time
	Modified time.Time
}

// NewFundingTransaction returns an INITIATED transaction which hasn't been saved yet.
func NewFundingTransaction(investorID id.Investor, fundID id.Fund, amount model.Money) (*FundingTransaction, error) {
	now := time.Now().UTC()
	txn := &FundingTransaction{
		ID:         id.NewTransaction(),
		InvestorID: investorID,
		FundID:     fundID,
		Amount:     amount,
		machine:    statemachine.New(States),
		Version:    1,
		Created:    now,
		Modified:   now,
	}
	if err := txn.machine.SetInitial(Initiated); err != nil {
		return nil, err
	}
	return txn, nil
}

// rehydrate rebuilds the state machine of a transaction read from storage.
func (t *FundingTransaction) rehydrate(state State) error {
	m, err := statemachine.NewAt(States, state)
	if err != nil {
		return fmt.Errorf("transaction=%s: %w", t.ID, err)
	}
	t.machine = m
	return nil
}

func (t *FundingTransaction) State() State {
	return t.machine.State()
}

// SetInitial fails with statemachine.ErrAlreadyInitialized for every transaction
// created through NewFundingTransaction or read from storage.
func (t *FundingTransaction) SetInitial(state State) error {
	return t.machine.SetInitial(state)
}

func (t *FundingTransaction) Can(target State) bool {
	return t.machine.Can(target)
}

// Transition moves the transaction to target. The transaction is unchanged when the
// move isn't allowed.
func (t *FundingTransaction) Transition(target State) error {
	if err := t.machine.Transition(target); err != nil {
		return fmt.Errorf("transaction=%s: %w", t.ID, err)
	}
	return nil
}

func (t *FundingTransaction) Terminal() bool {
	return t.machine.Terminal()
}

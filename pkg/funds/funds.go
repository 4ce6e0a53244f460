// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package funds defines how money is moved out of investor accounts and into fund
// accounts held at external account providers.
//
// Providers are slow and asynchronous. Each call returns an Operation whose state is
// polled until it's COMPLETED or FAILED. Every call carries an idempotency key so a
// repeated request returns the original Operation instead of moving money twice.
//
// Implementations:
//   - InMemoryInvestors / InMemoryFunds: test doubles with manual completion
//   - EmbeddedInvestors / EmbeddedFunds: a provider backed by our own database
//   - NewInvestorClient / NewFundClient: HTTP clients for remote providers
package funds

import (
	"context"
	"errors"
	"time"

	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/statemachine"
)

var (
	ErrAccountNotFound = errors.New("provider account not found")
	ErrAccountMismatch = errors.New("operation belongs to another account")
	ErrNotFound        = errors.New("operation not found")

	// ErrExternalPort wraps failures talking to a provider which may succeed if tried again.
	ErrExternalPort = errors.New("account provider failure")
)

type SubState string

const (
	Created    SubState = "CREATED"
	InProgress SubState = "IN_PROGRESS"
	Completed  SubState = "COMPLETED"
	Failed     SubState = "FAILED"
)

var subStates = statemachine.Table[SubState]{
	Created:    {InProgress, Failed},
	InProgress: {Completed, Failed},
	Completed:  {},
	Failed:     {},
}

// Pending is true while the provider is still working on an operation.
func (s SubState) Pending() bool {
	return s == Created || s == InProgress
}

func (s SubState) Validate() error {
	if _, exists := subStates[s]; !exists {
		return errors.New("unknown operation state " + string(s))
	}
	return nil
}

// Operation is money moving out of or into an account at a provider.
type Operation struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"accountID"`
	Amount         model.Money `json:"amount"`
	State          SubState    `json:"state"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Version        int64       `json:"version"`
	Created        time.Time   `json:"created"`
	Modified       time.Time   `json:"modified"`
}

// advance moves op forward to target through any intermediate states, i.e.
// CREATED to COMPLETED passes through IN_PROGRESS.
func (op *Operation) advance(target SubState) error {
	m, err := statemachine.NewAt(subStates, op.State)
	if err != nil {
		return err
	}
	if target == Completed && m.State() == Created {
		if err := m.Transition(InProgress); err != nil {
			return err
		}
	}
	if err := m.Transition(target); err != nil {
		return err
	}
	op.State = m.State()
	return nil
}

type Withdrawal Operation

type Deposit Operation

// InvestorFunds is the account provider holding investor money.
type InvestorFunds interface {
	Ping() error

	CheckBalance(ctx context.Context, accountID string) (model.Money, error)
	WithdrawFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Withdrawal, error)
	WithdrawalStatus(ctx context.Context, withdrawalID, accountID string) (SubState, error)
}

// FundDeposits is the account provider holding fund money.
type FundDeposits interface {
	Ping() error

	DepositFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Deposit, error)
	DepositStatus(ctx context.Context, depositID, accountID string) (SubState, error)
}

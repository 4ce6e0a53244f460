// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package transfers

import (
	"context"
	"errors"
	"fmt"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/tasks"

	"github.com/go-kit/kit/log"
)

// ValidationError is a transfer request which was rejected synchronously. TransactionID
// is set when the rejection was recorded as a FAILED transaction.
type ValidationError struct {
	TransactionID id.Transaction
	Err           error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

type Request struct {
	InvestorID id.Investor
	FundID     id.Fund
	Amount     model.Money
}

func (req Request) Validate() error {
	if req.InvestorID == "" {
		return invalid("missing investor_id")
	}
	if req.FundID == "" {
		return invalid("missing fund_id")
	}
	if err := req.Amount.Validate(); err != nil {
		return invalid("amount: %v", err)
	}
	if !req.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	return nil
}

// Waker is notified after new work has been committed.
type Waker interface {
	Wake()
}

type Service struct {
	logger log.Logger
	repo   Repository
	ledger *ledger.Ledger
	waker  Waker
}

func NewService(logger log.Logger, repo Repository, ldgr *ledger.Ledger, waker Waker) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
		ledger: ldgr,
		waker:  waker,
	}
}

// Initiate validates req and starts a funding transaction.
//
// Malformed requests and unknown accounts return a *ValidationError without saving
// anything. Requests the accounts can't satisfy right now are saved and immediately
// FAILED, then returned as a *ValidationError carrying the transaction ID.
func (s *Service) Initiate(ctx context.Context, req Request) (*FundingTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	precheck := s.ledger.Precheck(req.InvestorID, req.FundID, req.Amount)
	switch {
	case precheck == nil:
	case errors.Is(precheck, ledger.ErrAccountNotFound), errors.Is(precheck, model.ErrDifferentCurrencies):
		return nil, &ValidationError{Err: precheck}
	case errors.Is(precheck, ledger.ErrInsufficientFunds), errors.Is(precheck, ledger.ErrFundCriteriaNotMet):
		return s.reject(req, precheck)
	default:
		return nil, fmt.Errorf("checking accounts: %w", precheck)
	}

	txn, err := NewFundingTransaction(req.InvestorID, req.FundID, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(txn, tasks.New(txn.ID, StepWithdraw, 0)); err != nil {
		return nil, err
	}
	s.logger.Log("transfers", fmt.Sprintf("initiated transfer of %v", txn.Amount),
		"transactionID", txn.ID, "investorID", txn.InvestorID, "fundID", txn.FundID)

	if s.waker != nil {
		s.waker.Wake()
	}
	return txn, nil
}

// reject records a transaction which failed its precheck.
func (s *Service) reject(req Request, cause error) (*FundingTransaction, error) {
	txn, err := NewFundingTransaction(req.InvestorID, req.FundID, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(txn, nil); err != nil {
		return nil, err
	}
	if err := s.repo.Transition(txn, Failed, Change{FailureReason: cause.Error()}); err != nil {
		return nil, err
	}
	s.logger.Log("transfers", "rejected transfer", "transactionID", txn.ID, "error", cause)

	return txn, &ValidationError{TransactionID: txn.ID, Err: cause}
}

// Status reads the transaction without locking it.
func (s *Service) Status(ctx context.Context, transactionID id.Transaction) (*FundingTransaction, error) {
	return s.repo.Get(transactionID)
}

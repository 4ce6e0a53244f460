// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/funds"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/tasks"
	"github.com/moov-io/moneymovement/pkg/transfers"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/go-kit/kit/log"
)

// businessFailure returns true for errors which no amount of retrying will fix.
func businessFailure(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrFundCriteriaNotMet) ||
		errors.Is(err, ledger.ErrAccountNotFound) ||
		errors.Is(err, model.ErrDifferentCurrencies) ||
		errors.Is(err, funds.ErrAccountNotFound) ||
		errors.Is(err, funds.ErrAccountMismatch) ||
		errors.Is(err, funds.ErrNotFound)
}

func (e *Executor) investorAccount(txn *transfers.FundingTransaction) (string, error) {
	acct, err := e.ledger.Repository().GetInvestor(txn.InvestorID)
	if err != nil {
		return "", err
	}
	return acct.ExternalID, nil
}

func (e *Executor) fundAccount(txn *transfers.FundingTransaction) (string, error) {
	acct, err := e.ledger.Repository().GetFund(txn.FundID)
	if err != nil {
		return "", err
	}
	return acct.ExternalID, nil
}

// onError fails the transaction for business errors and retries the task otherwise.
func (e *Executor) onError(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, err error) error {
	if businessFailure(err) {
		return e.fail(ctx, logger, txn, err)
	}
	return err
}

func (e *Executor) withdraw(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error {
	if err := e.ledger.CheckFund(txn.FundID, txn.Amount); err != nil {
		return e.onError(ctx, logger, txn, err)
	}
	account, err := e.investorAccount(txn)
	if err != nil {
		return e.onError(ctx, logger, txn, err)
	}

	var balance model.Money
	err = util.Timeout(ctx, e.cfg.PortTimeout, func(ctx context.Context) error {
		b, err := e.investors.CheckBalance(ctx, account)
		balance = b
		return err
	})
	if err != nil {
		return e.portFailure(ctx, logger, txn, task, err)
	}
	less, err := balance.LessThan(txn.Amount)
	if err != nil {
		return e.fail(ctx, logger, txn, err)
	}
	if less {
		return e.fail(ctx, logger, txn, fmt.Errorf("investor has %v but needs %v: %w", balance, txn.Amount, ledger.ErrInsufficientFunds))
	}

	var withdrawal *funds.Withdrawal
	err = util.Timeout(ctx, e.cfg.PortTimeout, func(ctx context.Context) error {
		w, err := e.investors.WithdrawFunds(ctx, account, txn.Amount, txn.ID.String())
		withdrawal = w
		return err
	})
	if err != nil {
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.portFailure(ctx, logger, txn, task, err)
	}

	if withdrawal.State == funds.Failed {
		return e.withdrawalFailed(ctx, logger, txn, withdrawal.ID)
	}
	return e.commit(ctx, logger, txn, transfers.WithdrawalPending, transfers.Change{
		WithdrawalID: withdrawal.ID,
		Next:         tasks.New(txn.ID, transfers.StepConfirmWithdrawal, 0),
	})
}

func (e *Executor) confirmWithdrawal(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error {
	account, err := e.investorAccount(txn)
	if err != nil {
		return e.onError(ctx, logger, txn, err)
	}

	var state funds.SubState
	err = util.Timeout(ctx, e.cfg.PortTimeout, func(ctx context.Context) error {
		s, err := e.investors.WithdrawalStatus(ctx, txn.WithdrawalID, account)
		state = s
		return err
	})
	if err != nil {
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.portFailure(ctx, logger, txn, task, err)
	}

	switch state {
	case funds.Completed:
		// the debit is written in the same database transaction as the transition
		from := txn.State()
		_, err := e.ledger.PostDebit(ctx, txn.InvestorID, txn.Amount, func(p *ledger.Posting) error {
			return e.repo.Transition(txn, transfers.WithdrawalCompleted, transfers.Change{
				Posting: p,
				Next:    tasks.New(txn.ID, transfers.StepDeposit, 0),
			})
		})
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.committed(ctx, logger, txn, from, transfers.WithdrawalCompleted, transfers.Change{}, err)

	case funds.Failed:
		return e.withdrawalFailed(ctx, logger, txn, txn.WithdrawalID)
	}
	return tasks.Retry(nil, e.cfg.PollInterval)
}

func (e *Executor) deposit(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error {
	account, err := e.fundAccount(txn)
	if err != nil {
		return e.onError(ctx, logger, txn, err)
	}

	var deposit *funds.Deposit
	err = util.Timeout(ctx, e.cfg.PortTimeout, func(ctx context.Context) error {
		d, err := e.deposits.DepositFunds(ctx, account, txn.Amount, txn.ID.String())
		deposit = d
		return err
	})
	if err != nil {
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.portFailure(ctx, logger, txn, task, err)
	}

	if deposit.State == funds.Failed {
		return e.fail(ctx, logger, txn, fmt.Errorf("deposit %s failed", deposit.ID))
	}
	return e.commit(ctx, logger, txn, transfers.DepositPending, transfers.Change{
		DepositID: deposit.ID,
		Next:      tasks.New(txn.ID, transfers.StepConfirmDeposit, 0),
	})
}

func (e *Executor) confirmDeposit(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error {
	account, err := e.fundAccount(txn)
	if err != nil {
		return e.onError(ctx, logger, txn, err)
	}

	var state funds.SubState
	err = util.Timeout(ctx, e.cfg.PortTimeout, func(ctx context.Context) error {
		s, err := e.deposits.DepositStatus(ctx, txn.DepositID, account)
		state = s
		return err
	})
	if err != nil {
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.portFailure(ctx, logger, txn, task, err)
	}

	switch state {
	case funds.Completed:
		from := txn.State()
		_, err := e.ledger.PostCredit(ctx, txn.FundID, txn.Amount, func(p *ledger.Posting) error {
			return e.repo.Transition(txn, transfers.DepositCompleted, transfers.Change{
				Posting: p,
				Next:    tasks.New(txn.ID, transfers.StepNotify, 0),
			})
		})
		if businessFailure(err) {
			return e.fail(ctx, logger, txn, err)
		}
		return e.committed(ctx, logger, txn, from, transfers.DepositCompleted, transfers.Change{}, err)

	case funds.Failed:
		return e.fail(ctx, logger, txn, fmt.Errorf("deposit %s failed", txn.DepositID))
	}
	return tasks.Retry(nil, e.cfg.PollInterval)
}

// notify delivers the completed transaction to the sink at most once. Sink errors
// are logged and dropped.
func (e *Executor) notify(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error {
	claimed, err := e.repo.MarkNotified(txn.ID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Log("saga", "notification was already sent")
		return nil
	}
	if e.sink == nil {
		return nil
	}

	err = e.sink.FundsTransferred(ctx, notify.Summary{
		TransactionID: txn.ID,
		InvestorID:    txn.InvestorID,
		FundID:        txn.FundID,
		Amount:        txn.Amount,
		WithdrawalID:  txn.WithdrawalID,
		DepositID:     txn.DepositID,
		Initiated:     txn.Created,
		Completed:     time.Now().UTC(),
	})
	if err != nil {
		logger.Log("saga", "problem sending notification", "error", err)
	}
	return nil
}

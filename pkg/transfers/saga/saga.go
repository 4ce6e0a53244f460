// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package saga runs each step of a funding transaction as a task. Steps call the
// account providers, apply the result to the ledger and commit the transaction's
// next state together with the task for the following step.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/funds"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/statemachine"
	"github.com/moov-io/moneymovement/pkg/tasks"
	"github.com/moov-io/moneymovement/pkg/transfers"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	stepDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Name:    "saga_step_duration_seconds",
		Help:    "Histogram of how long each saga step took to run",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"step"})

	// ErrInvariant is a transaction found in a state no step could have left it in.
	ErrInvariant = errors.New("saga invariant violated")
)

type Executor struct {
	logger log.Logger
	cfg    config.Saga

	repo      transfers.Repository
	ledger    *ledger.Ledger
	investors funds.InvestorFunds
	deposits  funds.FundDeposits

	sink    notify.Sink
	alerter notify.Alerter
}

func NewExecutor(
	logger log.Logger,
	cfg config.Saga,
	repo transfers.Repository,
	ldgr *ledger.Ledger,
	investors funds.InvestorFunds,
	deposits funds.FundDeposits,
	sink notify.Sink,
	alerter notify.Alerter,
) *Executor {
	return &Executor{
		logger:    logger,
		cfg:       cfg,
		repo:      repo,
		ledger:    ldgr,
		investors: investors,
		deposits:  deposits,
		sink:      sink,
		alerter:   alerter,
	}
}

// Register installs a Handler on pool for every step of the saga.
func (e *Executor) Register(pool *tasks.Pool) {
	pool.Handle(transfers.StepWithdraw, e.run(transfers.StepWithdraw, e.withdraw))
	pool.Handle(transfers.StepConfirmWithdrawal, e.run(transfers.StepConfirmWithdrawal, e.confirmWithdrawal))
	pool.Handle(transfers.StepDeposit, e.run(transfers.StepDeposit, e.deposit))
	pool.Handle(transfers.StepConfirmDeposit, e.run(transfers.StepConfirmDeposit, e.confirmDeposit))
	pool.Handle(transfers.StepNotify, e.run(transfers.StepNotify, e.notify))
	pool.OnFailure(e.taskFailed)
}

type stepFunc func(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task) error

// run loads the task's transaction and calls step only when the transaction is in
// the step's precondition state. Transactions which already moved on are left alone.
func (e *Executor) run(step tasks.Step, fn stepFunc) tasks.Handler {
	return func(ctx context.Context, task *tasks.Task) error {
		start := time.Now()
		defer func() {
			stepDuration.With("step", string(step)).Observe(time.Since(start).Seconds())
		}()

		logger := log.With(e.logger, "transactionID", task.TransactionID, "step", step)

		txn, err := e.repo.Get(task.TransactionID)
		if err != nil {
			if errors.Is(err, transfers.ErrNotFound) {
				return tasks.Permanent(err)
			}
			return err
		}

		want, ok := transfers.Precondition(step)
		if !ok {
			return tasks.Permanent(fmt.Errorf("unknown step %s", step))
		}
		switch current := txn.State(); {
		case current == want:
			return fn(ctx, logger, txn, task)
		case current.After(want):
			logger.Log("saga", fmt.Sprintf("skipping, transaction is already %s", current))
			return nil
		default:
			return e.fatal(ctx, logger, txn, fmt.Errorf("%w: %s found transaction in %s", ErrInvariant, step, current))
		}
	}
}

// commit moves txn to target along with change.
func (e *Executor) commit(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, target transfers.State, change transfers.Change) error {
	from := txn.State()
	return e.committed(ctx, logger, txn, from, target, change, e.repo.Transition(txn, target, change))
}

// committed handles the outcome of moving txn from one state to target. Losing to
// another writer is a no-op since the winner committed its own follow-up work.
func (e *Executor) committed(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, from, target transfers.State, change transfers.Change, err error) error {
	switch {
	case err == nil:
		logger.Log("saga", fmt.Sprintf("moved from %s to %s", from, target), "version", txn.Version)
		return nil

	case errors.Is(err, ledger.ErrConcurrentModification):
		current, rerr := e.repo.Get(txn.ID)
		if rerr != nil {
			return nil
		}
		logger.Log("saga", fmt.Sprintf("lost %s to %s, transaction is now %s", from, target, current.State()))

		// a withdrawal requested while the transaction was being failed
		if change.WithdrawalID != "" && target != transfers.Failed && current.State() == transfers.Failed {
			e.alert(ctx, logger, current, fmt.Sprintf("withdrawal %s from investor %s requested for a failed transaction", change.WithdrawalID, txn.InvestorID), map[string]string{
				"withdrawalID": change.WithdrawalID,
				"reason":       current.FailureReason,
			})
		}
		return nil

	case errors.Is(err, statemachine.ErrInvalidTransition):
		return e.fatal(ctx, logger, txn, err)
	}
	return fmt.Errorf("committing %s: %w", target, err)
}

// fail moves txn to FAILED with cause as the reason. Once a withdrawal was requested
// the investor's money may have left, so an operator is alerted.
func (e *Executor) fail(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, cause error) error {
	return e.failWith(ctx, logger, txn, cause, transfers.Change{}, txn.WithdrawalID != "")
}

// withdrawalFailed fails txn after the investor's provider reported the withdrawal FAILED.
func (e *Executor) withdrawalFailed(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, withdrawalID string) error {
	cause := fmt.Errorf("withdrawal %s failed", withdrawalID)
	return e.failWith(ctx, logger, txn, cause, transfers.Change{WithdrawalID: withdrawalID}, false)
}

func (e *Executor) failWith(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, cause error, change transfers.Change, alert bool) error {
	prior := txn.State()
	logger.Log("saga", fmt.Sprintf("failing transaction in %s", prior), "error", cause)

	change.FailureReason = cause.Error()
	if err := e.commit(ctx, logger, txn, transfers.Failed, change); err != nil {
		return err
	}
	if alert && txn.State() == transfers.Failed {
		e.alert(ctx, logger, txn, strandedSummary(prior, txn), map[string]string{
			"state":        string(prior),
			"withdrawalID": txn.WithdrawalID,
			"reason":       cause.Error(),
		})
	}
	return nil
}

func strandedSummary(prior transfers.State, txn *transfers.FundingTransaction) string {
	if prior.After(transfers.WithdrawalPending) {
		return fmt.Sprintf("funds withdrawn from investor %s never reached fund %s", txn.InvestorID, txn.FundID)
	}
	return fmt.Sprintf("withdrawal %s from investor %s may have completed for a failed transaction", txn.WithdrawalID, txn.InvestorID)
}

// fatal reports an invariant violation and stops the transaction.
func (e *Executor) fatal(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, cause error) error {
	level.Error(logger).Log("saga", "invariant violation", "state", txn.State(), "error", cause)
	e.alert(ctx, logger, txn, "funding transaction invariant violated", map[string]string{
		"state": string(txn.State()),
		"error": cause.Error(),
	})

	if txn.Can(transfers.Failed) {
		if err := e.repo.Transition(txn, transfers.Failed, transfers.Change{FailureReason: cause.Error()}); err != nil {
			logger.Log("saga", "problem failing transaction", "error", err)
		}
	}
	return tasks.Permanent(cause)
}

func (e *Executor) alert(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, summary string, details map[string]string) {
	if e.alerter == nil {
		return
	}
	err := e.alerter.Critical(ctx, notify.Alert{
		TransactionID: txn.ID,
		Summary:       summary,
		Details:       details,
	})
	if err != nil {
		logger.Log("saga", "problem raising alert", "error", err)
	}
}

// portFailure decides what an account provider error does to the transaction.
// Unavailable providers are retried PortRetries times, everything else fails it.
func (e *Executor) portFailure(ctx context.Context, logger log.Logger, txn *transfers.FundingTransaction, task *tasks.Task, err error) error {
	retryable := errors.Is(err, funds.ErrExternalPort) || errors.Is(err, util.ErrTimeout)
	if retryable && task.Attempts <= e.cfg.PortRetries {
		logger.Log("saga", fmt.Sprintf("provider unavailable on attempt %d", task.Attempts), "error", err)
		return err
	}
	return e.fail(ctx, logger, txn, err)
}

// taskFailed runs after the task pool gave up on a step.
func (e *Executor) taskFailed(ctx context.Context, task *tasks.Task, cause error) {
	logger := log.With(e.logger, "transactionID", task.TransactionID, "step", task.Step)

	txn, err := e.repo.Get(task.TransactionID)
	if err != nil {
		logger.Log("saga", "problem reading transaction of failed task", "error", err)
		return
	}
	if errors.Is(cause, ErrInvariant) || txn.Terminal() {
		// already reported, or there's nothing left to stop
		return
	}
	e.alert(ctx, logger, txn, fmt.Sprintf("saga step %s failed after %d attempts", task.Step, task.Attempts), map[string]string{
		"taskID": task.ID.String(),
		"state":  string(txn.State()),
		"error":  cause.Error(),
	})
	reason := fmt.Sprintf("step %s: %v", task.Step, cause)
	if err := e.commit(ctx, logger, txn, transfers.Failed, transfers.Change{FailureReason: reason}); err != nil {
		logger.Log("saga", "problem failing transaction", "error", err)
	}
}

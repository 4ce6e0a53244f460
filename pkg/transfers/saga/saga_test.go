// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/database"
	"github.com/moov-io/moneymovement/pkg/funds"
	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/tasks"
	"github.com/moov-io/moneymovement/pkg/transfers"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
)

const (
	investorID id.Investor = "investor"
	fundID     id.Fund     = "fund"
)

func usd(t *testing.T, number string) model.Money {
	t.Helper()

	amt, err := model.NewMoney("USD", number)
	require.NoError(t, err)
	return amt
}

type sagaSetup struct {
	executor *Executor
	pool     *tasks.Pool
	service  *transfers.Service

	repo       transfers.Repository
	ledgerRepo ledger.Repository
	investors  *funds.InMemoryInvestors
	funds      *funds.InMemoryFunds
	sink       *notify.MockSink
	alerter    *notify.MockAlerter
}

func setupSaga(t *testing.T, balance, minInvestment string, seats int) *sagaSetup {
	t.Helper()

	db := database.CreateTestSqliteDB(t)
	t.Cleanup(func() { db.Close() })

	cfg := config.Empty()
	cfg.Saga.PollInterval = 20 * time.Millisecond
	cfg.Saga.PortRetries = 1
	cfg.Tasks.Backoff = 0

	logger := log.NewNopLogger()
	ledgerRepo := ledger.NewRepo(db.DB)
	require.NoError(t, ledgerRepo.CreateInvestor(&ledger.InvestorAccount{
		ID:         investorID,
		ExternalID: "ext-investor",
		Balance:    usd(t, balance),
	}))
	require.NoError(t, ledgerRepo.CreateFund(&ledger.FundAccount{
		ID:               fundID,
		ExternalID:       "ext-fund",
		MinInvestment:    usd(t, minInvestment),
		SeatAvailability: seats,
		Balance:          usd(t, "0"),
	}))

	investors := funds.NewInMemoryInvestors()
	investors.SetBalance("ext-investor", usd(t, balance))
	deposits := funds.NewInMemoryFunds()
	deposits.AddAccount("ext-fund")

	s := &sagaSetup{
		repo:       transfers.NewRepo(db.DB),
		ledgerRepo: ledgerRepo,
		investors:  investors,
		funds:      deposits,
		sink:       &notify.MockSink{},
		alerter:    &notify.MockAlerter{},
	}
	ldgr := ledger.New(logger, ledgerRepo, cfg.Saga)

	s.pool = tasks.NewPool(logger, tasks.NewRepo(db.DB), cfg.Tasks)
	s.executor = NewExecutor(logger, cfg.Saga, s.repo, ldgr, investors, deposits, s.sink, s.alerter)
	s.executor.Register(s.pool)
	s.service = transfers.NewService(logger, s.repo, ldgr, s.pool)
	return s
}

func (s *sagaSetup) initiate(t *testing.T, amount string) *transfers.FundingTransaction {
	t.Helper()

	txn, err := s.service.Initiate(context.Background(), transfers.Request{
		InvestorID: investorID,
		FundID:     fundID,
		Amount:     usd(t, amount),
	})
	require.NoError(t, err)
	return txn
}

// runDue processes every task which is due right now.
func (s *sagaSetup) runDue(t *testing.T) {
	t.Helper()

	_, err := s.pool.RunDue(context.Background())
	require.NoError(t, err)
}

// settle lets polling steps become due again after the providers were updated.
func (s *sagaSetup) settle(t *testing.T) {
	t.Helper()

	time.Sleep(30 * time.Millisecond)
	s.runDue(t)
}

// drive completes every provider operation until txn reaches a terminal state.
func (s *sagaSetup) drive(t *testing.T, transactionID id.Transaction) *transfers.FundingTransaction {
	t.Helper()

	s.runDue(t)
	for i := 0; i < 20; i++ {
		txn := s.get(t, transactionID)
		if txn.Terminal() {
			return txn
		}
		s.investors.CompleteAll()
		s.funds.CompleteAll()
		s.settle(t)
	}
	t.Fatalf("transaction=%s never finished", transactionID)
	return nil
}

func (s *sagaSetup) get(t *testing.T, transactionID id.Transaction) *transfers.FundingTransaction {
	t.Helper()

	txn, err := s.repo.Get(transactionID)
	require.NoError(t, err)
	return txn
}

func (s *sagaSetup) balances(t *testing.T) (*ledger.InvestorAccount, *ledger.FundAccount) {
	t.Helper()

	investor, err := s.ledgerRepo.GetInvestor(investorID)
	require.NoError(t, err)
	fund, err := s.ledgerRepo.GetFund(fundID)
	require.NoError(t, err)
	return investor, fund
}

func TestSaga__completes(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	txn = s.drive(t, txn.ID)

	require.Equal(t, transfers.DepositCompleted, txn.State())
	require.Equal(t, int64(5), txn.Version)
	require.NotEmpty(t, txn.WithdrawalID)
	require.NotEmpty(t, txn.DepositID)
	require.NotNil(t, txn.NotifiedAt)
	require.Empty(t, txn.FailureReason)

	investor, fund := s.balances(t)
	require.Equal(t, "USD 900.00", investor.Balance.String())
	require.Equal(t, int64(2), investor.Version)
	require.Equal(t, "USD 100.00", fund.Balance.String())
	require.Equal(t, 9, fund.SeatAvailability)
	require.Equal(t, int64(2), fund.Version)

	summaries := s.sink.Summaries()
	require.Len(t, summaries, 1)
	require.Equal(t, txn.ID, summaries[0].TransactionID)
	require.Equal(t, txn.DepositID, summaries[0].DepositID)
	require.True(t, summaries[0].Amount.Equal(usd(t, "100")))

	require.Equal(t, 1, s.investors.Calls())
	require.Equal(t, 1, s.funds.Calls())
	require.Empty(t, s.alerter.Alerts())
}

func TestSaga__rejectedBeforeStarting(t *testing.T) {
	t.Run("insufficient funds", func(t *testing.T) {
		s := setupSaga(t, "50", "10", 10)

		txn, err := s.service.Initiate(context.Background(), transfers.Request{
			InvestorID: investorID,
			FundID:     fundID,
			Amount:     usd(t, "100"),
		})
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		require.Equal(t, transfers.Failed, s.get(t, txn.ID).State())

		s.runDue(t)
		investor, fund := s.balances(t)
		require.Equal(t, "USD 50.00", investor.Balance.String())
		require.Equal(t, int64(1), investor.Version)
		require.True(t, fund.Balance.IsZero())
		require.Zero(t, s.investors.Calls())
	})

	t.Run("no seats", func(t *testing.T) {
		s := setupSaga(t, "1000000", "100", 0)

		txn, err := s.service.Initiate(context.Background(), transfers.Request{
			InvestorID: investorID,
			FundID:     fundID,
			Amount:     usd(t, "100"),
		})
		require.ErrorIs(t, err, ledger.ErrFundCriteriaNotMet)
		require.Equal(t, transfers.Failed, s.get(t, txn.ID).State())

		s.runDue(t)
		require.Zero(t, s.investors.Calls())
	})
}

func TestSaga__withdrawChecks(t *testing.T) {
	t.Run("provider balance", func(t *testing.T) {
		s := setupSaga(t, "1000", "100", 10)
		s.investors.SetBalance("ext-investor", usd(t, "50"))

		txn := s.initiate(t, "100")
		s.runDue(t)

		txn = s.get(t, txn.ID)
		require.Equal(t, transfers.Failed, txn.State())
		require.Contains(t, txn.FailureReason, ledger.ErrInsufficientFunds.Error())
		require.Zero(t, s.investors.Calls())

		investor, _ := s.balances(t)
		require.Equal(t, int64(1), investor.Version)
	})

	t.Run("seats taken after initiating", func(t *testing.T) {
		s := setupSaga(t, "1000", "100", 1)

		txn := s.initiate(t, "100")
		require.NoError(t, s.ledgerRepo.UpdateFund(fundID, usd(t, "0"), 0, 1))
		s.runDue(t)

		txn = s.get(t, txn.ID)
		require.Equal(t, transfers.Failed, txn.State())
		require.Contains(t, txn.FailureReason, ledger.ErrFundCriteriaNotMet.Error())
		require.Zero(t, s.investors.Calls())
	})
}

func TestSaga__withdrawalFailed(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	s.runDue(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.WithdrawalPending, txn.State())

	// still in progress, so the confirmation is polled
	s.settle(t)
	require.Equal(t, transfers.WithdrawalPending, s.get(t, txn.ID).State())

	require.NoError(t, s.investors.Fail(txn.WithdrawalID))
	s.settle(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, txn.State())
	require.Contains(t, txn.FailureReason, txn.WithdrawalID)

	investor, fund := s.balances(t)
	require.Equal(t, "USD 1000.00", investor.Balance.String())
	require.True(t, fund.Balance.IsZero())
	require.Equal(t, int64(1), fund.Version)
	require.Zero(t, s.funds.Calls())
	require.Empty(t, s.sink.Summaries())

	// nothing left the investor
	require.Empty(t, s.alerter.Alerts())
}

func TestSaga__depositFailedAlerts(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	s.runDue(t)
	s.investors.CompleteAll()
	s.settle(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.DepositPending, txn.State())

	require.NoError(t, s.funds.Fail(txn.DepositID))
	s.settle(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, txn.State())

	investor, fund := s.balances(t)
	require.Equal(t, "USD 900.00", investor.Balance.String())
	require.True(t, fund.Balance.IsZero())

	alerts := s.alerter.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, txn.ID, alerts[0].TransactionID)
	require.Equal(t, string(transfers.DepositPending), alerts[0].Details["state"])
}

func TestSaga__portRetries(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)
	s.investors.SetError(fmt.Errorf("%w: connection refused", funds.ErrExternalPort))

	txn := s.initiate(t, "100")
	s.runDue(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, txn.State())
	require.Contains(t, txn.FailureReason, "connection refused")
	require.Empty(t, s.alerter.Alerts())
}

func TestSaga__portRecovers(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)
	s.investors.SetError(fmt.Errorf("%w: connection refused", funds.ErrExternalPort))

	txn := s.initiate(t, "100")

	// run the first attempt by hand so the provider can recover before the retry
	handler := s.executor.run(transfers.StepWithdraw, s.executor.withdraw)
	task := tasks.New(txn.ID, transfers.StepWithdraw, 0)
	task.Attempts = 1
	err := handler(context.Background(), task)
	require.ErrorIs(t, err, funds.ErrExternalPort)
	require.Equal(t, transfers.Initiated, s.get(t, txn.ID).State())

	s.investors.SetError(nil)
	txn = s.drive(t, txn.ID)
	require.Equal(t, transfers.DepositCompleted, txn.State())
}

func TestSaga__stepsAreIdempotent(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	txn = s.drive(t, txn.ID)
	require.Equal(t, transfers.DepositCompleted, txn.State())

	ctx := context.Background()
	handlers := map[tasks.Step]stepFunc{
		transfers.StepWithdraw:          s.executor.withdraw,
		transfers.StepConfirmWithdrawal: s.executor.confirmWithdrawal,
		transfers.StepDeposit:           s.executor.deposit,
		transfers.StepConfirmDeposit:    s.executor.confirmDeposit,
		transfers.StepNotify:            s.executor.notify,
	}
	for step, fn := range handlers {
		err := s.executor.run(step, fn)(ctx, tasks.New(txn.ID, step, 0))
		require.NoError(t, err, step)
	}

	found := s.get(t, txn.ID)
	require.Equal(t, txn.Version, found.Version)
	require.Equal(t, 1, s.investors.Calls())
	require.Equal(t, 1, s.funds.Calls())
	require.Len(t, s.sink.Summaries(), 1)

	investor, fund := s.balances(t)
	require.Equal(t, "USD 900.00", investor.Balance.String())
	require.Equal(t, "USD 100.00", fund.Balance.String())
}

func TestSaga__providerReplaysOperation(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")

	// a crash after the provider call but before committing leaves the task to run again
	w, err := s.investors.WithdrawFunds(context.Background(), "ext-investor", txn.Amount, txn.ID.String())
	require.NoError(t, err)

	s.runDue(t)
	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.WithdrawalPending, txn.State())
	require.Equal(t, w.ID, txn.WithdrawalID)
	require.Equal(t, 1, s.investors.Calls())
}

func TestSaga__invariantViolation(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")

	err := s.executor.run(transfers.StepDeposit, s.executor.deposit)(context.Background(), tasks.New(txn.ID, transfers.StepDeposit, 0))
	require.True(t, tasks.IsPermanent(err))
	require.ErrorIs(t, err, ErrInvariant)

	require.Equal(t, transfers.Failed, s.get(t, txn.ID).State())
	require.Len(t, s.alerter.Alerts(), 1)
	require.Zero(t, s.funds.Calls())
}

func TestSaga__unknownTransaction(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	err := s.executor.run(transfers.StepWithdraw, s.executor.withdraw)(context.Background(), tasks.New(id.NewTransaction(), transfers.StepWithdraw, 0))
	require.True(t, tasks.IsPermanent(err))
	require.True(t, errors.Is(err, transfers.ErrNotFound))
}

func TestSaga__sinkErrorsAreDropped(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)
	s.sink.Err = errors.New("stream down")

	txn := s.initiate(t, "100")
	txn = s.drive(t, txn.ID)

	require.Equal(t, transfers.DepositCompleted, txn.State())
	require.NotNil(t, txn.NotifiedAt)
	require.Len(t, s.sink.Summaries(), 1)

	tasksList, err := s.pool.Repository().List(tasks.Failed, 10)
	require.NoError(t, err)
	require.Empty(t, tasksList)
}

func TestSaga__taskFailedHook(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	task := tasks.New(txn.ID, transfers.StepWithdraw, 0)
	task.Attempts = 5

	s.executor.taskFailed(context.Background(), task, errors.New("database unavailable"))

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, txn.State())
	require.Contains(t, txn.FailureReason, "database unavailable")
	require.Len(t, s.alerter.Alerts(), 1)
}

// flakyTransitions fails the next transitions into target before they're written.
type flakyTransitions struct {
	transfers.Repository

	target   transfers.State
	failures int
}

func (r *flakyTransitions) Transition(txn *transfers.FundingTransaction, target transfers.State, change transfers.Change) error {
	if target == r.target && r.failures > 0 {
		r.failures--
		return errors.New("database is locked")
	}
	return r.Repository.Transition(txn, target, change)
}

func TestSaga__ledgerChangeCommitsWithTransition(t *testing.T) {
	for _, target := range []transfers.State{transfers.WithdrawalCompleted, transfers.DepositCompleted} {
		t.Run(string(target), func(t *testing.T) {
			s := setupSaga(t, "1000", "100", 10)
			s.executor.repo = &flakyTransitions{Repository: s.repo, target: target, failures: 1}

			txn := s.initiate(t, "100")
			txn = s.drive(t, txn.ID)
			require.Equal(t, transfers.DepositCompleted, txn.State())
			require.Equal(t, int64(5), txn.Version)

			investor, fund := s.balances(t)
			require.Equal(t, "USD 900.00", investor.Balance.String())
			require.Equal(t, int64(2), investor.Version)
			require.Equal(t, "USD 100.00", fund.Balance.String())
			require.Equal(t, int64(2), fund.Version)
			require.Equal(t, 9, fund.SeatAvailability)

			failed, err := s.pool.Repository().List(tasks.Failed, 10)
			require.NoError(t, err)
			require.Empty(t, failed)
		})
	}
}

func TestSaga__failedAfterWithdrawalAlerts(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")
	s.runDue(t)
	require.Equal(t, transfers.WithdrawalPending, s.get(t, txn.ID).State())

	// the ledger no longer covers the withdrawal the provider completes
	require.NoError(t, s.ledgerRepo.UpdateInvestorBalance(investorID, usd(t, "50"), 1))
	s.investors.CompleteAll()
	s.settle(t)

	txn = s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, txn.State())
	require.Contains(t, txn.FailureReason, ledger.ErrInsufficientFunds.Error())

	investor, _ := s.balances(t)
	require.Equal(t, "USD 50.00", investor.Balance.String())
	require.Equal(t, int64(2), investor.Version)

	alerts := s.alerter.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, txn.ID, alerts[0].TransactionID)
	require.Equal(t, txn.WithdrawalID, alerts[0].Details["withdrawalID"])
	require.Equal(t, string(transfers.WithdrawalPending), alerts[0].Details["state"])
}

func TestSaga__withdrawalRacingFailureAlerts(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)

	txn := s.initiate(t, "100")

	// an operator fails the transaction while the withdraw step is running
	current := s.get(t, txn.ID)
	require.NoError(t, s.repo.Transition(current, transfers.Failed, transfers.Change{FailureReason: "cancelled by operator"}))

	logger := log.NewNopLogger()
	err := s.executor.withdraw(context.Background(), logger, txn, tasks.New(txn.ID, transfers.StepWithdraw, 0))
	require.NoError(t, err)
	require.Equal(t, 1, s.investors.Calls())

	found := s.get(t, txn.ID)
	require.Equal(t, transfers.Failed, found.State())
	require.Equal(t, "cancelled by operator", found.FailureReason)

	alerts := s.alerter.Alerts()
	require.Len(t, alerts, 1)
	require.NotEmpty(t, alerts[0].Details["withdrawalID"])
}

func TestSaga__concurrentTransfers(t *testing.T) {
	s := setupSaga(t, "10000", "100", 20)

	pool := tasks.NewPool(log.NewNopLogger(), s.pool.Repository(), config.Tasks{
		Workers:      4,
		BatchSize:    4,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  5,
		Backoff:      10 * time.Millisecond,
		Lease:        time.Minute,
	})
	s.executor.Register(pool)

	var ids []id.Transaction
	for i := 0; i < 8; i++ {
		ids = append(ids, s.initiate(t, "100").ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		finished := 0
		for i := range ids {
			if s.get(t, ids[i]).Terminal() {
				finished++
			}
		}
		if finished == len(ids) || time.Now().After(deadline) {
			break
		}
		s.investors.CompleteAll()
		s.funds.CompleteAll()
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	for i := range ids {
		require.Equal(t, transfers.DepositCompleted, s.get(t, ids[i]).State(), ids[i])
	}

	investor, fund := s.balances(t)
	require.Equal(t, "USD 9200.00", investor.Balance.String())
	require.Equal(t, int64(9), investor.Version)
	require.Equal(t, "USD 800.00", fund.Balance.String())
	require.Equal(t, int64(9), fund.Version)
	require.Equal(t, 12, fund.SeatAvailability)

	failed, err := pool.Repository().List(tasks.Failed, 10)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Empty(t, s.alerter.Alerts())
	require.Len(t, s.sink.Summaries(), 8)
}

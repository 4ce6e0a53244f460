// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package saga

import (
	"context"
	"testing"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/transfers"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
)

func createAt(t *testing.T, repo transfers.Repository, states ...transfers.State) *transfers.FundingTransaction {
	t.Helper()

	txn, err := transfers.NewFundingTransaction(investorID, fundID, usd(t, "100"))
	require.NoError(t, err)
	require.NoError(t, repo.Create(txn, nil))
	for _, s := range states {
		require.NoError(t, repo.Transition(txn, s, transfers.Change{}))
	}
	return txn
}

func TestReaper__Reap(t *testing.T) {
	repo := transfers.NewMockRepository()
	alerter := &notify.MockAlerter{}
	reaper := NewReaper(log.NewNopLogger(), config.Reaper{Schedule: "@every 1m", Deadline: 30 * time.Minute}, repo, alerter)

	initiated := createAt(t, repo)
	withdrawn := createAt(t, repo, transfers.WithdrawalPending, transfers.WithdrawalCompleted)
	completed := createAt(t, repo, transfers.WithdrawalPending, transfers.WithdrawalCompleted, transfers.DepositPending, transfers.DepositCompleted)

	// nothing is old enough yet
	reaped, err := reaper.Reap(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, reaped)

	reaped, err = reaper.Reap(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, reaped)

	found, err := repo.Get(initiated.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.Failed, found.State())
	require.Equal(t, "timed out in INITIATED", found.FailureReason)

	found, err = repo.Get(withdrawn.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.Failed, found.State())
	require.Equal(t, "timed out in WITHDRAWAL_COMPLETED", found.FailureReason)

	found, err = repo.Get(completed.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.DepositCompleted, found.State())

	// funds left the investor, so only that one alerts
	alerts := alerter.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, withdrawn.ID, alerts[0].TransactionID)

	reaped, err = reaper.Reap(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, reaped)
}

func TestReaper__sqlite(t *testing.T) {
	s := setupSaga(t, "1000", "100", 10)
	reaper := NewReaper(log.NewNopLogger(), config.Reaper{Deadline: time.Minute}, s.repo, s.alerter)

	txn := s.initiate(t, "100")
	s.runDue(t)
	require.Equal(t, transfers.WithdrawalPending, s.get(t, txn.ID).State())

	reaped, err := reaper.Reap(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	// the provider may already have moved the money
	alerts := s.alerter.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, string(transfers.WithdrawalPending), alerts[0].Details["state"])
	require.Equal(t, s.get(t, txn.ID).WithdrawalID, alerts[0].Details["withdrawalID"])

	// the poll left behind is now a no-op
	s.investors.CompleteAll()
	s.settle(t)

	investor, _ := s.balances(t)
	require.Equal(t, "USD 1000.00", investor.Balance.String())
	require.Equal(t, transfers.Failed, s.get(t, txn.ID).State())
}

func TestReaper__Run(t *testing.T) {
	repo := transfers.NewMockRepository()

	disabled := NewReaper(log.NewNopLogger(), config.Reaper{}, repo, nil)
	require.NoError(t, disabled.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reaper := NewReaper(log.NewNopLogger(), config.Reaper{Schedule: "@every 1s", Deadline: time.Minute}, repo, nil)
	require.NoError(t, reaper.Run(ctx))

	invalid := NewReaper(log.NewNopLogger(), config.Reaper{Schedule: "not a schedule", Deadline: time.Minute}, repo, nil)
	require.Error(t, invalid.Run(context.Background()))
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/transfers"
	"github.com/moov-io/moneymovement/x/schedule"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	reapedCounter = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Name: "saga_reaped_total",
		Help: "Counter of funding transactions failed for exceeding their deadline",
	}, []string{"state"})
)

const reapBatch = 100

// Reaper fails funding transactions which stopped moving before reaching a
// terminal state.
type Reaper struct {
	logger  log.Logger
	cfg     config.Reaper
	repo    transfers.Repository
	alerter notify.Alerter
}

func NewReaper(logger log.Logger, cfg config.Reaper, repo transfers.Repository, alerter notify.Alerter) *Reaper {
	return &Reaper{
		logger:  logger,
		cfg:     cfg,
		repo:    repo,
		alerter: alerter,
	}
}

// Run reaps on the configured schedule until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.cfg.Enabled() {
		return nil
	}
	ticker, err := schedule.ForSchedule(r.cfg.Schedule)
	if err != nil {
		return err
	}
	defer ticker.Stop()

	r.logger.Log("reaper", fmt.Sprintf("reaping transactions older than %v on %q", r.cfg.Deadline, r.cfg.Schedule))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reap(ctx, time.Now()); err != nil {
				r.logger.Log("reaper", "problem reaping transactions", "error", err)
			}
		}
	}
}

// Reap fails every non-terminal transaction which hasn't changed since Deadline
// before now. It returns how many were failed.
func (r *Reaper) Reap(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.cfg.Deadline)
	reaped := 0
	for {
		stale, err := r.repo.ListStale(cutoff, reapBatch)
		if err != nil {
			return reaped, err
		}
		progressed := 0
		for i := range stale {
			ok, err := r.reap(ctx, stale[i])
			if err != nil {
				return reaped, err
			}
			if ok {
				reaped++
				progressed++
			}
		}
		if len(stale) < reapBatch || progressed == 0 {
			return reaped, nil
		}
	}
}

func (r *Reaper) reap(ctx context.Context, txn *transfers.FundingTransaction) (bool, error) {
	prior := txn.State()
	logger := log.With(r.logger, "transactionID", txn.ID)

	err := r.repo.Transition(txn, transfers.Failed, transfers.Change{
		FailureReason: fmt.Sprintf("timed out in %s", prior),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrConcurrentModification) {
			logger.Log("reaper", "transaction moved while reaping")
			return false, nil
		}
		return false, err
	}
	reapedCounter.With("state", string(prior)).Add(1)
	logger.Log("reaper", fmt.Sprintf("failed transaction stuck in %s", prior))

	// once a withdrawal was requested the investor's money may have left
	if prior.After(transfers.Initiated) && r.alerter != nil {
		err := r.alerter.Critical(ctx, notify.Alert{
			TransactionID: txn.ID,
			Summary:       strandedSummary(prior, txn),
			Details: map[string]string{
				"state":        string(prior),
				"withdrawalID": txn.WithdrawalID,
				"reason":       "timed out",
			},
		})
		if err != nil {
			logger.Log("reaper", "problem raising alert", "error", err)
		}
	}
	return true, nil
}

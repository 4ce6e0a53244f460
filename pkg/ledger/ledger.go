// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	versionConflicts = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Name: "ledger_conflicts_total",
		Help: "Counter of account updates rejected because another writer changed the account first",
	}, []string{"account"})
)

// Ledger applies balance changes to investor and fund accounts. Each mutation reads
// the account, checks its preconditions and writes back conditionally on the version
// it read. Conflicts are retried according to the configured policy.
//
// Mutations belonging to a saga step are written as a Posting inside the step's
// transition, see PostDebit and PostCredit.
type Ledger struct {
	logger log.Logger
	repo   Repository

	retry        util.RetryPolicy
	consumeSeats bool
}

func New(logger log.Logger, repo Repository, cfg config.Saga) *Ledger {
	return &Ledger{
		logger:       logger,
		repo:         repo,
		retry:        cfg.LedgerRetry.Policy(),
		consumeSeats: cfg.ConsumeSeats,
	}
}

func (l *Ledger) Repository() Repository {
	return l.repo
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// Precheck performs a read-only check that both accounts exist and would accept amount.
func (l *Ledger) Precheck(investorID id.Investor, fundID id.Fund, amount model.Money) error {
	investor, err := l.repo.GetInvestor(investorID)
	if err != nil {
		return err
	}
	fund, err := l.repo.GetFund(fundID)
	if err != nil {
		return err
	}
	if err := investor.Covers(amount); err != nil {
		return err
	}
	return fund.Accepts(amount)
}

// CheckFund performs a read-only check the fund would accept amount.
func (l *Ledger) CheckFund(fundID id.Fund, amount model.Money) error {
	fund, err := l.repo.GetFund(fundID)
	if err != nil {
		return err
	}
	return fund.Accepts(amount)
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleAccount)
}

func (l *Ledger) prepareDebit(investorID id.Investor, amount model.Money) (*Posting, error) {
	acct, err := l.repo.GetInvestor(investorID)
	if err != nil {
		return nil, err
	}
	if err := acct.Covers(amount); err != nil {
		return nil, err
	}
	balance, err := acct.Balance.Sub(amount)
	if err != nil {
		return nil, err
	}
	return &Posting{investorID: investorID, balance: balance, version: acct.Version}, nil
}

func (l *Ledger) prepareCredit(fundID id.Fund, amount model.Money) (*Posting, error) {
	acct, err := l.repo.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	if err := acct.Accepts(amount); err != nil {
		return nil, err
	}
	balance, err := acct.Balance.Add(amount)
	if err != nil {
		return nil, err
	}
	seats := acct.SeatAvailability
	if l.consumeSeats {
		seats--
	}
	return &Posting{fundID: fundID, balance: balance, seats: seats, version: acct.Version}, nil
}

// post prepares a posting and hands it to commit until commit succeeds or returns an
// error retryable rejects.
func (l *Ledger) post(ctx context.Context, account string, prepare func() (*Posting, error), commit func(*Posting) error, retryable func(error) bool) (int64, error) {
	var version int64
	err := util.Retry(ctx, l.retry, retryable, func(attempt int) error {
		p, err := prepare()
		if err != nil {
			return err
		}
		if err := commit(p); err != nil {
			if retryable(err) {
				versionConflicts.With("account", account).Add(1)
				l.logger.Log("ledger", fmt.Sprintf("conflict updating %v attempt=%d", p, attempt))
			}
			return err
		}
		version = p.Version()
		return nil
	})
	return version, err
}

// DebitInvestor removes amount from the investor's balance and returns the account's new version.
//
// ErrInsufficientFunds is returned (without retries) when the balance can't cover amount.
func (l *Ledger) DebitInvestor(ctx context.Context, investorID id.Investor, amount model.Money) (int64, error) {
	return l.PostDebit(ctx, investorID, amount, nil)
}

// PostDebit is DebitInvestor where commit writes the posting, typically with Post inside
// a database transaction holding other writes. When commit returns ErrStaleAccount the
// investor is read again and commit is called with a new posting.
//
// A nil commit writes the posting through the ledger's repository.
func (l *Ledger) PostDebit(ctx context.Context, investorID id.Investor, amount model.Money, commit func(*Posting) error) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("debit of %v must be positive", amount)
	}
	retryable := isStale
	if commit == nil {
		commit, retryable = l.applyPosting, isConflict
	}
	prepare := func() (*Posting, error) {
		return l.prepareDebit(investorID, amount)
	}
	version, err := l.post(ctx, "investor", prepare, commit, retryable)
	if err != nil {
		return 0, err
	}
	l.logger.Log("ledger", fmt.Sprintf("debited %v from investor=%s", amount, investorID), "version", version)
	return version, nil
}

// CreditFund adds amount to the fund's balance, consuming a seat when configured,
// and returns the account's new version.
//
// ErrFundCriteriaNotMet is returned (without retries) when the fund won't accept amount.
func (l *Ledger) CreditFund(ctx context.Context, fundID id.Fund, amount model.Money) (int64, error) {
	return l.PostCredit(ctx, fundID, amount, nil)
}

// PostCredit is CreditFund with commit writing the posting, see PostDebit.
func (l *Ledger) PostCredit(ctx context.Context, fundID id.Fund, amount model.Money, commit func(*Posting) error) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("credit of %v must be positive", amount)
	}
	retryable := isStale
	if commit == nil {
		commit, retryable = l.applyPosting, isConflict
	}
	prepare := func() (*Posting, error) {
		return l.prepareCredit(fundID, amount)
	}
	version, err := l.post(ctx, "fund", prepare, commit, retryable)
	if err != nil {
		return 0, err
	}
	l.logger.Log("ledger", fmt.Sprintf("credited %v to fund=%s", amount, fundID), "version", version)
	return version, nil
}

func (l *Ledger) applyPosting(p *Posting) error {
	return p.apply(l.repo)
}

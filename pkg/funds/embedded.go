// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package funds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/database"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
)

// sqlOps stores operations in either the withdrawals or deposits table. Pending
// operations settle as COMPLETED once they're older than settleAfter.
type sqlOps struct {
	db          *sql.DB
	logger      log.Logger
	table       string
	idColumn    string
	settleAfter time.Duration
}

func (s *sqlOps) create(accountID string, amount model.Money, key string, initial SubState) (*Operation, error) {
	if key != "" {
		if op, err := s.getBy("idempotency_key = ?", key); err == nil {
			return op, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	op := &Operation{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Amount:         amount,
		State:          initial,
		IdempotencyKey: util.Or(key, uuid.NewString()),
		Version:        1,
		Created:        now,
		Modified:       now,
	}
	query := fmt.Sprintf(`insert into %s (%s, account_id, amount_currency, amount_value, state, idempotency_key, version, created_at, modified_at) values (?, ?, ?, ?, ?, ?, ?, ?, ?);`, s.table, s.idColumn)
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	_, err = stmt.Exec(op.ID, op.AccountID, op.Amount.Currency(), op.Amount.Value(), op.State, op.IdempotencyKey, op.Version, op.Created, op.Modified)
	if err != nil {
		if database.UniqueViolation(err) {
			// lost a race with the same idempotency key
			return s.getBy("idempotency_key = ?", key)
		}
		return nil, err
	}
	return op, nil
}

func (s *sqlOps) getBy(where string, arg interface{}) (*Operation, error) {
	query := fmt.Sprintf(`select %s, account_id, amount_currency, amount_value, state, idempotency_key, version, created_at, modified_at from %s where %s limit 1;`, s.idColumn, s.table, where)
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var (
		op            Operation
		currency, val string
	)
	err = stmt.QueryRow(arg).Scan(&op.ID, &op.AccountID, &currency, &val, &op.State, &op.IdempotencyKey, &op.Version, &op.Created, &op.Modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %v: %w", s.table, arg, ErrNotFound)
		}
		return nil, err
	}
	if op.Amount, err = model.NewMoney(currency, val); err != nil {
		return nil, fmt.Errorf("%s=%s amount: %v", s.idColumn, op.ID, err)
	}
	return &op, nil
}

func (s *sqlOps) status(opID, accountID string) (SubState, error) {
	op, err := s.getBy(s.idColumn+" = ?", opID)
	if err != nil {
		return "", err
	}
	if op.AccountID != accountID {
		return "", fmt.Errorf("%s=%s account=%s: %w", s.idColumn, opID, accountID, ErrAccountMismatch)
	}
	if op.State.Pending() && time.Since(op.Created) >= s.settleAfter {
		if err := s.settle(op, Completed); err != nil {
			return "", err
		}
	}
	return op.State, nil
}

// settle moves op to target. A concurrent settlement is fine, whatever state was
// written is read back.
func (s *sqlOps) settle(op *Operation, target SubState) error {
	previous := op.Version
	if err := op.advance(target); err != nil {
		return err
	}
	query := fmt.Sprintf(`update %s set state = ?, version = version + 1, modified_at = ? where %s = ? and version = ?;`, s.table, s.idColumn)
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.Exec(op.State, time.Now().UTC(), op.ID, previous)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.getBy(s.idColumn+" = ?", op.ID)
		if err != nil {
			return err
		}
		*op = *current
		return nil
	}
	s.logger.Log("funds", fmt.Sprintf("%s=%s settled as %s", s.idColumn, op.ID, op.State))
	op.Version = previous + 1
	return nil
}

func (s *sqlOps) Ping() error {
	if s == nil || s.db == nil {
		return errors.New("nil embedded provider")
	}
	return s.db.Ping()
}

// EmbeddedInvestors is an InvestorFunds provider which reads balances from our own
// investor accounts, matched on their external ID, and records withdrawals in the
// database.
type EmbeddedInvestors struct {
	sqlOps

	repo ledger.Repository
}

func NewEmbeddedInvestors(logger log.Logger, db *sql.DB, repo ledger.Repository, settleAfter time.Duration) *EmbeddedInvestors {
	return &EmbeddedInvestors{
		sqlOps: sqlOps{
			db:          db,
			logger:      logger,
			table:       "withdrawals",
			idColumn:    "withdrawal_id",
			settleAfter: settleAfter,
		},
		repo: repo,
	}
}

func (p *EmbeddedInvestors) CheckBalance(_ context.Context, accountID string) (model.Money, error) {
	acct, err := p.repo.GetInvestorByExternalID(accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return model.Money{}, fmt.Errorf("investor=%s: %w", accountID, ErrAccountNotFound)
		}
		return model.Money{}, err
	}
	return acct.Balance, nil
}

func (p *EmbeddedInvestors) WithdrawFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Withdrawal, error) {
	if _, err := p.CheckBalance(ctx, accountID); err != nil {
		return nil, err
	}
	op, err := p.create(accountID, amount, idempotencyKey, InProgress)
	if err != nil {
		return nil, err
	}
	w := Withdrawal(*op)
	return &w, nil
}

func (p *EmbeddedInvestors) WithdrawalStatus(_ context.Context, withdrawalID, accountID string) (SubState, error) {
	return p.status(withdrawalID, accountID)
}

// EmbeddedFunds is a FundDeposits provider which accepts deposits for our own fund
// accounts, matched on their external ID, and records them in the database.
type EmbeddedFunds struct {
	sqlOps

	repo ledger.Repository
}

func NewEmbeddedFunds(logger log.Logger, db *sql.DB, repo ledger.Repository, settleAfter time.Duration) *EmbeddedFunds {
	return &EmbeddedFunds{
		sqlOps: sqlOps{
			db:          db,
			logger:      logger,
			table:       "deposits",
			idColumn:    "deposit_id",
			settleAfter: settleAfter,
		},
		repo: repo,
	}
}

func (p *EmbeddedFunds) DepositFunds(_ context.Context, accountID string, amount model.Money, idempotencyKey string) (*Deposit, error) {
	if _, err := p.repo.GetFundByExternalID(accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("fund=%s: %w", accountID, ErrAccountNotFound)
		}
		return nil, err
	}
	op, err := p.create(accountID, amount, idempotencyKey, Created)
	if err != nil {
		return nil, err
	}
	d := Deposit(*op)
	return &d, nil
}

func (p *EmbeddedFunds) DepositStatus(_ context.Context, depositID, accountID string) (SubState, error) {
	return p.status(depositID, accountID)
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
)

// Repository stores investor and fund accounts. Every update is conditional on
// the version the caller read, returning ErrConcurrentModification when another
// writer got there first.
type Repository interface {
	CreateInvestor(acct *InvestorAccount) error
	GetInvestor(investorID id.Investor) (*InvestorAccount, error)
	GetInvestorByExternalID(externalID string) (*InvestorAccount, error)
	UpdateInvestorBalance(investorID id.Investor, balance model.Money, expectedVersion int64) error

	CreateFund(acct *FundAccount) error
	GetFund(fundID id.Fund) (*FundAccount, error)
	GetFundByExternalID(externalID string) (*FundAccount, error)
	UpdateFund(fundID id.Fund, balance model.Money, seats int, expectedVersion int64) error
}

func NewRepo(db *sql.DB) Repository {
	return &sqlRepo{db: db}
}

type sqlRepo struct {
	db *sql.DB
}

func (r *sqlRepo) CreateInvestor(acct *InvestorAccount) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	acct.Version, acct.Created, acct.Modified = 1, now, now

	query := `insert into investor_accounts (investor_id, external_id, balance_currency, balance_value, version, created_at, modified_at) values (?, ?, ?, ?, ?, ?, ?);`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(acct.ID, acct.ExternalID, acct.Balance.Currency(), acct.Balance.Value(), acct.Version, acct.Created, acct.Modified)
	if err != nil {
		return fmt.Errorf("creating investor=%s: %w", acct.ID, err)
	}
	return nil
}

func (r *sqlRepo) GetInvestor(investorID id.Investor) (*InvestorAccount, error) {
	return r.getInvestor(`investor_id = ?`, investorID)
}

func (r *sqlRepo) GetInvestorByExternalID(externalID string) (*InvestorAccount, error) {
	return r.getInvestor(`external_id = ?`, externalID)
}

func (r *sqlRepo) getInvestor(where string, arg interface{}) (*InvestorAccount, error) {
	query := `select investor_id, external_id, balance_currency, balance_value, version, created_at, modified_at
from investor_accounts where ` + where + ` limit 1`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var (
		acct          InvestorAccount
		currency, val string
	)
	err = stmt.QueryRow(arg).Scan(&acct.ID, &acct.ExternalID, &currency, &val, &acct.Version, &acct.Created, &acct.Modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("investor %v: %w", arg, ErrAccountNotFound)
		}
		return nil, err
	}
	if acct.Balance, err = model.NewMoney(currency, val); err != nil {
		return nil, fmt.Errorf("investor=%s balance: %v", acct.ID, err)
	}
	return &acct, nil
}

func (r *sqlRepo) UpdateInvestorBalance(investorID id.Investor, balance model.Money, expectedVersion int64) error {
	return updateInvestorBalance(r.db, investorID, balance, expectedVersion)
}

func updateInvestorBalance(exec Execer, investorID id.Investor, balance model.Money, expectedVersion int64) error {
	query := `update investor_accounts set balance_currency = ?, balance_value = ?, version = version + 1, modified_at = ?
where investor_id = ? and version = ?;`
	res, err := exec.Exec(query, balance.Currency(), balance.Value(), time.Now().UTC(), investorID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating investor=%s: %w", investorID, err)
	}
	return versionedUpdate(res, fmt.Sprintf("investor=%s version=%d", investorID, expectedVersion))
}

func (r *sqlRepo) CreateFund(acct *FundAccount) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	acct.Version, acct.Created, acct.Modified = 1, now, now

	query := `insert into fund_accounts (fund_id, external_id, min_investment_currency, min_investment_value, seat_availability, balance_currency, balance_value, version, created_at, modified_at) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		acct.ID, acct.ExternalID,
		acct.MinInvestment.Currency(), acct.MinInvestment.Value(),
		acct.SeatAvailability,
		acct.Balance.Currency(), acct.Balance.Value(),
		acct.Version, acct.Created, acct.Modified,
	)
	if err != nil {
		return fmt.Errorf("creating fund=%s: %w", acct.ID, err)
	}
	return nil
}

func (r *sqlRepo) GetFund(fundID id.Fund) (*FundAccount, error) {
	return r.getFund(`fund_id = ?`, fundID)
}

func (r *sqlRepo) GetFundByExternalID(externalID string) (*FundAccount, error) {
	return r.getFund(`external_id = ?`, externalID)
}

func (r *sqlRepo) getFund(where string, arg interface{}) (*FundAccount, error) {
	query := `select fund_id, external_id, min_investment_currency, min_investment_value, seat_availability, balance_currency, balance_value, version, created_at, modified_at
from fund_accounts where ` + where + ` limit 1`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var (
		acct                      FundAccount
		minCurrency, minVal       string
		balanceCurrency, balanceV string
	)
	err = stmt.QueryRow(arg).Scan(
		&acct.ID, &acct.ExternalID,
		&minCurrency, &minVal,
		&acct.SeatAvailability,
		&balanceCurrency, &balanceV,
		&acct.Version, &acct.Created, &acct.Modified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fund %v: %w", arg, ErrAccountNotFound)
		}
		return nil, err
	}
	if acct.MinInvestment, err = model.NewMoney(minCurrency, minVal); err != nil {
		return nil, fmt.Errorf("fund=%s min investment: %v", acct.ID, err)
	}
	if acct.Balance, err = model.NewMoney(balanceCurrency, balanceV); err != nil {
		return nil, fmt.Errorf("fund=%s balance: %v", acct.ID, err)
	}
	return &acct, nil
}

func (r *sqlRepo) UpdateFund(fundID id.Fund, balance model.Money, seats int, expectedVersion int64) error {
	return updateFund(r.db, fundID, balance, seats, expectedVersion)
}

func updateFund(exec Execer, fundID id.Fund, balance model.Money, seats int, expectedVersion int64) error {
	query := `update fund_accounts set balance_currency = ?, balance_value = ?, seat_availability = ?, version = version + 1, modified_at = ?
where fund_id = ? and version = ?;`
	res, err := exec.Exec(query, balance.Currency(), balance.Value(), seats, time.Now().UTC(), fundID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating fund=%s: %w", fundID, err)
	}
	return versionedUpdate(res, fmt.Sprintf("fund=%s version=%d", fundID, expectedVersion))
}

func versionedUpdate(res sql.Result, desc string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", desc, ErrConcurrentModification)
	}
	return nil
}

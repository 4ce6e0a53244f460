// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrFundCriteriaNotMet     = errors.New("fund criteria not met")
	ErrInsufficientFunds      = errors.New("insufficient funds")
)

type InvestorAccount struct {
	ID id.Investor `json:"investorID"`

	// ExternalID is how the investor's account provider refers to this account.
	ExternalID string      `json:"externalID"`
	Balance    model.Money `json:"balance"`

	Version  int64     `json:"version"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func (acct *InvestorAccount) Validate() error {
	if acct == nil {
		return errors.New("nil InvestorAccount")
	}
	if acct.ExternalID == "" {
		return errors.New("missing externalID")
	}
	if err := acct.Balance.Validate(); err != nil {
		return fmt.Errorf("balance: %v", err)
	}
	if acct.Balance.IsNegative() {
		return errors.New("negative balance")
	}
	return nil
}

// Covers returns ErrInsufficientFunds when the balance is below amount.
func (acct *InvestorAccount) Covers(amount model.Money) error {
	less, err := acct.Balance.LessThan(amount)
	if err != nil {
		return fmt.Errorf("investor %s: %w", acct.ID, err)
	}
	if less {
		return fmt.Errorf("investor %s has %v but needs %v: %w", acct.ID, acct.Balance, amount, ErrInsufficientFunds)
	}
	return nil
}

type FundAccount struct {
	ID id.Fund `json:"fundID"`

	// ExternalID is how the fund's account provider refers to this account.
	ExternalID string `json:"externalID"`

	MinInvestment    model.Money `json:"minInvestment"`
	SeatAvailability int         `json:"seatAvailability"`
	Balance          model.Money `json:"balance"`

	Version  int64     `json:"version"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func (acct *FundAccount) Validate() error {
	if acct == nil {
		return errors.New("nil FundAccount")
	}
	if acct.ExternalID == "" {
		return errors.New("missing externalID")
	}
	if err := acct.MinInvestment.Validate(); err != nil {
		return fmt.Errorf("minInvestment: %v", err)
	}
	if err := acct.Balance.Validate(); err != nil {
		return fmt.Errorf("balance: %v", err)
	}
	if acct.MinInvestment.Currency() != acct.Balance.Currency() {
		return model.ErrDifferentCurrencies
	}
	if acct.SeatAvailability < 0 {
		return errors.New("negative seatAvailability")
	}
	return nil
}

// Accepts returns ErrFundCriteriaNotMet unless the fund has an open seat
// and amount meets the minimum investment.
func (acct *FundAccount) Accepts(amount model.Money) error {
	if acct.SeatAvailability <= 0 {
		return fmt.Errorf("fund %s has no seats available: %w", acct.ID, ErrFundCriteriaNotMet)
	}
	less, err := amount.LessThan(acct.MinInvestment)
	if err != nil {
		return fmt.Errorf("fund %s: %v: %w", acct.ID, err, ErrFundCriteriaNotMet)
	}
	if less {
		return fmt.Errorf("fund %s requires at least %v: %w", acct.ID, acct.MinInvestment, ErrFundCriteriaNotMet)
	}
	return nil
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package notify delivers completed funding transactions to downstream
// consumers and raises operator alerts when the system needs a human.
package notify

import (
	"context"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
)

// Summary describes a funding transaction which reached DEPOSIT_COMPLETED.
type Summary struct {
	TransactionID id.Transaction `json:"transactionID"`
	InvestorID    id.Investor    `json:"investorID"`
	FundID        id.Fund        `json:"fundID"`
	Amount        model.Money    `json:"amount"`
	WithdrawalID  string         `json:"withdrawalID"`
	DepositID     string         `json:"depositID"`
	Initiated     time.Time      `json:"initiated"`
	Completed     time.Time      `json:"completed"`
}

// Sink receives one FundsTransferred call for each completed funding transaction.
type Sink interface {
	FundsTransferred(ctx context.Context, summary Summary) error
}

// Alert is a condition an operator needs to investigate, such as funds which left
// an investor but never reached the fund.
type Alert struct {
	TransactionID id.Transaction
	Summary       string
	Details       map[string]string
}

type Alerter interface {
	Critical(ctx context.Context, alert Alert) error
}

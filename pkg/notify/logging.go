// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type Logging struct {
	logger log.Logger
}

func NewLogging(logger log.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) FundsTransferred(_ context.Context, summary Summary) error {
	l.logger.Log(
		"notify", fmt.Sprintf("transferred %v from investor=%s to fund=%s", summary.Amount, summary.InvestorID, summary.FundID),
		"transactionID", summary.TransactionID,
		"withdrawalID", summary.WithdrawalID,
		"depositID", summary.DepositID,
	)
	return nil
}

func (l *Logging) Critical(_ context.Context, alert Alert) error {
	keyvals := []interface{}{"notify", "CRITICAL: " + alert.Summary, "transactionID", alert.TransactionID}
	for k, v := range alert.Details {
		keyvals = append(keyvals, k, v)
	}
	return level.Error(l.logger).Log(keyvals...)
}

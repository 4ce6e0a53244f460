// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
)

// Multi is a Sink which delivers each Summary to every included Sink and
// returns the first error encountered.
type Multi struct {
	logger log.Logger
	sinks  []Sink
}

func NewMulti(logger log.Logger, sinks ...Sink) *Multi {
	return &Multi{logger: logger, sinks: sinks}
}

func (m *Multi) FundsTransferred(ctx context.Context, summary Summary) error {
	var firstError error
	for i := range m.sinks {
		if err := m.sinks[i].FundsTransferred(ctx, summary); err != nil {
			m.logger.Log("notify", fmt.Sprintf("multi: %T: %v", m.sinks[i], err), "transactionID", summary.TransactionID)

			if firstError == nil {
				firstError = err
			}
		}
	}
	return firstError
}

// MultiAlerter raises each Alert on every included Alerter.
type MultiAlerter struct {
	logger   log.Logger
	alerters []Alerter
}

func NewMultiAlerter(logger log.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{logger: logger, alerters: alerters}
}

func (m *MultiAlerter) Critical(ctx context.Context, alert Alert) error {
	var firstError error
	for i := range m.alerters {
		if err := m.alerters[i].Critical(ctx, alert); err != nil {
			m.logger.Log("notify", fmt.Sprintf("multi-alerter: %T: %v", m.alerters[i], err), "transactionID", alert.TransactionID)

			if firstError == nil {
				firstError = err
			}
		}
	}
	return firstError
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/go-kit/kit/log"
)

// PagerDuty triggers Events v2 incidents for critical alerts.
type PagerDuty struct {
	logger     log.Logger
	routingKey string
	source     string

	send func(pagerduty.V2Event) (*pagerduty.V2EventResponse, error)
}

func NewPagerDuty(logger log.Logger, cfg *config.PagerDuty) (*PagerDuty, error) {
	if cfg == nil {
		return nil, errors.New("notify: nil pagerduty config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("notify: %v", err)
	}
	return &PagerDuty{
		logger:     logger,
		routingKey: cfg.Key(),
		source:     util.Or(cfg.Source, "moneymovement"),
		send:       pagerduty.ManageEvent,
	}, nil
}

func (pd *PagerDuty) Critical(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	details := make(map[string]string, len(alert.Details)+1)
	for k, v := range alert.Details {
		details[k] = v
	}
	details["transactionID"] = alert.TransactionID.String()

	resp, err := pd.send(pagerduty.V2Event{
		RoutingKey: pd.routingKey,
		Action:     "trigger",
		DedupKey:   alert.TransactionID.String(),
		Payload: &pagerduty.V2Payload{
			Summary:   alert.Summary,
			Source:    pd.source,
			Severity:  "critical",
			Component: "saga",
			Details:   details,
		},
	})
	if err != nil {
		return fmt.Errorf("notify: pagerduty: %v", err)
	}
	if resp != nil {
		pd.logger.Log("notify", "triggered pagerduty incident", "transactionID", alert.TransactionID, "dedupKey", resp.DedupKey)
	}
	return nil
}

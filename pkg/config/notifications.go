// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/moov-io/moneymovement/pkg/util"
)

type Notifications struct {
	Stream    *Stream
	PagerDuty *PagerDuty
}

func (cfg Notifications) Validate() error {
	if err := cfg.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %v", err)
	}
	if err := cfg.PagerDuty.Validate(); err != nil {
		return fmt.Errorf("pagerduty: %v", err)
	}
	return nil
}

type Stream struct {
	InMem *InMemStream
	Kafka *KafkaStream
}

func (cfg *Stream) Validate() error {
	if cfg == nil {
		return nil
	}
	if cfg.InMem != nil && cfg.InMem.URL == "" {
		return errors.New("inmem: missing stream url")
	}
	if k := cfg.Kafka; k != nil {
		if len(k.Brokers) == 0 || k.Topic == "" {
			return errors.New("kafka: missing brokers or topic")
		}
	}
	if cfg.InMem == nil && cfg.Kafka == nil {
		return errors.New("missing inmem or kafka config")
	}
	return nil
}

type InMemStream struct {
	URL string
}

type KafkaStream struct {
	Brokers []string
	Topic   string
}

type PagerDuty struct {
	RoutingKey string
	Source     string
}

func (cfg *PagerDuty) Key() string {
	if cfg == nil {
		return ""
	}
	return util.Or(os.Getenv("PAGERDUTY_ROUTING_KEY"), cfg.RoutingKey)
}

func (cfg *PagerDuty) Validate() error {
	if cfg == nil {
		return nil
	}
	if cfg.Key() == "" {
		return errors.New("missing routing key")
	}
	return nil
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"time"

	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/robfig/cron/v3"
)

// Saga controls how each step of a funding transaction behaves.
type Saga struct {
	// PortRetries is how many times a step is retried after an account provider
	// fails before the transaction is marked FAILED.
	PortRetries int

	// PortTimeout bounds each call made to an account provider.
	PortTimeout time.Duration

	// PollInterval is how long to wait before checking on a withdrawal or deposit
	// that is still in progress.
	PollInterval time.Duration

	// ConsumeSeats removes one seat from a fund for every completed deposit.
	ConsumeSeats bool

	LedgerRetry Retry
}

func defaultSaga() Saga {
	return Saga{
		PortRetries:  1,
		PortTimeout:  30 * time.Second,
		PollInterval: 5 * time.Second,
		ConsumeSeats: true,
		LedgerRetry: Retry{
			Attempts:       5,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
		},
	}
}

func (cfg Saga) Validate() error {
	if cfg.PortRetries < 0 {
		return errors.New("negative PortRetries")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("missing PollInterval")
	}
	if cfg.LedgerRetry.Attempts < 1 {
		return errors.New("ledger retry needs at least one attempt")
	}
	return nil
}

type Retry struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (cfg Retry) Policy() util.RetryPolicy {
	return util.RetryPolicy{
		Attempts:       cfg.Attempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Tasks configures the workers which run each saga step.
type Tasks struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	Backoff      time.Duration
	Lease        time.Duration
}

func defaultTasks() Tasks {
	return Tasks{
		Workers:      4,
		BatchSize:    10,
		PollInterval: time.Second,
		MaxAttempts:  5,
		Backoff:      5 * time.Second,
		Lease:        time.Minute,
	}
}

func (cfg Tasks) Validate() error {
	if cfg.Workers < 1 {
		return errors.New("at least one worker is required")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("MaxAttempts must be positive")
	}
	if cfg.PollInterval <= 0 || cfg.Lease <= 0 {
		return errors.New("missing PollInterval or Lease")
	}
	return nil
}

// Reaper fails funding transactions which have not moved for longer than Deadline.
type Reaper struct {
	Schedule string
	Deadline time.Duration
}

func defaultReaper() Reaper {
	return Reaper{
		Schedule: "@every 1m",
		Deadline: 30 * time.Minute,
	}
}

func (cfg Reaper) Enabled() bool {
	return cfg.Schedule != ""
}

func (cfg Reaper) Validate() error {
	if !cfg.Enabled() {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return err
	}
	if cfg.Deadline <= 0 {
		return errors.New("missing Deadline")
	}
	return nil
}

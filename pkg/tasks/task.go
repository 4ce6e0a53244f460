// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

// Package tasks runs the durable, retryable steps which drive funding transactions
// forward. Tasks are rows in saga_tasks claimed by a pool of workers under a lease,
// so a crashed worker's task is picked up again once the lease expires.
package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
)

var (
	ErrNotFound = errors.New("task not found")
)

type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Done    Status = "done"
	Failed  Status = "failed"
)

func (s Status) Validate() error {
	switch s {
	case Pending, Running, Done, Failed:
		return nil
	}
	return fmt.Errorf("unknown task status %q", s)
}

// Step names the handler which runs a Task.
type Step string

type Task struct {
	ID            id.Task        `json:"taskID"`
	TransactionID id.Transaction `json:"transactionID"`
	Step          Step           `json:"step"`
	Status        Status         `json:"status"`

	// Attempts counts how many times the task was run, including the current run.
	Attempts   int        `json:"attempts"`
	NextRunAt  time.Time  `json:"nextRunAt"`
	LeaseUntil *time.Time `json:"leaseUntil,omitempty"`
	LastError  string     `json:"lastError,omitempty"`

	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// New returns a pending Task which is due after delay.
func New(transactionID id.Transaction, step Step, delay time.Duration) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            id.NewTask(),
		TransactionID: transactionID,
		Step:          step,
		Status:        Pending,
		NextRunAt:     now.Add(delay),
		Created:       now,
		Modified:      now,
	}
}

type retryError struct {
	err   error
	after time.Duration
}

func (e *retryError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("retry after %v", e.after)
	}
	return fmt.Sprintf("retry after %v: %v", e.after, e.err)
}

func (e *retryError) Unwrap() error {
	return e.err
}

// Retry reschedules the task after the given delay without counting it as a failed
// attempt. It's used for polling work which isn't finished yet. err can be nil.
func Retry(err error, after time.Duration) error {
	return &retryError{err: err, after: after}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent fails the task without any further attempts.
func Permanent(err error) error {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return &permanentError{err: err}
}

// IsPermanent returns true if err (or anything it wraps) came from Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

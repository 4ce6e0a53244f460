// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package util

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how quickly an operation is attempted again.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return wait
}

// Retry calls f until it succeeds, returns an error retryable rejects, or the
// policy's attempts are used up. The last error from f is returned.
//
// Attempts are numbered from 1. At least one attempt is always made.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, f func(attempt int) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = f(attempt); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(policy.backoff(attempt)):
		}
	}
	return err
}

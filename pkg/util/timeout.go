// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package util

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout = errors.New("timeout exceeded")
)

// Timeout will attempt to call f, but only for as long as t. If the function is still
// processing after t has elapsed then ErrTimeout will be returned and the context given
// to f is canceled.
//
// A zero or negative t calls f without any limit.
func Timeout(ctx context.Context, t time.Duration, f func(ctx context.Context) error) error {
	if t <= 0 {
		return f(ctx)
	}
	ctx, cancelFn := context.WithTimeout(ctx, t)
	defer cancelFn()

	answer := make(chan error, 1)
	go func() {
		answer <- f(ctx)
	}()
	select {
	case err := <-answer:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/id"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Tasks {
	return config.Tasks{
		Workers:      2,
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
		Backoff:      0,
		Lease:        time.Minute,
	}
}

func TestPool__Chain(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())

	var seen []Step
	pool.Handle("first", func(ctx context.Context, task *Task) error {
		seen = append(seen, task.Step)
		return repo.Enqueue(New(task.TransactionID, "second", 0))
	})
	pool.Handle("second", func(ctx context.Context, task *Task) error {
		seen = append(seen, task.Step)
		return nil
	})

	require.NoError(t, pool.Enqueue(New(id.NewTransaction(), "first", 0)))

	n, err := pool.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []Step{"first", "second"}, seen)

	done, err := repo.List(Done, 10)
	require.NoError(t, err)
	require.Len(t, done, 2)
}

func TestPool__RetryDoesNotCountAttempts(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())

	polls := 0
	pool.Handle("poll", func(ctx context.Context, task *Task) error {
		polls++
		if polls < 5 {
			return Retry(nil, -time.Second) // due immediately
		}
		return nil
	})

	task := New(id.NewTransaction(), "poll", 0)
	require.NoError(t, repo.Enqueue(task))

	n, err := pool.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	found, err := repo.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, Done, found.Status)
	require.Equal(t, 1, found.Attempts)
}

func TestPool__MaxAttempts(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())

	var failures []error
	pool.OnFailure(func(ctx context.Context, task *Task, err error) {
		failures = append(failures, err)
	})
	pool.Handle("flaky", func(ctx context.Context, task *Task) error {
		return errors.New("boom")
	})

	task := New(id.NewTransaction(), "flaky", 0)
	require.NoError(t, repo.Enqueue(task))

	n, err := pool.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, failures, 1)

	found, err := repo.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, Failed, found.Status)
	require.Equal(t, "boom", found.LastError)
}

func TestPool__Permanent(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())

	var failed *Task
	pool.OnFailure(func(ctx context.Context, task *Task, err error) {
		failed = task
	})
	pool.Handle("broken", func(ctx context.Context, task *Task) error {
		return Permanent(errors.New("invariant violated"))
	})

	require.NoError(t, repo.Enqueue(New(id.NewTransaction(), "broken", 0)))
	// a step nobody handles
	require.NoError(t, repo.Enqueue(New(id.NewTransaction(), "unknown", 0)))

	n, err := pool.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NotNil(t, failed)
	require.Equal(t, Failed, failed.Status)

	tasks, err := repo.List(Failed, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestPool__Run(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())

	var count int32
	done := make(chan struct{})
	pool.Handle("count", func(ctx context.Context, task *Task) error {
		if atomic.AddInt32(&count, 1) == 3 {
			close(done)
		}
		return nil
	})

	ctx, cancelFn := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Enqueue(New(id.NewTransaction(), "count", 0)))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks weren't processed")
	}
	cancelFn()
	<-stopped
}

func TestRetryAndPermanent(t *testing.T) {
	inner := errors.New("inner")

	err := Retry(inner, time.Second)
	require.True(t, errors.Is(err, inner))
	require.False(t, IsPermanent(err))
	require.Contains(t, Retry(nil, time.Second).Error(), "retry after 1s")

	err = Permanent(inner)
	require.True(t, errors.Is(err, inner))
	require.True(t, IsPermanent(err))
	require.Error(t, Permanent(nil))
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moov-io/moneymovement/pkg/config"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	tasksProcessed = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Name: "tasks_processed_total",
		Help: "Counter of saga tasks processed by step and result",
	}, []string{"step", "result"})
)

// Handler runs one step. Returning nil completes the task, Retry and Permanent
// control what happens otherwise. Any other error is retried with backoff until
// the task runs out of attempts.
type Handler func(ctx context.Context, task *Task) error

// FailureFunc is called after a task has been marked failed.
type FailureFunc func(ctx context.Context, task *Task, err error)

type Pool struct {
	logger log.Logger
	repo   Repository
	cfg    config.Tasks

	mu       sync.RWMutex
	handlers map[Step]Handler
	onFail   FailureFunc

	wake chan struct{}
}

func NewPool(logger log.Logger, repo Repository, cfg config.Tasks) *Pool {
	return &Pool{
		logger:   logger,
		repo:     repo,
		cfg:      cfg,
		handlers: make(map[Step]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers the Handler for step, replacing any previous one.
func (p *Pool) Handle(step Step, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[step] = handler
}

func (p *Pool) OnFailure(fn FailureFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFail = fn
}

func (p *Pool) Repository() Repository {
	return p.repo
}

// Enqueue stores task and wakes the workers.
func (p *Pool) Enqueue(task *Task) error {
	if err := p.repo.Enqueue(task); err != nil {
		return err
	}
	p.Wake()
	return nil
}

// Wake has the pool look for due tasks without waiting for the next poll.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run claims and processes tasks until ctx is cancelled. Tasks which are still running
// when ctx is done finish before Run returns.
func (p *Pool) Run(ctx context.Context) {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	batch := p.cfg.BatchSize
	if batch < 1 {
		batch = workers
	}

	jobs := make(chan *Task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				p.process(ctx, task)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Log("tasks", fmt.Sprintf("starting %d workers", workers))
	for {
		claimed, err := p.repo.Claim(p.cfg.Lease, batch)
		if err != nil {
			p.logger.Log("tasks", "problem claiming tasks", "error", err)
		}
		for i := range claimed {
			select {
			case jobs <- claimed[i]:
			case <-ctx.Done():
				// unsent tasks are picked up again after their lease expires
				return
			}
		}
		if len(claimed) == batch {
			continue // there's probably more work
		}

		select {
		case <-ctx.Done():
			p.logger.Log("tasks", "shutting down workers")
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// RunDue processes every due task on the calling goroutine, including any tasks
// those enqueue which are immediately due. It returns how many tasks were run.
func (p *Pool) RunDue(ctx context.Context) (int, error) {
	processed := 0
	for {
		claimed, err := p.repo.Claim(p.cfg.Lease, 100)
		if err != nil {
			return processed, err
		}
		if len(claimed) == 0 {
			return processed, nil
		}
		for i := range claimed {
			p.process(ctx, claimed[i])
			processed++
		}
	}
}

func (p *Pool) handler(step Step) (Handler, FailureFunc) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[step], p.onFail
}

func (p *Pool) process(ctx context.Context, task *Task) {
	logger := log.With(p.logger, "taskID", task.ID, "transactionID", task.TransactionID, "step", task.Step)

	handler, onFail := p.handler(task.Step)
	if handler == nil {
		p.fail(ctx, logger, onFail, task, fmt.Errorf("no handler for step %s", task.Step))
		return
	}

	err := handler(ctx, task)

	var retry *retryError
	switch {
	case err == nil:
		if err := p.repo.Complete(task.ID); err != nil {
			logger.Log("tasks", "problem completing task", "error", err)
		}
		tasksProcessed.With("step", string(task.Step), "result", "done").Add(1)
		p.Wake() // the step likely enqueued another

	case errors.As(err, &retry):
		// polling isn't a failed attempt
		next := time.Now().Add(retry.after)
		if err := p.repo.Reschedule(task.ID, task.Attempts-1, next, errorString(retry.err)); err != nil {
			logger.Log("tasks", "problem rescheduling task", "error", err)
		}
		tasksProcessed.With("step", string(task.Step), "result", "retry").Add(1)

	case IsPermanent(err) || task.Attempts >= p.cfg.MaxAttempts:
		p.fail(ctx, logger, onFail, task, err)

	default:
		backoff := p.cfg.Backoff * time.Duration(task.Attempts)
		logger.Log("tasks", fmt.Sprintf("attempt %d failed, retrying in %v", task.Attempts, backoff), "error", err)
		if err := p.repo.Reschedule(task.ID, task.Attempts, time.Now().Add(backoff), err.Error()); err != nil {
			logger.Log("tasks", "problem rescheduling task", "error", err)
		}
		tasksProcessed.With("step", string(task.Step), "result", "error").Add(1)
	}
}

func (p *Pool) fail(ctx context.Context, logger log.Logger, onFail FailureFunc, task *Task, err error) {
	level.Error(logger).Log("tasks", fmt.Sprintf("task failed after %d attempts", task.Attempts), "error", err)
	if err := p.repo.Fail(task.ID, err.Error()); err != nil {
		logger.Log("tasks", "problem failing task", "error", err)
	}
	tasksProcessed.With("step", string(task.Step), "result", "failed").Add(1)

	task.Status = Failed
	task.LastError = err.Error()
	if onFail != nil {
		onFail(ctx, task, err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

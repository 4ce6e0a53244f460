// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker is a time.Ticker which fires according to a cron expression. Standard
// five field expressions and descriptors like "@every 1m" are accepted.
//
// Ticks are dropped while the receiver is busy, so slow work never queues up.
type Ticker struct {
	C <-chan time.Time

	c     chan time.Time
	done  chan struct{}
	sched *cron.Cron
}

func ForSchedule(spec string) (*Ticker, error) {
	if spec == "" {
		return nil, errors.New("missing schedule")
	}
	c := make(chan time.Time, 1)
	t := &Ticker{
		C:     c,
		c:     c,
		done:  make(chan struct{}),
		sched: cron.New(),
	}
	if _, err := t.sched.AddFunc(spec, t.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %v", spec, err)
	}
	t.sched.Start()
	return t, nil
}

func (t *Ticker) tick() {
	select {
	case <-t.done:
	case t.c <- time.Now():
	default:
	}
}

func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	if t.sched != nil {
		<-t.sched.Stop().Done()
	}
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"
	"sync"
)

type MockSink struct {
	mu        sync.Mutex
	summaries []Summary

	Err error
}

func (s *MockSink) FundsTransferred(_ context.Context, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = append(s.summaries, summary)
	return s.Err
}

func (s *MockSink) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

type MockAlerter struct {
	mu     sync.Mutex
	alerts []Alert

	Err error
}

func (a *MockAlerter) Critical(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.alerts = append(a.alerts, alert)
	return a.Err
}

func (a *MockAlerter) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"

	"github.com/moov-io/moneymovement/pkg/config"

	"github.com/go-kit/kit/log"
)

// Notifiers holds the Sink and Alerter built from config. Logging is always included.
type Notifiers struct {
	Sink    Sink
	Alerter Alerter

	stream *Stream
}

func FromConfig(ctx context.Context, logger log.Logger, cfg config.Notifications) (*Notifiers, error) {
	logging := NewLogging(logger)

	sinks := []Sink{logging}
	var stream *Stream
	if cfg.Stream != nil {
		topic, err := OpenTopic(ctx, cfg.Stream)
		if err != nil {
			return nil, err
		}
		stream = NewStream(logger, topic)
		sinks = append(sinks, stream)
	}

	alerters := []Alerter{logging}
	if cfg.PagerDuty != nil {
		pd, err := NewPagerDuty(logger, cfg.PagerDuty)
		if err != nil {
			stream.Shutdown(ctx)
			return nil, err
		}
		alerters = append(alerters, pd)
	}

	return &Notifiers{
		Sink:    NewMulti(logger, sinks...),
		Alerter: NewMultiAlerter(logger, alerters...),
		stream:  stream,
	}, nil
}

func (n *Notifiers) Shutdown(ctx context.Context) error {
	if n == nil {
		return nil
	}
	return n.stream.Shutdown(ctx)
}

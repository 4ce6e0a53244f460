// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"errors"
)

type Tracing struct {
	Jaeger *Jaeger
}

func (cfg Tracing) Validate() error {
	if cfg.Jaeger == nil {
		return nil
	}
	if cfg.Jaeger.ServiceName == "" {
		return errors.New("jaeger: missing service name")
	}
	if cfg.Jaeger.SampleRate < 0 || cfg.Jaeger.SampleRate > 1 {
		return errors.New("jaeger: sample rate must be between 0 and 1")
	}
	return nil
}

type Jaeger struct {
	ServiceName string

	// SampleRate of 0 or 1 records every span, anything in between samples
	// that fraction of spans.
	SampleRate float64
}

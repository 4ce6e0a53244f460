// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"time"
)

// Ports selects the investor and fund account providers. When both remote
// providers are missing the embedded provider is used.
type Ports struct {
	Embedded *EmbeddedPorts
	Investor *RemotePort
	Fund     *RemotePort
}

func (cfg Ports) Remote() bool {
	return cfg.Investor != nil && cfg.Fund != nil
}

func (cfg Ports) Validate() error {
	if (cfg.Investor == nil) != (cfg.Fund == nil) {
		return errors.New("investor and fund providers must be configured together")
	}
	if !cfg.Remote() && cfg.Embedded == nil {
		return errors.New("missing embedded or remote providers")
	}
	return nil
}

type EmbeddedPorts struct {
	// SettleAfter is how long withdrawals and deposits stay in progress.
	SettleAfter time.Duration
}

type RemotePort struct {
	Endpoint string
}

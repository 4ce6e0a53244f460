// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/moov-io/base/http/bind"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/viper"
)

type Config struct {
	Logger  log.Logger `yaml:"-" json:"-"`
	Logging Logging

	Http  HTTP
	Admin Admin

	Database Database

	Saga   Saga
	Tasks  Tasks
	Reaper Reaper

	Ports         Ports
	Notifications Notifications
	Tracing       Tracing
}

type Logging struct {
	Format string
	Level  string
}

type HTTP struct {
	BindAddress string
}

type Admin struct {
	BindAddress           string
	DisableConfigEndpoint bool
}

func Empty() *Config {
	return &Config{
		Logger: log.NewNopLogger(),
		Admin: Admin{
			BindAddress: bind.Admin("moneymovement"),
		},
		Http: HTTP{
			BindAddress: bind.HTTP("moneymovement"),
		},
		Database: Database{
			// Set the default path inside this path if no other database is defined.
			SQLite: &SQLite{
				Path: "moneymovement.db",
			},
		},
		Saga:   defaultSaga(),
		Tasks:  defaultTasks(),
		Reaper: defaultReaper(),
		Ports: Ports{
			Embedded: &EmbeddedPorts{},
		},
	}
}

func FromFile(path string) (*Config, error) {
	cfg := Empty()
	if path != "" {
		bs, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %v", path, err)
		}
		return Read(bs)
	}
	cfg = setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Read(data []byte) (*Config, error) {
	vip := viper.New()
	vip.SetConfigType("yaml")
	if err := vip.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("problem reading config: %v", err)
	}

	cfg := Empty()
	if err := vip.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("problem unmarshaling config: %v", err)
	}

	cfg = setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogger(cfg *Config) *Config {
	if strings.EqualFold(cfg.Logging.Format, "json") {
		cfg.Logger = log.NewJSONLogger(os.Stderr)
	} else {
		cfg.Logger = log.NewLogfmtLogger(os.Stderr)
	}

	cfg.Logger = log.With(cfg.Logger, "ts", log.DefaultTimestampUTC)
	cfg.Logger = log.With(cfg.Logger, "caller", log.DefaultCaller)

	cfg.Logger = level.NewFilter(cfg.Logger, levelOption(cfg.Logging.Level))

	return cfg
}

func levelOption(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	}
	// Log lines without a level are always kept, so "info" is our default.
	return level.AllowInfo()
}

// Validate checks a Config fields and performs various confirmations
// their values conform to expectations.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("missing Config")
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %v", err)
	}
	if err := cfg.Saga.Validate(); err != nil {
		return fmt.Errorf("saga: %v", err)
	}
	if err := cfg.Tasks.Validate(); err != nil {
		return fmt.Errorf("tasks: %v", err)
	}
	if err := cfg.Reaper.Validate(); err != nil {
		return fmt.Errorf("reaper: %v", err)
	}
	if err := cfg.Ports.Validate(); err != nil {
		return fmt.Errorf("ports: %v", err)
	}
	if err := cfg.Notifications.Validate(); err != nil {
		return fmt.Errorf("notifications: %v", err)
	}
	if err := cfg.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %v", err)
	}

	return nil
}

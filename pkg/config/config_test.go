// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	cfg, err := FromFile(filepath.Join("testdata", "valid.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Logger == nil {
		t.Fatal("nil Logger")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("cfg.Logging.Format=%s", cfg.Logging.Format)
	}
	if cfg.Http.BindAddress != ":8200" || cfg.Admin.BindAddress != ":9200" {
		t.Errorf("http=%#v admin=%#v", cfg.Http, cfg.Admin)
	}

	if cfg.Database.MySQL == nil || cfg.Database.MySQL.Database != "moneymovement" {
		t.Errorf("unexpected database: %#v", cfg.Database)
	}

	if cfg.Saga.PortRetries != 2 || cfg.Saga.PortTimeout != 10*time.Second {
		t.Errorf("unexpected saga: %#v", cfg.Saga)
	}
	if cfg.Saga.ConsumeSeats {
		t.Error("expected ConsumeSeats to be disabled")
	}
	if p := cfg.Saga.LedgerRetry.Policy(); p.Attempts != 3 || p.InitialBackoff != 5*time.Millisecond || p.MaxBackoff != 100*time.Millisecond {
		t.Errorf("unexpected retry policy: %#v", p)
	}

	if cfg.Tasks.Workers != 8 || cfg.Tasks.Lease != 30*time.Second {
		t.Errorf("unexpected tasks: %#v", cfg.Tasks)
	}
	// BatchSize isn't in the file so our default remains
	if cfg.Tasks.BatchSize != 10 {
		t.Errorf("BatchSize=%d", cfg.Tasks.BatchSize)
	}

	if cfg.Reaper.Schedule != "@every 30s" || cfg.Reaper.Deadline != 15*time.Minute {
		t.Errorf("unexpected reaper: %#v", cfg.Reaper)
	}

	if !cfg.Ports.Remote() || cfg.Ports.Fund.Endpoint != "http://localhost:8302" {
		t.Errorf("unexpected ports: %#v", cfg.Ports)
	}

	if cfg.Notifications.Stream.InMem.URL != "mem://funding-transactions" {
		t.Errorf("unexpected stream: %#v", cfg.Notifications.Stream)
	}
	if cfg.Notifications.PagerDuty.Key() != "R0UT1NGK3Y" {
		t.Errorf("unexpected pagerduty: %#v", cfg.Notifications.PagerDuty)
	}

	if cfg.Tracing.Jaeger == nil || cfg.Tracing.Jaeger.SampleRate != 0.5 {
		t.Errorf("unexpected tracing: %#v", cfg.Tracing)
	}
}

func TestConfig__defaults(t *testing.T) {
	cfg, err := FromFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.SQLite == nil || cfg.Database.SQLite.Path != "moneymovement.db" {
		t.Errorf("unexpected database: %#v", cfg.Database)
	}
	if !cfg.Saga.ConsumeSeats || cfg.Saga.PortRetries != 1 {
		t.Errorf("unexpected saga: %#v", cfg.Saga)
	}
	if cfg.Ports.Remote() || cfg.Ports.Embedded == nil {
		t.Errorf("expected embedded ports: %#v", cfg.Ports)
	}
	if !cfg.Reaper.Enabled() {
		t.Error("expected reaper")
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg, err := FromFile(filepath.Join("testdata", "invalid.yaml"))
	if err == nil {
		t.Error("expected error")
	}

	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	if _, err := FromFile(filepath.Join("testdata", "missing.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestReadConfig(t *testing.T) {
	conf := []byte(`Logging:
  Format: plain
Reaper:
  Schedule: ""
Notifications:
  Stream:
    Kafka:
      Brokers: ["localhost:9092"]
      Topic: funding-transactions
`)
	cfg, err := Read(conf)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reaper.Enabled() {
		t.Error("expected reaper to be disabled")
	}
	if k := cfg.Notifications.Stream.Kafka; k == nil || k.Topic != "funding-transactions" || len(k.Brokers) != 1 {
		t.Errorf("unexpected kafka config: %#v", cfg.Notifications.Stream)
	}
}

func TestConfig__Validate(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg = Empty()
	cfg.Reaper.Schedule = "every so often"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg = Empty()
	cfg.Saga.LedgerRetry.Attempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg = Empty()
	cfg.Database.SQLite = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg = Empty()
	cfg.Tracing.Jaeger = &Jaeger{ServiceName: "test", SampleRate: 2}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}
}

func TestNotifications(t *testing.T) {
	cfg := Notifications{
		Stream: &Stream{
			InMem: &InMemStream{
				URL: "", // intentionally left blank
			},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg.Stream.InMem = nil
	cfg.Stream.Kafka = &KafkaStream{
		Brokers: []string{},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}

	cfg.Stream = nil
	cfg.PagerDuty = &PagerDuty{RoutingKey: ""}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error")
	}
}

func TestMySQL__GetPassword(t *testing.T) {
	t.Setenv("MYSQL_PASSWORD", "")

	var cfg *MySQL
	if v := cfg.GetPassword(); v != "" {
		t.Errorf("got %q", v)
	}
	cfg = &MySQL{Password: "secret"}
	if v := cfg.GetPassword(); v != "secret" {
		t.Errorf("got %q", v)
	}

	t.Setenv("MYSQL_PASSWORD", "other")
	if v := cfg.GetPassword(); v != "other" {
		t.Errorf("got %q", v)
	}
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	kitprom "github.com/go-kit/kit/metrics/prometheus"
	"github.com/lopezator/migrator"
	"github.com/mattn/go-sqlite3"
	stdprom "github.com/prometheus/client_golang/prometheus"
)

var (
	sqliteConnections = kitprom.NewGaugeFrom(stdprom.GaugeOpts{
		Name: "sqlite_connections",
		Help: "How many sqlite connections and what status they're in.",
	}, []string{"state"})

	sqliteVersionLogOnce sync.Once

	sqliteMigrations = migrator.Migrations(
		execsql(
			"create_investor_accounts",
			`create table if not exists investor_accounts(investor_id primary key, external_id not null, balance_currency not null, balance_value not null, version integer not null default 1, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_fund_accounts",
			`create table if not exists fund_accounts(fund_id primary key, external_id not null, min_investment_currency not null, min_investment_value not null, seat_availability integer not null, balance_currency not null, balance_value not null, version integer not null default 1, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_funding_transactions",
			`create table if not exists funding_transactions(transaction_id primary key, investor_id not null, fund_id not null, amount_currency not null, amount_value not null, state not null, version integer not null default 1, withdrawal_id, deposit_id, failure_reason, notified_at datetime, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_funding_transactions__state_idx",
			`create index funding_transactions_state_idx on funding_transactions (state, modified_at);`,
		),
		execsql(
			"create_withdrawals",
			`create table if not exists withdrawals(withdrawal_id primary key, account_id not null, amount_currency not null, amount_value not null, state not null, idempotency_key not null, version integer not null default 1, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_withdrawals__idempotency_key_idx",
			`create unique index withdrawals_idempotency_key on withdrawals (idempotency_key);`,
		),
		execsql(
			"create_deposits",
			`create table if not exists deposits(deposit_id primary key, account_id not null, amount_currency not null, amount_value not null, state not null, idempotency_key not null, version integer not null default 1, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_deposits__idempotency_key_idx",
			`create unique index deposits_idempotency_key on deposits (idempotency_key);`,
		),
		execsql(
			"create_saga_tasks",
			`create table if not exists saga_tasks(task_id primary key, transaction_id not null, step not null, status not null, attempts integer not null default 0, next_run_at datetime not null, lease_until datetime, last_error, created_at datetime, modified_at datetime);`,
		),
		execsql(
			"create_saga_tasks__status_idx",
			`create index saga_tasks_status_idx on saga_tasks (status, next_run_at);`,
		),
	)
)

type sqlite struct {
	path string

	connections *kitprom.Gauge
	logger      log.Logger

	err error
}

func (s *sqlite) Connect(ctx context.Context) (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("nil %T", s)
	}
	if s.err != nil {
		return nil, fmt.Errorf("sqlite had error %v", s.err)
	}

	sqliteVersionLogOnce.Do(func() {
		if v, _, _ := sqlite3.Version(); v != "" {
			s.logger.Log("main", fmt.Sprintf("sqlite version %s", v))
		}
	})

	db, err := sql.Open("sqlite3", sqliteDSN(s.path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return db, err
	}

	// Migrate our database
	if m, err := migrator.New(sqliteMigrations); err != nil {
		return db, err
	} else {
		if err := m.Migrate(db); err != nil {
			return db, err
		}
	}

	// Spin up metrics only after everything works
	go func() {
		t := time.NewTicker(1 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				stats := db.Stats()
				s.connections.With("state", "idle").Set(float64(stats.Idle))
				s.connections.With("state", "inuse").Set(float64(stats.InUse))
				s.connections.With("state", "open").Set(float64(stats.OpenConnections))
			}
		}
	}()

	return db, err
}

// sqliteBusyTimeout is how long a writer waits on another connection's lock
// before SQLITE_BUSY is returned.
const sqliteBusyTimeout = 5 * time.Second

// sqliteDSN adds connection options to path. Transactions take the write lock
// when they begin, and concurrent writers wait up to sqliteBusyTimeout for it.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_txlock=immediate", path, sep, sqliteBusyTimeout.Milliseconds())
}

func sqliteConnection(logger log.Logger, path string) *sqlite {
	return &sqlite{
		path:        path,
		logger:      logger,
		connections: sqliteConnections,
	}
}

func getSqlitePath(path string) string {
	if v := os.Getenv("SQLITE_DB_PATH"); v != "" {
		path = v
	}
	if path == "" || strings.Contains(path, "..") {
		// set default if empty or trying to escape
		// don't filepath.ABS to avoid full-fs reads
		path = "moneymovement.db"
	}
	return path
}

// TestSQLiteDB is a wrapper around sql.DB for SQLite connections designed for tests to provide
// a clean database for each testcase.  Callers should cleanup with Close() when finished.
type TestSQLiteDB struct {
	DB *sql.DB

	dir string // temp dir created for sqlite files

	shutdown func() // context shutdown func
}

func (r *TestSQLiteDB) Close() error {
	r.shutdown()

	// Verify all connections are closed before closing DB
	if conns := r.DB.Stats().OpenConnections; conns != 0 {
		panic(fmt.Sprintf("found %d open sqlite connections", conns))
	}
	if err := r.DB.Close(); err != nil {
		return err
	}
	return os.RemoveAll(r.dir)
}

// CreateTestSqliteDB returns a TestSQLiteDB which can be used in tests
// as a clean sqlite database. All migrations are ran on the db before.
//
// Callers should call close on the returned *TestSQLiteDB.
func CreateTestSqliteDB(t *testing.T) *TestSQLiteDB {
	dir, err := ioutil.TempDir("", "moneymovement-sqlite")
	if err != nil {
		t.Fatalf("sqlite test: %v", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	db, err := sqliteConnection(log.NewNopLogger(), filepath.Join(dir, "moneymovement.db")).Connect(ctx)
	if err != nil {
		cancelFunc()
		t.Fatalf("sqlite test: %v", err)
	}

	// Don't allow idle connections so we can verify all are closed at the end of testing
	db.SetMaxIdleConns(0)

	return &TestSQLiteDB{DB: db, dir: dir, shutdown: cancelFunc}
}

// SqliteUniqueViolation returns true when the provided error matches the SQLite error
// for duplicate entries (violating a unique table constraint).
func SqliteUniqueViolation(err error) bool {
	match := strings.Contains(err.Error(), "UNIQUE constraint failed")
	if e, ok := err.(sqlite3.Error); ok {
		return match || e.Code == sqlite3.ErrConstraint
	}
	return match
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/moov-io/base/docker"

	"github.com/go-kit/kit/log"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
)

var (
	// mySQLErrDuplicateKey is the error code for duplicate entries
	// https://dev.mysql.com/doc/refman/8.0/en/server-error-reference.html#error_er_dup_entry
	mySQLErrDuplicateKey uint16 = 1062
)

type discardLogger struct{}

func (l discardLogger) Print(v ...interface{}) {}

func init() {
	gomysql.SetLogger(discardLogger{})
}

type mysql struct {
	dsn string

	migrations []string
	logger     log.Logger
}

func (my *mysql) Connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("mysql", my.dsn)
	if err != nil {
		return nil, err
	}

	// Check out DB is up and working
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// Run our migrations
	for i := range my.migrations {
		slug := my.migrations[i]
		if len(slug) > 40 {
			slug = slug[:40]
		}
		res, err := db.ExecContext(ctx, my.migrations[i])
		if err != nil {
			return nil, fmt.Errorf("migration #%d [%s...] had problem: %v", i, slug, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			my.logger.Log("mysql", fmt.Sprintf("migration #%d [%s...] changed %d rows", i, slug, n))
		}
	}

	return db, nil
}

func mysqlConnection(logger log.Logger, user, pass string, address string, database string) *mysql {
	dsn := fmt.Sprintf("%s:%s@%s/%s?%s", user, pass, address, database, "timeout=30s&tls=false&charset=utf8mb4&parseTime=true&loc=UTC")
	return &mysql{
		dsn:    dsn,
		logger: logger,
		migrations: []string{
			// Ledger
			`create table if not exists investor_accounts(investor_id varchar(40) primary key, external_id varchar(100) not null, balance_currency varchar(3) not null, balance_value varchar(40) not null, version bigint not null default 1, created_at datetime(6), modified_at datetime(6));`,
			`create table if not exists fund_accounts(fund_id varchar(40) primary key, external_id varchar(100) not null, min_investment_currency varchar(3) not null, min_investment_value varchar(40) not null, seat_availability int not null, balance_currency varchar(3) not null, balance_value varchar(40) not null, version bigint not null default 1, created_at datetime(6), modified_at datetime(6));`,

			// Funding Transactions
			`create table if not exists funding_transactions(transaction_id varchar(40) primary key, investor_id varchar(40) not null, fund_id varchar(40) not null, amount_currency varchar(3) not null, amount_value varchar(40) not null, state varchar(30) not null, version bigint not null default 1, withdrawal_id varchar(40), deposit_id varchar(40), failure_reason varchar(250), notified_at datetime(6), created_at datetime(6), modified_at datetime(6), index funding_transactions_state_idx (state, modified_at));`,

			// Embedded account provider
			`create table if not exists withdrawals(withdrawal_id varchar(40) primary key, account_id varchar(100) not null, amount_currency varchar(3) not null, amount_value varchar(40) not null, state varchar(20) not null, idempotency_key varchar(100) not null, version bigint not null default 1, created_at datetime(6), modified_at datetime(6), unique index withdrawals_idempotency_key (idempotency_key));`,
			`create table if not exists deposits(deposit_id varchar(40) primary key, account_id varchar(100) not null, amount_currency varchar(3) not null, amount_value varchar(40) not null, state varchar(20) not null, idempotency_key varchar(100) not null, version bigint not null default 1, created_at datetime(6), modified_at datetime(6), unique index deposits_idempotency_key (idempotency_key));`,

			// Saga tasks
			`create table if not exists saga_tasks(task_id varchar(40) primary key, transaction_id varchar(40) not null, step varchar(30) not null, status varchar(20) not null, attempts int not null default 0, next_run_at datetime(6) not null, lease_until datetime(6), last_error varchar(250), created_at datetime(6), modified_at datetime(6), index saga_tasks_status_idx (status, next_run_at));`,
		},
	}
}

// TestMySQLDB is a wrapper around sql.DB for MySQL connections designed for tests to provide
// a clean database for each testcase.  Callers should cleanup with Close() when finished.
type TestMySQLDB struct {
	DB *sql.DB

	container *dockertest.Resource
}

func (r *TestMySQLDB) Close() error {
	r.container.Close()
	return r.DB.Close()
}

// CreateTestMySQLDB returns a TestMySQLDB which can be used in tests
// as a clean mysql database. All migrations are ran on the db before.
//
// Callers should call close on the returned *TestMySQLDB.
func CreateTestMySQLDB(t *testing.T) *TestMySQLDB {
	if testing.Short() {
		t.Skip("-short flag enabled")
	}
	if !docker.Enabled() {
		t.Skip("Docker not enabled")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatal(err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8",
		Env: []string{
			"MYSQL_USER=moov",
			"MYSQL_PASSWORD=secret",
			"MYSQL_ROOT_PASSWORD=secret",
			"MYSQL_DATABASE=moneymovement",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = pool.Retry(func() error {
		db, err := sql.Open("mysql", fmt.Sprintf("moov:secret@tcp(localhost:%s)/moneymovement", resource.GetPort("3306/tcp")))
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	})
	if err != nil {
		resource.Close()
		t.Fatal(err)
	}

	logger := log.NewNopLogger()
	address := fmt.Sprintf("tcp(localhost:%s)", resource.GetPort("3306/tcp"))

	db, err := mysqlConnection(logger, "moov", "secret", address, "moneymovement").Connect(context.Background())
	if err != nil {
		resource.Close()
		t.Fatal(err)
	}
	return &TestMySQLDB{db, resource}
}

// MySQLUniqueViolation returns true when the provided error matches the MySQL code
// for duplicate entries (violating a unique table constraint).
func MySQLUniqueViolation(err error) bool {
	match := strings.Contains(err.Error(), fmt.Sprintf("Error %d: Duplicate entry", mySQLErrDuplicateKey))
	if e, ok := err.(*gomysql.MySQLError); ok {
		return match || e.Number == mySQLErrDuplicateKey
	}
	return match
}

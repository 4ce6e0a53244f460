// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/util"

	"github.com/go-kit/kit/log"
	"github.com/lopezator/migrator"
)

// New establishes a database connection according to the config and runs all
// migrations. MySQL is used when it's configured, otherwise SQLite.
func New(ctx context.Context, logger log.Logger, cfg config.Database) (*sql.DB, error) {
	if my := cfg.MySQL; my != nil {
		logger.Log("database", "looking for mysql database provider")
		user := util.Or(os.Getenv("MYSQL_USER"), my.Username)
		return mysqlConnection(logger, user, my.GetPassword(), my.Address, my.Database).Connect(ctx)
	}
	if cfg.SQLite != nil {
		logger.Log("database", "looking for sqlite database provider")
		return sqliteConnection(logger, getSqlitePath(cfg.SQLite.Path)).Connect(ctx)
	}
	return nil, fmt.Errorf("unknown database config: %#v", cfg)
}

func execsql(name, raw string) *migrator.MigrationNoTx {
	return &migrator.MigrationNoTx{
		Name: name,
		Func: func(db *sql.DB) error {
			_, err := db.Exec(raw)
			return err
		},
	}
}

// UniqueViolation returns true when the provided error matches a database error
// for duplicate entries (violating a unique table constraint).
func UniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return MySQLUniqueViolation(err) || SqliteUniqueViolation(err)
}

// RollbackWithError attempts a rollback of tx and returns err annotated with
// any problem from the rollback itself.
func RollbackWithError(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil && !strings.Contains(rbErr.Error(), "already been committed or rolled back") {
		return fmt.Errorf("%w (rollback: %v)", err, rbErr)
	}
	return err
}

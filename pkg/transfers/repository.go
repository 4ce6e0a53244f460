// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package transfers

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/database"
	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/pkg/tasks"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	transitionsCounter = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Counter of committed funding transaction state changes",
	}, []string{"from", "to"})
)

// Change is written along with a state transition. Empty fields keep their
// stored value.
type Change struct {
	WithdrawalID  string
	DepositID     string
	FailureReason string

	// Posting is a ledger balance change written in the same database transaction.
	Posting *ledger.Posting

	// Next is inserted in the same database transaction, so it only runs if the
	// transition was committed.
	Next *tasks.Task
}

type Repository interface {
	// Create saves an INITIATED transaction along with its first task, if any.
	Create(txn *FundingTransaction, next *tasks.Task) error
	Get(transactionID id.Transaction) (*FundingTransaction, error)

	// Transition commits txn's move to target, conditional on the stored version and
	// state still matching txn. ledger.ErrConcurrentModification is returned otherwise.
	// txn is only updated after a successful commit.
	Transition(txn *FundingTransaction, target State, change Change) error

	// ListStale returns non-terminal transactions last modified before cutoff.
	ListStale(cutoff time.Time, limit int) ([]*FundingTransaction, error)

	// MarkNotified claims the notification of a completed transaction. Only the
	// first caller gets true.
	MarkNotified(transactionID id.Transaction) (bool, error)
}

func NewRepo(db *sql.DB) Repository {
	return &sqlRepo{db: db}
}

type sqlRepo struct {
	db *sql.DB
}

func (r *sqlRepo) Create(txn *FundingTransaction, next *tasks.Task) error {
	if txn.State() != Initiated {
		return fmt.Errorf("transaction=%s created in %s", txn.ID, txn.State())
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	query := `insert into funding_transactions (transaction_id, investor_id, fund_id, amount_currency, amount_value, state, version, created_at, modified_at) values (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err = tx.Exec(query, txn.ID, txn.InvestorID, txn.FundID, txn.Amount.Currency(), txn.Amount.Value(), txn.State(), txn.Version, txn.Created, txn.Modified)
	if err != nil {
		return database.RollbackWithError(tx, fmt.Errorf("creating transaction=%s: %w", txn.ID, err))
	}
	if next != nil {
		if err := tasks.Insert(tx, next); err != nil {
			return database.RollbackWithError(tx, err)
		}
	}
	return tx.Commit()
}

const transactionColumns = `transaction_id, investor_id, fund_id, amount_currency, amount_value, state, version, withdrawal_id, deposit_id, failure_reason, notified_at, created_at, modified_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*FundingTransaction, error) {
	var (
		txn                            FundingTransaction
		currency, value                string
		state                          State
		withdrawalID, depositID, cause sql.NullString
		notified                       sql.NullTime
	)
	err := row.Scan(&txn.ID, &txn.InvestorID, &txn.FundID, &currency, &value, &state, &txn.Version, &withdrawalID, &depositID, &cause, &notified, &txn.Created, &txn.Modified)
	if err != nil {
		return nil, err
	}
	if txn.Amount, err = model.NewMoney(currency, value); err != nil {
		return nil, fmt.Errorf("transaction=%s amount: %v", txn.ID, err)
	}
	if err := txn.rehydrate(state); err != nil {
		return nil, err
	}
	txn.WithdrawalID = withdrawalID.String
	txn.DepositID = depositID.String
	txn.FailureReason = cause.String
	if notified.Valid {
		t := notified.Time
		txn.NotifiedAt = &t
	}
	return &txn, nil
}

func (r *sqlRepo) Get(transactionID id.Transaction) (*FundingTransaction, error) {
	query := `select ` + transactionColumns + ` from funding_transactions where transaction_id = ? limit 1;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	txn, err := scanTransaction(stmt.QueryRow(transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction=%s: %w", transactionID, ErrNotFound)
		}
		return nil, err
	}
	return txn, nil
}

func (r *sqlRepo) Transition(txn *FundingTransaction, target State, change Change) error {
	from := txn.State()
	next := *txn
	if err := next.Transition(target); err != nil {
		return err
	}
	applyChange(&next, change)
	next.Version = txn.Version + 1
	next.Modified = time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	// The update goes first so SQLite takes its write lock before any other statement.
	query := `update funding_transactions set state = ?, version = ?, withdrawal_id = ?, deposit_id = ?, failure_reason = ?, modified_at = ?
where transaction_id = ? and version = ? and state = ?;`
	res, err := tx.Exec(query, next.State(), next.Version, nullable(next.WithdrawalID), nullable(next.DepositID), nullable(next.FailureReason), next.Modified, txn.ID, txn.Version, from)
	if err != nil {
		return database.RollbackWithError(tx, fmt.Errorf("transition transaction=%s: %w", txn.ID, err))
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		if err == nil {
			err = fmt.Errorf("transaction=%s version=%d state=%s: %w", txn.ID, txn.Version, from, ledger.ErrConcurrentModification)
		}
		return database.RollbackWithError(tx, err)
	}
	if err := change.Posting.Post(tx); err != nil {
		return database.RollbackWithError(tx, fmt.Errorf("transition transaction=%s: %w", txn.ID, err))
	}
	if change.Next != nil {
		if err := tasks.Insert(tx, change.Next); err != nil {
			return database.RollbackWithError(tx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	transitionsCounter.With("from", string(from), "to", string(target)).Add(1)
	*txn = next
	return nil
}

func applyChange(txn *FundingTransaction, change Change) {
	if change.WithdrawalID != "" {
		txn.WithdrawalID = change.WithdrawalID
	}
	if change.DepositID != "" {
		txn.DepositID = change.DepositID
	}
	if change.FailureReason != "" {
		txn.FailureReason = change.FailureReason
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *sqlRepo) ListStale(cutoff time.Time, limit int) ([]*FundingTransaction, error) {
	query := `select ` + transactionColumns + ` from funding_transactions
where state not in (?, ?) and modified_at < ? order by modified_at asc limit ?;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.Query(DepositCompleted, Failed, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FundingTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale transactions: %v", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (r *sqlRepo) MarkNotified(transactionID id.Transaction) (bool, error) {
	query := `update funding_transactions set notified_at = ? where transaction_id = ? and state = ? and notified_at is null;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	res, err := stmt.Exec(time.Now().UTC(), transactionID, DepositCompleted)
	if err != nil {
		return false, fmt.Errorf("marking transaction=%s notified: %v", transactionID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

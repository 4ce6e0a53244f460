// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package tasks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moov-io/moneymovement/pkg/id"
)

type Repository interface {
	Enqueue(task *Task) error

	Get(taskID id.Task) (*Task, error)
	List(status Status, limit int) ([]*Task, error)

	// Claim leases up to limit due tasks. Pending tasks are due once their next_run_at
	// passes, running tasks once their lease has expired.
	Claim(lease time.Duration, limit int) ([]*Task, error)

	Complete(taskID id.Task) error
	Reschedule(taskID id.Task, attempts int, nextRunAt time.Time, lastError string) error
	Fail(taskID id.Task, lastError string) error

	// Requeue makes a failed task pending again with its attempts reset.
	Requeue(taskID id.Task) error
}

// Execer is satisfied by both *sql.DB and *sql.Tx, so tasks can be written inside
// another repository's transaction.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Insert writes task with exec, typically a *sql.Tx which also holds the state
// change that produced the task.
func Insert(exec Execer, task *Task) error {
	if task == nil {
		return errors.New("nil Task")
	}
	query := `insert into saga_tasks (task_id, transaction_id, step, status, attempts, next_run_at, created_at, modified_at) values (?, ?, ?, ?, ?, ?, ?, ?);`
	_, err := exec.Exec(query, task.ID, task.TransactionID, task.Step, task.Status, task.Attempts, task.NextRunAt, task.Created, task.Modified)
	if err != nil {
		return fmt.Errorf("inserting task=%s step=%s: %w", task.ID, task.Step, err)
	}
	return nil
}

func NewRepo(db *sql.DB) Repository {
	return &sqlRepo{db: db}
}

type sqlRepo struct {
	db *sql.DB
}

func (r *sqlRepo) Enqueue(task *Task) error {
	return Insert(r.db, task)
}

const taskColumns = `task_id, transaction_id, step, status, attempts, next_run_at, lease_until, last_error, created_at, modified_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		task      Task
		lease     sql.NullTime
		lastError sql.NullString
	)
	err := row.Scan(&task.ID, &task.TransactionID, &task.Step, &task.Status, &task.Attempts, &task.NextRunAt, &lease, &lastError, &task.Created, &task.Modified)
	if err != nil {
		return nil, err
	}
	if lease.Valid {
		t := lease.Time
		task.LeaseUntil = &t
	}
	task.LastError = lastError.String
	return &task, nil
}

func (r *sqlRepo) Get(taskID id.Task) (*Task, error) {
	query := `select ` + taskColumns + ` from saga_tasks where task_id = ? limit 1;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	task, err := scanTask(stmt.QueryRow(taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task=%s: %w", taskID, ErrNotFound)
		}
		return nil, err
	}
	return task, nil
}

func (r *sqlRepo) List(status Status, limit int) ([]*Task, error) {
	query := `select ` + taskColumns + ` from saga_tasks where status = ? order by created_at desc limit ?;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.Query(status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %v", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (r *sqlRepo) dueTaskIDs(now time.Time, limit int) ([]id.Task, error) {
	query := `select task_id from saga_tasks
where (status = 'pending' and next_run_at <= ?) or (status = 'running' and lease_until <= ?)
order by next_run_at asc limit ?;`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.Query(now, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []id.Task
	for rows.Next() {
		var taskID id.Task
		if err := rows.Scan(&taskID); err != nil {
			return nil, err
		}
		out = append(out, taskID)
	}
	return out, rows.Err()
}

func (r *sqlRepo) Claim(lease time.Duration, limit int) ([]*Task, error) {
	now := time.Now().UTC()
	taskIDs, err := r.dueTaskIDs(now, limit)
	if err != nil {
		return nil, fmt.Errorf("finding due tasks: %v", err)
	}

	query := `update saga_tasks set status = 'running', attempts = attempts + 1, lease_until = ?, modified_at = ?
where task_id = ? and ((status = 'pending' and next_run_at <= ?) or (status = 'running' and lease_until <= ?));`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var claimed []*Task
	for i := range taskIDs {
		res, err := stmt.Exec(now.Add(lease), now, taskIDs[i], now, now)
		if err != nil {
			return claimed, fmt.Errorf("claiming task=%s: %v", taskIDs[i], err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // another worker got it
		}
		task, err := r.Get(taskIDs[i])
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

func (r *sqlRepo) update(taskID id.Task, query string, args ...interface{}) error {
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.Exec(args...)
	if err != nil {
		return fmt.Errorf("updating task=%s: %v", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task=%s: %w", taskID, ErrNotFound)
	}
	return nil
}

func (r *sqlRepo) Complete(taskID id.Task) error {
	query := `update saga_tasks set status = 'done', lease_until = null, modified_at = ? where task_id = ? and status = 'running';`
	return r.update(taskID, query, time.Now().UTC(), taskID)
}

func (r *sqlRepo) Reschedule(taskID id.Task, attempts int, nextRunAt time.Time, lastError string) error {
	query := `update saga_tasks set status = 'pending', attempts = ?, next_run_at = ?, lease_until = null, last_error = ?, modified_at = ?
where task_id = ? and status = 'running';`
	return r.update(taskID, query, attempts, nextRunAt.UTC(), lastError, time.Now().UTC(), taskID)
}

func (r *sqlRepo) Fail(taskID id.Task, lastError string) error {
	query := `update saga_tasks set status = 'failed', lease_until = null, last_error = ?, modified_at = ? where task_id = ? and status = 'running';`
	return r.update(taskID, query, lastError, time.Now().UTC(), taskID)
}

func (r *sqlRepo) Requeue(taskID id.Task) error {
	now := time.Now().UTC()
	query := `update saga_tasks set status = 'pending', attempts = 0, next_run_at = ?, modified_at = ? where task_id = ? and status = 'failed';`
	return r.update(taskID, query, now, now, taskID)
}

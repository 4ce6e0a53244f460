// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
)

// ErrStaleAccount is returned by Posting.Post when the account changed after the
// posting was prepared. Nothing was written and the posting can be prepared again.
var ErrStaleAccount = errors.New("account changed since it was read")

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Posting is a balance change computed from one read of an account. Post writes it
// inside another repository's database transaction, so the change commits or rolls
// back together with that transaction.
type Posting struct {
	investorID id.Investor
	fundID     id.Fund

	balance model.Money
	seats   int

	// version the account had when it was read
	version int64
}

// Post writes the balance change with exec, conditional on the account version it
// was prepared from.
func (p *Posting) Post(exec Execer) error {
	if p == nil {
		return nil
	}
	var err error
	if p.fundID != "" {
		err = updateFund(exec, p.fundID, p.balance, p.seats, p.version)
	} else {
		err = updateInvestorBalance(exec, p.investorID, p.balance, p.version)
	}
	if errors.Is(err, ErrConcurrentModification) {
		return fmt.Errorf("%v version=%d: %w", p, p.version, ErrStaleAccount)
	}
	return err
}

// apply writes the posting through repo on its own.
func (p *Posting) apply(repo Repository) error {
	if p.fundID != "" {
		return repo.UpdateFund(p.fundID, p.balance, p.seats, p.version)
	}
	return repo.UpdateInvestorBalance(p.investorID, p.balance, p.version)
}

// Version is the account's version once the posting is written.
func (p *Posting) Version() int64 {
	return p.version + 1
}

func (p *Posting) String() string {
	if p.fundID != "" {
		return fmt.Sprintf("fund=%s", p.fundID)
	}
	return fmt.Sprintf("investor=%s", p.investorID)
}

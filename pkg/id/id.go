// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package id

import (
	"strings"

	"github.com/moov-io/base"
)

type Investor string

func (id Investor) String() string {
	return string(id)
}

type Fund string

func (id Fund) String() string {
	return string(id)
}

// Transaction identifies a FundingTransaction. It's also used as the idempotency
// key for calls made to account providers on behalf of the transaction.
type Transaction string

func NewTransaction() Transaction {
	return Transaction(base.ID())
}

func (id Transaction) String() string {
	return string(id)
}

func (id Transaction) Equal(s string) bool {
	return strings.EqualFold(string(id), s)
}

type Task string

func NewTask() Task {
	return Task(base.ID())
}

func (id Task) String() string {
	return string(id)
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package transfers

import (
	"github.com/moov-io/moneymovement/pkg/tasks"
)

// Steps of the saga, each is run as a task.
const (
	StepWithdraw          tasks.Step = "withdraw"
	StepConfirmWithdrawal tasks.Step = "confirm-withdrawal"
	StepDeposit           tasks.Step = "deposit"
	StepConfirmDeposit    tasks.Step = "confirm-deposit"
	StepNotify            tasks.Step = "notify"
)

// Precondition returns the state a transaction must be in for step to run.
func Precondition(step tasks.Step) (State, bool) {
	switch step {
	case StepWithdraw:
		return Initiated, true
	case StepConfirmWithdrawal:
		return WithdrawalPending, true
	case StepDeposit:
		return WithdrawalCompleted, true
	case StepConfirmDeposit:
		return DepositPending, true
	case StepNotify:
		return DepositCompleted, true
	}
	return "", false
}

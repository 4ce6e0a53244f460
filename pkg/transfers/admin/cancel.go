// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/transfers"
	"github.com/moov-io/moneymovement/x/route"

	"github.com/go-kit/kit/log"
	moovhttp "github.com/moov-io/base/http"
)

type statusRequest struct {
	Status transfers.State `json:"status"`
	Reason string          `json:"reason"`
}

func updateTransferStatus(logger log.Logger, repo transfers.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}

		var request statusRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			moovhttp.Problem(w, err)
			return
		}

		transactionID := route.ReadTransactionID(r)
		existing, err := repo.Get(transactionID)
		if err != nil {
			if errors.Is(err, transfers.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			moovhttp.Problem(w, fmt.Errorf("initial read: %v", err))
			return
		}
		if err := validStatusTransition(existing, request.Status); err != nil {
			moovhttp.Problem(w, err)
			return
		}

		reason := request.Reason
		if reason == "" {
			reason = "cancelled by operator"
		}
		if err := repo.Transition(existing, request.Status, transfers.Change{FailureReason: reason}); err != nil {
			if errors.Is(err, ledger.ErrConcurrentModification) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			moovhttp.Problem(w, err)
			return
		}
		logger.Log("admin", fmt.Sprintf("moved transaction to %s", request.Status), "transactionID", transactionID, "reason", reason)

		w.WriteHeader(http.StatusOK)
	}
}

// validStatusTransition only lets operators cancel transactions before a withdrawal
// was requested from the investor's provider.
func validStatusTransition(txn *transfers.FundingTransaction, proposed transfers.State) error {
	if proposed != transfers.Failed {
		return fmt.Errorf("unable to move transaction=%s into %s", txn.ID, proposed)
	}
	if txn.WithdrawalID != "" {
		return fmt.Errorf("unable to cancel transaction=%s, withdrawal %s was already requested", txn.ID, txn.WithdrawalID)
	}
	if txn.State() != transfers.Initiated {
		return fmt.Errorf("unable to cancel transaction=%s in %s", txn.ID, txn.State())
	}
	return nil
}

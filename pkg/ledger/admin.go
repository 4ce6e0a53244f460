// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/moov-io/base"
	"github.com/moov-io/base/admin"
	moovhttp "github.com/moov-io/base/http"
	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
)

// RegisterAdminRoutes adds endpoints for operators to create and inspect accounts.
func RegisterAdminRoutes(logger log.Logger, svc *admin.Server, repo Repository) {
	svc.AddHandler("/accounts/investors", createInvestor(logger, repo))
	svc.AddHandler("/accounts/investors/{investorID}", getInvestor(logger, repo))
	svc.AddHandler("/accounts/funds", createFund(logger, repo))
	svc.AddHandler("/accounts/funds/{fundID}", getFund(logger, repo))
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func problem(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrAccountNotFound) {
		http.NotFound(w, r)
		return
	}
	moovhttp.Problem(w, err)
}

type createInvestorRequest struct {
	InvestorID string      `json:"investorID"`
	ExternalID string      `json:"externalID"`
	Balance    model.Money `json:"balance"`
}

func createInvestor(logger log.Logger, repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}

		var req createInvestorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			moovhttp.Problem(w, err)
			return
		}
		acct := &InvestorAccount{
			ID:         id.Investor(req.InvestorID),
			ExternalID: req.ExternalID,
			Balance:    req.Balance,
		}
		if acct.ID == "" {
			acct.ID = id.Investor(base.ID())
		}
		if err := repo.CreateInvestor(acct); err != nil {
			moovhttp.Problem(w, err)
			return
		}
		logger.Log("ledger", fmt.Sprintf("created investor=%s with %v", acct.ID, acct.Balance))

		respond(w, http.StatusCreated, acct)
	}
}

func getInvestor(logger log.Logger, repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}
		acct, err := repo.GetInvestor(id.Investor(mux.Vars(r)["investorID"]))
		if err != nil {
			problem(w, r, err)
			return
		}
		respond(w, http.StatusOK, acct)
	}
}

type createFundRequest struct {
	FundID           string       `json:"fundID"`
	ExternalID       string       `json:"externalID"`
	MinInvestment    model.Money  `json:"minInvestment"`
	SeatAvailability int          `json:"seatAvailability"`
	Balance          *model.Money `json:"balance"`
}

func createFund(logger log.Logger, repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}

		var req createFundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			moovhttp.Problem(w, err)
			return
		}
		acct := &FundAccount{
			ID:               id.Fund(req.FundID),
			ExternalID:       req.ExternalID,
			MinInvestment:    req.MinInvestment,
			SeatAvailability: req.SeatAvailability,
			Balance:          model.Zero(req.MinInvestment.Currency()),
		}
		if req.Balance != nil {
			acct.Balance = *req.Balance
		}
		if acct.ID == "" {
			acct.ID = id.Fund(base.ID())
		}
		if err := repo.CreateFund(acct); err != nil {
			moovhttp.Problem(w, err)
			return
		}
		logger.Log("ledger", fmt.Sprintf("created fund=%s with %d seats", acct.ID, acct.SeatAvailability))

		respond(w, http.StatusCreated, acct)
	}
}

func getFund(logger log.Logger, repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}
		acct, err := repo.GetFund(id.Fund(mux.Vars(r)["fundID"]))
		if err != nil {
			problem(w, r, err)
			return
		}
		respond(w, http.StatusOK, acct)
	}
}

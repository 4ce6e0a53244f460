// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package funds

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moov-io/moneymovement/x/route"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
)

// Router serves providers over HTTP with the routes NewInvestorClient and
// NewFundClient expect. It lets one instance act as the remote provider for others.
type Router struct {
	logger    log.Logger
	investors InvestorFunds
	deposits  FundDeposits
}

func NewRouter(logger log.Logger, investors InvestorFunds, deposits FundDeposits) *Router {
	return &Router{
		logger:    logger,
		investors: investors,
		deposits:  deposits,
	}
}

func (c *Router) RegisterRoutes(r *mux.Router) {
	route.PingRoute(c.logger, r)

	r.Methods("GET").Path("/accounts/{accountID}/balance").HandlerFunc(c.checkBalance)
	r.Methods("POST").Path("/accounts/{accountID}/withdrawals").HandlerFunc(c.withdraw)
	r.Methods("GET").Path("/accounts/{accountID}/withdrawals/{operationID}").HandlerFunc(c.withdrawalStatus)
	r.Methods("POST").Path("/accounts/{accountID}/deposits").HandlerFunc(c.deposit)
	r.Methods("GET").Path("/accounts/{accountID}/deposits/{operationID}").HandlerFunc(c.depositStatus)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Router) problem(responder *route.Responder, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAccountMismatch):
		status = http.StatusConflict
	}
	responder.Log("funds", "request failed", "error", err)
	responder.JSON(status, errorResponse{Error: err.Error()})
}

func (c *Router) checkBalance(w http.ResponseWriter, r *http.Request) {
	responder := route.NewResponder(c.logger, w, r)
	if responder.Done() {
		return
	}
	balance, err := c.investors.CheckBalance(responder.Context(), route.ReadPathID("accountID", r))
	if err != nil {
		c.problem(responder, err)
		return
	}
	responder.JSON(http.StatusOK, balanceResponse{Balance: balance})
}

func readOperationRequest(r *http.Request) (operationRequest, error) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if !req.Amount.IsPositive() {
		return req, errors.New("amount must be positive")
	}
	return req, nil
}

func (c *Router) withdraw(w http.ResponseWriter, r *http.Request) {
	responder := route.NewResponder(c.logger, w, r)
	if responder.Done() {
		return
	}
	req, err := readOperationRequest(r)
	if err != nil {
		responder.Problem(err)
		return
	}
	withdrawal, err := c.investors.WithdrawFunds(responder.Context(), route.ReadPathID("accountID", r), req.Amount, req.IdempotencyKey)
	if err != nil {
		c.problem(responder, err)
		return
	}
	responder.JSON(http.StatusOK, withdrawal)
}

func (c *Router) withdrawalStatus(w http.ResponseWriter, r *http.Request) {
	responder := route.NewResponder(c.logger, w, r)
	if responder.Done() {
		return
	}
	state, err := c.investors.WithdrawalStatus(responder.Context(), route.ReadPathID("operationID", r), route.ReadPathID("accountID", r))
	if err != nil {
		c.problem(responder, err)
		return
	}
	responder.JSON(http.StatusOK, statusResponse{State: state})
}

func (c *Router) deposit(w http.ResponseWriter, r *http.Request) {
	responder := route.NewResponder(c.logger, w, r)
	if responder.Done() {
		return
	}
	req, err := readOperationRequest(r)
	if err != nil {
		responder.Problem(err)
		return
	}
	deposit, err := c.deposits.DepositFunds(responder.Context(), route.ReadPathID("accountID", r), req.Amount, req.IdempotencyKey)
	if err != nil {
		c.problem(responder, err)
		return
	}
	responder.JSON(http.StatusOK, deposit)
}

func (c *Router) depositStatus(w http.ResponseWriter, r *http.Request) {
	responder := route.NewResponder(c.logger, w, r)
	if responder.Done() {
		return
	}
	state, err := c.deposits.DepositStatus(responder.Context(), route.ReadPathID("operationID", r), route.ReadPathID("accountID", r))
	if err != nil {
		c.problem(responder, err)
		return
	}
	responder.JSON(http.StatusOK, statusResponse{State: state})
}

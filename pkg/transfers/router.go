// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package transfers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/moov-io/moneymovement/pkg/id"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/x/route"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
)

type Router struct {
	Logger  log.Logger
	Service *Service

	CreateTransfer http.HandlerFunc
	GetTransfer    http.HandlerFunc
}

func NewRouter(logger log.Logger, svc *Service) *Router {
	return &Router{
		Logger:         logger,
		Service:        svc,
		CreateTransfer: CreateTransfer(logger, svc),
		GetTransfer:    GetTransfer(logger, svc),
	}
}

func (c *Router) RegisterRoutes(r *mux.Router) {
	r.Methods("POST").Path("/transfer").HandlerFunc(c.CreateTransfer)
	r.Methods("GET").Path("/transfer/{transactionID}").HandlerFunc(c.GetTransfer)
}

type transferRequest struct {
	InvestorID string      `json:"investor_id"`
	FundID     string      `json:"fund_id"`
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency,omitempty"`
}

func (req transferRequest) asRequest() (Request, error) {
	if req.Amount == "" {
		return Request{}, invalid("missing amount")
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	amount, err := model.NewMoney(currency, req.Amount.String())
	if err != nil {
		return Request{}, invalid("%v", err)
	}
	return Request{
		InvestorID: id.Investor(strings.TrimSpace(req.InvestorID)),
		FundID:     id.Fund(strings.TrimSpace(req.FundID)),
		Amount:     amount,
	}, nil
}

// TransferStatus is the body of every /transfer response.
type TransferStatus struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	TransactionID id.Transaction `json:"transaction_id,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

func CreateTransfer(logger log.Logger, svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responder := route.NewResponder(logger, w, r)
		if responder.Done() {
			return
		}

		var body transferRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			responder.JSON(http.StatusBadRequest, TransferStatus{
				Status:  "failure",
				Message: fmt.Sprintf("invalid request: %v", err),
			})
			return
		}
		req, err := body.asRequest()
		if err == nil {
			var txn *FundingTransaction
			txn, err = svc.Initiate(responder.Context(), req)
			if err == nil {
				responder.JSON(http.StatusAccepted, TransferStatus{
					Status:        "success",
					Message:       "Transfer initiated",
					TransactionID: txn.ID,
				})
				return
			}
		}

		var verr *ValidationError
		if errors.As(err, &verr) {
			responder.Log("transfers", "rejected transfer request", "error", err)
			responder.JSON(http.StatusBadRequest, TransferStatus{
				Status:        "failure",
				Message:       verr.Error(),
				TransactionID: verr.TransactionID,
			})
			return
		}
		responder.Log("transfers", "problem initiating transfer", "error", err)
		responder.JSON(http.StatusInternalServerError, TransferStatus{
			Status:  "failure",
			Message: "internal error",
		})
	}
}

func GetTransfer(logger log.Logger, svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responder := route.NewResponder(logger, w, r)
		if responder.Done() {
			return
		}

		transactionID := route.ReadTransactionID(r)
		txn, err := svc.Status(responder.Context(), transactionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				responder.JSON(http.StatusNotFound, TransferStatus{
					Status:  "failure",
					Message: "Transfer not found",
				})
				return
			}
			responder.Log("transfers", "problem reading transfer", "transactionID", transactionID, "error", err)
			responder.Problem(err)
			return
		}

		responder.JSON(http.StatusOK, TransferStatus{
			Status:        string(txn.State()),
			Message:       fmt.Sprintf("Transaction is in state %s", txn.State()),
			TransactionID: txn.ID,
			FailureReason: txn.FailureReason,
		})
	}
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package funds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moov-io/base/http/bind"
	"github.com/moov-io/base/k8s"
	"github.com/moov-io/moneymovement/pkg/model"
	"github.com/moov-io/moneymovement/x/trace"

	"github.com/go-kit/kit/log"
	"github.com/opentracing/opentracing-go"
)

// operationRequest is the body sent to create withdrawals and deposits.
type operationRequest struct {
	Amount         model.Money `json:"amount"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

type balanceResponse struct {
	Balance model.Money `json:"balance"`
}

type statusResponse struct {
	State SubState `json:"state"`
}

type restClient struct {
	name     string
	endpoint string

	underlying *http.Client
	logger     log.Logger
}

func newRestClient(logger log.Logger, name, endpoint string, httpClient *http.Client) *restClient {
	if endpoint == "" {
		if k8s.Inside() {
			endpoint = fmt.Sprintf("http://%s.apps.svc.cluster.local:8080", name)
		} else {
			endpoint = "http://localhost" + bind.HTTP(name)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	logger.Log("funds", fmt.Sprintf("using %s for %s address", endpoint, name))

	return &restClient{
		name:       name,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		underlying: httpClient,
		logger:     logger,
	}
}

func (c *restClient) Ping() error {
	// create a context just for this so ping requests don't require the setup of one
	ctx, cancelFn := context.WithTimeout(context.TODO(), 10*time.Second)
	defer cancelFn()

	if err := c.do(ctx, "ping", http.MethodGet, "/ping", nil, nil); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

// do sends a request and decodes any JSON response into out. Non-2xx responses are
// mapped onto our errors, anything unexpected wraps ErrExternalPort.
func (c *restClient) do(ctx context.Context, operation, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	span, _ := opentracing.StartSpanFromContext(ctx, fmt.Sprintf("%s-%s", c.name, operation))
	defer span.Finish()
	req = trace.DecorateHttpRequest(req, span)

	resp, err := c.underlying.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", c.name, operation, err, ErrExternalPort)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", c.name, operation, notFoundError(path))
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", c.name, operation, ErrAccountMismatch)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		bs, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s got status %s (%s): %w", c.name, operation, resp.Status, strings.TrimSpace(string(bs)), ErrExternalPort)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s decoding response: %v: %w", c.name, operation, err, ErrExternalPort)
		}
	}
	return nil
}

// accountPath builds routes under /accounts/{accountID}
func accountPath(accountID string, parts ...string) string {
	path := "/accounts/" + url.PathEscape(accountID)
	for i := range parts {
		path += "/" + url.PathEscape(parts[i])
	}
	return path
}

// notFoundError distinguishes missing accounts from missing operations. Only
// operation lookups have four path segments.
func notFoundError(path string) error {
	if strings.Count(path, "/") == 4 {
		return ErrNotFound
	}
	return ErrAccountNotFound
}

type investorClient struct {
	*restClient
}

// NewInvestorClient returns an InvestorFunds which talks to a remote provider over HTTP.
func NewInvestorClient(logger log.Logger, endpoint string, httpClient *http.Client) InvestorFunds {
	return &investorClient{
		restClient: newRestClient(logger, "investors", endpoint, httpClient),
	}
}

func (c *investorClient) CheckBalance(ctx context.Context, accountID string) (model.Money, error) {
	var resp balanceResponse
	path := accountPath(accountID, "balance")
	if err := c.do(ctx, "check-balance", http.MethodGet, path, nil, &resp); err != nil {
		return model.Money{}, err
	}
	return resp.Balance, nil
}

func (c *investorClient) WithdrawFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Withdrawal, error) {
	req := operationRequest{
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	}
	var w Withdrawal
	if err := c.do(ctx, "withdraw", http.MethodPost, accountPath(accountID, "withdrawals"), req, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%s withdraw: missing withdrawal ID: %w", c.name, ErrExternalPort)
	}
	return &w, nil
}

func (c *investorClient) WithdrawalStatus(ctx context.Context, withdrawalID, accountID string) (SubState, error) {
	return c.status(ctx, "withdrawal-status", accountPath(accountID, "withdrawals", withdrawalID))
}

type fundClient struct {
	*restClient
}

// NewFundClient returns a FundDeposits which talks to a remote provider over HTTP.
func NewFundClient(logger log.Logger, endpoint string, httpClient *http.Client) FundDeposits {
	return &fundClient{
		restClient: newRestClient(logger, "funds", endpoint, httpClient),
	}
}

func (c *fundClient) DepositFunds(ctx context.Context, accountID string, amount model.Money, idempotencyKey string) (*Deposit, error) {
	req := operationRequest{
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	}
	var d Deposit
	if err := c.do(ctx, "deposit", http.MethodPost, accountPath(accountID, "deposits"), req, &d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, fmt.Errorf("%s deposit: missing deposit ID: %w", c.name, ErrExternalPort)
	}
	return &d, nil
}

func (c *fundClient) DepositStatus(ctx context.Context, depositID, accountID string) (SubState, error) {
	return c.status(ctx, "deposit-status", accountPath(accountID, "deposits", depositID))
}

func (c *restClient) status(ctx context.Context, operation, path string) (SubState, error) {
	var resp statusResponse
	if err := c.do(ctx, operation, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if err := resp.State.Validate(); err != nil {
		return "", fmt.Errorf("%s %s: %v: %w", c.name, operation, err, ErrExternalPort)
	}
	return resp.State, nil
}

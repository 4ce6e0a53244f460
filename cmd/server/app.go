// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/pkg/funds"
	"github.com/moov-io/moneymovement/pkg/ledger"
	"github.com/moov-io/moneymovement/pkg/notify"
	"github.com/moov-io/moneymovement/pkg/tasks"
	"github.com/moov-io/moneymovement/pkg/transfers"
	transfersadmin "github.com/moov-io/moneymovement/pkg/transfers/admin"
	"github.com/moov-io/moneymovement/pkg/transfers/saga"
	"github.com/moov-io/moneymovement/x/route"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/moov-io/base/admin"
)

// app holds everything the server runs.
type app struct {
	logger log.Logger

	handler *mux.Router

	ledgerRepo   ledger.Repository
	transferRepo transfers.Repository
	pool         *tasks.Pool
	reaper       *saga.Reaper
	notifiers    *notify.Notifiers

	investors funds.InvestorFunds
	deposits  funds.FundDeposits
	remote    bool
}

func newApp(ctx context.Context, cfg *config.Config, db *sql.DB, httpClient *http.Client) (*app, error) {
	logger := cfg.Logger
	handler := mux.NewRouter()

	// Setup repositories
	ledgerRepo := ledger.NewRepo(db)
	transferRepo := transfers.NewRepo(db)
	ldgr := ledger.New(logger, ledgerRepo, cfg.Saga)

	notifiers, err := notify.FromConfig(ctx, logger, cfg.Notifications)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:       logger,
		handler:      handler,
		ledgerRepo:   ledgerRepo,
		transferRepo: transferRepo,
		notifiers:    notifiers,
		remote:       cfg.Ports.Remote(),
	}
	if a.remote {
		a.investors = funds.NewInvestorClient(logger, cfg.Ports.Investor.Endpoint, httpClient)
		a.deposits = funds.NewFundClient(logger, cfg.Ports.Fund.Endpoint, httpClient)
	} else {
		settleAfter := cfg.Ports.Embedded.SettleAfter
		investors := funds.NewEmbeddedInvestors(logger, db, ledgerRepo, settleAfter)
		deposits := funds.NewEmbeddedFunds(logger, db, ledgerRepo, settleAfter)
		a.investors, a.deposits = investors, deposits

		// Serve the embedded providers so other instances can use them remotely
		funds.NewRouter(logger, investors, deposits).RegisterRoutes(handler.PathPrefix("/providers").Subrouter())
	}

	// Saga steps run as tasks
	a.pool = tasks.NewPool(logger, tasks.NewRepo(db), cfg.Tasks)
	executor := saga.NewExecutor(logger, cfg.Saga, transferRepo, ldgr, a.investors, a.deposits, notifiers.Sink, notifiers.Alerter)
	executor.Register(a.pool)
	a.reaper = saga.NewReaper(logger, cfg.Reaper, transferRepo, notifiers.Alerter)

	// HTTP routes
	svc := transfers.NewService(logger, transferRepo, ldgr, a.pool)
	transfers.NewRouter(logger, svc).RegisterRoutes(handler)
	route.PingRoute(logger, handler)

	return a, nil
}

func (a *app) registerAdminRoutes(svc *admin.Server) {
	ledger.RegisterAdminRoutes(a.logger, svc, a.ledgerRepo)
	tasks.RegisterAdminRoutes(a.logger, svc, a.pool)
	transfersadmin.RegisterRoutes(a.logger, svc, a.transferRepo)

	if a.remote {
		svc.AddLivenessCheck("investor-funds", a.investors.Ping)
		svc.AddLivenessCheck("fund-deposits", a.deposits.Ping)
	}
}

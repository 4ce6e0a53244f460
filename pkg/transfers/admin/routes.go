// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package admin

import (
	"net/http"

	"github.com/moov-io/moneymovement/pkg/transfers"

	"github.com/go-kit/kit/log"
)

type Server interface {
	AddHandler(path string, hf http.HandlerFunc)
}

// RegisterRoutes will add HTTP handlers for the admin HTTP server
func RegisterRoutes(logger log.Logger, svc Server, repo transfers.Repository) {
	svc.AddHandler("/transfers/{transactionID}/status", updateTransferStatus(logger, repo))
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package route

import (
	"net/http"

	"github.com/moov-io/moneymovement/pkg/id"

	"github.com/gorilla/mux"
)

// ReadPathID returns the named path variable, such as {accountID} on provider
// routes, or an empty string when the route has none.
func ReadPathID(name string, r *http.Request) string {
	return mux.Vars(r)[name]
}

// ReadTransactionID returns the {transactionID} of funding transaction routes.
func ReadTransactionID(r *http.Request) id.Transaction {
	return id.Transaction(ReadPathID("transactionID", r))
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package admin

import (
	"encoding/json"
	"net/http"

	"github.com/moov-io/moneymovement/pkg/config"
	"github.com/moov-io/moneymovement/x/mask"

	"github.com/moov-io/base/admin"
)

// RegisterRoutes will add HTTP handlers for the admin HTTP server
func RegisterRoutes(svc *admin.Server, cfg *config.Config) {
	if cfg.Admin.DisableConfigEndpoint {
		return
	}

	svc.AddHandler("/config", marshalConfig(cfg))
}

func marshalConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(masked(cfg))
	}
}

// masked returns a copy of cfg with credentials hidden
func masked(cfg *config.Config) config.Config {
	out := *cfg
	if cfg.Database.MySQL != nil {
		my := *cfg.Database.MySQL
		my.Password = mask.Password(my.GetPassword())
		out.Database.MySQL = &my
	}
	if cfg.Notifications.PagerDuty != nil {
		pd := *cfg.Notifications.PagerDuty
		pd.RoutingKey = mask.Password(pd.Key())
		out.Notifications.PagerDuty = &pd
	}
	return out
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moov-io/moneymovement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestConfigRoute(t *testing.T) {
	t.Setenv("MYSQL_PASSWORD", "")
	t.Setenv("PAGERDUTY_ROUTING_KEY", "")

	cfg, err := config.FromFile(filepath.Join("..", "testdata", "valid.yaml"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/config", nil)
	marshalConfig(cfg).ServeHTTP(w, req)
	w.Flush()

	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.False(t, strings.Contains(body, "R0UT1NGK3Y"), body)
	require.False(t, strings.Contains(body, `"secret"`), body)

	var out config.Config
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(&out))
	require.Equal(t, "s****t", out.Database.MySQL.Password)
	require.Equal(t, "R********Y", out.Notifications.PagerDuty.RoutingKey)

	// the running config is untouched
	require.Equal(t, "secret", cfg.Database.MySQL.Password)
}

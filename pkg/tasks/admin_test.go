// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moov-io/moneymovement/pkg/id"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type testAdmin struct {
	*mux.Router
}

func (a testAdmin) AddHandler(path string, hf http.HandlerFunc) {
	a.HandleFunc(path, hf)
}

func TestAdmin__ListAndRetry(t *testing.T) {
	repo := setupRepo(t)
	pool := NewPool(log.NewNopLogger(), repo, testConfig())
	pool.Handle("broken", func(ctx context.Context, task *Task) error {
		return Permanent(errors.New("bad"))
	})

	task := New(id.NewTransaction(), "broken", 0)
	require.NoError(t, repo.Enqueue(task))
	_, err := pool.RunDue(context.Background())
	require.NoError(t, err)

	admin := testAdmin{mux.NewRouter()}
	RegisterAdminRoutes(log.NewNopLogger(), admin, pool)

	// list failed tasks
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest("GET", "/tasks?status=failed&limit=5", nil))
	w.Flush()
	require.Equal(t, http.StatusOK, w.Code)

	var listed []*Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Len(t, listed, 1)
	require.Equal(t, task.ID, listed[0].ID)

	// retry it
	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest("PUT", fmt.Sprintf("/tasks/%s/retry", task.ID), nil))
	w.Flush()
	require.Equal(t, http.StatusOK, w.Code)

	found, err := repo.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, Pending, found.Status)

	// it's not failed anymore
	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest("PUT", fmt.Sprintf("/tasks/%s/retry", task.ID), nil))
	w.Flush()
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin__BadRequests(t *testing.T) {
	pool := NewPool(log.NewNopLogger(), setupRepo(t), testConfig())
	admin := testAdmin{mux.NewRouter()}
	RegisterAdminRoutes(log.NewNopLogger(), admin, pool)

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/tasks?status=bogus", nil),
		httptest.NewRequest("GET", "/tasks?limit=-1", nil),
		httptest.NewRequest("POST", "/tasks", nil),
		httptest.NewRequest("GET", "/tasks/foo/retry", nil),
	} {
		w := httptest.NewRecorder()
		admin.ServeHTTP(w, req)
		w.Flush()
		require.Equal(t, http.StatusBadRequest, w.Code, req.URL.String())
	}

	// empty list
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest("GET", "/tasks", nil))
	w.Flush()
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]\n", w.Body.String())
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	moovhttp "github.com/moov-io/base/http"
	"github.com/moov-io/moneymovement/pkg/id"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
)

// AdminServer is the subset of the moov-io/base admin server we register on.
type AdminServer interface {
	AddHandler(path string, hf http.HandlerFunc)
}

// RegisterAdminRoutes adds endpoints for operators to inspect and requeue tasks.
func RegisterAdminRoutes(logger log.Logger, svc AdminServer, pool *Pool) {
	svc.AddHandler("/tasks", listTasks(logger, pool.Repository()))
	svc.AddHandler("/tasks/{taskID}/retry", retryTask(logger, pool))
}

func listTasks(logger log.Logger, repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}

		status := Status(r.URL.Query().Get("status"))
		if status == "" {
			status = Failed
		}
		if err := status.Validate(); err != nil {
			moovhttp.Problem(w, err)
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				moovhttp.Problem(w, fmt.Errorf("invalid limit %q", v))
				return
			}
			limit = n
		}

		tasks, err := repo.List(status, limit)
		if err != nil {
			logger.Log("tasks", "problem listing tasks", "error", err)
			moovhttp.Problem(w, err)
			return
		}
		if tasks == nil {
			tasks = []*Task{}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(tasks)
	}
}

func retryTask(logger log.Logger, pool *Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			moovhttp.Problem(w, fmt.Errorf("unsupported HTTP verb %s", r.Method))
			return
		}

		taskID := id.Task(mux.Vars(r)["taskID"])
		if err := pool.Repository().Requeue(taskID); err != nil {
			if errors.Is(err, ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			moovhttp.Problem(w, err)
			return
		}
		logger.Log("tasks", fmt.Sprintf("requeued task=%s", taskID))
		pool.Wake()

		w.WriteHeader(http.StatusOK)
	}
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package route

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	moovhttp "github.com/moov-io/base/http"
	"github.com/moov-io/base/idempotent"
	"github.com/moov-io/base/idempotent/lru"
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var (
	IdempotentRecorder = lru.New()

	// Prometheus Metrics
	Histogram = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Name: "http_response_duration_seconds",
		Help: "Histogram representing the http response durations",
	}, []string{"route"})
)

type Responder struct {
	XRequestID string

	logger log.Logger

	request *http.Request
	span    opentracing.Span

	writer *moovhttp.ResponseWriter
	failed bool
}

// NewResponder wraps w for metrics and tracing. Requests carrying an idempotency key
// which was seen before are answered immediately, check Done() before doing any work.
func NewResponder(logger log.Logger, w http.ResponseWriter, r *http.Request) *Responder {
	resp := &Responder{
		XRequestID: moovhttp.GetRequestID(r),
		logger:     logger,
		request:    r,
	}
	resp.setSpan()
	writer, err := wrapResponseWriter(logger, w, r)
	resp.writer = writer
	if err != nil {
		resp.failed = true
		resp.finishSpan()
	}
	return resp
}

// Done is true when a response has already been written, i.e. replayed requests.
func (r *Responder) Done() bool {
	return r == nil || r.failed
}

func (r *Responder) Log(kvpairs ...interface{}) {
	if r == nil || r.writer == nil {
		return
	}
	var args = []interface{}{
		"requestID", r.XRequestID,
	}
	for i := range kvpairs {
		args = append(args, kvpairs[i])
	}
	r.logger.Log(args...)
}

func (r *Responder) Respond(fn func(http.ResponseWriter)) {
	if r.Done() {
		return
	}
	r.finishSpan()
	r.writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	fn(r.writer)
}

// JSON writes v with the given status code
func (r *Responder) JSON(status int, v interface{}) {
	r.Respond(func(w http.ResponseWriter) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	})
}

// Problem writes err as a 400 Bad Request
func (r *Responder) Problem(err error) {
	if r.Done() {
		return
	}
	r.finishSpan()
	r.writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	moovhttp.Problem(r.writer, err)
}

func wrapResponseWriter(logger log.Logger, w http.ResponseWriter, r *http.Request) (*moovhttp.ResponseWriter, error) {
	name := fmt.Sprintf("%s-%s", strings.ToLower(r.Method), CleanPath(r.URL.Path))
	ww := moovhttp.Wrap(logger, Histogram.With("route", name), w, r)

	if _, seen := idempotent.FromRequest(r, IdempotentRecorder); seen {
		idempotent.SeenBefore(ww)
		return ww, idempotent.ErrSeenBefore
	}

	return ww, nil
}

var (
	baseIdRegex = regexp.MustCompile(`^([a-f0-9]{40})$`)
	uuidRegex   = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// CleanPath takes a URL path and formats it for Prometheus metrics
//
// This method replaces /'s with -'s and strips out moov/base.ID() and UUID values from URL path slugs.
func CleanPath(path string) string {
	parts := strings.Split(path, "/")
	var out []string
	for i := range parts {
		if parts[i] == "" || baseIdRegex.MatchString(parts[i]) || uuidRegex.MatchString(parts[i]) {
			continue
		}
		out = append(out, parts[i])
	}
	return strings.Join(out, "-")
}

// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package route

import (
	"context"
	"fmt"
	"strings"

	"github.com/moov-io/moneymovement/x/trace"

	opentracing "github.com/opentracing/opentracing-go"
)

func (r *Responder) Span() opentracing.Span {
	method := strings.ToLower(r.request.Method)
	path := CleanPath(r.request.URL.Path)

	name := fmt.Sprintf("%s-%s", method, path)

	return trace.FromRequest(name, r.request)
}

// Context returns the request's context carrying the route's span, so outbound
// calls become children of it.
func (r *Responder) Context() context.Context {
	ctx := r.request.Context()
	if r.span != nil {
		ctx = opentracing.ContextWithSpan(ctx, r.span)
	}
	return ctx
}

func (r *Responder) setSpan() {
	if r.span == nil {
		r.span = r.Span()
	}
}

func (r *Responder) finishSpan() {
	if r.span != nil {
		r.span.Finish()
	}
}

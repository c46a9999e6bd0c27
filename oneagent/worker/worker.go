// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package worker is the entry point of the out-of-process discovery worker,
// for programs embedding the worker instead of using
// cmd/oneagent-request-worker.
package worker

import (
	"context"
	"io"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/request"
)

// Serve reads one request from r, performs it and writes the result to w.
func Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return request.Serve(ctx, r, w)
}
